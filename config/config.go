package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalid = errors.New("invalid configuration")

type Mode int

const (
	ModeFlat Mode = iota
	ModeStereo
)

func (m Mode) String() string {
	switch m {
	case ModeFlat:
		return "flat"
	case ModeStereo:
		return "stereo"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "flat":
		*m = ModeFlat
	case "stereo", "xr":
		*m = ModeStereo
	default:
		return errors.Mark(errors.Newf("unknown presentation mode %q", text), ErrInvalid)
	}
	return nil
}

// Layers is the number of image array layers each swapchain image carries.
func (m Mode) Layers() int {
	if m == ModeStereo {
		return 2
	}
	return 1
}

type Window struct {
	Title  string `toml:"title"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
}

type Swapchain struct {
	// LowLatency prefers mailbox presentation over FIFO when the surface offers it.
	LowLatency bool `toml:"low_latency"`
	// PollIntervalMillis is how often a minimized surface is polled for a usable size.
	PollIntervalMillis int `toml:"poll_interval_ms"`
}

type Shaders struct {
	Dir      string `toml:"dir"`
	CacheDir string `toml:"cache_dir"`
	Vertex   string `toml:"vertex"`
	Fragment string `toml:"fragment"`
	Watch    bool   `toml:"watch"`
}

type Mesh struct {
	Name     string     `toml:"name"`
	Path     string     `toml:"path"`
	Texture  string     `toml:"texture"`
	Position [3]float32 `toml:"position"`
	Scale    float32    `toml:"scale"`
}

type Camera struct {
	Eye       [3]float32 `toml:"eye"`
	Yaw       float32    `toml:"yaw"`
	Pitch     float32    `toml:"pitch"`
	FovY      float32    `toml:"fov_y"`
	Near      float32    `toml:"near"`
	Far       float32    `toml:"far"`
	MoveSpeed float32    `toml:"move_speed"`
	LookSpeed float32    `toml:"look_speed"`
}

type Config struct {
	Mode         Mode       `toml:"mode"`
	Validation   bool       `toml:"validation"`
	LogLevel     string     `toml:"log_level"`
	AssetWorkers int        `toml:"asset_workers"`
	ClearColor   [4]float32 `toml:"clear_color"`
	Passes       int        `toml:"passes"`
	Window       Window     `toml:"window"`
	Swapchain    Swapchain  `toml:"swapchain"`
	Shaders      Shaders    `toml:"shaders"`
	Camera       Camera     `toml:"camera"`
	Meshes       []Mesh     `toml:"mesh"`
}

func Default() Config {
	return Config{
		Mode:         ModeFlat,
		LogLevel:     "info",
		AssetWorkers: 4,
		ClearColor:   [4]float32{0, 0, 0, 1},
		Passes:       1,
		Window: Window{
			Title:  "renderloop",
			Width:  800,
			Height: 600,
		},
		Swapchain: Swapchain{
			LowLatency:         true,
			PollIntervalMillis: 16,
		},
		Shaders: Shaders{
			Dir:      "shaders",
			CacheDir: "shaders/.cache",
			Vertex:   "mesh.vert",
			Fragment: "mesh.frag",
		},
		Camera: Camera{
			Eye:       [3]float32{0, 0, 3},
			Yaw:       -90,
			FovY:      45,
			Near:      0.1,
			Far:       100,
			MoveSpeed: 0.1,
			LookSpeed: 0.2,
		},
	}
}

// Decode parses TOML over the defaults and validates the result.
func Decode(data []byte) (Config, error) {
	cfg := Default()
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, errors.Mark(errors.Wrap(err, "decode config"), ErrInvalid)
	}
	for i := range cfg.Meshes {
		if cfg.Meshes[i].Scale == 0 {
			cfg.Meshes[i].Scale = 1
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return Decode(data)
}

func (c Config) Validate() error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.Mark(errors.Newf("window size must be positive, got %dx%d", c.Window.Width, c.Window.Height), ErrInvalid)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return errors.Mark(errors.Wrapf(err, "log_level %q", c.LogLevel), ErrInvalid)
	}
	if c.AssetWorkers < 1 {
		return errors.Mark(errors.Newf("asset_workers must be at least 1, got %d", c.AssetWorkers), ErrInvalid)
	}
	if c.Passes < 1 {
		return errors.Mark(errors.Newf("passes must be at least 1, got %d", c.Passes), ErrInvalid)
	}
	if c.Camera.Near <= 0 || c.Camera.Far <= c.Camera.Near {
		return errors.Mark(errors.Newf("camera clip planes invalid: near=%v far=%v", c.Camera.Near, c.Camera.Far), ErrInvalid)
	}
	if c.Shaders.Vertex == "" || c.Shaders.Fragment == "" {
		return errors.Mark(errors.New("vertex and fragment shaders are required"), ErrInvalid)
	}
	seen := make(map[string]struct{}, len(c.Meshes))
	for _, m := range c.Meshes {
		if m.Name == "" || m.Path == "" {
			return errors.Mark(errors.New("every mesh needs a name and a path"), ErrInvalid)
		}
		if _, dup := seen[m.Name]; dup {
			return errors.Mark(errors.Newf("duplicate mesh name %q", m.Name), ErrInvalid)
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}

// Level is the parsed log_level, falling back to info.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
