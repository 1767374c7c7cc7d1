package main

import (
	"context"
	"flag"
	"io/fs"
	"log"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/core1_0"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"

	"github.com/vkngwrapper/renderloop/assets"
	"github.com/vkngwrapper/renderloop/config"
	"github.com/vkngwrapper/renderloop/device"
	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/events"
	"github.com/vkngwrapper/renderloop/frame"
	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/pipeline"
	"github.com/vkngwrapper/renderloop/shadercache"
)

var configPath = flag.String("config", "renderloop.toml", "TOML configuration file")

var keyBindings = map[sdl.Scancode]events.Key{
	sdl.SCANCODE_W:      events.KeyForward,
	sdl.SCANCODE_S:      events.KeyBack,
	sdl.SCANCODE_A:      events.KeyLeft,
	sdl.SCANCODE_D:      events.KeyRight,
	sdl.SCANCODE_SPACE:  events.KeyUp,
	sdl.SCANCODE_LSHIFT: events.KeyDown,
}

type Application struct {
	cfg  config.Config
	diag *diag.Context
	bus  *events.Bus

	window       *sdl.Window
	globalDriver core1_0.GlobalDriver

	instance *device.Instance
	device   *device.Device
	surface  *device.SurfaceBackend

	shaders        *shadercache.Cache
	watcher        *shadercache.Watcher
	shadersChanged atomic.Bool

	loader       *assets.Loader
	orchestrator *frame.Orchestrator

	release gpu.ReleaseStack
}

func (app *Application) Run(ctx context.Context) error {
	defer app.release.Release()

	err := app.initWindow()
	if err != nil {
		return err
	}

	err = app.initRenderer(ctx)
	if err != nil {
		return err
	}

	return app.mainLoop(ctx)
}

func (app *Application) loadConfig() error {
	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		return err
	}
	if cfg.Mode != config.ModeFlat {
		return errors.WithHint(
			errors.Newf("presentation mode %s is not available in the SDL demo", cfg.Mode),
			`set mode = "flat"; stereo frames need an XR runtime session`)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return err
	}
	app.cfg = cfg
	app.diag = diag.Default(level)
	app.bus = events.NewBus()
	return nil
}

func (app *Application) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return err
	}
	app.release.Push(sdl.Quit)

	window, err := sdl.CreateWindow(app.cfg.Window.Title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(app.cfg.Window.Width), int32(app.cfg.Window.Height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return err
	}
	app.window = window
	app.release.Push(func() { _ = window.Destroy() })

	app.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return err
	}

	return nil
}

func (app *Application) initRenderer(ctx context.Context) error {
	var err error
	app.instance, err = device.NewInstance(app.diag, app.globalDriver, device.InstanceOptions{
		ApplicationName: app.cfg.Window.Title,
		Extensions:      app.window.VulkanGetInstanceExtensions(),
		Validation:      app.cfg.Validation,
	})
	if err != nil {
		return err
	}
	app.release.Push(app.instance.Destroy)

	surface, err := vkng_sdl2.CreateSurface(app.instance.Driver().Instance(), app.instance.SurfaceExtension(), app.window)
	if err != nil {
		return errors.Wrap(err, "create window surface")
	}

	app.device, err = device.Open(app.diag, app.instance, device.Options{Surface: &surface})
	if err != nil {
		app.instance.SurfaceExtension().DestroySurface(surface, nil)
		return err
	}
	app.release.Push(app.device.Destroy)

	app.surface = device.NewSurfaceBackend(app.diag, app.instance, app.device, surface, app.drawableSize)
	app.release.Push(app.surface.Destroy)

	app.shaders, err = shadercache.New(app.diag, app.cfg.Shaders.CacheDir, shadercache.GLSLC{})
	if err != nil {
		return err
	}
	shaders, err := app.loadShaders(ctx)
	if err != nil {
		return err
	}
	if app.cfg.Shaders.Watch {
		app.watcher, err = app.shaders.Watch(app.shaderPaths(), func(string) {
			app.shadersChanged.Store(true)
		})
		if err != nil {
			return err
		}
		app.release.Push(func() { _ = app.watcher.Close() })
	}

	app.loader = assets.NewLoader(app.diag, app.bus, assets.WithWorkers(app.cfg.AssetWorkers))
	app.release.Push(func() { _ = app.loader.Close() })
	for _, m := range app.cfg.Meshes {
		if _, err := app.loader.LoadAsync(assets.DescriptorOf(m)); err != nil {
			return err
		}
	}

	app.orchestrator, err = frame.New(app.diag, app.device, app.bus,
		frame.OptionsFromConfig(app.cfg, frame.Flat{Surface: app.surface}, shaders, app.loader))
	if err != nil {
		return err
	}
	app.release.Push(func() {
		if err := app.orchestrator.Close(); err != nil {
			app.diag.Error("close frame orchestrator", "error", err)
		}
	})

	return app.orchestrator.Prepare(ctx)
}

func (app *Application) drawableSize() (int, int) {
	width, height := app.window.VulkanGetDrawableSize()
	return int(width), int(height)
}

func (app *Application) shaderPaths() []string {
	return []string{
		filepath.Join(app.cfg.Shaders.Dir, app.cfg.Shaders.Vertex),
		filepath.Join(app.cfg.Shaders.Dir, app.cfg.Shaders.Fragment),
	}
}

func (app *Application) loadShaders(ctx context.Context) (pipeline.Shaders, error) {
	paths := app.shaderPaths()

	vert, err := app.shaders.LoadFile(ctx, paths[0])
	if err != nil {
		return pipeline.Shaders{}, err
	}
	frag, err := app.shaders.LoadFile(ctx, paths[1])
	if err != nil {
		return pipeline.Shaders{}, err
	}
	return pipeline.Shaders{Vertex: vert, Fragment: frag}, nil
}

func (app *Application) reloadShaders(ctx context.Context) {
	shaders, err := app.loadShaders(ctx)
	if err == nil {
		err = app.orchestrator.ReloadShaders(shaders)
	}
	if err != nil {
		app.diag.Warn("shader reload failed, keeping previous pipelines", "error", err)
	}
}

func (app *Application) publishResize() {
	width, height := app.drawableSize()
	app.bus.SurfaceResized.Publish(events.SurfaceResized{Width: width, Height: height})
}

func (app *Application) mainLoop(ctx context.Context) error {
appLoop:
	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				break appLoop
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED, sdl.WINDOWEVENT_MINIMIZED, sdl.WINDOWEVENT_RESTORED:
					app.publishResize()
				}
			case *sdl.KeyboardEvent:
				if e.Type != sdl.KEYDOWN {
					continue
				}
				if e.Keysym.Scancode == sdl.SCANCODE_ESCAPE {
					break appLoop
				}
				if key, ok := keyBindings[e.Keysym.Scancode]; ok {
					app.bus.KeyPressed.Publish(events.KeyPressed{Key: key})
				}
			case *sdl.MouseMotionEvent:
				if e.State&sdl.ButtonLMask() != 0 {
					app.bus.MouseMoved.Publish(events.MouseMoved{DX: float32(e.XRel), DY: float32(e.YRel)})
				}
			}
		}

		if app.shadersChanged.Swap(false) {
			app.reloadShaders(ctx)
		}

		status, err := app.orchestrator.RunFrame(ctx)
		if err != nil {
			return err
		}
		if status == frame.StatusSkip {
			sdl.Delay(uint32(app.cfg.Swapchain.PollIntervalMillis))
		}
	}

	stats := app.orchestrator.Stats()
	app.diag.Info("exiting", "presented", stats.Presented, "skipped", stats.Skipped, "recreations", stats.Recreations)
	return nil
}

func main() {
	runtime.LockOSThread()
	flag.Parse()

	app := &Application{}
	err := app.loadConfig()
	if err == nil {
		err = app.Run(context.Background())
	}
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
}
