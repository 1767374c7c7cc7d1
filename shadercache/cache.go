// Package shadercache turns GLSL sources into SPIR-V, keeping compiled code on
// disk under a name derived from the source contents so unchanged shaders are
// never compiled twice.
package shadercache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/vkngwrapper/renderloop/diag"
)

type Stage string

const (
	StageVertex   Stage = "vert"
	StageFragment Stage = "frag"
)

// StageOf derives the stage from a source file extension.
func StageOf(path string) (Stage, error) {
	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case "vert":
		return StageVertex, nil
	case "frag":
		return StageFragment, nil
	}
	return "", errors.Newf("cannot tell the shader stage of %s", path)
}

type Compiler interface {
	Compile(ctx context.Context, name string, stage Stage, source []byte) ([]byte, error)
}

// Key names compiled code by the SHA-1 name-based UUID of its source.
func Key(source []byte) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, source)
}

type entry struct {
	key  uuid.UUID
	code []byte
}

type Stats struct {
	MemoryHits int
	DiskHits   int
	Compiles   int
}

type Cache struct {
	diag     *diag.Context
	dir      string
	compiler Compiler

	mu      sync.Mutex
	entries map[string]entry
	stats   Stats
}

func New(d *diag.Context, dir string, compiler Compiler) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create shader cache directory %s", dir)
	}
	return &Cache{
		diag:     d.With("shadercache"),
		dir:      dir,
		compiler: compiler,
		entries:  make(map[string]entry),
	}, nil
}

// Path is where the compiled form of source is stored.
func (c *Cache) Path(name string, source []byte) string {
	return filepath.Join(c.dir, name+"-"+Key(source).String()+".spv")
}

// Load returns SPIR-V for source, from memory, from disk, or by compiling it
// and storing the result.
func (c *Cache) Load(ctx context.Context, name string, stage Stage, source []byte) ([]byte, error) {
	key := Key(source)

	c.mu.Lock()
	if e, ok := c.entries[name]; ok && e.key == key {
		c.stats.MemoryHits++
		c.mu.Unlock()
		return e.code, nil
	}
	c.mu.Unlock()

	path := c.Path(name, source)
	code, err := os.ReadFile(path)
	switch {
	case err == nil:
		c.diag.Debug("shader cache hit", "shader", name, "path", path)
		c.store(name, key, code, func(s *Stats) { s.DiskHits++ })
		return code, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, errors.Wrapf(err, "read cached shader %s", path)
	}

	code, err = c.compiler.Compile(ctx, name, stage, source)
	if err != nil {
		return nil, errors.Wrapf(err, "compile shader %s", name)
	}
	if err := writeAtomic(path, code); err != nil {
		// The code is still good; the next run compiles again.
		c.diag.Warn("could not store compiled shader", "shader", name, "error", err)
	}
	c.diag.Info("compiled shader", "shader", name, "bytes", len(code))
	c.store(name, key, code, func(s *Stats) { s.Compiles++ })
	return code, nil
}

// LoadFile loads the shader at path. Files already holding SPIR-V are returned
// as they are.
func (c *Cache) LoadFile(ctx context.Context, path string) ([]byte, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read shader %s", path)
	}
	if filepath.Ext(path) == ".spv" {
		return source, nil
	}

	stage, err := StageOf(path)
	if err != nil {
		return nil, err
	}
	return c.Load(ctx, NameOf(path), stage, source)
}

// NameOf is the cache name of a shader source file: its base name with the dot
// before the stage replaced, so mesh.vert and mesh.frag do not collide.
func NameOf(path string) string {
	return strings.ReplaceAll(filepath.Base(path), ".", "_")
}

func (c *Cache) store(name string, key uuid.UUID, code []byte, count func(*Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = entry{key: key, code: code}
	count(&c.stats)
}

// Evict drops the in-memory entry for name. Files on disk stay; they are keyed
// by content and simply stop matching once the source changes.
func (c *Cache) Evict(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[name]
	delete(c.entries, name)
	return ok
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
