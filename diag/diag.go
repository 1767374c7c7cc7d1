// Package diag carries the diagnostics context handed to every component of the
// renderer in place of a process-wide logger.
package diag

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

type Context struct {
	logger *slog.Logger
}

func New(handler slog.Handler) *Context {
	return &Context{logger: slog.New(handler)}
}

// Default logs text to stderr at the given level.
func Default(level slog.Level) *Context {
	return New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func Discard() *Context {
	return New(slog.NewTextHandler(io.Discard, nil))
}

func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// With returns a child context whose records carry component=name.
func (c *Context) With(component string) *Context {
	return &Context{logger: c.logger.With("component", component)}
}

func (c *Context) Debug(msg string, args ...any) { c.logger.Debug(msg, args...) }
func (c *Context) Info(msg string, args ...any)  { c.logger.Info(msg, args...) }
func (c *Context) Warn(msg string, args ...any)  { c.logger.Warn(msg, args...) }
func (c *Context) Error(msg string, args ...any) { c.logger.Error(msg, args...) }

// Capture is an slog.Handler that keeps every record, for tests.
type Capture struct {
	mu      sync.Mutex
	records []slog.Record
	attrs   []slog.Attr
}

// NewCapture returns a context that records at every level, and the capture behind it.
func NewCapture() (*Context, *Capture) {
	c := &Capture{}
	return New(c), c
}

func (c *Capture) Enabled(context.Context, slog.Level) bool { return true }

func (c *Capture) Handle(_ context.Context, r slog.Record) error {
	r = r.Clone()
	r.AddAttrs(c.attrs...)
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
	return nil
}

func (c *Capture) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureChild{parent: c, attrs: attrs}
}

func (c *Capture) WithGroup(string) slog.Handler { return c }

// Messages returns the messages logged at level or above.
func (c *Capture) Messages(level slog.Level) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, r := range c.records {
		if r.Level >= level {
			out = append(out, r.Message)
		}
	}
	return out
}

type captureChild struct {
	parent *Capture
	attrs  []slog.Attr
}

func (c *captureChild) Enabled(ctx context.Context, l slog.Level) bool {
	return c.parent.Enabled(ctx, l)
}

func (c *captureChild) Handle(ctx context.Context, r slog.Record) error {
	r = r.Clone()
	r.AddAttrs(c.attrs...)
	return c.parent.Handle(ctx, r)
}

func (c *captureChild) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureChild{parent: c.parent, attrs: append(append([]slog.Attr{}, c.attrs...), attrs...)}
}

func (c *captureChild) WithGroup(string) slog.Handler { return c }
