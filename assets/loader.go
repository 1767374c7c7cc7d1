// Package assets loads meshes and textures off the render thread and announces
// them on the event bus.
package assets

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"

	"github.com/vkngwrapper/renderloop/config"
	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/events"
	"github.com/vkngwrapper/renderloop/mesh"
)

var ErrClosed = errors.New("asset loader closed")

// Descriptor names one mesh to load. TexturePath may be empty.
type Descriptor struct {
	Name        string
	MeshPath    string
	TexturePath string
	Transform   mgl32.Mat4
}

// Future resolves once its request has been decoded and published.
type Future struct {
	seq  uint64
	done chan struct{}
	data mesh.Data
}

func (f *Future) Seq() uint64 { return f.seq }

func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the mesh is available. The result is a placeholder when
// decoding failed.
func (f *Future) Wait() mesh.Data {
	<-f.done
	return f.data
}

type request struct {
	desc   Descriptor
	future *Future
}

type Option func(*Loader)

func WithWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

func WithDecoder(d Decoder) Option {
	return func(l *Loader) {
		l.decoder = d
	}
}

// Loader queues load requests and decodes them on a bounded set of goroutines.
// Every request publishes exactly one events.MeshReady.
type Loader struct {
	diag    *diag.Context
	bus     *events.Bus
	decoder Decoder
	workers int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []request
	pending  int
	finished int
	nextSeq  uint64
	closed   bool

	tasks      errgroup.Group
	dispatched chan struct{}
}

func NewLoader(d *diag.Context, bus *events.Bus, opts ...Option) *Loader {
	l := &Loader{
		diag:       d.With("assets"),
		bus:        bus,
		decoder:    FileDecoder{},
		workers:    4,
		dispatched: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.cond = sync.NewCond(&l.mu)
	l.tasks.SetLimit(l.workers)

	go l.dispatch()
	return l
}

func (l *Loader) LoadAsync(desc Descriptor) (*Future, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	future := &Future{seq: l.nextSeq, done: make(chan struct{})}
	l.nextSeq++
	l.queue = append(l.queue, request{desc: desc, future: future})
	l.pending++
	l.cond.Broadcast()
	return future, nil
}

// WaitForAll blocks until every request submitted so far has resolved, then
// publishes MeshLoadingFinished with the number of meshes completed since the
// previous call.
func (l *Loader) WaitForAll() {
	l.mu.Lock()
	for l.pending > 0 {
		l.cond.Wait()
	}
	count := l.finished
	l.finished = 0
	l.mu.Unlock()

	l.bus.MeshLoadingFinished.Publish(events.MeshLoadingFinished{Count: count})
}

// Pending is the number of requests not yet resolved.
func (l *Loader) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// Close stops accepting requests, finishes the ones already queued and waits
// for the workers to drain.
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()

	<-l.dispatched
	return l.tasks.Wait()
}

func (l *Loader) dispatch() {
	defer close(l.dispatched)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		req := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		// Blocks while every worker is busy
		l.tasks.Go(func() error {
			l.run(req)
			return nil
		})
	}
}

func (l *Loader) run(req request) {
	data := l.load(req.desc)

	req.future.data = data
	close(req.future.done)
	l.bus.MeshReady.Publish(events.MeshReady{Seq: req.future.seq, Mesh: data})

	l.mu.Lock()
	l.pending--
	l.finished++
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (l *Loader) load(desc Descriptor) mesh.Data {
	transform := desc.Transform
	if transform == (mgl32.Mat4{}) {
		transform = mgl32.Ident4()
	}

	data := mesh.Data{
		Name:      desc.Name,
		Transform: transform,
		Texture:   mesh.PlaceholderTexture(),
	}

	vertices, indices, err := l.decoder.DecodeMesh(desc.MeshPath)
	if err != nil {
		l.diag.Error("mesh decode failed, using placeholder", "mesh", desc.Name, "path", desc.MeshPath, "error", err)
		return mesh.Placeholder(desc.Name)
	}
	data.Vertices = vertices
	data.Indices = indices

	if desc.TexturePath != "" {
		texture, err := l.decoder.DecodeTexture(desc.TexturePath)
		if err != nil {
			l.diag.Error("texture decode failed, using placeholder", "mesh", desc.Name, "path", desc.TexturePath, "error", err)
		} else {
			data.Texture = texture
		}
	}

	l.diag.Debug("mesh loaded", "mesh", desc.Name, "vertices", len(vertices), "indices", len(indices))
	return data
}

// DescriptorOf turns a configured mesh into a load request. The model
// transform scales uniformly, then translates to Position.
func DescriptorOf(m config.Mesh) Descriptor {
	scale := m.Scale
	if scale == 0 {
		scale = 1
	}
	return Descriptor{
		Name:        m.Name,
		MeshPath:    m.Path,
		TexturePath: m.Texture,
		Transform: mgl32.Translate3D(m.Position[0], m.Position[1], m.Position[2]).
			Mul4(mgl32.Scale3D(scale, scale, scale)),
	}
}
