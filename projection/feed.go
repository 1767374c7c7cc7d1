package projection

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/events"
	"github.com/vkngwrapper/renderloop/mesh"
)

var ErrMalformedPose = errors.New("head pose must carry exactly two views and two projections")

// Uniform is the host-visible buffer the view/projection block lives in.
type Uniform interface {
	Write(data []byte) error
}

// Mono is the flat view/projection block: one view, one projection.
type Mono struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
}

func (m Mono) Bytes() []byte {
	return mesh.MatrixBytes(m.View, m.Projection)
}

// Stereo is the multiview block: both views, then both projections, indexed by
// the view index in the shader.
type Stereo struct {
	Views       [2]mgl32.Mat4
	Projections [2]mgl32.Mat4
}

func (s Stereo) Bytes() []byte {
	return mesh.MatrixBytes(s.Views[0], s.Views[1], s.Projections[0], s.Projections[1])
}

const (
	MonoSize   = 2 * 64
	StereoSize = 4 * 64
)

func identityStereo() Stereo {
	return Stereo{
		Views:       [2]mgl32.Mat4{mgl32.Ident4(), mgl32.Ident4()},
		Projections: [2]mgl32.Mat4{mgl32.Ident4(), mgl32.Ident4()},
	}
}

type feed struct {
	diag    *diag.Context
	uniform Uniform
	subs    events.Group

	mu      sync.Mutex
	bytes   []byte
	uploads int
}

// upload must be called with f.mu held.
func (f *feed) upload(data []byte) error {
	if err := f.uniform.Write(data); err != nil {
		return errors.Wrap(err, "upload view projection")
	}
	f.bytes = data
	f.uploads++
	return nil
}

// Bytes is the block as last uploaded.
func (f *feed) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.bytes...)
}

func (f *feed) Uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func (f *feed) Close() {
	f.subs.Release()
}

// StereoFeed tracks head poses published by the XR runtime.
type StereoFeed struct {
	feed
	current Stereo
}

// NewStereoFeed uploads identity matrices and starts listening for head poses.
func NewStereoFeed(d *diag.Context, bus *events.Bus, uniform Uniform) (*StereoFeed, error) {
	f := &StereoFeed{
		feed:    feed{diag: d.With("stereo-feed"), uniform: uniform},
		current: identityStereo(),
	}
	if err := f.upload(f.current.Bytes()); err != nil {
		return nil, err
	}

	f.subs.Add(bus.HeadPoseUpdated.Subscribe(func(pose events.HeadPoseUpdated) {
		if err := f.Apply(pose); err != nil {
			f.diag.Warn("dropping head pose", "views", len(pose.Views), "projections", len(pose.Projections), "error", err)
		}
	}))
	return f, nil
}

// Apply replaces both eyes and re-uploads. A pose with any other number of
// views or projections is rejected and leaves the uniform untouched.
func (f *StereoFeed) Apply(pose events.HeadPoseUpdated) error {
	if len(pose.Views) != 2 || len(pose.Projections) != 2 {
		return errors.Wrapf(ErrMalformedPose, "got %d views and %d projections", len(pose.Views), len(pose.Projections))
	}

	next := Stereo{
		Views:       [2]mgl32.Mat4{pose.Views[0], pose.Views[1]},
		Projections: [2]mgl32.Mat4{pose.Projections[0], pose.Projections[1]},
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.upload(next.Bytes()); err != nil {
		return err
	}
	f.current = next
	return nil
}

func (f *StereoFeed) Current() Stereo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// SetAspect is a no-op: the runtime's projections already match its images.
func (f *StereoFeed) SetAspect(float32) error {
	return nil
}

// FlatFeed drives a Camera from keyboard and mouse events. Every event that
// changes the camera re-uploads the block before the publisher returns.
type FlatFeed struct {
	feed
	camera *Camera
}

func NewFlatFeed(d *diag.Context, bus *events.Bus, camera *Camera, uniform Uniform) (*FlatFeed, error) {
	f := &FlatFeed{
		feed:   feed{diag: d.With("flat-feed"), uniform: uniform},
		camera: camera,
	}

	f.mu.Lock()
	err := f.refresh()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	f.subs.Add(
		bus.KeyPressed.Subscribe(func(e events.KeyPressed) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if !f.camera.Move(e.Key) {
				return
			}
			if err := f.refresh(); err != nil {
				f.diag.Error("camera upload failed", "error", err)
			}
		}),
		bus.MouseMoved.Subscribe(func(e events.MouseMoved) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.camera.Look(e.DX, e.DY)
			if err := f.refresh(); err != nil {
				f.diag.Error("camera upload failed", "error", err)
			}
		}),
	)
	return f, nil
}

func (f *FlatFeed) refresh() error {
	return f.upload(f.current().Bytes())
}

func (f *FlatFeed) current() Mono {
	return Mono{View: f.camera.View(), Projection: f.camera.Projection()}
}

func (f *FlatFeed) Current() Mono {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current()
}

// SetAspect follows a swapchain resize.
func (f *FlatFeed) SetAspect(aspect float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.camera.Aspect == aspect {
		return nil
	}
	f.camera.Aspect = aspect
	return f.refresh()
}
