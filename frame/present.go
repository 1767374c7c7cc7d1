package frame

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/swapchain"
	"github.com/vkngwrapper/renderloop/syncpool"
	"github.com/vkngwrapper/renderloop/xr"
)

// Presentation selects where frames go: Flat or Stereo.
type Presentation interface {
	newPresenter(d *diag.Context) presenter
}

// Flat presents to a window surface, one view per frame.
type Flat struct {
	Surface FlatSurface
}

// Stereo renders both eyes in one multiview pass and hands the images to an
// XR runtime.
type Stereo struct {
	Session xr.Session
}

func (p Flat) newPresenter(d *diag.Context) presenter {
	return &flatPresenter{surface: p.Surface}
}

func (p Stereo) newPresenter(d *diag.Context) presenter {
	return &stereoPresenter{diag: d, session: p.Session, xrBackend: swapchain.NewXRBackend(p.Session)}
}

type acquireResult int

const (
	acquired acquireResult = iota
	// The swapchain no longer matches its target and must be recreated.
	acquireStale
	// Nothing to render this frame; the target is fine.
	acquireIdle
)

type presenter interface {
	backend() swapchain.Backend
	layers() int
	// presentable is whether images end the frame in present layout.
	presentable() bool
	semaphores() bool

	acquire(slot *syncpool.Slot) (int, acquireResult, error)
	submitSemaphores(slot *syncpool.Slot) (wait, signal []core1_0.Semaphore)
	// present hands the rendered image over. It reports false if the target
	// turned out stale.
	present(slot *syncpool.Slot, imageIndex int, extent core1_0.Extent2D) (bool, error)
	// discard drops an acquired frame that will not be presented. It reports
	// whether the swapchain must be recreated before the next acquire.
	discard(err error) (bool, error)
}

type flatPresenter struct {
	surface FlatSurface
}

func (p *flatPresenter) backend() swapchain.Backend { return p.surface }
func (p *flatPresenter) layers() int                { return 1 }
func (p *flatPresenter) presentable() bool          { return true }
func (p *flatPresenter) semaphores() bool           { return true }

func (p *flatPresenter) acquire(slot *syncpool.Slot) (int, acquireResult, error) {
	imageIndex, outcome, err := p.surface.AcquireNextImage(slot.ImageAvailable)
	switch outcome {
	case gpu.OutcomeRetry:
		return 0, acquireStale, nil
	case gpu.OutcomeFatal:
		return 0, acquireIdle, gpu.MarkFatal(err, "acquire next image")
	}
	if err != nil {
		return 0, acquireIdle, errors.Wrap(err, "acquire next image")
	}
	return imageIndex, acquired, nil
}

func (p *flatPresenter) submitSemaphores(slot *syncpool.Slot) (wait, signal []core1_0.Semaphore) {
	return []core1_0.Semaphore{slot.ImageAvailable}, []core1_0.Semaphore{slot.RenderFinished}
}

func (p *flatPresenter) present(slot *syncpool.Slot, imageIndex int, extent core1_0.Extent2D) (bool, error) {
	outcome, err := p.surface.Present(imageIndex, slot.RenderFinished)
	switch outcome {
	case gpu.OutcomeRetry:
		return false, nil
	case gpu.OutcomeFatal:
		return false, gpu.MarkFatal(err, "present")
	}
	if err != nil {
		return false, errors.Wrap(err, "present")
	}
	return true, nil
}

func (p *flatPresenter) discard(err error) (bool, error) {
	return true, err
}

type stereoPresenter struct {
	diag      *diag.Context
	session   xr.Session
	xrBackend *swapchain.XRBackend

	frame     xr.FrameState
	inFrame   bool
	imageHeld bool
	lastIdle  xr.SessionState
}

func (p *stereoPresenter) backend() swapchain.Backend { return p.xrBackend }
func (p *stereoPresenter) layers() int                { return 2 }
func (p *stereoPresenter) presentable() bool          { return false }
func (p *stereoPresenter) semaphores() bool           { return false }

func (p *stereoPresenter) acquire(slot *syncpool.Slot) (int, acquireResult, error) {
	state := p.session.State()
	if !state.Runnable() {
		if state != p.lastIdle {
			p.diag.Debug("xr session not running, skipping frames", "state", state)
			p.lastIdle = state
		}
		return 0, acquireIdle, nil
	}
	p.lastIdle = xr.SessionUnknown

	frame, err := p.session.WaitFrame()
	if err != nil {
		return 0, acquireIdle, errors.Wrap(err, "xr wait frame")
	}
	if err := p.session.BeginFrame(); err != nil {
		return 0, acquireIdle, errors.Wrap(err, "xr begin frame")
	}
	p.frame = frame
	p.inFrame = true

	if !frame.ShouldRender {
		p.inFrame = false
		if err := p.session.EndFrame(frame, nil); err != nil {
			return 0, acquireIdle, errors.Wrap(err, "xr end frame")
		}
		return 0, acquireIdle, nil
	}

	imageIndex, err := p.session.AcquireSwapchainImage()
	if err != nil {
		return 0, acquireIdle, p.abandon(errors.Wrap(err, "xr acquire swapchain image"))
	}
	p.imageHeld = true
	if err := p.session.WaitSwapchainImage(); err != nil {
		return 0, acquireIdle, p.abandon(errors.Wrap(err, "xr wait swapchain image"))
	}
	return imageIndex, acquired, nil
}

// abandon releases a held image and ends a begun frame without layers so the
// runtime's frame loop stays balanced.
func (p *stereoPresenter) abandon(err error) error {
	if p.imageHeld {
		p.imageHeld = false
		if releaseErr := p.session.ReleaseSwapchainImage(); releaseErr != nil {
			err = errors.CombineErrors(err, releaseErr)
		}
	}
	if p.inFrame {
		p.inFrame = false
		if endErr := p.session.EndFrame(p.frame, nil); endErr != nil {
			return errors.CombineErrors(err, endErr)
		}
	}
	return err
}

func (p *stereoPresenter) discard(err error) (bool, error) {
	return false, p.abandon(err)
}

func (p *stereoPresenter) submitSemaphores(slot *syncpool.Slot) (wait, signal []core1_0.Semaphore) {
	return nil, nil
}

func (p *stereoPresenter) present(slot *syncpool.Slot, imageIndex int, extent core1_0.Extent2D) (bool, error) {
	p.imageHeld = false
	if err := p.session.ReleaseSwapchainImage(); err != nil {
		return false, p.abandon(errors.Wrap(err, "xr release swapchain image"))
	}
	p.inFrame = false
	err := p.session.EndFrame(p.frame, []xr.ProjectionLayer{
		{ImageIndex: imageIndex, Extent: extent, Layers: 2},
	})
	if err != nil {
		return false, errors.Wrap(err, "xr end frame")
	}
	return true, nil
}
