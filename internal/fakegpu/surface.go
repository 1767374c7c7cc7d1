package fakegpu

import (
	"sync"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/swapchain"
)

// Surface is a window surface whose drawable size, support and presentation
// results are scripted by the test.
type Surface struct {
	mu sync.Mutex

	// Sizes are returned by DrawableSize one per call, then Size forever.
	Sizes []core1_0.Extent2D
	Size  core1_0.Extent2D

	Capabilities swapchain.Capabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode

	// AcquireOutcomes and PresentOutcomes are consumed one per call; OK after.
	AcquireOutcomes []gpu.Outcome
	PresentOutcomes []gpu.Outcome
	NextImage       int

	Requests    []swapchain.ImageRequest
	LiveImages  int
	SizeQueries int
	Acquires    int
	Presents    int
	Destroys    int
}

// NewSurface reports an 800x600 window that lets the swapchain pick its size
// within [1, 4096] and allows two to eight images.
func NewSurface() *Surface {
	return &Surface{
		Size: core1_0.Extent2D{Width: 800, Height: 600},
		Capabilities: swapchain.Capabilities{
			MinImageCount:  2,
			MaxImageCount:  8,
			CurrentExtent:  core1_0.Extent2D{Width: int(^uint32(0)), Height: int(^uint32(0))},
			MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
			MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
		},
		Formats:      []khr_surface.SurfaceFormat{swapchain.DefaultSurfaceFormat},
		PresentModes: []khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox},
	}
}

func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Size = core1_0.Extent2D{Width: width, Height: height}
}

func (s *Surface) Layers() int { return 1 }

func (s *Surface) DrawableSize() core1_0.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SizeQueries++
	if len(s.Sizes) > 0 {
		size := s.Sizes[0]
		s.Sizes = s.Sizes[1:]
		return size
	}
	return s.Size
}

func (s *Surface) Support() (swapchain.Support, error) {
	return swapchain.Support{
		Capabilities: s.Capabilities,
		Formats:      s.Formats,
		PresentModes: s.PresentModes,
	}, nil
}

func (s *Surface) CreateImages(req swapchain.ImageRequest) ([]core1_0.Image, error) {
	s.Requests = append(s.Requests, req)
	s.LiveImages = req.ImageCount
	return make([]core1_0.Image, req.ImageCount), nil
}

func (s *Surface) DestroyImages() error {
	s.Destroys++
	s.LiveImages = 0
	return nil
}

func (s *Surface) AcquireNextImage(signal core1_0.Semaphore) (int, gpu.Outcome, error) {
	s.Acquires++
	outcome := gpu.OutcomeOK
	if len(s.AcquireOutcomes) > 0 {
		outcome = s.AcquireOutcomes[0]
		s.AcquireOutcomes = s.AcquireOutcomes[1:]
	}
	return s.NextImage, outcome, nil
}

func (s *Surface) Present(imageIndex int, wait core1_0.Semaphore) (gpu.Outcome, error) {
	s.Presents++
	outcome := gpu.OutcomeOK
	if len(s.PresentOutcomes) > 0 {
		outcome = s.PresentOutcomes[0]
		s.PresentOutcomes = s.PresentOutcomes[1:]
	}
	return outcome, nil
}
