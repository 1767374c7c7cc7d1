package device

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/swapchain"
)

// SurfaceBackend presents to a window surface through khr_swapchain.
type SurfaceBackend struct {
	diag         *diag.Context
	dev          *Device
	surfaceExt   khr_surface.ExtensionDriver
	swapchainExt khr_swapchain.ExtensionDriver
	surface      khr_surface.Surface
	drawableSize func() (int, int)

	swapchain    khr_swapchain.Swapchain
	hasSwapchain bool
	transform    khr_surface.SurfaceTransformFlags
}

// NewSurfaceBackend wraps surface, which was created on inst for the window
// drawableSize reports on. The backend takes ownership of the surface.
func NewSurfaceBackend(d *diag.Context, inst *Instance, dev *Device, surface khr_surface.Surface, drawableSize func() (int, int)) *SurfaceBackend {
	return &SurfaceBackend{
		diag:         d.With("surface"),
		dev:          dev,
		surfaceExt:   inst.SurfaceExtension(),
		swapchainExt: khr_swapchain.CreateExtensionDriverFromCoreDriver(dev.Driver()),
		surface:      surface,
		drawableSize: drawableSize,
	}
}

func (s *SurfaceBackend) Layers() int { return 1 }

func (s *SurfaceBackend) DrawableSize() core1_0.Extent2D {
	width, height := s.drawableSize()
	return core1_0.Extent2D{Width: width, Height: height}
}

func (s *SurfaceBackend) Support() (swapchain.Support, error) {
	physicalDevice := s.dev.PhysicalDevice()

	capabilities, _, err := s.surfaceExt.GetPhysicalDeviceSurfaceCapabilities(s.surface, physicalDevice)
	if err != nil {
		return swapchain.Support{}, errors.Wrap(err, "surface capabilities")
	}
	formats, _, err := s.surfaceExt.GetPhysicalDeviceSurfaceFormats(s.surface, physicalDevice)
	if err != nil {
		return swapchain.Support{}, errors.Wrap(err, "surface formats")
	}
	presentModes, _, err := s.surfaceExt.GetPhysicalDeviceSurfacePresentModes(s.surface, physicalDevice)
	if err != nil {
		return swapchain.Support{}, errors.Wrap(err, "surface present modes")
	}

	s.transform = capabilities.CurrentTransform
	return swapchain.Support{
		Capabilities: swapchain.Capabilities{
			MinImageCount:  capabilities.MinImageCount,
			MaxImageCount:  capabilities.MaxImageCount,
			CurrentExtent:  capabilities.CurrentExtent,
			MinImageExtent: capabilities.MinImageExtent,
			MaxImageExtent: capabilities.MaxImageExtent,
		},
		Formats:      formats,
		PresentModes: presentModes,
	}, nil
}

func (s *SurfaceBackend) CreateImages(req swapchain.ImageRequest) ([]core1_0.Image, error) {
	if s.hasSwapchain {
		return nil, errors.New("swapchain images already exist")
	}

	sc, _, err := s.swapchainExt.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: s.surface,

		MinImageCount:    req.ImageCount,
		ImageFormat:      req.Format.Format,
		ImageColorSpace:  req.Format.ColorSpace,
		ImageExtent:      req.Extent,
		ImageArrayLayers: req.Layers,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode: core1_0.SharingModeExclusive,

		PreTransform:   s.transform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    req.PresentMode,
		Clipped:        true,
	})
	if err != nil {
		return nil, err
	}

	images, _, err := s.swapchainExt.GetSwapchainImages(sc)
	if err != nil {
		s.swapchainExt.DestroySwapchain(sc, nil)
		return nil, errors.Wrap(err, "get swapchain images")
	}

	s.swapchain = sc
	s.hasSwapchain = true
	s.diag.Debug("swapchain created", "images", len(images), "presentMode", req.PresentMode)
	return images, nil
}

func (s *SurfaceBackend) DestroyImages() error {
	if !s.hasSwapchain {
		return nil
	}
	s.swapchainExt.DestroySwapchain(s.swapchain, nil)
	s.hasSwapchain = false
	return nil
}

func (s *SurfaceBackend) AcquireNextImage(signal core1_0.Semaphore) (int, gpu.Outcome, error) {
	imageIndex, res, err := s.swapchainExt.AcquireNextImage(s.swapchain, common.NoTimeout, &signal, nil)
	return imageIndex, outcomeOf(res, err), err
}

func (s *SurfaceBackend) Present(imageIndex int, wait core1_0.Semaphore) (gpu.Outcome, error) {
	res, err := s.swapchainExt.QueuePresent(s.dev.Queue(), khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{wait},
		Swapchains:     []khr_swapchain.Swapchain{s.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	return outcomeOf(res, err), err
}

// Destroy releases the swapchain if one is left and then the surface.
func (s *SurfaceBackend) Destroy() {
	_ = s.DestroyImages()
	s.surfaceExt.DestroySurface(s.surface, nil)
}

// outcomeOf maps a presentation result onto what the frame loop does next.
// Out-of-date and suboptimal surfaces are recoverable by recreating the chain.
func outcomeOf(res common.VkResult, err error) gpu.Outcome {
	switch {
	case res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal:
		return gpu.OutcomeRetry
	case err != nil:
		return gpu.OutcomeFatal
	}
	return gpu.OutcomeOK
}
