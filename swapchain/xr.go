package swapchain

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/renderloop/xr"
)

// XRBackend sources a two-layer chain from an XR session. The runtime owns the
// images and paces presentation, so the present mode is always FIFO.
type XRBackend struct {
	session xr.Session
}

func NewXRBackend(session xr.Session) *XRBackend {
	return &XRBackend{session: session}
}

func (b *XRBackend) Layers() int {
	return 2
}

func (b *XRBackend) DrawableSize() core1_0.Extent2D {
	return b.session.RecommendedExtent()
}

func (b *XRBackend) Support() (Support, error) {
	formats, err := b.session.SwapchainFormats()
	if err != nil {
		return Support{}, err
	}

	surfaceFormats := make([]khr_surface.SurfaceFormat, 0, len(formats))
	for _, format := range formats {
		surfaceFormats = append(surfaceFormats, khr_surface.SurfaceFormat{
			Format:     format,
			ColorSpace: khr_surface.ColorSpaceSRGBNonlinear,
		})
	}

	extent := b.session.RecommendedExtent()
	return Support{
		Capabilities: Capabilities{
			MinImageCount:  2,
			MaxImageCount:  3,
			CurrentExtent:  extent,
			MinImageExtent: extent,
			MaxImageExtent: extent,
		},
		Formats:      surfaceFormats,
		PresentModes: []khr_surface.PresentMode{khr_surface.PresentModeFIFO},
	}, nil
}

func (b *XRBackend) CreateImages(req ImageRequest) ([]core1_0.Image, error) {
	return b.session.CreateSwapchain(req.Format.Format, req.Extent, req.Layers, req.ImageCount)
}

func (b *XRBackend) DestroyImages() error {
	return b.session.DestroySwapchain()
}
