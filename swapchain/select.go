package swapchain

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/renderloop/gpu"
)

// Capabilities is the subset of surface capabilities the chain sizes itself from.
// A CurrentExtent width of -1 means the surface lets the swapchain pick its size.
type Capabilities struct {
	MinImageCount  int
	MaxImageCount  int
	CurrentExtent  core1_0.Extent2D
	MinImageExtent core1_0.Extent2D
	MaxImageExtent core1_0.Extent2D
}

type Support struct {
	Capabilities Capabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

var DefaultSurfaceFormat = khr_surface.SurfaceFormat{
	Format:     core1_0.FormatB8G8R8A8SRGB,
	ColorSpace: khr_surface.ColorSpaceSRGBNonlinear,
}

func ChooseSurfaceFormat(formats []khr_surface.SurfaceFormat, preferred khr_surface.SurfaceFormat) (khr_surface.SurfaceFormat, error) {
	if len(formats) == 0 {
		return khr_surface.SurfaceFormat{}, gpu.Fatalf("surface reports no formats")
	}
	for _, format := range formats {
		if format == preferred {
			return format, nil
		}
	}
	return formats[0], nil
}

func ChoosePresentMode(modes []khr_surface.PresentMode, lowLatency bool) khr_surface.PresentMode {
	if lowLatency {
		for _, mode := range modes {
			if mode == khr_surface.PresentModeMailbox {
				return mode
			}
		}
	}
	// FIFO is the one mode every surface must support
	return khr_surface.PresentModeFIFO
}

// ChooseExtent takes the surface's current extent, or the drawable size when the
// surface reports the 0xFFFFFFFF width that lets the swapchain decide.
func ChooseExtent(caps Capabilities, drawable core1_0.Extent2D) core1_0.Extent2D {
	extent := drawable
	if uint32(caps.CurrentExtent.Width) != ^uint32(0) {
		extent = caps.CurrentExtent
	}
	return core1_0.Extent2D{
		Width:  clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

func ChooseImageCount(caps Capabilities) int {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
