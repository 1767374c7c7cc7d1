package device

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// NoQueueFamily marks a candidate without a usable graphics queue family.
const NoQueueFamily = -1

// Candidate is what selection knows about one enumerated physical device.
type Candidate struct {
	Name string
	Type core1_0.PhysicalDeviceType
	// MaxImageDimension2D is the base suitability score.
	MaxImageDimension2D int
	GraphicsFamily      int
	MissingExtensions   []string
}

// Usable reports whether the candidate can run the renderer at all.
func (c Candidate) Usable() bool {
	return c.GraphicsFamily != NoQueueFamily && len(c.MissingExtensions) == 0
}

// Suitability scores a candidate. Higher is better; the device type adds a
// fixed bonus on top of the largest supported 2D image size.
func (c Candidate) Suitability() int {
	score := c.MaxImageDimension2D
	switch c.Type {
	case core1_0.PhysicalDeviceTypeDiscreteGPU:
		score += 1000
	case core1_0.PhysicalDeviceTypeIntegratedGPU:
		score += 100
	case core1_0.PhysicalDeviceTypeVirtualGPU:
		score += 10
	}
	return score
}

// Pick returns the index of the usable candidate with the highest score.
// Ties go to the candidate enumerated first.
func Pick(candidates []Candidate) (int, error) {
	best := -1
	bestScore := 0
	for i, candidate := range candidates {
		if !candidate.Usable() {
			continue
		}
		score := candidate.Suitability()
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		return 0, errors.Newf("failed to find a suitable GPU among %d devices", len(candidates))
	}
	return best, nil
}

// GraphicsQueueFamily returns the first family with graphics support that
// presentSupport accepts. A nil presentSupport accepts every family.
func GraphicsQueueFamily(families []*core1_0.QueueFamilyProperties, presentSupport func(family int) (bool, error)) (int, error) {
	for idx, family := range families {
		if family.QueueFlags&core1_0.QueueGraphics == 0 {
			continue
		}
		if presentSupport == nil {
			return idx, nil
		}
		supported, err := presentSupport(idx)
		if err != nil {
			return NoQueueFamily, err
		}
		if supported {
			return idx, nil
		}
	}
	return NoQueueFamily, nil
}

// RequiredExtensions are the device extensions every selected device must have.
// Flat presentation needs a swapchain; the XR runtime owns its own images.
func RequiredExtensions(surface bool) []string {
	if surface {
		return []string{khr_swapchain.ExtensionName}
	}
	return nil
}

func missingExtensions[T any](available map[string]T, required []string) []string {
	var missing []string
	for _, ext := range required {
		if _, ok := available[ext]; !ok {
			missing = append(missing, ext)
		}
	}
	return missing
}

// describe builds the Candidate for one physical device, querying the
// surface for present support when there is one.
func describe(instance core1_0.CoreInstanceDriver, surfaceExt khr_surface.ExtensionDriver, surface khr_surface.Surface, physicalDevice core1_0.PhysicalDevice, required []string) (Candidate, error) {
	props, err := instance.GetPhysicalDeviceProperties(physicalDevice)
	if err != nil {
		return Candidate{}, errors.Wrap(err, "get physical device properties")
	}

	extensions, _, err := instance.EnumerateDeviceExtensionProperties(physicalDevice)
	if err != nil {
		return Candidate{}, errors.Wrapf(err, "enumerate extensions of %s", props.DriverName)
	}

	var presentSupport func(int) (bool, error)
	if surfaceExt != nil {
		presentSupport = func(family int) (bool, error) {
			supported, _, err := surfaceExt.GetPhysicalDeviceSurfaceSupport(surface, physicalDevice, family)
			return supported, err
		}
	}
	family, err := GraphicsQueueFamily(instance.GetPhysicalDeviceQueueFamilyProperties(physicalDevice), presentSupport)
	if err != nil {
		return Candidate{}, errors.Wrapf(err, "query present support of %s", props.DriverName)
	}

	return Candidate{
		Name:                props.DriverName,
		Type:                props.DriverType,
		MaxImageDimension2D: props.Limits.MaxImageDimension2D,
		GraphicsFamily:      family,
		MissingExtensions:   missingExtensions(extensions, required),
	}, nil
}
