package device

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/renderloop/diag"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}

type InstanceOptions struct {
	ApplicationName string
	// Extensions are the instance extensions the window system asks for.
	Extensions []string
	// Validation enables the Khronos validation layer and routes its
	// messages to the diagnostics context.
	Validation bool
}

// Instance owns the Vulkan instance and the instance-level extension drivers.
type Instance struct {
	diag   *diag.Context
	driver core1_0.CoreInstanceDriver

	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger
	surfaceExt     khr_surface.ExtensionDriver
}

func NewInstance(d *diag.Context, global core1_0.GlobalDriver, opts InstanceOptions) (*Instance, error) {
	inst := &Instance{diag: d.With("instance")}

	if opts.ApplicationName == "" {
		opts.ApplicationName = "renderloop"
	}
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    opts.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "renderloop",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := global.AvailableExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate instance extensions")
	}
	for _, ext := range opts.Extensions {
		if _, ok := extensions[ext]; !ok {
			return nil, errors.Newf("missing instance extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if _, ok := extensions[khr_portability_enumeration.ExtensionName]; ok {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if opts.Validation {
		layers, _, err := global.AvailableLayers()
		if err != nil {
			return nil, errors.Wrap(err, "enumerate instance layers")
		}
		for _, layer := range validationLayers {
			if _, ok := layers[layer]; !ok {
				return nil, errors.WithHint(
					errors.Newf("validation layer %s not available", layer),
					"install the LunarG Vulkan SDK or set validation = false")
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		instanceOptions.Next = inst.debugMessengerOptions()
	}

	instance, _, err := global.CreateInstance(nil, instanceOptions)
	if err != nil {
		return nil, errors.Wrap(err, "create instance")
	}
	inst.driver, err = global.BuildInstanceDriver(instance)
	if err != nil {
		return nil, errors.Wrap(err, "load instance driver")
	}

	if opts.Validation {
		inst.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(inst.driver)
		inst.debugMessenger, _, err = inst.debugDriver.CreateDebugUtilsMessenger(nil, inst.debugMessengerOptions())
		if err != nil {
			inst.driver.DestroyInstance(nil)
			return nil, errors.Wrap(err, "create debug messenger")
		}
	}

	inst.diag.Info("instance created", "extensions", instanceOptions.EnabledExtensionNames, "validation", opts.Validation)
	return inst, nil
}

func (i *Instance) Driver() core1_0.CoreInstanceDriver {
	return i.driver
}

// SurfaceExtension returns the khr_surface driver, creating it on first use.
func (i *Instance) SurfaceExtension() khr_surface.ExtensionDriver {
	if i.surfaceExt == nil {
		i.surfaceExt = khr_surface.CreateExtensionDriverFromCoreDriver(i.driver)
	}
	return i.surfaceExt
}

func (i *Instance) Destroy() {
	if i.debugDriver != nil {
		i.debugDriver.DestroyDebugUtilsMessenger(i.debugMessenger, nil)
		i.debugDriver = nil
	}
	i.driver.DestroyInstance(nil)
}

func (i *Instance) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    i.logDebug,
	}
}

func (i *Instance) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	i.diag.Validation(validationSeverity(severity), msgType.String(), data.Message)
	return false
}

func validationSeverity(severity ext_debug_utils.DebugUtilsMessageSeverityFlags) diag.Severity {
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		return diag.SeverityError
	case severity&ext_debug_utils.SeverityWarning != 0:
		return diag.SeverityWarning
	case severity&ext_debug_utils.SeverityInfo != 0:
		return diag.SeverityInfo
	}
	return diag.SeverityVerbose
}
