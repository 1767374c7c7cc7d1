// Package device implements the renderer's graphics device on top of vkngwrapper:
// physical device selection, logical device bootstrap and every object the
// frame loop creates or records through.
package device

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_1"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/gpu"
)

type Options struct {
	// Surface is the window surface frames are presented to. Nil when an XR
	// runtime owns presentation.
	Surface *khr_surface.Surface
	// Multiview enables the multiview feature stereo render passes need.
	Multiview bool
}

// Device is a logical device with one graphics queue and one command pool.
type Device struct {
	diag     *diag.Context
	instance core1_0.CoreInstanceDriver
	driver   core1_0.CoreDeviceDriver

	physicalDevice core1_0.PhysicalDevice
	candidate      Candidate
	memory         *core1_0.PhysicalDeviceMemoryProperties
	queueFamily    int
	queue          core1_0.Queue
	commandPool    core1_0.CommandPool

	depthFormat    core1_0.Format
	hasDepthFormat bool
}

// Open picks the most suitable physical device and creates a logical device on it.
func Open(d *diag.Context, inst *Instance, opts Options) (*Device, error) {
	dev := &Device{diag: d.With("device"), instance: inst.Driver()}

	physicalDevices, _, err := dev.instance.EnumeratePhysicalDevices()
	if err != nil {
		return nil, gpu.MarkFatal(err, "enumerate physical devices")
	}

	var surfaceExt khr_surface.ExtensionDriver
	var surface khr_surface.Surface
	if opts.Surface != nil {
		surfaceExt = inst.SurfaceExtension()
		surface = *opts.Surface
	}
	required := RequiredExtensions(opts.Surface != nil)

	candidates := make([]Candidate, 0, len(physicalDevices))
	for _, physicalDevice := range physicalDevices {
		candidate, err := describe(dev.instance, surfaceExt, surface, physicalDevice, required)
		if err != nil {
			return nil, gpu.MarkFatal(err, "describe physical device")
		}
		dev.diag.Debug("physical device",
			"name", candidate.Name,
			"usable", candidate.Usable(),
			"score", candidate.Suitability(),
			"missing", candidate.MissingExtensions)
		candidates = append(candidates, candidate)
	}

	picked, err := Pick(candidates)
	if err != nil {
		return nil, gpu.MarkFatal(err, "pick physical device")
	}
	dev.physicalDevice = physicalDevices[picked]
	dev.candidate = candidates[picked]
	dev.queueFamily = dev.candidate.GraphicsFamily
	dev.memory = dev.instance.GetPhysicalDeviceMemoryProperties(dev.physicalDevice)

	extensionNames := append([]string(nil), required...)
	extensions, _, err := dev.instance.EnumerateDeviceExtensionProperties(dev.physicalDevice)
	if err != nil {
		return nil, gpu.MarkFatal(err, "enumerate device extensions")
	}
	if _, ok := extensions[khr_portability_subset.ExtensionName]; ok {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	createInfo := core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: dev.queueFamily,
				QueuePriorities:  []float32{1.0},
			},
		},
		EnabledFeatures:       &core1_0.PhysicalDeviceFeatures{},
		EnabledExtensionNames: extensionNames,
	}
	if opts.Multiview {
		createInfo.Next = core1_1.PhysicalDeviceMultiviewFeatures{Multiview: true}
	}

	handle, _, err := dev.instance.CreateDevice(dev.physicalDevice, nil, createInfo)
	if err != nil {
		return nil, gpu.MarkFatal(err, "create logical device")
	}
	dev.driver, err = dev.instance.BuildDeviceDriver(handle)
	if err != nil {
		return nil, gpu.MarkFatal(err, "load device driver")
	}
	dev.queue = dev.driver.GetQueue(dev.queueFamily, 0)

	dev.commandPool, _, err = dev.driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: dev.queueFamily,
	})
	if err != nil {
		dev.driver.DestroyDevice(nil)
		return nil, gpu.MarkFatal(err, "create command pool")
	}

	dev.diag.Info("device opened",
		"name", dev.candidate.Name,
		"score", dev.candidate.Suitability(),
		"queueFamily", dev.queueFamily,
		"multiview", opts.Multiview)
	return dev, nil
}

// Destroy waits for the device to go idle and destroys it. Everything created
// through the device must be destroyed first.
func (d *Device) Destroy() {
	if err := d.WaitIdle(); err != nil {
		d.diag.Error("wait idle before destroying device", "error", err)
	}
	d.driver.DestroyCommandPool(d.commandPool, nil)
	d.driver.DestroyDevice(nil)
}

func (d *Device) Driver() core1_0.CoreDeviceDriver           { return d.driver }
func (d *Device) PhysicalDevice() core1_0.PhysicalDevice     { return d.physicalDevice }
func (d *Device) Queue() core1_0.Queue                       { return d.queue }
func (d *Device) GraphicsQueueFamily() int                   { return d.queueFamily }
func (d *Device) Candidate() Candidate                       { return d.candidate }
func (d *Device) InstanceDriver() core1_0.CoreInstanceDriver { return d.instance }

func (d *Device) WaitIdle() error {
	_, err := d.driver.DeviceWaitIdle()
	return err
}

// DepthFormat is the first depth format the device supports as an optimal-tiling
// attachment. The answer is cached.
func (d *Device) DepthFormat() (core1_0.Format, error) {
	if d.hasDepthFormat {
		return d.depthFormat, nil
	}
	format, err := d.findSupportedFormat(
		[]core1_0.Format{core1_0.FormatD32SignedFloat, core1_0.FormatD32SignedFloatS8UnsignedInt, core1_0.FormatD24UnsignedNormalizedS8UnsignedInt},
		core1_0.ImageTilingOptimal,
		core1_0.FormatFeatureDepthStencilAttachment)
	if err != nil {
		return 0, err
	}
	d.depthFormat = format
	d.hasDepthFormat = true
	return format, nil
}

func (d *Device) findSupportedFormat(formats []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, error) {
	for _, format := range formats {
		props := d.instance.GetPhysicalDeviceFormatProperties(d.physicalDevice, format)

		if tiling == core1_0.ImageTilingLinear && (props.LinearTilingFeatures&features) == features {
			return format, nil
		} else if tiling == core1_0.ImageTilingOptimal && (props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}

	return 0, errors.Newf("failed to find supported format for tiling %s, featureset %s", tiling, features)
}

func (d *Device) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	return findMemoryType(d.memory.MemoryTypes, typeFilter, properties)
}

func findMemoryType(memoryTypes []core1_0.MemoryType, typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, memoryType := range memoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Newf("failed to find a memory type with properties %s", properties)
}

func (d *Device) CreateImage(info core1_0.ImageCreateInfo, properties core1_0.MemoryPropertyFlags) (gpu.Image, error) {
	image, _, err := d.driver.CreateImage(nil, info)
	if err != nil {
		return gpu.Image{}, errors.Wrap(err, "create image")
	}

	memReqs := d.driver.GetImageMemoryRequirements(image)
	memoryIndex, err := d.findMemoryType(memReqs.MemoryTypeBits, properties)
	if err != nil {
		d.driver.DestroyImage(image, nil)
		return gpu.Image{}, err
	}

	memory, _, err := d.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		d.driver.DestroyImage(image, nil)
		return gpu.Image{}, errors.Wrap(err, "allocate image memory")
	}

	_, err = d.driver.BindImageMemory(image, memory, 0)
	if err != nil {
		d.driver.DestroyImage(image, nil)
		d.driver.FreeMemory(memory, nil)
		return gpu.Image{}, errors.Wrap(err, "bind image memory")
	}

	return gpu.Image{Handle: image, Memory: memory}, nil
}

// DestroyImage destroys the image and frees its memory. The view is owned by
// whoever created it.
func (d *Device) DestroyImage(image gpu.Image) {
	d.driver.DestroyImage(image.Handle, nil)
	d.driver.FreeMemory(image.Memory, nil)
}

func (d *Device) CreateImageView(info core1_0.ImageViewCreateInfo) (core1_0.ImageView, error) {
	view, _, err := d.driver.CreateImageView(nil, info)
	return view, err
}

func (d *Device) DestroyImageView(view core1_0.ImageView) {
	d.driver.DestroyImageView(view, nil)
}

func (d *Device) CreateFramebuffer(info core1_0.FramebufferCreateInfo) (core1_0.Framebuffer, error) {
	framebuffer, _, err := d.driver.CreateFramebuffer(nil, info)
	return framebuffer, err
}

func (d *Device) DestroyFramebuffer(framebuffer core1_0.Framebuffer) {
	d.driver.DestroyFramebuffer(framebuffer, nil)
}

func (d *Device) CreateRenderPass(info core1_0.RenderPassCreateInfo) (core1_0.RenderPass, error) {
	renderPass, _, err := d.driver.CreateRenderPass(nil, info)
	return renderPass, err
}

func (d *Device) DestroyRenderPass(renderPass core1_0.RenderPass) {
	d.driver.DestroyRenderPass(renderPass, nil)
}

func (d *Device) CreatePipelineLayout(info core1_0.PipelineLayoutCreateInfo) (core1_0.PipelineLayout, error) {
	layout, _, err := d.driver.CreatePipelineLayout(nil, info)
	return layout, err
}

func (d *Device) DestroyPipelineLayout(layout core1_0.PipelineLayout) {
	d.driver.DestroyPipelineLayout(layout, nil)
}

func (d *Device) CreateShaderModule(code []byte) (core1_0.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return core1_0.ShaderModule{}, errors.Newf("SPIR-V length %d is not a positive multiple of 4", len(code))
	}
	module, _, err := d.driver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: bytesToBytecode(code),
	})
	return module, err
}

func (d *Device) DestroyShaderModule(module core1_0.ShaderModule) {
	d.driver.DestroyShaderModule(module, nil)
}

func (d *Device) CreateGraphicsPipeline(info core1_0.GraphicsPipelineCreateInfo) (core1_0.Pipeline, error) {
	pipelines, _, err := d.driver.CreateGraphicsPipelines(nil, nil, info)
	if err != nil {
		return core1_0.Pipeline{}, err
	}
	return pipelines[0], nil
}

func (d *Device) DestroyPipeline(pipeline core1_0.Pipeline) {
	d.driver.DestroyPipeline(pipeline, nil)
}

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

func (d *Device) CreateFence(info core1_0.FenceCreateInfo) (core1_0.Fence, error) {
	fence, _, err := d.driver.CreateFence(nil, info)
	return fence, err
}

func (d *Device) DestroyFence(fence core1_0.Fence) {
	d.driver.DestroyFence(fence, nil)
}

func (d *Device) CreateSemaphore() (core1_0.Semaphore, error) {
	semaphore, _, err := d.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	return semaphore, err
}

func (d *Device) DestroySemaphore(semaphore core1_0.Semaphore) {
	d.driver.DestroySemaphore(semaphore, nil)
}

func (d *Device) WaitForFence(fence core1_0.Fence) error {
	_, err := d.driver.WaitForFences(true, common.NoTimeout, fence)
	return err
}

func (d *Device) ResetFence(fence core1_0.Fence) error {
	_, err := d.driver.ResetFences(fence)
	return err
}

func (d *Device) QueueSubmit(submission gpu.Submission) error {
	var fence *core1_0.Fence
	if submission.Fence.Initialized() {
		fence = &submission.Fence
	}
	_, err := d.driver.QueueSubmit(d.queue, fence, core1_0.SubmitInfo{
		WaitSemaphores:   submission.WaitSemaphores,
		WaitDstStageMask: submission.WaitStages,
		CommandBuffers:   []core1_0.CommandBuffer{submission.CommandBuffer},
		SignalSemaphores: submission.SignalSemaphores,
	})
	return err
}
