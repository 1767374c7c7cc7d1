package frame

import (
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/pipeline"
	"github.com/vkngwrapper/renderloop/recorder"
	"github.com/vkngwrapper/renderloop/swapchain"
	"github.com/vkngwrapper/renderloop/syncpool"
)

// Device is everything the orchestrator asks of the graphics device.
type Device interface {
	swapchain.Device
	pipeline.Device
	syncpool.Device
	recorder.Device

	DepthFormat() (core1_0.Format, error)

	WaitForFence(fence core1_0.Fence) error
	ResetFence(fence core1_0.Fence) error

	AllocateCommandBuffer() (core1_0.CommandBuffer, error)
	FreeCommandBuffer(buffer core1_0.CommandBuffer)
	QueueSubmit(submission gpu.Submission) error

	// CreateBuffer makes an empty buffer in memory with the given properties.
	CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (gpu.Buffer, error)
	WriteBuffer(buffer gpu.Buffer, offset int, data []byte) error
	// UploadBuffer makes a device-local buffer holding data.
	UploadBuffer(usage core1_0.BufferUsageFlags, data []byte) (gpu.Buffer, error)
	DestroyBuffer(buffer gpu.Buffer)

	CreateDescriptorSetLayout(info core1_0.DescriptorSetLayoutCreateInfo) (core1_0.DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout core1_0.DescriptorSetLayout)
	CreateDescriptorPool(info core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, error)
	DestroyDescriptorPool(pool core1_0.DescriptorPool)
	AllocateDescriptorSet(pool core1_0.DescriptorPool, layout core1_0.DescriptorSetLayout) (core1_0.DescriptorSet, error)
	UpdateDescriptorSets(writes []core1_0.WriteDescriptorSet) error
}

// FlatSurface is a window surface the orchestrator presents to directly.
type FlatSurface interface {
	swapchain.Backend

	// AcquireNextImage signals signal once the returned image may be drawn to.
	// OutcomeRetry means the surface no longer matches the swapchain.
	AcquireNextImage(signal core1_0.Semaphore) (int, gpu.Outcome, error)
	Present(imageIndex int, wait core1_0.Semaphore) (gpu.Outcome, error)
}

type uniformBuffer struct {
	dev    Device
	buffer gpu.Buffer
}

func (u uniformBuffer) Write(data []byte) error {
	return u.dev.WriteBuffer(u.buffer, 0, data)
}
