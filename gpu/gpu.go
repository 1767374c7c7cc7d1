package gpu

import (
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Buffer pairs a buffer handle with the memory bound to it.
type Buffer struct {
	Handle core1_0.Buffer
	Memory core1_0.DeviceMemory
	Size   int
}

func (b Buffer) Initialized() bool {
	return b.Handle.Initialized()
}

// Image is an image with its bound memory and a single view over all of its layers.
type Image struct {
	Handle core1_0.Image
	Memory core1_0.DeviceMemory
	View   core1_0.ImageView
}

func (i Image) Initialized() bool {
	return i.Handle.Initialized()
}

// Submission describes one queue submit: the recorded command buffer, the semaphores
// it waits on and signals, and the fence signaled when the GPU is done with it.
type Submission struct {
	CommandBuffer    core1_0.CommandBuffer
	WaitSemaphores   []core1_0.Semaphore
	WaitStages       []core1_0.PipelineStageFlags
	SignalSemaphores []core1_0.Semaphore
	Fence            core1_0.Fence
}
