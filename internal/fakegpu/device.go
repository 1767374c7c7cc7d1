// Package fakegpu provides recording stand-ins for the graphics device, window
// surface and XR session so render code can be tested without a GPU.
package fakegpu

import (
	"sync"

	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/renderloop/gpu"
)

// Device records every call and tracks how many objects of each kind are alive.
// Handles it returns are zero values; tests assert on calls and create infos.
type Device struct {
	mu sync.Mutex

	Calls   []string
	Created map[string]int
	Live    map[string]int
	fail    map[string]error

	ImageInfos          []core1_0.ImageCreateInfo
	ImageViewInfos      []core1_0.ImageViewCreateInfo
	FramebufferInfos    []core1_0.FramebufferCreateInfo
	RenderPassInfos     []core1_0.RenderPassCreateInfo
	PipelineLayoutInfos []core1_0.PipelineLayoutCreateInfo
	PipelineInfos       []core1_0.GraphicsPipelineCreateInfo
	SetLayoutInfos      []core1_0.DescriptorSetLayoutCreateInfo
	DescriptorWrites    []core1_0.WriteDescriptorSet
	Submissions         []gpu.Submission
	PushConstants       [][]byte
	DrawCounts          []int
	Viewports           []core1_0.Viewport
	BeginInfos          []core1_0.RenderPassBeginInfo
	Barriers            int
	Buffers             []BufferRecord
	Writes              []BufferWrite
	FenceWaits          int
	FenceResets         int
	IdleWaits           int

	DepthFormatValue core1_0.Format
}

type BufferRecord struct {
	Size       int
	Usage      core1_0.BufferUsageFlags
	Properties core1_0.MemoryPropertyFlags
	Uploaded   []byte
}

type BufferWrite struct {
	Offset int
	Data   []byte
}

func NewDevice() *Device {
	return &Device{
		Created:          make(map[string]int),
		Live:             make(map[string]int),
		fail:             make(map[string]error),
		DepthFormatValue: core1_0.FormatD32SignedFloat,
	}
}

// FailOn makes every later call to method return err, until cleared with a nil err.
func (d *Device) FailOn(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, method)
		return
	}
	d.fail[method] = err
}

// LiveTotal is the number of created objects not yet destroyed, over all kinds.
func (d *Device) LiveTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, n := range d.Live {
		total += n
	}
	return total
}

// Count is how many times method was called.
func (d *Device) Count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, call := range d.Calls {
		if call == method {
			n++
		}
	}
	return n
}

func (d *Device) call(method string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, method)
	return d.fail[method]
}

func (d *Device) create(method, kind string) error {
	if err := d.call(method); err != nil {
		return err
	}
	d.mu.Lock()
	d.Created[kind]++
	d.Live[kind]++
	d.mu.Unlock()
	return nil
}

func (d *Device) destroy(method, kind string) {
	_ = d.call(method)
	d.mu.Lock()
	d.Live[kind]--
	d.mu.Unlock()
}

func (d *Device) WaitIdle() error {
	d.IdleWaits++
	return d.call("WaitIdle")
}

func (d *Device) DepthFormat() (core1_0.Format, error) {
	return d.DepthFormatValue, d.call("DepthFormat")
}

func (d *Device) CreateImage(info core1_0.ImageCreateInfo, properties core1_0.MemoryPropertyFlags) (gpu.Image, error) {
	if err := d.create("CreateImage", "image"); err != nil {
		return gpu.Image{}, err
	}
	d.ImageInfos = append(d.ImageInfos, info)
	return gpu.Image{}, nil
}

func (d *Device) DestroyImage(image gpu.Image) { d.destroy("DestroyImage", "image") }

func (d *Device) CreateImageView(info core1_0.ImageViewCreateInfo) (core1_0.ImageView, error) {
	if err := d.create("CreateImageView", "imageView"); err != nil {
		return core1_0.ImageView{}, err
	}
	d.ImageViewInfos = append(d.ImageViewInfos, info)
	return core1_0.ImageView{}, nil
}

func (d *Device) DestroyImageView(view core1_0.ImageView) { d.destroy("DestroyImageView", "imageView") }

func (d *Device) CreateFramebuffer(info core1_0.FramebufferCreateInfo) (core1_0.Framebuffer, error) {
	if err := d.create("CreateFramebuffer", "framebuffer"); err != nil {
		return core1_0.Framebuffer{}, err
	}
	d.FramebufferInfos = append(d.FramebufferInfos, info)
	return core1_0.Framebuffer{}, nil
}

func (d *Device) DestroyFramebuffer(framebuffer core1_0.Framebuffer) {
	d.destroy("DestroyFramebuffer", "framebuffer")
}

func (d *Device) CreateRenderPass(info core1_0.RenderPassCreateInfo) (core1_0.RenderPass, error) {
	if err := d.create("CreateRenderPass", "renderPass"); err != nil {
		return core1_0.RenderPass{}, err
	}
	d.RenderPassInfos = append(d.RenderPassInfos, info)
	return core1_0.RenderPass{}, nil
}

func (d *Device) DestroyRenderPass(renderPass core1_0.RenderPass) {
	d.destroy("DestroyRenderPass", "renderPass")
}

func (d *Device) CreatePipelineLayout(info core1_0.PipelineLayoutCreateInfo) (core1_0.PipelineLayout, error) {
	if err := d.create("CreatePipelineLayout", "pipelineLayout"); err != nil {
		return core1_0.PipelineLayout{}, err
	}
	d.PipelineLayoutInfos = append(d.PipelineLayoutInfos, info)
	return core1_0.PipelineLayout{}, nil
}

func (d *Device) DestroyPipelineLayout(layout core1_0.PipelineLayout) {
	d.destroy("DestroyPipelineLayout", "pipelineLayout")
}

func (d *Device) CreateShaderModule(code []byte) (core1_0.ShaderModule, error) {
	if err := d.create("CreateShaderModule", "shaderModule"); err != nil {
		return core1_0.ShaderModule{}, err
	}
	return core1_0.ShaderModule{}, nil
}

func (d *Device) DestroyShaderModule(module core1_0.ShaderModule) {
	d.destroy("DestroyShaderModule", "shaderModule")
}

func (d *Device) CreateGraphicsPipeline(info core1_0.GraphicsPipelineCreateInfo) (core1_0.Pipeline, error) {
	if err := d.create("CreateGraphicsPipeline", "pipeline"); err != nil {
		return core1_0.Pipeline{}, err
	}
	d.PipelineInfos = append(d.PipelineInfos, info)
	return core1_0.Pipeline{}, nil
}

func (d *Device) DestroyPipeline(pipeline core1_0.Pipeline) { d.destroy("DestroyPipeline", "pipeline") }

func (d *Device) CreateFence(info core1_0.FenceCreateInfo) (core1_0.Fence, error) {
	if err := d.create("CreateFence", "fence"); err != nil {
		return core1_0.Fence{}, err
	}
	return core1_0.Fence{}, nil
}

func (d *Device) DestroyFence(fence core1_0.Fence) { d.destroy("DestroyFence", "fence") }

func (d *Device) CreateSemaphore() (core1_0.Semaphore, error) {
	if err := d.create("CreateSemaphore", "semaphore"); err != nil {
		return core1_0.Semaphore{}, err
	}
	return core1_0.Semaphore{}, nil
}

func (d *Device) DestroySemaphore(semaphore core1_0.Semaphore) {
	d.destroy("DestroySemaphore", "semaphore")
}

func (d *Device) WaitForFence(fence core1_0.Fence) error {
	d.FenceWaits++
	return d.call("WaitForFence")
}

func (d *Device) ResetFence(fence core1_0.Fence) error {
	d.FenceResets++
	return d.call("ResetFence")
}

func (d *Device) AllocateCommandBuffer() (core1_0.CommandBuffer, error) {
	if err := d.create("AllocateCommandBuffer", "commandBuffer"); err != nil {
		return core1_0.CommandBuffer{}, err
	}
	return core1_0.CommandBuffer{}, nil
}

func (d *Device) FreeCommandBuffer(buffer core1_0.CommandBuffer) {
	d.destroy("FreeCommandBuffer", "commandBuffer")
}

func (d *Device) QueueSubmit(submission gpu.Submission) error {
	if err := d.call("QueueSubmit"); err != nil {
		return err
	}
	d.Submissions = append(d.Submissions, submission)
	return nil
}

func (d *Device) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (gpu.Buffer, error) {
	if err := d.create("CreateBuffer", "buffer"); err != nil {
		return gpu.Buffer{}, err
	}
	d.Buffers = append(d.Buffers, BufferRecord{Size: size, Usage: usage, Properties: properties})
	return gpu.Buffer{Size: size}, nil
}

func (d *Device) WriteBuffer(buffer gpu.Buffer, offset int, data []byte) error {
	if err := d.call("WriteBuffer"); err != nil {
		return err
	}
	d.Writes = append(d.Writes, BufferWrite{Offset: offset, Data: append([]byte(nil), data...)})
	return nil
}

func (d *Device) UploadBuffer(usage core1_0.BufferUsageFlags, data []byte) (gpu.Buffer, error) {
	if err := d.create("UploadBuffer", "buffer"); err != nil {
		return gpu.Buffer{}, err
	}
	d.Buffers = append(d.Buffers, BufferRecord{
		Size:       len(data),
		Usage:      usage,
		Properties: core1_0.MemoryPropertyDeviceLocal,
		Uploaded:   append([]byte(nil), data...),
	})
	return gpu.Buffer{Size: len(data)}, nil
}

func (d *Device) DestroyBuffer(buffer gpu.Buffer) { d.destroy("DestroyBuffer", "buffer") }

func (d *Device) CreateDescriptorSetLayout(info core1_0.DescriptorSetLayoutCreateInfo) (core1_0.DescriptorSetLayout, error) {
	if err := d.create("CreateDescriptorSetLayout", "descriptorSetLayout"); err != nil {
		return core1_0.DescriptorSetLayout{}, err
	}
	d.SetLayoutInfos = append(d.SetLayoutInfos, info)
	return core1_0.DescriptorSetLayout{}, nil
}

func (d *Device) DestroyDescriptorSetLayout(layout core1_0.DescriptorSetLayout) {
	d.destroy("DestroyDescriptorSetLayout", "descriptorSetLayout")
}

func (d *Device) CreateDescriptorPool(info core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, error) {
	if err := d.create("CreateDescriptorPool", "descriptorPool"); err != nil {
		return core1_0.DescriptorPool{}, err
	}
	return core1_0.DescriptorPool{}, nil
}

func (d *Device) DestroyDescriptorPool(pool core1_0.DescriptorPool) {
	d.destroy("DestroyDescriptorPool", "descriptorPool")
}

func (d *Device) AllocateDescriptorSet(pool core1_0.DescriptorPool, layout core1_0.DescriptorSetLayout) (core1_0.DescriptorSet, error) {
	return core1_0.DescriptorSet{}, d.call("AllocateDescriptorSet")
}

func (d *Device) UpdateDescriptorSets(writes []core1_0.WriteDescriptorSet) error {
	if err := d.call("UpdateDescriptorSets"); err != nil {
		return err
	}
	d.DescriptorWrites = append(d.DescriptorWrites, writes...)
	return nil
}

func (d *Device) ResetCommandBuffer(buffer core1_0.CommandBuffer) error {
	return d.call("ResetCommandBuffer")
}

func (d *Device) BeginCommandBuffer(buffer core1_0.CommandBuffer) error {
	return d.call("BeginCommandBuffer")
}

func (d *Device) EndCommandBuffer(buffer core1_0.CommandBuffer) error {
	return d.call("EndCommandBuffer")
}

func (d *Device) CmdBeginRenderPass(buffer core1_0.CommandBuffer, info core1_0.RenderPassBeginInfo) error {
	if err := d.call("CmdBeginRenderPass"); err != nil {
		return err
	}
	d.BeginInfos = append(d.BeginInfos, info)
	return nil
}

func (d *Device) CmdEndRenderPass(buffer core1_0.CommandBuffer) { _ = d.call("CmdEndRenderPass") }

func (d *Device) CmdBindPipeline(buffer core1_0.CommandBuffer, pipeline core1_0.Pipeline) {
	_ = d.call("CmdBindPipeline")
}

func (d *Device) CmdSetViewport(buffer core1_0.CommandBuffer, viewport core1_0.Viewport) {
	_ = d.call("CmdSetViewport")
	d.Viewports = append(d.Viewports, viewport)
}

func (d *Device) CmdSetScissor(buffer core1_0.CommandBuffer, scissor core1_0.Rect2D) {
	_ = d.call("CmdSetScissor")
}

func (d *Device) CmdBindDescriptorSets(buffer core1_0.CommandBuffer, layout core1_0.PipelineLayout, firstSet int, sets []core1_0.DescriptorSet) {
	_ = d.call("CmdBindDescriptorSets")
}

func (d *Device) CmdPushConstants(buffer core1_0.CommandBuffer, layout core1_0.PipelineLayout, stages core1_0.ShaderStageFlags, offset int, data []byte) {
	_ = d.call("CmdPushConstants")
	d.PushConstants = append(d.PushConstants, append([]byte(nil), data...))
}

func (d *Device) CmdBindVertexBuffer(buffer core1_0.CommandBuffer, vertexBuffer core1_0.Buffer) {
	_ = d.call("CmdBindVertexBuffer")
}

func (d *Device) CmdBindIndexBuffer(buffer core1_0.CommandBuffer, indexBuffer core1_0.Buffer) {
	_ = d.call("CmdBindIndexBuffer")
}

func (d *Device) CmdDrawIndexed(buffer core1_0.CommandBuffer, indexCount int) {
	_ = d.call("CmdDrawIndexed")
	d.DrawCounts = append(d.DrawCounts, indexCount)
}

func (d *Device) CmdPipelineBarrier(buffer core1_0.CommandBuffer, srcStages, dstStages core1_0.PipelineStageFlags, barriers []core1_0.MemoryBarrier) error {
	if err := d.call("CmdPipelineBarrier"); err != nil {
		return err
	}
	d.Barriers++
	return nil
}

// ResetRecording forgets per-frame command recording so a test can look at one frame.
func (d *Device) ResetRecording() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PushConstants = nil
	d.DrawCounts = nil
	d.Viewports = nil
	d.BeginInfos = nil
	d.Barriers = 0
	d.Submissions = nil
	d.Calls = nil
}
