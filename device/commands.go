package device

import (
	"github.com/vkngwrapper/core/v3/core1_0"
)

func (d *Device) AllocateCommandBuffer() (core1_0.CommandBuffer, error) {
	buffers, _, err := d.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, err
	}
	return buffers[0], nil
}

func (d *Device) FreeCommandBuffer(buffer core1_0.CommandBuffer) {
	d.driver.FreeCommandBuffers(buffer)
}

func (d *Device) ResetCommandBuffer(buffer core1_0.CommandBuffer) error {
	_, err := d.driver.ResetCommandBuffer(buffer, 0)
	return err
}

func (d *Device) BeginCommandBuffer(buffer core1_0.CommandBuffer) error {
	_, err := d.driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return err
}

func (d *Device) EndCommandBuffer(buffer core1_0.CommandBuffer) error {
	_, err := d.driver.EndCommandBuffer(buffer)
	return err
}

func (d *Device) CmdBeginRenderPass(buffer core1_0.CommandBuffer, info core1_0.RenderPassBeginInfo) error {
	return d.driver.CmdBeginRenderPass(buffer, core1_0.SubpassContentsInline, info)
}

func (d *Device) CmdEndRenderPass(buffer core1_0.CommandBuffer) {
	d.driver.CmdEndRenderPass(buffer)
}

func (d *Device) CmdBindPipeline(buffer core1_0.CommandBuffer, pipeline core1_0.Pipeline) {
	d.driver.CmdBindPipeline(buffer, core1_0.PipelineBindPointGraphics, pipeline)
}

func (d *Device) CmdSetViewport(buffer core1_0.CommandBuffer, viewport core1_0.Viewport) {
	d.driver.CmdSetViewport(buffer, viewport)
}

func (d *Device) CmdSetScissor(buffer core1_0.CommandBuffer, scissor core1_0.Rect2D) {
	d.driver.CmdSetScissor(buffer, scissor)
}

func (d *Device) CmdBindDescriptorSets(buffer core1_0.CommandBuffer, layout core1_0.PipelineLayout, firstSet int, sets []core1_0.DescriptorSet) {
	d.driver.CmdBindDescriptorSets(buffer, core1_0.PipelineBindPointGraphics, layout, firstSet, sets, nil)
}

func (d *Device) CmdPushConstants(buffer core1_0.CommandBuffer, layout core1_0.PipelineLayout, stages core1_0.ShaderStageFlags, offset int, data []byte) {
	d.driver.CmdPushConstants(buffer, layout, stages, offset, data)
}

func (d *Device) CmdBindVertexBuffer(buffer core1_0.CommandBuffer, vertexBuffer core1_0.Buffer) {
	d.driver.CmdBindVertexBuffers(buffer, 0, []core1_0.Buffer{vertexBuffer}, []int{0})
}

func (d *Device) CmdBindIndexBuffer(buffer core1_0.CommandBuffer, indexBuffer core1_0.Buffer) {
	d.driver.CmdBindIndexBuffer(buffer, indexBuffer, 0, core1_0.IndexTypeUInt32)
}

func (d *Device) CmdDrawIndexed(buffer core1_0.CommandBuffer, indexCount int) {
	d.driver.CmdDrawIndexed(buffer, indexCount, 1, 0, 0, 0)
}

func (d *Device) CmdPipelineBarrier(buffer core1_0.CommandBuffer, srcStages, dstStages core1_0.PipelineStageFlags, barriers []core1_0.MemoryBarrier) error {
	return d.driver.CmdPipelineBarrier(buffer, srcStages, dstStages, 0, barriers, nil, nil)
}
