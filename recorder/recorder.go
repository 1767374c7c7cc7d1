// Package recorder records one frame's worth of render passes into a command
// buffer.
package recorder

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/pipeline"
)

var (
	ErrOutOfOrder      = errors.New("command recorder call out of order")
	ErrIndexOutOfRange = errors.New("model index out of range")
)

type Device interface {
	ResetCommandBuffer(buffer core1_0.CommandBuffer) error
	BeginCommandBuffer(buffer core1_0.CommandBuffer) error
	EndCommandBuffer(buffer core1_0.CommandBuffer) error
	CmdBeginRenderPass(buffer core1_0.CommandBuffer, info core1_0.RenderPassBeginInfo) error
	CmdEndRenderPass(buffer core1_0.CommandBuffer)
	CmdBindPipeline(buffer core1_0.CommandBuffer, pipeline core1_0.Pipeline)
	CmdSetViewport(buffer core1_0.CommandBuffer, viewport core1_0.Viewport)
	CmdSetScissor(buffer core1_0.CommandBuffer, scissor core1_0.Rect2D)
	CmdBindDescriptorSets(buffer core1_0.CommandBuffer, layout core1_0.PipelineLayout, firstSet int, sets []core1_0.DescriptorSet)
	CmdPushConstants(buffer core1_0.CommandBuffer, layout core1_0.PipelineLayout, stages core1_0.ShaderStageFlags, offset int, data []byte)
	CmdBindVertexBuffer(buffer core1_0.CommandBuffer, vertexBuffer core1_0.Buffer)
	CmdBindIndexBuffer(buffer core1_0.CommandBuffer, indexBuffer core1_0.Buffer)
	CmdDrawIndexed(buffer core1_0.CommandBuffer, indexCount int)
	CmdPipelineBarrier(buffer core1_0.CommandBuffer, srcStages, dstStages core1_0.PipelineStageFlags, barriers []core1_0.MemoryBarrier) error
}

// Target is where a pass draws this frame.
type Target struct {
	Framebuffer core1_0.Framebuffer
	Extent      core1_0.Extent2D
	ClearColor  [4]float32
}

// Draw is one mesh: its buffers and how many indices to draw. Meshes without
// geometry have IndexCount 0 and no buffers.
type Draw struct {
	VertexBuffer core1_0.Buffer
	IndexBuffer  core1_0.Buffer
	IndexCount   int
}

type state int

const (
	stateIdle state = iota
	stateRecording
	stateInPass
	stateEnded
)

// Stats counts what the last recording issued.
type Stats struct {
	Passes    int
	Draws     int
	Barriers  int
	Indices   int
	Skipped   int
	PushBytes int
}

type Recorder struct {
	dev    Device
	buffer core1_0.CommandBuffer
	state  state
	pass   *pipeline.Pass
	stats  Stats
}

func New(dev Device, buffer core1_0.CommandBuffer) *Recorder {
	return &Recorder{dev: dev, buffer: buffer}
}

func (r *Recorder) CommandBuffer() core1_0.CommandBuffer {
	return r.buffer
}

func (r *Recorder) Stats() Stats {
	return r.stats
}

func (r *Recorder) expect(want state, op string) error {
	if r.state != want {
		return errors.Wrapf(ErrOutOfOrder, "%s", op)
	}
	return nil
}

// StartRecord resets the command buffer and begins recording. The caller must
// already have waited on the fence guarding the buffer's previous submission.
func (r *Recorder) StartRecord() error {
	if r.state == stateRecording || r.state == stateInPass {
		return errors.Wrap(ErrOutOfOrder, "start record while recording")
	}
	if err := r.dev.ResetCommandBuffer(r.buffer); err != nil {
		return errors.Wrap(err, "reset command buffer")
	}
	if err := r.dev.BeginCommandBuffer(r.buffer); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	r.state = stateRecording
	r.stats = Stats{}
	return nil
}

// Abort drops a recording that will not be submitted. The next StartRecord
// resets the command buffer.
func (r *Recorder) Abort() {
	r.state = stateIdle
	r.pass = nil
}

// StartPass begins pass on target, binds its pipeline and points the dynamic
// viewport and scissor at the full target.
func (r *Recorder) StartPass(pass *pipeline.Pass, target Target) error {
	if err := r.expect(stateRecording, "start pass"); err != nil {
		return err
	}

	err := r.dev.CmdBeginRenderPass(r.buffer, core1_0.RenderPassBeginInfo{
		RenderPass:  pass.RenderPass,
		Framebuffer: target.Framebuffer,
		RenderArea: core1_0.Rect2D{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: target.Extent,
		},
		ClearValues: []core1_0.ClearValue{
			core1_0.ClearValueFloat(target.ClearColor),
			core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "begin render pass %s", pass.Name)
	}

	r.dev.CmdBindPipeline(r.buffer, pass.Pipeline)
	r.dev.CmdSetViewport(r.buffer, core1_0.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(target.Extent.Width),
		Height:   float32(target.Extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	r.dev.CmdSetScissor(r.buffer, core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: 0, Y: 0},
		Extent: target.Extent,
	})

	r.pass = pass
	r.state = stateInPass
	r.stats.Passes++
	return nil
}

func (r *Recorder) BindDescriptorSets(firstSet int, sets []core1_0.DescriptorSet) error {
	if err := r.expect(stateInPass, "bind descriptor sets"); err != nil {
		return err
	}
	r.dev.CmdBindDescriptorSets(r.buffer, r.pass.Layout, firstSet, sets)
	return nil
}

// PushConstant pushes data at offset 0 of the pass's push constant range.
func (r *Recorder) PushConstant(data []byte) error {
	if err := r.expect(stateInPass, "push constant"); err != nil {
		return err
	}
	if len(data) > r.pass.PushConstantBytes {
		return errors.Newf("push constant of %d bytes exceeds the %d byte range of pass %s", len(data), r.pass.PushConstantBytes, r.pass.Name)
	}
	r.dev.CmdPushConstants(r.buffer, r.pass.Layout, pipeline.PushConstantStages, 0, data)
	r.stats.PushBytes += len(data)
	return nil
}

func modelIndexBytes(index uint32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, common.ByteOrder, index)
	return buf.Bytes()
}

// DrawMesh pushes index as the model index and draws draw. index must lie in
// [0, meshCount).
func (r *Recorder) DrawMesh(index int, meshCount int, draw Draw) error {
	if err := r.expect(stateInPass, "draw mesh"); err != nil {
		return err
	}
	if index < 0 || index >= meshCount {
		return errors.Wrapf(ErrIndexOutOfRange, "model index %d with %d meshes", index, meshCount)
	}

	if err := r.PushConstant(modelIndexBytes(uint32(index))); err != nil {
		return err
	}
	if draw.IndexCount > 0 {
		r.dev.CmdBindVertexBuffer(r.buffer, draw.VertexBuffer)
		r.dev.CmdBindIndexBuffer(r.buffer, draw.IndexBuffer)
	} else {
		r.stats.Skipped++
	}
	r.dev.CmdDrawIndexed(r.buffer, draw.IndexCount)
	r.stats.Draws++
	r.stats.Indices += draw.IndexCount
	return nil
}

// DrawMeshes draws every mesh with its position in draws as the model index.
func (r *Recorder) DrawMeshes(draws []Draw) error {
	for i, draw := range draws {
		if err := r.DrawMesh(i, len(draws), draw); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) EndPass() error {
	if err := r.expect(stateInPass, "end pass"); err != nil {
		return err
	}
	r.dev.CmdEndRenderPass(r.buffer)
	r.pass = nil
	r.state = stateRecording
	return nil
}

// BarrierBetweenPasses makes every write of the previous pass visible to the
// next one.
func (r *Recorder) BarrierBetweenPasses() error {
	if err := r.expect(stateRecording, "barrier between passes"); err != nil {
		return err
	}
	err := r.dev.CmdPipelineBarrier(r.buffer,
		core1_0.PipelineStageAllCommands,
		core1_0.PipelineStageAllCommands,
		[]core1_0.MemoryBarrier{
			{
				SrcAccessMask: core1_0.AccessMemoryWrite,
				DstAccessMask: core1_0.AccessMemoryRead | core1_0.AccessMemoryWrite,
			},
		})
	if err != nil {
		return errors.Wrap(err, "record barrier")
	}
	r.stats.Barriers++
	return nil
}

// EndRecord finishes the command buffer and describes its submission.
func (r *Recorder) EndRecord(wait []core1_0.Semaphore, signal []core1_0.Semaphore, fence core1_0.Fence) (gpu.Submission, error) {
	if err := r.expect(stateRecording, "end record"); err != nil {
		return gpu.Submission{}, err
	}
	if err := r.dev.EndCommandBuffer(r.buffer); err != nil {
		return gpu.Submission{}, errors.Wrap(err, "end command buffer")
	}
	r.state = stateEnded

	stages := make([]core1_0.PipelineStageFlags, len(wait))
	for i := range stages {
		stages[i] = core1_0.PipelineStageColorAttachmentOutput
	}
	return gpu.Submission{
		CommandBuffer:    r.buffer,
		WaitSemaphores:   wait,
		WaitStages:       stages,
		SignalSemaphores: signal,
		Fence:            fence,
	}, nil
}
