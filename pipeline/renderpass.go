// Package pipeline builds the render pass and graphics pipeline bound to a
// swapchain's image format and layer count.
package pipeline

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_1"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/renderloop/gpu"
)

// Key identifies everything a render pass and pipeline are specialized on.
// Surface extent is deliberately absent: viewport and scissor are dynamic.
type Key struct {
	Format      core1_0.Format
	DepthFormat core1_0.Format
	Layers      int
	// Presentable selects a present-src final layout; XR runtimes take their
	// images back in color-attachment layout.
	Presentable bool
}

// ViewMask enables one view per layer: 0b1 for flat, 0b11 for stereo.
func (k Key) ViewMask() uint32 {
	return uint32(1)<<uint(k.Layers) - 1
}

// CheckTarget fails when the key does not match the chain it would render into.
func CheckTarget(key Key, format core1_0.Format, layers int) error {
	if key.Format != format {
		return gpu.Fatalf("render pass format %s does not match swapchain format %s", key.Format, format)
	}
	if key.Layers != layers {
		return gpu.Fatalf("render pass expects %d layers, swapchain has %d", key.Layers, layers)
	}
	return nil
}

func RenderPassInfo(key Key) (core1_0.RenderPassCreateInfo, error) {
	if key.Layers != 1 && key.Layers != 2 {
		return core1_0.RenderPassCreateInfo{}, gpu.Fatalf("unsupported layer count %d", key.Layers)
	}

	finalLayout := core1_0.ImageLayoutColorAttachmentOptimal
	if key.Presentable {
		finalLayout = khr_swapchain.ImageLayoutPresentSrc
	}

	info := core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         key.Format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    finalLayout,
			},
			{
				Format:         key.DepthFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpDontCare,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: 1,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass:    core1_0.SubpassExternal,
				DstSubpass:    0,
				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,
				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	}

	if key.Layers == 2 {
		// Both eyes render in one pass; correlating them lets the driver share work.
		info.Next = core1_1.RenderPassMultiviewCreateInfo{
			ViewMasks:        []uint32{key.ViewMask()},
			CorrelationMasks: []uint32{key.ViewMask()},
		}
	}

	return info, nil
}
