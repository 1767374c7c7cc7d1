package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/mesh"
)

type Device interface {
	CreateRenderPass(info core1_0.RenderPassCreateInfo) (core1_0.RenderPass, error)
	DestroyRenderPass(renderPass core1_0.RenderPass)
	CreatePipelineLayout(info core1_0.PipelineLayoutCreateInfo) (core1_0.PipelineLayout, error)
	DestroyPipelineLayout(layout core1_0.PipelineLayout)
	CreateShaderModule(code []byte) (core1_0.ShaderModule, error)
	DestroyShaderModule(module core1_0.ShaderModule)
	CreateGraphicsPipeline(info core1_0.GraphicsPipelineCreateInfo) (core1_0.Pipeline, error)
	DestroyPipeline(pipeline core1_0.Pipeline)
}

// Shaders holds SPIR-V bytecode for both stages.
type Shaders struct {
	Vertex   []byte
	Fragment []byte
}

// Pass is a render pass plus the one graphics pipeline drawn inside it.
type Pass struct {
	Name string
	Key  Key

	RenderPass core1_0.RenderPass
	Layout     core1_0.PipelineLayout
	Pipeline   core1_0.Pipeline

	PushConstantBytes int

	dev     Device
	release *gpu.ReleaseStack
}

// Build creates the render pass, pipeline layout and pipeline for key. Every
// failure is fatal and releases whatever was already created.
func Build(d *diag.Context, dev Device, name string, key Key, sets []SetBinding, shaders Shaders) (*Pass, error) {
	renderPassInfo, err := RenderPassInfo(key)
	if err != nil {
		return nil, err
	}

	var release gpu.ReleaseStack
	fail := func(err error, msg string) (*Pass, error) {
		release.Release()
		return nil, gpu.MarkFatal(err, msg)
	}

	renderPass, err := dev.CreateRenderPass(renderPassInfo)
	if err != nil {
		return fail(err, "create render pass")
	}
	release.Push(func() { dev.DestroyRenderPass(renderPass) })

	layoutInfo := LayoutInfo(sets)
	layout, err := dev.CreatePipelineLayout(layoutInfo)
	if err != nil {
		return fail(err, "create pipeline layout")
	}
	release.Push(func() { dev.DestroyPipelineLayout(layout) })

	if len(shaders.Vertex) == 0 || len(shaders.Fragment) == 0 {
		return fail(errors.New("missing shader bytecode"), "load shaders")
	}

	// Modules are only needed while the pipeline is created
	vertShader, err := dev.CreateShaderModule(shaders.Vertex)
	if err != nil {
		return fail(err, "create vertex shader module")
	}
	defer dev.DestroyShaderModule(vertShader)

	fragShader, err := dev.CreateShaderModule(shaders.Fragment)
	if err != nil {
		return fail(err, "create fragment shader module")
	}
	defer dev.DestroyShaderModule(fragShader)

	pipeline, err := dev.CreateGraphicsPipeline(GraphicsPipelineInfo(vertShader, fragShader, layout, renderPass))
	if err != nil {
		return fail(err, "create graphics pipeline")
	}
	release.Push(func() { dev.DestroyPipeline(pipeline) })

	pushBytes := 0
	if len(layoutInfo.PushConstantRanges) > 0 {
		pushBytes = layoutInfo.PushConstantRanges[0].Size
	}

	d.Debug("pipeline built", "pass", name, "format", key.Format, "layers", key.Layers, "viewMask", key.ViewMask())
	return &Pass{
		Name:              name,
		Key:               key,
		RenderPass:        renderPass,
		Layout:            layout,
		Pipeline:          pipeline,
		PushConstantBytes: pushBytes,
		dev:               dev,
		release:           release.Take(),
	}, nil
}

func GraphicsPipelineInfo(vertShader, fragShader core1_0.ShaderModule, layout core1_0.PipelineLayout, renderPass core1_0.RenderPass) core1_0.GraphicsPipelineCreateInfo {
	return core1_0.GraphicsPipelineCreateInfo{
		Stages: []core1_0.PipelineShaderStageCreateInfo{
			{
				Stage:  core1_0.StageVertex,
				Module: vertShader,
				Name:   "main",
			},
			{
				Stage:  core1_0.StageFragment,
				Module: fragShader,
				Name:   "main",
			},
		},
		VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
			VertexBindingDescriptions:   mesh.BindingDescriptions(),
			VertexAttributeDescriptions: mesh.AttributeDescriptions(),
		},
		InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
			Topology:               core1_0.PrimitiveTopologyTriangleList,
			PrimitiveRestartEnable: false,
		},
		// Real values are set per pass at record time
		ViewportState: &core1_0.PipelineViewportStateCreateInfo{
			Viewports: []core1_0.Viewport{{}},
			Scissors:  []core1_0.Rect2D{{}},
		},
		RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
			DepthClampEnable:        false,
			RasterizerDiscardEnable: false,

			PolygonMode: core1_0.PolygonModeFill,
			CullMode:    core1_0.CullModeBack,
			FrontFace:   core1_0.FrontFaceCounterClockwise,

			DepthBiasEnable: false,

			LineWidth: 1.0,
		},
		MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
			SampleShadingEnable:  false,
			RasterizationSamples: core1_0.Samples1,
			MinSampleShading:     1.0,
		},
		DepthStencilState: &core1_0.PipelineDepthStencilStateCreateInfo{
			DepthTestEnable:  true,
			DepthWriteEnable: true,
			DepthCompareOp:   core1_0.CompareOpLess,
		},
		ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
			LogicOpEnabled: false,
			LogicOp:        core1_0.LogicOpCopy,

			BlendConstants: [4]float32{0, 0, 0, 0},
			Attachments: []core1_0.PipelineColorBlendAttachmentState{
				{
					BlendEnabled:   false,
					ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
				},
			},
		},
		DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
			DynamicStates: []core1_0.DynamicState{
				core1_0.DynamicStateViewport,
				core1_0.DynamicStateScissor,
			},
		},
		Layout:            layout,
		RenderPass:        renderPass,
		Subpass:           0,
		BasePipelineIndex: -1,
	}
}

// Compatible reports whether the pass can render into a chain with this format
// and layer count.
func (p *Pass) Compatible(format core1_0.Format, layers int) bool {
	return CheckTarget(p.Key, format, layers) == nil
}

func (p *Pass) Destroy() {
	if p.release != nil {
		p.release.Release()
		p.release = nil
	}
}
