package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

/**
 * @brief Holds a Vulkan pipeline, its layout and the descriptor set layout behind set 0.
 */
type VulkanPipeline struct {
	context *VulkanContext
	id      frame.ResourceID
	name    string

	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
	/** @brief Layout of descriptor set 0. */
	SetLayout vk.DescriptorSetLayout

	bindPoint vk.PipelineBindPoint
}

func newPipelineLayout(context *VulkanContext, layout frame.DescriptorLayout) (*VulkanPipeline, error) {
	setLayout, err := createSetLayout(context, layout)
	if err != nil {
		return nil, err
	}
	out := &VulkanPipeline{
		context:   context,
		id:        context.newID(),
		SetLayout: setLayout,
	}
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{setLayout},
	}
	result := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutCreateInfo, context.Allocator, &out.PipelineLayout)
	if !VulkanResultIsSuccess(result) {
		out.Destroy()
		return nil, resultError("vkCreatePipelineLayout "+layout.Name, result)
	}
	return out, nil
}

// CreateComputePipeline builds a single-stage compute pipeline from a SPIR-V file.
func (b *Backend) CreateComputePipeline(desc frame.ComputePipelineDesc) (frame.Pipeline, error) {
	op := "create compute pipeline " + desc.Name
	stage, err := NewShaderModule(b.context, desc.Shader, vk.ShaderStageComputeBit)
	if err != nil {
		return nil, core.BackendError(op, err)
	}
	defer stage.Destroy(b.context)

	out, err := newPipelineLayout(b.context, desc.Layout)
	if err != nil {
		return nil, core.BackendError(op, err)
	}
	out.name = desc.Name
	out.bindPoint = vk.PipelineBindPointCompute

	pipelineCreateInfo := vk.ComputePipelineCreateInfo{
		SType:             vk.StructureTypeComputePipelineCreateInfo,
		Stage:             stage.ShaderStageCreateInfo,
		Layout:            out.PipelineLayout,
		BasePipelineIndex: -1,
	}
	pPipelines := make([]vk.Pipeline, 1)
	result := vk.CreateComputePipelines(
		b.context.Device.LogicalDevice,
		vk.NullPipelineCache,
		1,
		[]vk.ComputePipelineCreateInfo{pipelineCreateInfo},
		b.context.Allocator,
		pPipelines)
	if !VulkanResultIsSuccess(result) {
		out.Destroy()
		return nil, resultError(op, result)
	}
	out.Handle = pPipelines[0]

	core.LogDebug("compute pipeline `%s` created", desc.Name)
	return out, nil
}

// CreateGraphicsPipeline builds a pipeline for the presentation render pass. There is no
// vertex input: the vertex shader derives positions from the vertex index.
func (b *Backend) CreateGraphicsPipeline(desc frame.GraphicsPipelineDesc) (frame.Pipeline, error) {
	op := "create graphics pipeline " + desc.Name
	vert, err := NewShaderModule(b.context, desc.VertexShader, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, core.BackendError(op, err)
	}
	defer vert.Destroy(b.context)
	frag, err := NewShaderModule(b.context, desc.FragmentShader, vk.ShaderStageFragmentBit)
	if err != nil {
		return nil, core.BackendError(op, err)
	}
	defer frag.Destroy(b.context)

	out, err := newPipelineLayout(b.context, desc.Layout)
	if err != nil {
		return nil, core.BackendError(op, err)
	}
	out.name = desc.Name
	out.bindPoint = vk.PipelineBindPointGraphics

	// Viewport and scissor are dynamic, only the counts matter here.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	// Multisampling.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	stages := []vk.PipelineShaderStageCreateInfo{vert.ShaderStageCreateInfo, frag.ShaderStageCreateInfo}
	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              out.PipelineLayout,
		RenderPass:          b.renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	result := vk.CreateGraphicsPipelines(
		b.context.Device.LogicalDevice,
		vk.NullPipelineCache,
		1,
		[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
		b.context.Allocator,
		pPipelines)
	if !VulkanResultIsSuccess(result) {
		out.Destroy()
		return nil, resultError(op, result)
	}
	if pPipelines[0] == vk.NullPipeline {
		out.Destroy()
		return nil, core.BackendError(op, fmt.Errorf("vulkan pipeline handle is nil"))
	}
	out.Handle = pPipelines[0]

	core.LogDebug("graphics pipeline `%s` created", desc.Name)
	return out, nil
}

func (pipeline *VulkanPipeline) ID() frame.ResourceID {
	return pipeline.id
}

func (pipeline *VulkanPipeline) BindPoint() frame.BindPoint {
	if pipeline.bindPoint == vk.PipelineBindPointCompute {
		return frame.BindCompute
	}
	return frame.BindGraphics
}

func (pipeline *VulkanPipeline) Destroy() {
	device := pipeline.context.Device.LogicalDevice
	if pipeline.Handle != vk.NullPipeline {
		vk.DestroyPipeline(device, pipeline.Handle, pipeline.context.Allocator)
		pipeline.Handle = vk.NullPipeline
	}
	if pipeline.PipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(device, pipeline.PipelineLayout, pipeline.context.Allocator)
		pipeline.PipelineLayout = vk.NullPipelineLayout
	}
	if pipeline.SetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(device, pipeline.SetLayout, pipeline.context.Allocator)
		pipeline.SetLayout = vk.NullDescriptorSetLayout
	}
}
