package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

// VulkanPipeline holds a Vulkan pipeline and its layout.
type VulkanPipeline struct {
	device         *Device
	name           string
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
}

func (p *VulkanPipeline) Name() string {
	return p.name
}

func (p *VulkanPipeline) Destroy() {
	if p.Handle != vk.NullPipeline {
		vk.DestroyPipeline(p.device.logical, p.Handle, p.device.allocator)
		p.Handle = vk.NullPipeline
	}
	if p.PipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(p.device.logical, p.PipelineLayout, p.device.allocator)
		p.PipelineLayout = vk.NullPipelineLayout
	}
}

// sliceUint32 reinterprets SPIR-V bytes as words.
func sliceUint32(data []byte) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

func (d *Device) createShaderModule(code []byte) (vk.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return vk.NullShaderModule, fmt.Errorf("%w: SPIR-V of %d bytes", core.ErrConfiguration, len(code))
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    sliceUint32(code),
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(d.logical, &createInfo, d.allocator, &module); res != vk.Success {
		return vk.NullShaderModule, resultError(res, "vkCreateShaderModule")
	}
	return module, nil
}

// CreatePipeline builds a graphics pipeline with no vertex input that draws
// into the swapchain's color format. Viewport and scissor are dynamic.
func (d *Device) CreatePipeline(desc *gpu.PipelineDesc) (gpu.Pipeline, error) {
	sc, ok := desc.Swapchain.(*VulkanSwapchain)
	if !ok || sc == nil || sc.Handle == vk.NullSwapchain {
		return nil, fmt.Errorf("%w: pipeline %q needs a live swapchain", core.ErrDeviceError, desc.Name)
	}
	rp, err := d.renderPass(sc.vkFormat, gpu.LoadActionClear)
	if err != nil {
		return nil, err
	}

	vert, err := d.createShaderModule(desc.VertexShader)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q vertex shader: %w", desc.Name, err)
	}
	defer vk.DestroyShaderModule(d.logical, vert, d.allocator)
	frag, err := d.createShaderModule(desc.FragmentShader)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q fragment shader: %w", desc.Name, err)
	}
	defer vk.DestroyShaderModule(d.logical, frag, d.allocator)

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vert,
			PName:  VulkanSafeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: frag,
			PName:  VulkanSafeString("main"),
		},
	}

	out := &VulkanPipeline{device: d, name: desc.Name}
	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType: vk.StructureTypePipelineLayoutCreateInfo,
	}
	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(d.logical, &layoutInfo, d.allocator, &layout); res != vk.Success {
		return nil, resultError(res, "vkCreatePipelineLayout")
	}
	out.PipelineLayout = layout

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1.0,
	}
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}
	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}
	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicState,
		Layout:              out.PipelineLayout,
		RenderPass:          rp,
		Subpass:             0,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateGraphicsPipelines(d.logical, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, d.allocator, pipelines); res != vk.Success {
		out.Destroy()
		return nil, resultError(res, "vkCreateGraphicsPipelines")
	}
	out.Handle = pipelines[0]
	core.LogDebug("Graphics pipeline %q created.", desc.Name)
	return out, nil
}
