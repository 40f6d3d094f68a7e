package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type renderPassKey struct {
	format vk.Format
	load   gpu.LoadAction
}

// renderPass returns the single subpass color pass for format, creating it on
// first use. Passes differing only in load op are compatible, so framebuffers
// and pipelines built against one can be used with all of them. The cache
// outlives swapchains; a resize keeps pipelines valid.
func (d *Device) renderPass(format vk.Format, load gpu.LoadAction) (vk.RenderPass, error) {
	var out vk.RenderPass
	err := d.locks.SafeCall(RenderpassManagement, func() error {
		key := renderPassKey{format: format, load: load}
		if rp, ok := d.renderPasses[key]; ok {
			out = rp
			return nil
		}

		loadOp := vk.AttachmentLoadOpDontCare
		switch load {
		case gpu.LoadActionLoad:
			loadOp = vk.AttachmentLoadOpLoad
		case gpu.LoadActionClear:
			loadOp = vk.AttachmentLoadOpClear
		}

		// Layout transitions are recorded explicitly with ResourceBarrier, so the
		// pass starts and ends in the attachment layout.
		colorAttachment := vk.AttachmentDescription{
			Format:         format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		}
		colorAttachmentReference := []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}}
		subpass := vk.SubpassDescription{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			ColorAttachmentCount: 1,
			PColorAttachments:    colorAttachmentReference,
		}
		dependency := vk.SubpassDependency{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		}

		renderpassCreateInfo := vk.RenderPassCreateInfo{
			SType:           vk.StructureTypeRenderPassCreateInfo,
			AttachmentCount: 1,
			PAttachments:    []vk.AttachmentDescription{colorAttachment},
			SubpassCount:    1,
			PSubpasses:      []vk.SubpassDescription{subpass},
			DependencyCount: 1,
			PDependencies:   []vk.SubpassDependency{dependency},
		}

		var pRenderPass vk.RenderPass
		if res := vk.CreateRenderPass(d.logical, &renderpassCreateInfo, d.allocator, &pRenderPass); res != vk.Success {
			return resultError(res, "vkCreateRenderPass")
		}
		d.renderPasses[key] = pRenderPass
		out = pRenderPass
		return nil
	})
	return out, err
}
