package vulkan

import (
	vk "github.com/goki/vulkan"
)

type VulkanFramebuffer struct {
	Handle     vk.Framebuffer
	Attachment vk.ImageView
}

func (d *Device) createFramebuffer(renderpass vk.RenderPass, extent vk.Extent2D, view vk.ImageView) (*VulkanFramebuffer, error) {
	outFramebuffer := &VulkanFramebuffer{Attachment: view}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass,
		AttachmentCount: 1,
		PAttachments:    []vk.ImageView{view},
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}

	var pFramebuffer vk.Framebuffer
	if res := vk.CreateFramebuffer(d.logical, &framebufferCreateInfo, d.allocator, &pFramebuffer); res != vk.Success {
		return nil, resultError(res, "vkCreateFramebuffer")
	}
	outFramebuffer.Handle = pFramebuffer
	return outFramebuffer, nil
}

func (vfb *VulkanFramebuffer) destroy(d *Device) {
	if vfb.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(d.logical, vfb.Handle, d.allocator)
		vfb.Handle = vk.NullFramebuffer
	}
}
