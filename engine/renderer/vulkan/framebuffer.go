package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

type VulkanFramebuffer struct {
	context    *VulkanContext
	id         frame.ResourceID
	Handle     vk.Framebuffer
	Renderpass *VulkanRenderpass
	extent     frame.Extent
}

// CreateFramebuffer wraps a swapchain view for the presentation render pass.
func (b *Backend) CreateFramebuffer(view frame.ImageView, extent frame.Extent) (frame.Framebuffer, error) {
	vv, ok := view.(*VulkanImageView)
	if !ok {
		return nil, core.BackendError("create framebuffer", fmt.Errorf("foreign image view %T", view))
	}
	if extent.Degenerate() {
		return nil, core.BackendError("create framebuffer", fmt.Errorf("zero extent"))
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      b.renderpass.Handle,
		AttachmentCount: 1,
		PAttachments:    []vk.ImageView{vv.Handle},
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}

	var pFramebuffer vk.Framebuffer
	if res := vk.CreateFramebuffer(b.context.Device.LogicalDevice, &framebufferCreateInfo, b.context.Allocator, &pFramebuffer); res != vk.Success {
		return nil, resultError("vkCreateFramebuffer", res)
	}
	return &VulkanFramebuffer{
		context:    b.context,
		id:         b.context.newID(),
		Handle:     pFramebuffer,
		Renderpass: b.renderpass,
		extent:     extent,
	}, nil
}

func (vfb *VulkanFramebuffer) ID() frame.ResourceID {
	return vfb.id
}

func (vfb *VulkanFramebuffer) Extent() frame.Extent {
	return vfb.extent
}

func (vfb *VulkanFramebuffer) Destroy() {
	if vfb.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(vfb.context.Device.LogicalDevice, vfb.Handle, vfb.context.Allocator)
		vfb.Handle = vk.NullFramebuffer
	}
	vfb.Renderpass = nil
}
