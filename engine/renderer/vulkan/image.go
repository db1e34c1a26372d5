package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

const bytesPerTexel = 4

type VulkanImage struct {
	context *VulkanContext
	id      frame.ResourceID
	name    string

	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView

	extent      frame.Extent
	hostVisible bool
	linear      bool
}

// CreateImage creates a 2D color image with its view and leaves it in the GENERAL
// layout, which both storage writes and sampling use.
func (b *Backend) CreateImage(desc frame.ImageDesc) (frame.Image, error) {
	if desc.Extent.Degenerate() {
		return nil, core.BackendError("create image "+desc.Name, fmt.Errorf("zero extent"))
	}
	ctx := b.context
	format := vkFormat(desc.Format)
	tiling := vk.ImageTilingOptimal
	if desc.Tiling == frame.TilingLinear {
		tiling = vk.ImageTilingLinear
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        tiling,
		Usage:         vkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	// The output image is written on the compute family and sampled on the graphics one.
	if ctx.Device.DedicatedCompute {
		imageCreateInfo.SharingMode = vk.SharingModeConcurrent
		imageCreateInfo.QueueFamilyIndexCount = 2
		imageCreateInfo.PQueueFamilyIndices = []uint32{ctx.Device.GraphicsQueueIndex, ctx.Device.ComputeQueueIndex}
	}

	img := &VulkanImage{
		context:     ctx,
		id:          ctx.newID(),
		name:        desc.Name,
		extent:      desc.Extent,
		hostVisible: desc.HostVisible,
		linear:      tiling == vk.ImageTilingLinear,
	}
	if res := vk.CreateImage(ctx.Device.LogicalDevice, &imageCreateInfo, ctx.Allocator, &img.Handle); res != vk.Success {
		return nil, resultError("vkCreateImage "+desc.Name, res)
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(ctx.Device.LogicalDevice, img.Handle, &requirements)
	requirements.Deref()

	memory, err := ctx.allocate(requirements, memoryProperties(desc.HostVisible))
	if err != nil {
		img.Destroy()
		return nil, core.BackendError("allocate image "+desc.Name, err)
	}
	img.Memory = memory
	if res := vk.BindImageMemory(ctx.Device.LogicalDevice, img.Handle, img.Memory, 0); res != vk.Success {
		img.Destroy()
		return nil, resultError("vkBindImageMemory "+desc.Name, res)
	}

	if img.View, err = createImageView(ctx, img.Handle, format); err != nil {
		img.Destroy()
		return nil, core.BackendError("create view for "+desc.Name, err)
	}

	if err := b.transitionToGeneral(img.Handle); err != nil {
		img.Destroy()
		return nil, err
	}
	core.LogDebug("image `%s` created (%dx%d, id %d)", desc.Name, desc.Extent.Width, desc.Extent.Height, img.id)
	return img, nil
}

func createImageView(ctx *VulkanContext, image vk.Image, format vk.Format) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(ctx.Device.LogicalDevice, &viewInfo, ctx.Allocator, &view); res != vk.Success {
		return vk.NullImageView, resultError("vkCreateImageView", res)
	}
	return view, nil
}

func (b *Backend) transitionToGeneral(image vk.Image) error {
	cb, err := b.beginSingleUse()
	if err != nil {
		return err
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       0,
		DstAccessMask:       vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
		OldLayout:           vk.ImageLayoutUndefined,
		NewLayout:           vk.ImageLayoutGeneral,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(
		cb.Handle,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0,
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{barrier},
	)
	return b.endSingleUse(cb)
}

func (vi *VulkanImage) ID() frame.ResourceID {
	return vi.id
}

func (vi *VulkanImage) Extent() frame.Extent {
	return vi.extent
}

// Write copies tightly packed RGBA texels row by row, honoring the driver's row pitch.
func (vi *VulkanImage) Write(pixels []byte) error {
	if !vi.hostVisible || !vi.linear {
		return fmt.Errorf("image `%s` is not host visible and linear", vi.name)
	}
	rowSize := int(vi.extent.Width) * bytesPerTexel
	if len(pixels) != rowSize*int(vi.extent.Height) {
		return fmt.Errorf("image `%s` expects %d bytes, got %d", vi.name, rowSize*int(vi.extent.Height), len(pixels))
	}

	device := vi.context.Device.LogicalDevice
	subresource := vk.ImageSubresource{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit)}
	var layout vk.SubresourceLayout
	vk.GetImageSubresourceLayout(device, vi.Handle, &subresource, &layout)
	layout.Deref()

	mapSize := uint64(layout.Offset) + uint64(layout.RowPitch)*uint64(vi.extent.Height-1) + uint64(rowSize)
	var pData unsafe.Pointer
	if res := vk.MapMemory(device, vi.Memory, 0, vk.DeviceSize(mapSize), 0, &pData); res != vk.Success {
		return resultError("vkMapMemory "+vi.name, res)
	}
	defer vk.UnmapMemory(device, vi.Memory)

	for y := 0; y < int(vi.extent.Height); y++ {
		dst := unsafe.Add(pData, uint64(layout.Offset)+uint64(y)*uint64(layout.RowPitch))
		vk.Memcopy(dst, pixels[y*rowSize:(y+1)*rowSize])
	}
	return nil
}

func (vi *VulkanImage) Destroy() {
	device := vi.context.Device.LogicalDevice
	if vi.View != vk.NullImageView {
		vk.DestroyImageView(device, vi.View, vi.context.Allocator)
		vi.View = vk.NullImageView
	}
	if vi.Handle != vk.NullImage {
		vk.DestroyImage(device, vi.Handle, vi.context.Allocator)
		vi.Handle = vk.NullImage
	}
	if vi.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, vi.Memory, vi.context.Allocator)
		vi.Memory = vk.NullDeviceMemory
	}
}

// VulkanImageView is a view of a swapchain image. The image itself belongs to the
// swapchain.
type VulkanImageView struct {
	context *VulkanContext
	id      frame.ResourceID
	Handle  vk.ImageView
}

func (v *VulkanImageView) ID() frame.ResourceID {
	return v.id
}

func (v *VulkanImageView) Destroy() {
	if v.Handle != vk.NullImageView {
		vk.DestroyImageView(v.context.Device.LogicalDevice, v.Handle, v.context.Allocator)
		v.Handle = vk.NullImageView
	}
}
