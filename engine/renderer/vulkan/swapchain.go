package vulkan

import (
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
	rmath "github.com/spaghettifunk/raypath/engine/math"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

type VulkanSwapchain struct {
	Handle     vk.Swapchain
	Extent     vk.Extent2D
	ImageCount uint32
	Images     []vk.Image
}

// chooseSurfaceFormat prefers BGRA8 UNORM in the sRGB nonlinear color space.
func chooseSurfaceFormat(formats []vk.SurfaceFormat) (vk.SurfaceFormat, error) {
	if len(formats) == 0 {
		return vk.SurfaceFormat{}, fmt.Errorf("surface reports no formats")
	}
	for _, format := range formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format, nil
		}
	}
	return formats[0], nil
}

// choosePresentMode takes mailbox when offered. FIFO is always available.
func choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, mode := range modes {
		if mode == vk.PresentModeMailbox {
			return mode
		}
	}
	return vk.PresentModeFifo
}

// swapchainExtent honors the surface's current extent unless it lets the
// application decide, then clamps to what the surface allows.
func swapchainExtent(requested frame.Extent, caps vk.SurfaceCapabilities) vk.Extent2D {
	extent := vk.Extent2D{Width: requested.Width, Height: requested.Height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = rmath.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = rmath.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	return extent
}

func swapchainImageCount(caps vk.SurfaceCapabilities) uint32 {
	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}
	return imageCount
}

// CreateSwapchain replaces the current swapchain. The previous handle is passed as
// the old swapchain and destroyed afterwards; its views belong to the caller.
func (b *Backend) CreateSwapchain(requested frame.Extent) (frame.SurfaceImages, error) {
	ctx := b.context
	support, err := querySwapchainSupport(ctx.Device.PhysicalDevice, ctx.Surface)
	if err != nil {
		return frame.SurfaceImages{}, err
	}
	extent := swapchainExtent(requested, support.Capabilities)
	if extent.Width == 0 || extent.Height == 0 {
		return frame.SurfaceImages{}, core.ErrDegenerateSurface
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          ctx.Surface,
		MinImageCount:    swapchainImageCount(support.Capabilities),
		ImageFormat:      ctx.SurfaceFormat.Format,
		ImageColorSpace:  ctx.SurfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      ctx.PresentMode,
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}

	// Setup the queue family indices
	if ctx.Device.GraphicsQueueIndex != ctx.Device.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{ctx.Device.GraphicsQueueIndex, ctx.Device.PresentQueueIndex}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	old := b.swapchain
	if old != nil {
		swapchainCreateInfo.OldSwapchain = old.Handle
	}

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(ctx.Device.LogicalDevice, &swapchainCreateInfo, ctx.Allocator, &handle); res != vk.Success {
		return frame.SurfaceImages{}, resultError("vkCreateSwapchainKHR", res)
	}
	if old != nil {
		vk.DestroySwapchain(ctx.Device.LogicalDevice, old.Handle, ctx.Allocator)
		b.swapchain = nil
	}
	swapchain := &VulkanSwapchain{Handle: handle, Extent: extent}

	// Images
	if res := vk.GetSwapchainImages(ctx.Device.LogicalDevice, handle, &swapchain.ImageCount, nil); res != vk.Success {
		vk.DestroySwapchain(ctx.Device.LogicalDevice, handle, ctx.Allocator)
		return frame.SurfaceImages{}, resultError("vkGetSwapchainImagesKHR", res)
	}
	swapchain.Images = make([]vk.Image, swapchain.ImageCount)
	if res := vk.GetSwapchainImages(ctx.Device.LogicalDevice, handle, &swapchain.ImageCount, swapchain.Images); res != vk.Success {
		vk.DestroySwapchain(ctx.Device.LogicalDevice, handle, ctx.Allocator)
		return frame.SurfaceImages{}, resultError("vkGetSwapchainImagesKHR", res)
	}

	// Views
	views := make([]frame.ImageView, 0, swapchain.ImageCount)
	for i := 0; i < int(swapchain.ImageCount); i++ {
		view, err := createImageView(ctx, swapchain.Images[i], ctx.SurfaceFormat.Format)
		if err != nil {
			for _, v := range views {
				v.Destroy()
			}
			vk.DestroySwapchain(ctx.Device.LogicalDevice, handle, ctx.Allocator)
			return frame.SurfaceImages{}, err
		}
		views = append(views, &VulkanImageView{context: ctx, id: ctx.newID(), Handle: view})
	}
	b.swapchain = swapchain

	core.LogInfo("swapchain created: %dx%d with %d images", extent.Width, extent.Height, swapchain.ImageCount)
	return frame.SurfaceImages{
		Extent: frame.Extent{Width: extent.Width, Height: extent.Height},
		Format: frameFormat(ctx.SurfaceFormat.Format),
		Views:  views,
	}, nil
}

// DestroySwapchain releases the handle. The images go with it.
func (b *Backend) DestroySwapchain() {
	if b.swapchain == nil {
		return
	}
	vk.DestroySwapchain(b.context.Device.LogicalDevice, b.swapchain.Handle, b.context.Allocator)
	b.swapchain = nil
}

func (b *Backend) AcquireNextImage(timeout time.Duration, signal frame.Semaphore) (uint32, frame.Status, error) {
	if b.swapchain == nil {
		return 0, frame.StatusFatal, fmt.Errorf("acquire without a swapchain")
	}
	sem, ok := signal.(*VulkanSemaphore)
	if !ok {
		return 0, frame.StatusFatal, fmt.Errorf("foreign semaphore %T", signal)
	}
	var imageIndex uint32
	result := vk.AcquireNextImage(b.context.Device.LogicalDevice, b.swapchain.Handle, uint64(timeout.Nanoseconds()), sem.Handle, vk.NullFence, &imageIndex)
	switch result {
	case vk.Success, vk.Suboptimal:
		return imageIndex, frame.StatusOk, nil
	case vk.ErrorOutOfDate:
		return 0, frame.StatusStale, nil
	case vk.Timeout, vk.NotReady:
		return 0, frame.StatusFatal, fmt.Errorf("%w: no presentable image after %s", core.ErrDeviceTimeout, timeout)
	default:
		return 0, frame.StatusFatal, resultError("vkAcquireNextImageKHR", result)
	}
}

// Present queues imageIndex for display once wait signals. Suboptimal counts as stale
// here so that the surface is rebuilt on the next tick.
func (b *Backend) Present(imageIndex uint32, wait frame.Semaphore) (frame.Status, error) {
	if b.swapchain == nil {
		return frame.StatusFatal, fmt.Errorf("present without a swapchain")
	}
	sem, ok := wait.(*VulkanSemaphore)
	if !ok {
		return frame.StatusFatal, fmt.Errorf("foreign semaphore %T", wait)
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sem.Handle},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{b.swapchain.Handle},
		PImageIndices:      []uint32{imageIndex},
	}

	var result vk.Result
	_ = b.locks.SafeQueueCall(b.context.Device.PresentQueueIndex, func() error {
		result = vk.QueuePresent(b.context.Device.PresentQueue, &presentInfo)
		return nil
	})
	switch result {
	case vk.Success:
		return frame.StatusOk, nil
	case vk.Suboptimal, vk.ErrorOutOfDate:
		return frame.StatusStale, nil
	default:
		return frame.StatusFatal, resultError("vkQueuePresentKHR", result)
	}
}
