package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

type VulkanFence struct {
	context *VulkanContext
	id      frame.ResourceID
	Handle  vk.Fence
}

// CreateFence returns an unsignaled fence. The frame pool never waits on a fence that
// has not been submitted.
func (b *Backend) CreateFence() (frame.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var handle vk.Fence
	if res := vk.CreateFence(b.context.Device.LogicalDevice, &fenceCreateInfo, b.context.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateFence", res)
	}
	return &VulkanFence{context: b.context, id: b.context.newID(), Handle: handle}, nil
}

func (vf *VulkanFence) ID() frame.ResourceID {
	return vf.id
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(vf.context.Device.LogicalDevice, vf.Handle, vf.context.Allocator)
		vf.Handle = vk.NullFence
	}
}

func (b *Backend) WaitForFence(f frame.Fence, timeout time.Duration) error {
	vf, ok := f.(*VulkanFence)
	if !ok {
		return core.BackendError("wait for fence", fmt.Errorf("foreign fence %T", f))
	}
	result := vk.WaitForFences(b.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch result {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
		return fmt.Errorf("%w: fence %d not signaled after %s", core.ErrDeviceTimeout, vf.id, timeout)
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	default:
		core.LogError("vk_fence_wait - %s", VulkanResultString(result, true))
	}
	return resultError("vkWaitForFences", result)
}

func (b *Backend) ResetFence(f frame.Fence) error {
	vf, ok := f.(*VulkanFence)
	if !ok {
		return core.BackendError("reset fence", fmt.Errorf("foreign fence %T", f))
	}
	return resultError("vkResetFences", vk.ResetFences(b.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}))
}

type VulkanSemaphore struct {
	context *VulkanContext
	id      frame.ResourceID
	Handle  vk.Semaphore
}

func (b *Backend) CreateSemaphore() (frame.Semaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var handle vk.Semaphore
	if res := vk.CreateSemaphore(b.context.Device.LogicalDevice, &semaphoreCreateInfo, b.context.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateSemaphore", res)
	}
	return &VulkanSemaphore{context: b.context, id: b.context.newID(), Handle: handle}, nil
}

func (vs *VulkanSemaphore) ID() frame.ResourceID {
	return vs.id
}

func (vs *VulkanSemaphore) Destroy() {
	if vs.Handle != vk.NullSemaphore {
		vk.DestroySemaphore(vs.context.Device.LogicalDevice, vs.Handle, vs.context.Allocator)
		vs.Handle = vk.NullSemaphore
	}
}

func semaphoreHandles(sems []frame.Semaphore) ([]vk.Semaphore, error) {
	out := make([]vk.Semaphore, 0, len(sems))
	for _, s := range sems {
		vs, ok := s.(*VulkanSemaphore)
		if !ok {
			return nil, fmt.Errorf("foreign semaphore %T", s)
		}
		out = append(out, vs.Handle)
	}
	return out, nil
}
