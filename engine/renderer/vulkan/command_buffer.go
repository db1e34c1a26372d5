package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	context *VulkanContext
	id      frame.ResourceID
	pool    vk.CommandPool
	queue   frame.QueueKind

	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	// Set by the last BindPipeline, used by BindDescriptorSet.
	bindPoint vk.PipelineBindPoint
	layout    vk.PipelineLayout

	// First recording error; the recording methods cannot return one, so End does.
	err error
}

func allocateCommandBuffer(context *VulkanContext, pool vk.CommandPool) (vk.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		return nil, resultError("vkAllocateCommandBuffers", res)
	}
	return handles[0], nil
}

func (b *Backend) AllocateCommandBuffer(queue frame.QueueKind) (frame.CommandBuffer, error) {
	pool := b.commandPool(queue)
	handle, err := allocateCommandBuffer(b.context, pool)
	if err != nil {
		return nil, err
	}
	return &VulkanCommandBuffer{
		context: b.context,
		id:      b.context.newID(),
		pool:    pool,
		queue:   queue,
		Handle:  handle,
		State:   COMMAND_BUFFER_STATE_READY,
	}, nil
}

func (v *VulkanCommandBuffer) ID() frame.ResourceID {
	return v.id
}

func (v *VulkanCommandBuffer) Destroy() {
	if v.Handle == nil {
		return
	}
	vk.FreeCommandBuffers(v.context.Device.LogicalDevice, v.pool, 1, []vk.CommandBuffer{v.Handle})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) fail(err error) {
	if v.err == nil {
		v.err = err
	}
}

// Begin resets the buffer and starts a one-time-submit recording.
func (v *VulkanCommandBuffer) Begin() error {
	if res := vk.ResetCommandBuffer(v.Handle, 0); res != vk.Success {
		return resultError("vkResetCommandBuffer", res)
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(v.Handle, &beginInfo); res != vk.Success {
		return resultError("vkBeginCommandBuffer", res)
	}
	v.err = nil
	v.layout = vk.NullPipelineLayout
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail(errors.New("command buffer ended inside a render pass"))
	}
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		v.fail(resultError("vkEndCommandBuffer", res))
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	if v.err != nil {
		return core.BackendError("record command buffer", v.err)
	}
	return nil
}

func (v *VulkanCommandBuffer) BindPipeline(p frame.Pipeline) {
	pipeline, ok := p.(*VulkanPipeline)
	if !ok {
		v.fail(fmt.Errorf("foreign pipeline %T", p))
		return
	}
	v.bindPoint = pipeline.bindPoint
	v.layout = pipeline.PipelineLayout
	vk.CmdBindPipeline(v.Handle, pipeline.bindPoint, pipeline.Handle)
}

func (v *VulkanCommandBuffer) BindDescriptorSet(s frame.DescriptorSet) {
	set, ok := s.(*VulkanDescriptorSet)
	if !ok {
		v.fail(fmt.Errorf("foreign descriptor set %T", s))
		return
	}
	if v.layout == vk.NullPipelineLayout {
		v.fail(errors.New("descriptor set bound before any pipeline"))
		return
	}
	vk.CmdBindDescriptorSets(v.Handle, v.bindPoint, v.layout, 0, 1, []vk.DescriptorSet{set.Handle}, 0, nil)
}

func (v *VulkanCommandBuffer) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(v.Handle, x, y, z)
}

func (v *VulkanCommandBuffer) PipelineBarrier(img frame.Image, b frame.ImageBarrier) {
	image, ok := img.(*VulkanImage)
	if !ok {
		v.fail(fmt.Errorf("foreign image %T", img))
		return
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vkAccess(b.SrcAccess),
		DstAccessMask:       vkAccess(b.DstAccess),
		OldLayout:           vkImageLayout(b.OldLayout),
		NewLayout:           vkImageLayout(b.NewLayout),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(
		v.Handle,
		vkPipelineStage(b.SrcStage), vkPipelineStage(b.DstStage),
		0,
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{barrier},
	)
}

func (v *VulkanCommandBuffer) BeginRenderPass(target frame.Framebuffer, clear frame.Color) {
	fb, ok := target.(*VulkanFramebuffer)
	if !ok {
		v.fail(fmt.Errorf("foreign framebuffer %T", target))
		return
	}
	fb.Renderpass.Begin(v, fb, clear)
}

func (v *VulkanCommandBuffer) SetViewport(r frame.Rect) {
	viewport := vk.Viewport{
		X:        float32(r.X),
		Y:        float32(r.Y),
		Width:    float32(r.Width),
		Height:   float32(r.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{viewport})
}

func (v *VulkanCommandBuffer) SetScissor(r frame.Rect) {
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{scissor})
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(v.Handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

// Submit hands s to the queue family behind queue. The family lock is held for the call.
func (b *Backend) Submit(queue frame.QueueKind, s frame.Submission) error {
	cb, ok := s.Commands.(*VulkanCommandBuffer)
	if !ok {
		return core.BackendError("submit", fmt.Errorf("foreign command buffer %T", s.Commands))
	}
	if cb.queue != queue {
		return core.BackendError("submit", fmt.Errorf("command buffer allocated for the %s queue submitted to %s", cb.queue, queue))
	}
	wait, err := semaphoreHandles(s.Wait)
	if err != nil {
		return core.BackendError("submit", err)
	}
	signal, err := semaphoreHandles(s.Signal)
	if err != nil {
		return core.BackendError("submit", err)
	}
	fence := vk.NullFence
	if s.Fence != nil {
		vf, ok := s.Fence.(*VulkanFence)
		if !ok {
			return core.BackendError("submit", fmt.Errorf("foreign fence %T", s.Fence))
		}
		fence = vf.Handle
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cb.Handle},
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}
	if len(wait) > 0 {
		stages := make([]vk.PipelineStageFlags, len(wait))
		for i := range stages {
			stages[i] = vkPipelineStage(s.WaitStage)
		}
		submitInfo.PWaitDstStageMask = stages
	}

	family, handle := b.queue(queue)
	return b.locks.SafeQueueCall(family, func() error {
		return resultError("vkQueueSubmit", vk.QueueSubmit(handle, 1, []vk.SubmitInfo{submitInfo}, fence))
	})
}

// beginSingleUse starts a one-time command buffer on the graphics queue.
func (b *Backend) beginSingleUse() (*VulkanCommandBuffer, error) {
	cmd, err := b.AllocateCommandBuffer(frame.QueueGraphics)
	if err != nil {
		return nil, err
	}
	cb := cmd.(*VulkanCommandBuffer)
	if err := cb.Begin(); err != nil {
		cb.Destroy()
		return nil, err
	}
	return cb, nil
}

// endSingleUse submits, waits for the graphics queue to drain and frees the buffer.
func (b *Backend) endSingleUse(cb *VulkanCommandBuffer) error {
	defer cb.Destroy()
	if err := cb.End(); err != nil {
		return err
	}
	if err := b.Submit(frame.QueueGraphics, frame.Submission{Commands: cb}); err != nil {
		return err
	}
	family, handle := b.queue(frame.QueueGraphics)
	return b.locks.SafeQueueCall(family, func() error {
		return resultError("vkQueueWaitIdle", vk.QueueWaitIdle(handle))
	})
}
