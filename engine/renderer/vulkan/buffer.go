package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

type VulkanBuffer struct {
	context     *VulkanContext
	id          frame.ResourceID
	name        string
	Handle      vk.Buffer
	Memory      vk.DeviceMemory
	size        uint64
	hostVisible bool
}

func (b *Backend) CreateBuffer(desc frame.BufferDesc) (frame.Buffer, error) {
	if desc.Size == 0 {
		return nil, core.BackendError("create buffer "+desc.Name, fmt.Errorf("zero size"))
	}
	ctx := b.context
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       vkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(ctx.Device.LogicalDevice, &bufferInfo, ctx.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateBuffer "+desc.Name, res)
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.Device.LogicalDevice, handle, &requirements)
	requirements.Deref()

	memory, err := ctx.allocate(requirements, memoryProperties(desc.HostVisible))
	if err != nil {
		vk.DestroyBuffer(ctx.Device.LogicalDevice, handle, ctx.Allocator)
		return nil, core.BackendError("allocate buffer "+desc.Name, err)
	}
	if res := vk.BindBufferMemory(ctx.Device.LogicalDevice, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(ctx.Device.LogicalDevice, memory, ctx.Allocator)
		vk.DestroyBuffer(ctx.Device.LogicalDevice, handle, ctx.Allocator)
		return nil, resultError("vkBindBufferMemory "+desc.Name, res)
	}

	buf := &VulkanBuffer{
		context:     ctx,
		id:          ctx.newID(),
		name:        desc.Name,
		Handle:      handle,
		Memory:      memory,
		size:        desc.Size,
		hostVisible: desc.HostVisible,
	}
	core.LogDebug("buffer `%s` created (%d bytes, id %d)", desc.Name, desc.Size, buf.id)
	return buf, nil
}

func (vb *VulkanBuffer) ID() frame.ResourceID {
	return vb.id
}

func (vb *VulkanBuffer) Size() uint64 {
	return vb.size
}

// Write maps, copies and unmaps. The memory is host coherent, so no flush is needed.
func (vb *VulkanBuffer) Write(data []byte) error {
	if !vb.hostVisible {
		return fmt.Errorf("buffer `%s` is not host visible", vb.name)
	}
	if uint64(len(data)) > vb.size {
		return fmt.Errorf("buffer `%s` holds %d bytes, got %d", vb.name, vb.size, len(data))
	}
	if len(data) == 0 {
		return nil
	}
	var pData unsafe.Pointer
	if res := vk.MapMemory(vb.context.Device.LogicalDevice, vb.Memory, 0, vk.DeviceSize(len(data)), 0, &pData); res != vk.Success {
		return resultError("vkMapMemory "+vb.name, res)
	}
	vk.Memcopy(pData, data)
	vk.UnmapMemory(vb.context.Device.LogicalDevice, vb.Memory)
	return nil
}

func (vb *VulkanBuffer) Destroy() {
	device := vb.context.Device.LogicalDevice
	if vb.Handle != vk.NullBuffer {
		vk.DestroyBuffer(device, vb.Handle, vb.context.Allocator)
		vb.Handle = vk.NullBuffer
	}
	if vb.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, vb.Memory, vb.context.Allocator)
		vb.Memory = vk.NullDeviceMemory
	}
}
