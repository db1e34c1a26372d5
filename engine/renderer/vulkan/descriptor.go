package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

func createSetLayout(context *VulkanContext, layout frame.DescriptorLayout) (vk.DescriptorSetLayout, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, len(layout.Bindings))
	for i, b := range layout.Bindings {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vkDescriptorType(b.Type),
			DescriptorCount: 1,
			StageFlags:      vkShaderStage(b.Stage),
		}
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var dsl vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &layoutInfo, context.Allocator, &dsl); res != vk.Success {
		return vk.NullDescriptorSetLayout, resultError("vkCreateDescriptorSetLayout "+layout.Name, res)
	}
	return dsl, nil
}

// poolSizes reserves one descriptor per binding per set.
func poolSizes(layout frame.DescriptorLayout, maxSets uint32) []vk.DescriptorPoolSize {
	counts := make(map[frame.DescriptorType]uint32)
	order := make([]frame.DescriptorType, 0, len(layout.Bindings))
	for _, b := range layout.Bindings {
		if counts[b.Type] == 0 {
			order = append(order, b.Type)
		}
		counts[b.Type] += maxSets
	}
	sizes := make([]vk.DescriptorPoolSize, 0, len(order))
	for _, t := range order {
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            vkDescriptorType(t),
			DescriptorCount: counts[t],
		})
	}
	return sizes
}

type VulkanDescriptorPool struct {
	context   *VulkanContext
	id        frame.ResourceID
	layout    frame.DescriptorLayout
	sampler   vk.Sampler
	Handle    vk.DescriptorPool
	SetLayout vk.DescriptorSetLayout
}

func (b *Backend) CreateDescriptorPool(layout frame.DescriptorLayout, maxSets uint32) (frame.DescriptorPool, error) {
	if maxSets == 0 || len(layout.Bindings) == 0 {
		return nil, core.BackendError("create descriptor pool "+layout.Name, fmt.Errorf("empty pool"))
	}
	setLayout, err := createSetLayout(b.context, layout)
	if err != nil {
		return nil, err
	}
	sizes := poolSizes(layout, maxSets)
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var dp vk.DescriptorPool
	if res := vk.CreateDescriptorPool(b.context.Device.LogicalDevice, &poolInfo, b.context.Allocator, &dp); res != vk.Success {
		vk.DestroyDescriptorSetLayout(b.context.Device.LogicalDevice, setLayout, b.context.Allocator)
		return nil, resultError("vkCreateDescriptorPool "+layout.Name, res)
	}
	return &VulkanDescriptorPool{
		context:   b.context,
		id:        b.context.newID(),
		layout:    layout,
		sampler:   b.sampler,
		Handle:    dp,
		SetLayout: setLayout,
	}, nil
}

func (p *VulkanDescriptorPool) ID() frame.ResourceID {
	return p.id
}

func (p *VulkanDescriptorPool) Allocate() (frame.DescriptorSet, error) {
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.Handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{p.SetLayout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(p.context.Device.LogicalDevice, &allocInfo, &(sets[0])); res != vk.Success {
		return nil, resultError("vkAllocateDescriptorSets "+p.layout.Name, res)
	}
	return &VulkanDescriptorSet{pool: p, id: p.context.newID(), Handle: sets[0]}, nil
}

// Destroy frees every set allocated from the pool along with its layout.
func (p *VulkanDescriptorPool) Destroy() {
	device := p.context.Device.LogicalDevice
	if p.Handle != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(device, p.Handle, p.context.Allocator)
		p.Handle = vk.NullDescriptorPool
	}
	if p.SetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(device, p.SetLayout, p.context.Allocator)
		p.SetLayout = vk.NullDescriptorSetLayout
	}
}

type VulkanDescriptorSet struct {
	pool   *VulkanDescriptorPool
	id     frame.ResourceID
	Handle vk.DescriptorSet
}

func (s *VulkanDescriptorSet) ID() frame.ResourceID {
	return s.id
}

func (s *VulkanDescriptorSet) Destroy() {
	if s.Handle == vk.NullDescriptorSet || s.pool.Handle == vk.NullDescriptorPool {
		return
	}
	vk.FreeDescriptorSets(s.pool.context.Device.LogicalDevice, s.pool.Handle, 1, &s.Handle)
	s.Handle = vk.NullDescriptorSet
}

func (s *VulkanDescriptorSet) hasBinding(w frame.DescriptorWrite) bool {
	for _, b := range s.pool.layout.Bindings {
		if b.Binding == w.Binding && b.Type == w.Type {
			return true
		}
	}
	return false
}

// Update writes every binding in one vkUpdateDescriptorSets call. Images are
// expected in the GENERAL layout.
func (s *VulkanDescriptorSet) Update(writes []frame.DescriptorWrite) error {
	op := "update descriptor set " + s.pool.layout.Name
	out := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		if !s.hasBinding(w) {
			return core.BackendError(op, fmt.Errorf("binding %d of type %d not in layout", w.Binding, w.Type))
		}
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          s.Handle,
			DstBinding:      w.Binding,
			DstArrayElement: 0,
			DescriptorCount: 1,
			DescriptorType:  vkDescriptorType(w.Type),
		}
		switch w.Type {
		case frame.DescriptorCombinedImageSampler, frame.DescriptorStorageImage:
			img, ok := w.Image.(*VulkanImage)
			if !ok {
				return core.BackendError(op, fmt.Errorf("binding %d needs an image, got %T", w.Binding, w.Image))
			}
			info := vk.DescriptorImageInfo{
				ImageView:   img.View,
				ImageLayout: vk.ImageLayoutGeneral,
			}
			if w.Type == frame.DescriptorCombinedImageSampler {
				info.Sampler = s.pool.sampler
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		case frame.DescriptorUniformBuffer, frame.DescriptorStorageBuffer:
			buf, ok := w.Buffer.(*VulkanBuffer)
			if !ok {
				return core.BackendError(op, fmt.Errorf("binding %d needs a buffer, got %T", w.Binding, w.Buffer))
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.Handle,
				Offset: 0,
				Range:  vk.DeviceSize(buf.size),
			}}
		}
		out = append(out, write)
	}
	if len(out) == 0 {
		return nil
	}
	vk.UpdateDescriptorSets(s.pool.context.Device.LogicalDevice, uint32(len(out)), out, 0, nil)
	return nil
}

// createSampler builds the sampler shared by every combined image sampler binding.
func createSampler(context *VulkanContext) (vk.Sampler, error) {
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		MipLodBias:              0.0,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1.0,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  0.0,
		MaxLod:                  0.0,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	var sampler vk.Sampler
	if res := vk.CreateSampler(context.Device.LogicalDevice, &samplerInfo, context.Allocator, &sampler); res != vk.Success {
		return vk.NullSampler, resultError("vkCreateSampler", res)
	}
	return sampler, nil
}
