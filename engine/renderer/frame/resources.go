package frame

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/spaghettifunk/raypath/engine/core"
)

// SamplingLayout is read by the full-screen triangle's fragment shader.
var SamplingLayout = DescriptorLayout{
	Name: "sampling",
	Bindings: []LayoutBinding{
		{Binding: 0, Type: DescriptorCombinedImageSampler, Stage: StageFragment},
	},
}

// ComputeLayout is read and written by the ray tracing compute shader.
var ComputeLayout = DescriptorLayout{
	Name: "compute",
	Bindings: []LayoutBinding{
		{Binding: 0, Type: DescriptorStorageImage, Stage: StageCompute},
		{Binding: 1, Type: DescriptorUniformBuffer, Stage: StageCompute},
		{Binding: 2, Type: DescriptorUniformBuffer, Stage: StageCompute},
		{Binding: 3, Type: DescriptorUniformBuffer, Stage: StageCompute},
		{Binding: 4, Type: DescriptorStorageBuffer, Stage: StageCompute},
	},
}

type fenceState uint8

const (
	// unsignaled, nothing pending
	fenceIdle fenceState = iota
	// submitted, not yet observed complete
	fenceInFlight
	// observed complete, not yet reset
	fenceSignaled
)

// TrackedFence pairs a backend fence with what the host knows about it.
type TrackedFence struct {
	Fence Fence
	state fenceState
}

func (t *TrackedFence) InFlight() bool {
	return t.state == fenceInFlight
}

// FrameResourceSet is everything one frame in flight needs. Descriptor bindings are
// written once at creation and never change.
type FrameResourceSet struct {
	Index int

	OutputImage     Image
	CameraUniform   Buffer
	RandomUniform   Buffer
	SettingsUniform Buffer
	PrimitiveBuffer Buffer

	ComputeCommands CommandBuffer
	CompletionFence *TrackedFence

	SampleSet  DescriptorSet
	ComputeSet DescriptorSet

	GraphicsCommands CommandBuffer
	ImageAvailable   Semaphore
	RenderFinished   Semaphore
	RenderFence      *TrackedFence

	bindingDigest uint64
	owned         []Resource
}

type slotConfig struct {
	outputExtent Extent
	computeQueue QueueKind
	sizes        SceneSnapshot
}

func newFrameResourceSet(dev Device, index int, cfg slotConfig, samplePool, computePool DescriptorPool) (_ *FrameResourceSet, err error) {
	frs := &FrameResourceSet{Index: index}
	defer func() {
		if err != nil {
			frs.Destroy()
		}
	}()

	if frs.OutputImage, err = dev.CreateImage(ImageDesc{
		Name:   fmt.Sprintf("output-image-%d", index),
		Extent: cfg.outputExtent,
		Format: FormatRGBA8Unorm,
		Usage:  ImageUsageSampled | ImageUsageStorage,
		Tiling: TilingOptimal,
	}); err != nil {
		return nil, err
	}
	frs.own(frs.OutputImage)

	buffers := []struct {
		dst   *Buffer
		name  string
		size  int
		usage BufferUsage
	}{
		{&frs.CameraUniform, "camera", len(cfg.sizes.Camera), BufferUniform},
		{&frs.RandomUniform, "random", len(cfg.sizes.Random), BufferUniform},
		{&frs.SettingsUniform, "settings", len(cfg.sizes.Settings), BufferUniform},
		{&frs.PrimitiveBuffer, "primitives", len(cfg.sizes.Primitives), BufferStorage},
	}
	for _, b := range buffers {
		if b.size == 0 {
			return nil, fmt.Errorf("%s buffer would be empty", b.name)
		}
		buf, err := dev.CreateBuffer(BufferDesc{
			Name:        fmt.Sprintf("%s-%d", b.name, index),
			Size:        uint64(b.size),
			Usage:       b.usage,
			HostVisible: true,
		})
		if err != nil {
			return nil, err
		}
		*b.dst = buf
		frs.own(buf)
	}

	if frs.ComputeCommands, err = dev.AllocateCommandBuffer(cfg.computeQueue); err != nil {
		return nil, err
	}
	frs.own(frs.ComputeCommands)
	if frs.GraphicsCommands, err = dev.AllocateCommandBuffer(QueueGraphics); err != nil {
		return nil, err
	}
	frs.own(frs.GraphicsCommands)

	for _, f := range []**TrackedFence{&frs.CompletionFence, &frs.RenderFence} {
		fence, err := dev.CreateFence()
		if err != nil {
			return nil, err
		}
		*f = &TrackedFence{Fence: fence}
		frs.own(fence)
	}
	for _, s := range []*Semaphore{&frs.ImageAvailable, &frs.RenderFinished} {
		sem, err := dev.CreateSemaphore()
		if err != nil {
			return nil, err
		}
		*s = sem
		frs.own(sem)
	}

	// Sets are owned by their pools and released with them.
	if frs.SampleSet, err = samplePool.Allocate(); err != nil {
		return nil, err
	}
	if frs.ComputeSet, err = computePool.Allocate(); err != nil {
		return nil, err
	}
	if err = frs.SampleSet.Update(frs.sampleWrites()); err != nil {
		return nil, err
	}
	if err = frs.ComputeSet.Update(frs.computeWrites()); err != nil {
		return nil, err
	}
	frs.bindingDigest = frs.digest()
	return frs, nil
}

func (frs *FrameResourceSet) own(r Resource) {
	frs.owned = append(frs.owned, r)
}

func (frs *FrameResourceSet) sampleWrites() []DescriptorWrite {
	return []DescriptorWrite{
		{Binding: 0, Type: DescriptorCombinedImageSampler, Image: frs.OutputImage},
	}
}

func (frs *FrameResourceSet) computeWrites() []DescriptorWrite {
	return []DescriptorWrite{
		{Binding: 0, Type: DescriptorStorageImage, Image: frs.OutputImage},
		{Binding: 1, Type: DescriptorUniformBuffer, Buffer: frs.CameraUniform},
		{Binding: 2, Type: DescriptorUniformBuffer, Buffer: frs.RandomUniform},
		{Binding: 3, Type: DescriptorUniformBuffer, Buffer: frs.SettingsUniform},
		{Binding: 4, Type: DescriptorStorageBuffer, Buffer: frs.PrimitiveBuffer},
	}
}

func (frs *FrameResourceSet) digest() uint64 {
	h := fnv.New64a()
	var scratch [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		h.Write(scratch[:])
	}
	for _, group := range []struct {
		set    DescriptorSet
		writes []DescriptorWrite
	}{
		{frs.SampleSet, frs.sampleWrites()},
		{frs.ComputeSet, frs.computeWrites()},
	} {
		put(uint64(group.set.ID()))
		for _, w := range group.writes {
			put(uint64(w.Binding))
			put(uint64(w.Type))
			put(uint64(w.resourceID()))
		}
	}
	return h.Sum64()
}

// BindingDigest is the hash of the bound object identities taken at creation.
func (frs *FrameResourceSet) BindingDigest() uint64 {
	return frs.bindingDigest
}

// VerifyBindings reports whether the slot still binds the objects it was created with.
func (frs *FrameResourceSet) VerifyBindings() bool {
	return frs.digest() == frs.bindingDigest
}

// Upload copies a scene snapshot into the slot's buffers. The caller must hold the
// slot, i.e. its fences have been waited on.
func (frs *FrameResourceSet) Upload(snap SceneSnapshot) error {
	for _, u := range []struct {
		name string
		dst  Buffer
		data []byte
	}{
		{"camera", frs.CameraUniform, snap.Camera},
		{"random", frs.RandomUniform, snap.Random},
		{"settings", frs.SettingsUniform, snap.Settings},
		{"primitives", frs.PrimitiveBuffer, snap.Primitives},
	} {
		if uint64(len(u.data)) > u.dst.Size() {
			return fmt.Errorf("%w: %s data is %d bytes, buffer holds %d", core.ErrBackendFatal, u.name, len(u.data), u.dst.Size())
		}
		if err := u.dst.Write(u.data); err != nil {
			return core.BackendError("write "+u.name+" buffer", err)
		}
	}
	return nil
}

// Destroy releases every object the slot created, newest first.
func (frs *FrameResourceSet) Destroy() {
	for i := len(frs.owned) - 1; i >= 0; i-- {
		frs.owned[i].Destroy()
	}
	frs.owned = nil
}
