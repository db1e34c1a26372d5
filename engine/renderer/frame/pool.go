package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/raypath/engine/core"
)

var ErrFenceBusy = errors.New("fence already has a pending submission")

type PoolConfig struct {
	FramesInFlight int
	OutputExtent   Extent
	// ComputeQueue is the queue compute command buffers are allocated from.
	ComputeQueue QueueKind
	// Sizes is a representative snapshot. Each slot's buffers are sized to hold it.
	Sizes        SceneSnapshot
	FenceTimeout time.Duration
}

// FramePool rotates through a fixed set of FrameResourceSets and remembers which fence
// last guarded each swapchain image.
type FramePool struct {
	device  Device
	timeout time.Duration

	slots       []*FrameResourceSet
	current     int
	imageFences []*TrackedFence
}

func NewFramePool(dev Device, cfg PoolConfig, samplePool, computePool DescriptorPool) (*FramePool, error) {
	if cfg.FramesInFlight < 1 {
		return nil, fmt.Errorf("frames in flight must be at least 1, got %d", cfg.FramesInFlight)
	}
	p := &FramePool{
		device:  dev,
		timeout: cfg.FenceTimeout,
		slots:   make([]*FrameResourceSet, 0, cfg.FramesInFlight),
	}
	sc := slotConfig{
		outputExtent: cfg.OutputExtent,
		computeQueue: cfg.ComputeQueue,
		sizes:        cfg.Sizes,
	}
	for i := 0; i < cfg.FramesInFlight; i++ {
		frs, err := newFrameResourceSet(dev, i, sc, samplePool, computePool)
		if err != nil {
			p.Destroy()
			return nil, fmt.Errorf("frame slot %d: %w", i, err)
		}
		p.slots = append(p.slots, frs)
	}
	core.LogDebug("frame pool created with %d slots (compute on %s queue)", len(p.slots), cfg.ComputeQueue)
	return p, nil
}

// AcquireNext blocks until the GPU is done with the slot at the cursor, resets its
// fences and hands it back. The cursor stays put until Advance.
func (p *FramePool) AcquireNext() (*FrameResourceSet, error) {
	slot := p.slots[p.current]
	for _, tf := range []*TrackedFence{slot.CompletionFence, slot.RenderFence} {
		if err := p.wait(tf); err != nil {
			return nil, err
		}
	}
	for _, tf := range []*TrackedFence{slot.CompletionFence, slot.RenderFence} {
		if tf.state != fenceSignaled {
			continue
		}
		if err := p.device.ResetFence(tf.Fence); err != nil {
			return nil, core.BackendError("reset fence", err)
		}
		tf.state = fenceIdle
	}
	return slot, nil
}

// RegisterImageUse records that fence guards the swapchain image from now on.
func (p *FramePool) RegisterImageUse(imageIndex uint32, fence *TrackedFence) {
	p.imageFences[imageIndex] = fence
}

// WaitForImage blocks on whatever fence last guarded the image and clears the record.
func (p *FramePool) WaitForImage(imageIndex uint32) error {
	if int(imageIndex) >= len(p.imageFences) {
		return fmt.Errorf("%w: image index %d out of range (%d images)", core.ErrBackendFatal, imageIndex, len(p.imageFences))
	}
	tf := p.imageFences[imageIndex]
	if tf != nil {
		if err := p.wait(tf); err != nil {
			return err
		}
	}
	p.imageFences[imageIndex] = nil
	return nil
}

// Submit hands the submission to the device with the tracked fence attached.
func (p *FramePool) Submit(queue QueueKind, s Submission, fence *TrackedFence) error {
	if fence.state != fenceIdle {
		return fmt.Errorf("%w: %w", core.ErrBackendFatal, ErrFenceBusy)
	}
	s.Fence = fence.Fence
	if err := p.device.Submit(queue, s); err != nil {
		return core.BackendError("submit to "+queue.String()+" queue", err)
	}
	fence.state = fenceInFlight
	return nil
}

func (p *FramePool) wait(tf *TrackedFence) error {
	if tf.state != fenceInFlight {
		return nil
	}
	if err := p.device.WaitForFence(tf.Fence, p.timeout); err != nil {
		return core.BackendError("wait for fence", err)
	}
	tf.state = fenceSignaled
	return nil
}

func (p *FramePool) Advance() {
	p.current = (p.current + 1) % len(p.slots)
}

// TrackImages sizes the image record to the swapchain image count. Records for images
// that still exist are kept.
func (p *FramePool) TrackImages(count int) {
	if count == len(p.imageFences) {
		return
	}
	fences := make([]*TrackedFence, count)
	copy(fences, p.imageFences)
	p.imageFences = fences
}

func (p *FramePool) Current() int {
	return p.current
}

func (p *FramePool) Len() int {
	return len(p.slots)
}

func (p *FramePool) Slot(i int) *FrameResourceSet {
	return p.slots[i]
}

// ImageGuard returns the fence recorded for the image, or nil.
func (p *FramePool) ImageGuard(imageIndex uint32) *TrackedFence {
	if int(imageIndex) >= len(p.imageFences) {
		return nil
	}
	return p.imageFences[imageIndex]
}

// Destroy releases all slots. The device must be idle.
func (p *FramePool) Destroy() {
	for i := len(p.slots) - 1; i >= 0; i-- {
		p.slots[i].Destroy()
	}
	p.slots = nil
	p.imageFences = nil
}
