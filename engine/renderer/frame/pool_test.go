package frame

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/raypath/engine/core"
)

func newTestPool(t *testing.T, dev *fakeDevice, n int) *FramePool {
	t.Helper()
	samples, err := dev.CreateDescriptorPool(SamplingLayout, uint32(n))
	require.NoError(t, err)
	computes, err := dev.CreateDescriptorPool(ComputeLayout, uint32(n))
	require.NoError(t, err)
	pool, err := NewFramePool(dev, PoolConfig{
		FramesInFlight: n,
		OutputExtent:   Extent{Width: 64, Height: 64},
		ComputeQueue:   QueueGraphics,
		Sizes:          (&fakeScene{}).Snapshot(),
		FenceTimeout:   time.Minute,
	}, samples, computes)
	require.NoError(t, err)
	return pool
}

func submitSlot(t *testing.T, pool *FramePool, slot *FrameResourceSet) {
	t.Helper()
	require.NoError(t, slot.ComputeCommands.Begin())
	require.NoError(t, slot.ComputeCommands.End())
	require.NoError(t, pool.Submit(QueueGraphics, Submission{Commands: slot.ComputeCommands}, slot.CompletionFence))
}

func TestAcquireNextSkipsFencesWithoutSubmissions(t *testing.T) {
	dev := newFakeDevice()
	pool := newTestPool(t, dev, 2)

	slot, err := pool.AcquireNext()
	require.NoError(t, err)
	assert.Equal(t, 0, slot.Index)
	for _, e := range dev.log {
		assert.NotContains(t, e, "wait:")
	}
}

func TestAcquireNextWaitsAndResets(t *testing.T) {
	dev := newFakeDevice()
	pool := newTestPool(t, dev, 1)

	slot, err := pool.AcquireNext()
	require.NoError(t, err)
	submitSlot(t, pool, slot)
	assert.True(t, slot.CompletionFence.InFlight())

	again, err := pool.AcquireNext()
	require.NoError(t, err)
	assert.Same(t, slot, again)
	assert.False(t, slot.CompletionFence.InFlight())

	id := slot.CompletionFence.Fence.ID()
	wait := dev.indexOf(fmt.Sprintf("wait:%d", id))
	reset := dev.indexOf(fmt.Sprintf("reset:%d", id))
	require.NotEqual(t, -1, wait)
	assert.Less(t, wait, reset)
	assert.Equal(t, time.Minute, dev.lastTimeout)

	// a second acquire without a submission does not wait again
	_, err = pool.AcquireNext()
	require.NoError(t, err)
	assert.Empty(t, dev.violations)
}

func TestCursorMovesOnlyOnAdvance(t *testing.T) {
	dev := newFakeDevice()
	pool := newTestPool(t, dev, 3)

	a, _ := pool.AcquireNext()
	b, _ := pool.AcquireNext()
	assert.Same(t, a, b)

	var order []int
	for i := 0; i < 6; i++ {
		order = append(order, pool.Current())
		pool.Advance()
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, order)
}

func TestSubmitRejectsBusyFence(t *testing.T) {
	dev := newFakeDevice()
	pool := newTestPool(t, dev, 1)
	slot, _ := pool.AcquireNext()
	submitSlot(t, pool, slot)

	err := pool.Submit(QueueGraphics, Submission{Commands: slot.ComputeCommands}, slot.CompletionFence)
	assert.ErrorIs(t, err, ErrFenceBusy)
	assert.ErrorIs(t, err, core.ErrBackendFatal)
	assert.Len(t, dev.submits, 1)
}

func TestWaitForImage(t *testing.T) {
	dev := newFakeDevice()
	pool := newTestPool(t, dev, 2)
	pool.TrackImages(3)

	// nothing recorded
	require.NoError(t, pool.WaitForImage(1))

	slot, _ := pool.AcquireNext()
	submitSlot(t, pool, slot)
	pool.RegisterImageUse(1, slot.CompletionFence)
	assert.Same(t, slot.CompletionFence, pool.ImageGuard(1))

	require.NoError(t, pool.WaitForImage(1))
	assert.Nil(t, pool.ImageGuard(1))
	assert.Equal(t, 1, slot.CompletionFence.Fence.(*fakeFence).waits)

	err := pool.WaitForImage(7)
	assert.ErrorIs(t, err, core.ErrBackendFatal)
	assert.Empty(t, dev.violations)
}

func TestWaitForImageTimeoutIsDeviceTimeout(t *testing.T) {
	dev := newFakeDevice()
	pool := newTestPool(t, dev, 1)
	pool.TrackImages(2)
	slot, _ := pool.AcquireNext()
	submitSlot(t, pool, slot)
	pool.RegisterImageUse(0, slot.CompletionFence)
	dev.hang[slot.CompletionFence.Fence.ID()] = true

	err := pool.WaitForImage(0)
	assert.ErrorIs(t, err, core.ErrDeviceTimeout)
	assert.True(t, core.IsFatal(err))
}

func TestTrackImagesKeepsExistingRecords(t *testing.T) {
	dev := newFakeDevice()
	pool := newTestPool(t, dev, 1)
	pool.TrackImages(2)
	slot := pool.Slot(0)
	pool.RegisterImageUse(1, slot.RenderFence)

	pool.TrackImages(2)
	assert.Same(t, slot.RenderFence, pool.ImageGuard(1))
	pool.TrackImages(4)
	assert.Same(t, slot.RenderFence, pool.ImageGuard(1))
	assert.Nil(t, pool.ImageGuard(3))
	pool.TrackImages(1)
	assert.Nil(t, pool.ImageGuard(1))
}

func TestNewFramePoolFailureReleasesSlots(t *testing.T) {
	dev := newFakeDevice()
	samples, _ := dev.CreateDescriptorPool(SamplingLayout, 2)
	computes, _ := dev.CreateDescriptorPool(ComputeLayout, 1)

	// the second slot cannot get a compute set
	_, err := NewFramePool(dev, PoolConfig{
		FramesInFlight: 2,
		OutputExtent:   Extent{Width: 8, Height: 8},
		Sizes:          (&fakeScene{}).Snapshot(),
		FenceTimeout:   time.Second,
	}, samples, computes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame slot 1")

	kinds := dev.liveKinds()
	assert.Zero(t, kinds["buffer"])
	assert.Zero(t, kinds["image"])
	assert.Zero(t, kinds["fence"])
	assert.Zero(t, kinds["semaphore"])
	assert.Zero(t, kinds["commands"])
	assert.Empty(t, dev.violations)
}

func TestNewFramePoolRejectsZeroSlots(t *testing.T) {
	dev := newFakeDevice()
	_, err := NewFramePool(dev, PoolConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestFramePoolPropagatesDeviceErrors(t *testing.T) {
	dev := newFakeDevice()
	pool := newTestPool(t, dev, 1)
	slot, _ := pool.AcquireNext()
	require.NoError(t, slot.ComputeCommands.Begin())
	require.NoError(t, slot.ComputeCommands.End())

	dev.failOn["Submit"] = errors.New("queue lost")
	err := pool.Submit(QueueGraphics, Submission{Commands: slot.ComputeCommands}, slot.CompletionFence)
	assert.ErrorIs(t, err, core.ErrBackendFatal)
	assert.False(t, slot.CompletionFence.InFlight())
}
