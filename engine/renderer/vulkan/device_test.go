package vulkan

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

var (
	graphicsFamily = vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit)
	computeFamily  = vk.QueueFlags(vk.QueueComputeBit | vk.QueueTransferBit)
	transferFamily = vk.QueueFlags(vk.QueueTransferBit)
)

func TestPickQueueFamiliesSharedFamily(t *testing.T) {
	q, ok := pickQueueFamilies([]vk.QueueFlags{graphicsFamily}, []bool{true})
	require.True(t, ok)
	assert.Equal(t, uint32(0), q.graphics)
	assert.Equal(t, uint32(0), q.present)
	assert.Equal(t, uint32(0), q.compute)
	assert.False(t, q.dedicatedCompute)
	assert.Equal(t, []uint32{0}, q.uniqueFamilies())
}

func TestPickQueueFamiliesDedicatedCompute(t *testing.T) {
	q, ok := pickQueueFamilies(
		[]vk.QueueFlags{graphicsFamily, transferFamily, computeFamily},
		[]bool{true, false, false},
	)
	require.True(t, ok)
	assert.Equal(t, uint32(0), q.graphics)
	assert.Equal(t, uint32(2), q.compute)
	assert.True(t, q.dedicatedCompute)
	assert.Equal(t, []uint32{0, 2}, q.uniqueFamilies())
}

func TestPickQueueFamiliesPrefersGraphicsThatPresents(t *testing.T) {
	q, ok := pickQueueFamilies(
		[]vk.QueueFlags{graphicsFamily, graphicsFamily, transferFamily},
		[]bool{false, true, true},
	)
	require.True(t, ok)
	assert.Equal(t, uint32(1), q.graphics)
	assert.Equal(t, uint32(1), q.present)
}

func TestPickQueueFamiliesSeparatePresent(t *testing.T) {
	q, ok := pickQueueFamilies(
		[]vk.QueueFlags{graphicsFamily, transferFamily},
		[]bool{false, true},
	)
	require.True(t, ok)
	assert.Equal(t, uint32(0), q.graphics)
	assert.Equal(t, uint32(1), q.present)
	assert.Equal(t, []uint32{0, 1}, q.uniqueFamilies())
}

func TestPickQueueFamiliesRejectsIncompleteDevice(t *testing.T) {
	_, ok := pickQueueFamilies([]vk.QueueFlags{computeFamily}, []bool{true})
	assert.False(t, ok, "no graphics family")

	_, ok = pickQueueFamilies([]vk.QueueFlags{graphicsFamily}, []bool{false})
	assert.False(t, ok, "nothing can present")
}

func TestHasExtension(t *testing.T) {
	available := []string{"VK_KHR_swapchain", portabilitySubsetExtension}
	assert.True(t, hasExtension(available, "VK_KHR_swapchain"))
	assert.False(t, hasExtension(available, "VK_EXT_mesh_shader"))
}

func TestChooseSurfaceFormat(t *testing.T) {
	preferred := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	other := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}

	got, err := chooseSurfaceFormat([]vk.SurfaceFormat{other, preferred})
	require.NoError(t, err)
	assert.Equal(t, preferred, got)

	got, err = chooseSurfaceFormat([]vk.SurfaceFormat{other})
	require.NoError(t, err)
	assert.Equal(t, other, got)

	_, err = chooseSurfaceFormat(nil)
	assert.Error(t, err)
}

func TestChoosePresentMode(t *testing.T) {
	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode([]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode([]vk.PresentMode{vk.PresentModeImmediate}))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode(nil))
}

func TestSwapchainExtent(t *testing.T) {
	caps := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 1920, Height: 1080},
	}
	assert.Equal(t, vk.Extent2D{Width: 800, Height: 600}, swapchainExtent(frame.Extent{Width: 800, Height: 600}, caps))
	assert.Equal(t, vk.Extent2D{Width: 1920, Height: 1080}, swapchainExtent(frame.Extent{Width: 4000, Height: 3000}, caps))

	// The surface dictates the extent when it reports one.
	caps.CurrentExtent = vk.Extent2D{Width: 1280, Height: 720}
	assert.Equal(t, vk.Extent2D{Width: 1280, Height: 720}, swapchainExtent(frame.Extent{Width: 800, Height: 600}, caps))
}

func TestSwapchainImageCount(t *testing.T) {
	assert.Equal(t, uint32(3), swapchainImageCount(vk.SurfaceCapabilities{MinImageCount: 2}))
	assert.Equal(t, uint32(2), swapchainImageCount(vk.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 2}))
}

func TestLockPoolSerializesPerFamily(t *testing.T) {
	pool := NewVulkanLockPool()
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeQueueCall(0, func() error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestLockPoolDeviceCallHoldsEveryQueue(t *testing.T) {
	pool := NewVulkanLockPool()
	require.NoError(t, pool.SafeQueueCall(0, func() error { return nil }))
	require.NoError(t, pool.SafeQueueCall(2, func() error { return nil }))

	err := pool.SafeDeviceCall(func() error {
		for _, family := range []uint32{0, 2} {
			assert.False(t, pool.queueLock(family).TryLock(), "family %d must be held", family)
		}
		return nil
	})
	require.NoError(t, err)
	assert.True(t, pool.queueLock(0).TryLock())
	pool.queueLock(0).Unlock()
}
