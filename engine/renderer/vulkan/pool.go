package vulkan

import (
	"maps"
	"slices"
	"sync"
)

// VulkanLockPool serializes access to queues. vkQueueSubmit and vkQueuePresentKHR
// require external synchronization per queue, and queue families may be shared between
// graphics, compute and present.
type VulkanLockPool struct {
	mu           sync.Mutex
	queueMutexes map[uint32]*sync.Mutex // Queue family index as key
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) queueLock(index uint32) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	l, ok := vs.queueMutexes[index]
	if !ok {
		l = &sync.Mutex{}
		vs.queueMutexes[index] = l
	}
	return l
}

func (vs *VulkanLockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	l := vs.queueLock(queueFamilyIndex)
	l.Lock()
	defer l.Unlock()

	return fn()
}

// SafeDeviceCall holds every known queue lock, in family order, while fn runs.
func (vs *VulkanLockPool) SafeDeviceCall(fn func() error) error {
	vs.mu.Lock()
	held := make([]*sync.Mutex, 0, len(vs.queueMutexes))
	for _, index := range slices.Sorted(maps.Keys(vs.queueMutexes)) {
		held = append(held, vs.queueMutexes[index])
	}
	vs.mu.Unlock()

	for _, l := range held {
		l.Lock()
	}
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}()
	return fn()
}
