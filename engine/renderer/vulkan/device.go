package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
)

const portabilitySubsetExtension = "VK_KHR_portability_subset"

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device
	Name           string

	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32
	// Equal to GraphicsQueueIndex when no compute-only family exists.
	ComputeQueueIndex uint32
	DedicatedCompute  bool

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	ComputeQueue  vk.Queue

	GraphicsCommandPool vk.CommandPool
	ComputeCommandPool  vk.CommandPool
}

// VulkanSwapchainSupportInfo is what the surface allows for a given physical device.
type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

type queueFamilyInfo struct {
	graphics         uint32
	present          uint32
	compute          uint32
	dedicatedCompute bool
}

// pickQueueFamilies prefers a graphics family that can also present. The compute
// family is the first one with compute and without graphics, if any.
func pickQueueFamilies(families []vk.QueueFlags, presentSupport []bool) (queueFamilyInfo, bool) {
	graphics, graphicsPresent, present, compute := -1, -1, -1, -1
	for i, flags := range families {
		isGraphics := flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		isCompute := flags&vk.QueueFlags(vk.QueueComputeBit) != 0
		canPresent := i < len(presentSupport) && presentSupport[i]

		if isGraphics && graphics < 0 {
			graphics = i
		}
		if isGraphics && canPresent && graphicsPresent < 0 {
			graphicsPresent = i
		}
		if canPresent && present < 0 {
			present = i
		}
		if isCompute && !isGraphics && compute < 0 {
			compute = i
		}
	}
	if graphicsPresent >= 0 {
		graphics, present = graphicsPresent, graphicsPresent
	}
	if graphics < 0 || present < 0 {
		return queueFamilyInfo{}, false
	}

	info := queueFamilyInfo{
		graphics: uint32(graphics),
		present:  uint32(present),
		compute:  uint32(graphics),
	}
	if compute >= 0 {
		info.compute = uint32(compute)
		info.dedicatedCompute = true
	}
	return info, true
}

// uniqueFamilies lists each family once, graphics first.
func (q queueFamilyInfo) uniqueFamilies() []uint32 {
	out := []uint32{q.graphics}
	for _, idx := range []uint32{q.present, q.compute} {
		seen := false
		for _, o := range out {
			if o == idx {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, idx)
		}
	}
	return out
}

func deviceExtensions(device vk.PhysicalDevice) ([]string, error) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success {
		return nil, resultError("vkEnumerateDeviceExtensionProperties", res)
	}
	props := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, props); res != vk.Success {
			return nil, resultError("vkEnumerateDeviceExtensionProperties", res)
		}
	}
	names := make([]string, 0, count)
	for i := range props {
		props[i].Deref()
		names = append(names, vk.ToString(props[i].ExtensionName[:]))
	}
	return names, nil
}

func hasExtension(available []string, name string) bool {
	for _, n := range available {
		if n == name {
			return true
		}
	}
	return false
}

func querySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface) (*VulkanSwapchainSupportInfo, error) {
	info := &VulkanSwapchainSupportInfo{}
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &info.Capabilities); res != vk.Success {
		return nil, resultError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", res)
	}
	info.Capabilities.Deref()
	info.Capabilities.CurrentExtent.Deref()
	info.Capabilities.MinImageExtent.Deref()
	info.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil); res != vk.Success {
		return nil, resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
	}
	if formatCount > 0 {
		info.Formats = make([]vk.SurfaceFormat, formatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, info.Formats); res != vk.Success {
			return nil, resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
		}
		for i := range info.Formats {
			info.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil); res != vk.Success {
		return nil, resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
	}
	if modeCount > 0 {
		info.PresentModes = make([]vk.PresentMode, modeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, info.PresentModes); res != vk.Success {
			return nil, resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
		}
	}
	return info, nil
}

type deviceCandidate struct {
	handle     vk.PhysicalDevice
	name       string
	discrete   bool
	queues     queueFamilyInfo
	extensions []string
}

func inspectPhysicalDevice(device vk.PhysicalDevice, surface vk.Surface) (*deviceCandidate, error) {
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(device, &properties)
	properties.Deref()
	name := vk.ToString(properties.DeviceName[:])

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, families)

	flags := make([]vk.QueueFlags, familyCount)
	present := make([]bool, familyCount)
	for i := range families {
		families[i].Deref()
		flags[i] = families[i].QueueFlags

		var supportsPresent vk.Bool32 = vk.False
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return nil, resultError("vkGetPhysicalDeviceSurfaceSupportKHR", res)
		}
		present[i] = supportsPresent == vk.True
	}

	queues, ok := pickQueueFamilies(flags, present)
	if !ok {
		return nil, fmt.Errorf("device '%s' has no graphics family able to present", name)
	}

	extensions, err := deviceExtensions(device)
	if err != nil {
		return nil, err
	}
	if !hasExtension(extensions, vk.KhrSwapchainExtensionName) {
		return nil, fmt.Errorf("device '%s' lacks %s", name, vk.KhrSwapchainExtensionName)
	}

	support, err := querySwapchainSupport(device, surface)
	if err != nil {
		return nil, err
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return nil, fmt.Errorf("device '%s' has no swapchain support for this surface", name)
	}

	return &deviceCandidate{
		handle:     device,
		name:       name,
		discrete:   properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu,
		queues:     queues,
		extensions: extensions,
	}, nil
}

// selectPhysicalDevice picks the first suitable device, preferring discrete GPUs.
func selectPhysicalDevice(context *VulkanContext) (*deviceCandidate, error) {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &count, nil); res != vk.Success {
		return nil, resultError("vkEnumeratePhysicalDevices", res)
	}
	if count == 0 {
		return nil, errors.New("no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &count, devices); res != vk.Success {
		return nil, resultError("vkEnumeratePhysicalDevices", res)
	}

	var chosen *deviceCandidate
	var rejected []error
	for _, d := range devices {
		candidate, err := inspectPhysicalDevice(d, context.Surface)
		if err != nil {
			core.LogInfo("Skipping device: %s", err)
			rejected = append(rejected, err)
			continue
		}
		if chosen == nil || (candidate.discrete && !chosen.discrete) {
			chosen = candidate
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("no physical device meets the requirements: %w", errors.Join(rejected...))
	}
	return chosen, nil
}

func createCommandPool(context *VulkanContext, family uint32) (vk.CommandPool, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		return vk.NullCommandPool, resultError("vkCreateCommandPool", res)
	}
	return pool, nil
}

// DeviceCreate selects a physical device and creates the logical device, its queues and
// command pools. The compute queue is resolved here, once.
func DeviceCreate(context *VulkanContext) error {
	candidate, err := selectPhysicalDevice(context)
	if err != nil {
		return err
	}
	core.LogInfo("Selected device: '%s' (discrete: %t).", candidate.name, candidate.discrete)

	families := candidate.queues.uniqueFamilies()
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, family := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if hasExtension(candidate.extensions, portabilitySubsetExtension) {
		core.LogInfo("Adding required extension '%s'.", portabilitySubsetExtension)
		extensionNames = append(extensionNames, portabilitySubsetExtension)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	device := &VulkanDevice{
		PhysicalDevice:     candidate.handle,
		Name:               candidate.name,
		GraphicsQueueIndex: candidate.queues.graphics,
		PresentQueueIndex:  candidate.queues.present,
		ComputeQueueIndex:  candidate.queues.compute,
		DedicatedCompute:   candidate.queues.dedicatedCompute,
	}
	if res := vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device.LogicalDevice); res != vk.Success {
		return resultError("vkCreateDevice", res)
	}
	context.Device = device
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(device.LogicalDevice, device.GraphicsQueueIndex, 0, &device.GraphicsQueue)
	vk.GetDeviceQueue(device.LogicalDevice, device.PresentQueueIndex, 0, &device.PresentQueue)
	vk.GetDeviceQueue(device.LogicalDevice, device.ComputeQueueIndex, 0, &device.ComputeQueue)
	core.LogDebug("Graphics Family Index: %d", device.GraphicsQueueIndex)
	core.LogDebug("Present Family Index:  %d", device.PresentQueueIndex)
	core.LogDebug("Compute Family Index:  %d (dedicated: %t)", device.ComputeQueueIndex, device.DedicatedCompute)

	if device.GraphicsCommandPool, err = createCommandPool(context, device.GraphicsQueueIndex); err != nil {
		DeviceDestroy(context)
		return err
	}
	device.ComputeCommandPool = device.GraphicsCommandPool
	if device.DedicatedCompute {
		if device.ComputeCommandPool, err = createCommandPool(context, device.ComputeQueueIndex); err != nil {
			DeviceDestroy(context)
			return err
		}
	}
	core.LogInfo("Command pools created.")
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	device := context.Device
	if device == nil {
		return
	}
	device.GraphicsQueue = nil
	device.PresentQueue = nil
	device.ComputeQueue = nil

	core.LogDebug("Destroying command pools...")
	if device.ComputeCommandPool != vk.NullCommandPool && device.ComputeCommandPool != device.GraphicsCommandPool {
		vk.DestroyCommandPool(device.LogicalDevice, device.ComputeCommandPool, context.Allocator)
	}
	if device.GraphicsCommandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(device.LogicalDevice, device.GraphicsCommandPool, context.Allocator)
	}
	device.GraphicsCommandPool = vk.NullCommandPool
	device.ComputeCommandPool = vk.NullCommandPool

	core.LogDebug("Destroying logical device...")
	if device.LogicalDevice != nil {
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	device.PhysicalDevice = nil
	context.Device = nil
}
