package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

var (
	_ frame.Device       = (*Backend)(nil)
	_ frame.Presentation = (*Backend)(nil)
)

type Config struct {
	AppName string
	// Debug enables the validation layer and the debug report callback.
	Debug bool
}

// SurfaceSource is the window the backend presents to.
type SurfaceSource interface {
	RequiredInstanceExtensions() []string
	CreateWindowSurface(instance vk.Instance) (uintptr, error)
}

// Backend is the Vulkan implementation of frame.Device and frame.Presentation.
type Backend struct {
	cfg     Config
	surface SurfaceSource
	context *VulkanContext
	chain   *core.InitChain
	locks   *VulkanLockPool

	renderpass *VulkanRenderpass
	sampler    vk.Sampler
	swapchain  *VulkanSwapchain
}

func New(cfg Config, surface SurfaceSource) *Backend {
	return &Backend{
		cfg:     cfg,
		surface: surface,
		context: &VulkanContext{Allocator: nil},
		chain:   core.NewInitChain(),
		locks:   NewVulkanLockPool(),
	}
}

// Initialize brings up the instance, surface, device and the render targets shared by
// every swapchain. On failure everything already created is torn down.
func (b *Backend) Initialize() error {
	return b.chain.
		Then("instance", b.createInstance, b.destroyInstance).
		Then("surface", b.createSurface, b.destroySurface).
		Then("device", func() error { return DeviceCreate(b.context) }, func() { DeviceDestroy(b.context) }).
		Then("swapchain", b.chooseSurfaceSettings, nil).
		Then("render-targets", b.createRenderTargets, b.destroyRenderTargets).
		Run()
}

// Destroy releases the swapchain and everything Initialize created. The device is
// drained first.
func (b *Backend) Destroy() {
	if err := b.WaitIdle(); err != nil {
		core.LogWarn("wait idle before backend teardown: %s", err)
	}
	b.DestroySwapchain()
	b.chain.Unwind()
	core.LogInfo("Vulkan backend destroyed.")
}

func (b *Backend) DedicatedCompute() bool {
	return b.context.Device != nil && b.context.Device.DedicatedCompute
}

// WaitIdle drains the device. All queue locks are held so no submit can race it.
func (b *Backend) WaitIdle() error {
	if b.context.Device == nil {
		return nil
	}
	return b.locks.SafeDeviceCall(func() error {
		return resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(b.context.Device.LogicalDevice))
	})
}

// DeviceName is the name of the selected physical device.
func (b *Backend) DeviceName() string {
	if b.context.Device == nil {
		return ""
	}
	return b.context.Device.Name
}

func (b *Backend) queue(kind frame.QueueKind) (uint32, vk.Queue) {
	d := b.context.Device
	if kind == frame.QueueCompute {
		return d.ComputeQueueIndex, d.ComputeQueue
	}
	return d.GraphicsQueueIndex, d.GraphicsQueue
}

func (b *Backend) commandPool(kind frame.QueueKind) vk.CommandPool {
	if kind == frame.QueueCompute {
		return b.context.Device.ComputeCommandPool
	}
	return b.context.Device.GraphicsCommandPool
}

func (b *Backend) createInstance() error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialize vk: %w", err)
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(b.cfg.AppName),
		PEngineName:        VulkanSafeString("raypath"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, b.surface.RequiredInstanceExtensions()...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if b.cfg.Debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		if err := requireLayer(validationLayer); err != nil {
			return err
		}
		layers = []string{validationLayer}
		core.LogInfo("Validation layers enabled.")
	}
	for _, ext := range requiredExtensions {
		core.LogDebug("Required extension: %s", ext)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, b.context.Allocator, &b.context.Instance); res != vk.Success {
		return resultError("vkCreateInstance", res)
	}
	if err := vk.InitInstance(b.context.Instance); err != nil {
		vk.DestroyInstance(b.context.Instance, b.context.Allocator)
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if b.cfg.Debug {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(b.context.Instance, &debugCreateInfo, b.context.Allocator, &dbg)); err != nil {
			vk.DestroyInstance(b.context.Instance, b.context.Allocator)
			return fmt.Errorf("vk.CreateDebugReportCallback failed with %w", err)
		}
		b.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func requireLayer(name string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}
	for i := range available {
		available[i].Deref()
		end := FindFirstZeroInByteArray(available[i].LayerName[:])
		if vk.ToString(available[i].LayerName[:end]) == name {
			return nil
		}
	}
	return fmt.Errorf("required validation layer is missing: %s", name)
}

func (b *Backend) destroyInstance() {
	if b.context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(b.context.Instance, b.context.debugMessenger, b.context.Allocator)
		b.context.debugMessenger = vk.NullDebugReportCallback
	}
	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(b.context.Instance, b.context.Allocator)
	b.context.Instance = nil
}

func (b *Backend) createSurface() error {
	surface, err := b.surface.CreateWindowSurface(b.context.Instance)
	if err != nil {
		return fmt.Errorf("vulkan surface creation failed: %w", err)
	}
	if surface == 0 {
		return fmt.Errorf("platform returned a null surface")
	}
	b.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")
	return nil
}

func (b *Backend) destroySurface() {
	if b.context.Surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(b.context.Instance, b.context.Surface, b.context.Allocator)
		b.context.Surface = vk.NullSurface
	}
}

// chooseSurfaceSettings fixes the surface format and present mode for the lifetime of
// the backend, so the render pass stays compatible with every swapchain.
func (b *Backend) chooseSurfaceSettings() error {
	support, err := querySwapchainSupport(b.context.Device.PhysicalDevice, b.context.Surface)
	if err != nil {
		return err
	}
	if b.context.SurfaceFormat, err = chooseSurfaceFormat(support.Formats); err != nil {
		return err
	}
	b.context.PresentMode = choosePresentMode(support.PresentModes)
	core.LogInfo("Surface format %d, present mode %d.", b.context.SurfaceFormat.Format, b.context.PresentMode)
	return nil
}

func (b *Backend) createRenderTargets() error {
	rp, err := RenderpassCreate(b.context, b.context.SurfaceFormat.Format)
	if err != nil {
		return err
	}
	sampler, err := createSampler(b.context)
	if err != nil {
		rp.Destroy(b.context)
		return err
	}
	b.renderpass = rp
	b.sampler = sampler
	return nil
}

func (b *Backend) destroyRenderTargets() {
	if b.sampler != vk.NullSampler {
		vk.DestroySampler(b.context.Device.LogicalDevice, b.sampler, b.context.Allocator)
		b.sampler = vk.NullSampler
	}
	if b.renderpass != nil {
		b.renderpass.Destroy(b.context)
		b.renderpass = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
