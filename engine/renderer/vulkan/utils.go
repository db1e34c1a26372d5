package vulkan

import (
	"encoding/binary"
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

type resultText struct {
	name   string
	detail string
}

var resultTexts = map[vk.Result]resultText{
	vk.Success:                   {"VK_SUCCESS", "Command successfully completed"},
	vk.NotReady:                  {"VK_NOT_READY", "A fence or query has not yet completed"},
	vk.Timeout:                   {"VK_TIMEOUT", "A wait operation has not completed in the specified time"},
	vk.EventSet:                  {"VK_EVENT_SET", "An event is signaled"},
	vk.EventReset:                {"VK_EVENT_RESET", "An event is unsignaled"},
	vk.Incomplete:                {"VK_INCOMPLETE", "A return array was too small for the result"},
	vk.Suboptimal:                {"VK_SUBOPTIMAL_KHR", "A swapchain no longer matches the surface properties exactly, but can still be used to present to the surface successfully."},
	vk.ErrorOutOfHostMemory:      {"VK_ERROR_OUT_OF_HOST_MEMORY", "A host memory allocation has failed."},
	vk.ErrorOutOfDeviceMemory:    {"VK_ERROR_OUT_OF_DEVICE_MEMORY", "A device memory allocation has failed."},
	vk.ErrorInitializationFailed: {"VK_ERROR_INITIALIZATION_FAILED", "Initialization of an object could not be completed for implementation-specific reasons."},
	vk.ErrorDeviceLost:           {"VK_ERROR_DEVICE_LOST", "The logical or physical device has been lost."},
	vk.ErrorMemoryMapFailed:      {"VK_ERROR_MEMORY_MAP_FAILED", "Mapping of a memory object has failed."},
	vk.ErrorLayerNotPresent:      {"VK_ERROR_LAYER_NOT_PRESENT", "A requested layer is not present or could not be loaded."},
	vk.ErrorExtensionNotPresent:  {"VK_ERROR_EXTENSION_NOT_PRESENT", "A requested extension is not supported."},
	vk.ErrorFeatureNotPresent:    {"VK_ERROR_FEATURE_NOT_PRESENT", "A requested feature is not supported."},
	vk.ErrorIncompatibleDriver:   {"VK_ERROR_INCOMPATIBLE_DRIVER", "The requested version of Vulkan is not supported by the driver or is otherwise incompatible for implementation-specific reasons."},
	vk.ErrorTooManyObjects:       {"VK_ERROR_TOO_MANY_OBJECTS", "Too many objects of the type have already been created."},
	vk.ErrorFormatNotSupported:   {"VK_ERROR_FORMAT_NOT_SUPPORTED", "A requested format is not supported on this device."},
	vk.ErrorFragmentedPool:       {"VK_ERROR_FRAGMENTED_POOL", "A pool allocation has failed due to fragmentation of the pool's memory."},
	vk.ErrorOutOfPoolMemory:      {"VK_ERROR_OUT_OF_POOL_MEMORY", "A pool memory allocation has failed."},
	vk.ErrorSurfaceLost:          {"VK_ERROR_SURFACE_LOST_KHR", "A surface is no longer available."},
	vk.ErrorNativeWindowInUse:    {"VK_ERROR_NATIVE_WINDOW_IN_USE_KHR", "The requested window is already in use by Vulkan or another API in a manner which prevents it from being used again."},
	vk.ErrorOutOfDate:            {"VK_ERROR_OUT_OF_DATE_KHR", "A surface has changed in such a way that it is no longer compatible with the swapchain."},
	vk.ErrorIncompatibleDisplay:  {"VK_ERROR_INCOMPATIBLE_DISPLAY_KHR", "The display used by a swapchain does not use the same presentable image layout, or is incompatible in a way that prevents sharing an image."},
}

// VulkanResultString names a result, optionally with the registry's description.
func VulkanResultString(result vk.Result, getExtended bool) string {
	text, ok := resultTexts[result]
	if !ok {
		return fmt.Sprintf("VK_RESULT(%d)", int32(result))
	}
	return ConditionalOperator(!getExtended, text.name, text.name+" "+text.detail)
}

// VulkanResultIsSuccess reports whether result is a success code. Error codes are negative.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= vk.Success
}

func ConditionalOperator(condition bool, res1, res2 string) string {
	if condition {
		return res1
	}
	return res2
}

// resultError turns a non-success result into an error matching core.ErrBackendFatal.
func resultError(op string, res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	return core.BackendError(op, errors.New(VulkanResultString(res, false)))
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

func FindFirstZeroInByteArray(arr []byte) int {
	for i, b := range arr {
		if b == 0 {
			return i
		}
	}
	return len(arr)
}

const spirvMagic = 0x07230203

// spirvWords reinterprets a SPIR-V binary as little-endian words.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("spir-v size %d is not a positive multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("bad spir-v magic %#08x", words[0])
	}
	return words, nil
}

func vkFormat(f frame.Format) vk.Format {
	switch f {
	case frame.FormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case frame.FormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case frame.FormatBGRA8SRGB:
		return vk.FormatB8g8r8a8Srgb
	default:
		return vk.FormatUndefined
	}
}

func frameFormat(f vk.Format) frame.Format {
	switch f {
	case vk.FormatR8g8b8a8Unorm:
		return frame.FormatRGBA8Unorm
	case vk.FormatB8g8r8a8Unorm:
		return frame.FormatBGRA8Unorm
	case vk.FormatB8g8r8a8Srgb:
		return frame.FormatBGRA8SRGB
	default:
		return frame.FormatUndefined
	}
}

func vkDescriptorType(t frame.DescriptorType) vk.DescriptorType {
	switch t {
	case frame.DescriptorStorageImage:
		return vk.DescriptorTypeStorageImage
	case frame.DescriptorUniformBuffer:
		return vk.DescriptorTypeUniformBuffer
	case frame.DescriptorStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	default:
		return vk.DescriptorTypeCombinedImageSampler
	}
}

func vkShaderStage(s frame.ShaderStage) vk.ShaderStageFlags {
	if s == frame.StageCompute {
		return vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	}
	return vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
}

func vkImageUsage(u frame.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlags
	if u&frame.ImageUsageSampled != 0 {
		flags |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}
	if u&frame.ImageUsageStorage != 0 {
		flags |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	return flags
}

func vkBufferUsage(u frame.BufferUsage) vk.BufferUsageFlags {
	if u == frame.BufferStorage {
		return vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	return vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
}

func vkImageLayout(l frame.ImageLayout) vk.ImageLayout {
	if l == frame.LayoutGeneral {
		return vk.ImageLayoutGeneral
	}
	return vk.ImageLayoutUndefined
}

func vkAccess(a frame.Access) vk.AccessFlags {
	switch a {
	case frame.AccessShaderRead:
		return vk.AccessFlags(vk.AccessShaderReadBit)
	case frame.AccessShaderWrite:
		return vk.AccessFlags(vk.AccessShaderWriteBit)
	default:
		return 0
	}
}

func vkPipelineStage(s frame.PipelineStage) vk.PipelineStageFlags {
	switch s {
	case frame.PipelineStageComputeShader:
		return vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	case frame.PipelineStageFragmentShader:
		return vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	default:
		return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	}
}
