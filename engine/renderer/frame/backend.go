package frame

import (
	"time"
)

// ResourceID identifies a backend object for the lifetime of the process.
type ResourceID uint64

type Extent struct {
	Width  uint32
	Height uint32
}

func (e Extent) Degenerate() bool {
	return e.Width == 0 || e.Height == 0
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

type Color [4]float32

type QueueKind uint8

const (
	QueueGraphics QueueKind = iota
	QueueCompute
)

func (q QueueKind) String() string {
	if q == QueueCompute {
		return "compute"
	}
	return "graphics"
}

type Format uint8

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatBGRA8SRGB
)

type BufferUsage uint8

const (
	BufferUniform BufferUsage = iota
	BufferStorage
)

type ImageUsage uint8

const (
	ImageUsageSampled ImageUsage = 1 << iota
	ImageUsageStorage
)

type ImageTiling uint8

const (
	TilingOptimal ImageTiling = iota
	TilingLinear
)

type ShaderStage uint8

const (
	StageCompute ShaderStage = iota
	StageFragment
)

type DescriptorType uint8

const (
	DescriptorCombinedImageSampler DescriptorType = iota
	DescriptorStorageImage
	DescriptorUniformBuffer
	DescriptorStorageBuffer
)

type BindPoint uint8

const (
	BindCompute BindPoint = iota
	BindGraphics
)

type BufferDesc struct {
	Name        string
	Size        uint64
	Usage       BufferUsage
	HostVisible bool
}

type ImageDesc struct {
	Name        string
	Extent      Extent
	Format      Format
	Usage       ImageUsage
	Tiling      ImageTiling
	HostVisible bool
}

type LayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Stage   ShaderStage
}

type DescriptorLayout struct {
	Name     string
	Bindings []LayoutBinding
}

// DescriptorWrite binds either Image or Buffer to a binding of a set.
type DescriptorWrite struct {
	Binding uint32
	Type    DescriptorType
	Image   Image
	Buffer  Buffer
}

func (w DescriptorWrite) resourceID() ResourceID {
	if w.Image != nil {
		return w.Image.ID()
	}
	if w.Buffer != nil {
		return w.Buffer.ID()
	}
	return 0
}

type ComputePipelineDesc struct {
	Name   string
	Shader string
	Layout DescriptorLayout
}

// GraphicsPipelineDesc describes a pipeline drawing into the presentation render pass
// with dynamic viewport and scissor.
type GraphicsPipelineDesc struct {
	Name           string
	VertexShader   string
	FragmentShader string
	Layout         DescriptorLayout
}

type ImageLayout uint8

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
)

type Access uint8

const (
	AccessNone Access = iota
	AccessShaderRead
	AccessShaderWrite
)

type PipelineStage uint8

const (
	PipelineStageComputeShader PipelineStage = iota
	PipelineStageFragmentShader
	PipelineStageColorAttachmentOutput
)

type ImageBarrier struct {
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess Access
	DstAccess Access
	SrcStage  PipelineStage
	DstStage  PipelineStage
}

// Submission is one batch on a queue. Wait semaphores block at WaitStage.
type Submission struct {
	Commands  CommandBuffer
	Wait      []Semaphore
	WaitStage PipelineStage
	Signal    []Semaphore
	Fence     Fence
}

type Resource interface {
	ID() ResourceID
	Destroy()
}

type Buffer interface {
	Resource
	Size() uint64
	// Write copies data at offset zero. Only valid for host-visible buffers.
	Write(data []byte) error
}

type Image interface {
	Resource
	Extent() Extent
	// Write copies tightly packed texels. Only valid for host-visible linear images.
	Write(pixels []byte) error
}

type ImageView interface {
	Resource
}

type Fence interface {
	Resource
}

type Semaphore interface {
	Resource
}

type Pipeline interface {
	Resource
	BindPoint() BindPoint
}

type Framebuffer interface {
	Resource
	Extent() Extent
}

type DescriptorSet interface {
	Resource
	Update(writes []DescriptorWrite) error
}

type DescriptorPool interface {
	Resource
	Allocate() (DescriptorSet, error)
}

// CommandBuffer records GPU work. Begin implicitly resets previous contents.
type CommandBuffer interface {
	Resource
	Begin() error
	End() error
	BindPipeline(p Pipeline)
	// BindDescriptorSet binds set 0 using the layout of the last bound pipeline.
	BindDescriptorSet(set DescriptorSet)
	Dispatch(x, y, z uint32)
	PipelineBarrier(img Image, b ImageBarrier)
	BeginRenderPass(target Framebuffer, clear Color)
	SetViewport(r Rect)
	SetScissor(r Rect)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	EndRenderPass()
}

// Device is the resource and queue side of the GPU backend.
type Device interface {
	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateImage(desc ImageDesc) (Image, error)
	CreateFence() (Fence, error)
	CreateSemaphore() (Semaphore, error)
	AllocateCommandBuffer(queue QueueKind) (CommandBuffer, error)
	CreateDescriptorPool(layout DescriptorLayout, maxSets uint32) (DescriptorPool, error)
	CreateComputePipeline(desc ComputePipelineDesc) (Pipeline, error)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error)

	// WaitForFence blocks until f signals. Expiry returns core.ErrDeviceTimeout.
	WaitForFence(f Fence, timeout time.Duration) error
	ResetFence(f Fence) error
	Submit(queue QueueKind, s Submission) error
	// DedicatedCompute reports whether a compute-only queue exists.
	DedicatedCompute() bool
	WaitIdle() error
}

// SurfaceImages is what a swapchain (re)creation yields.
type SurfaceImages struct {
	Extent Extent
	Format Format
	Views  []ImageView
}

// Presentation is the swapchain side of the GPU backend.
type Presentation interface {
	// CreateSwapchain replaces the current swapchain, if any, with one sized for extent.
	CreateSwapchain(extent Extent) (SurfaceImages, error)
	DestroySwapchain()
	CreateFramebuffer(view ImageView, extent Extent) (Framebuffer, error)
	// AcquireNextImage signals the semaphore when the image is ready.
	AcquireNextImage(timeout time.Duration, signal Semaphore) (uint32, Status, error)
	Present(imageIndex uint32, wait Semaphore) (Status, error)
}

// Window is the windowing collaborator.
type Window interface {
	FramebufferExtent() Extent
	// ExtentChanged reports whether a resize happened since the last call.
	ExtentChanged() bool
}

// Overlay records its own draw calls into the active render pass. The viewport and
// scissor are already set when Draw runs.
type Overlay interface {
	Draw(cmd CommandBuffer, frameIndex int) error
}

// SceneSnapshot holds the per-tick bytes for each scene buffer.
type SceneSnapshot struct {
	Camera     []byte
	Random     []byte
	Settings   []byte
	Primitives []byte
}

// SceneSource produces snapshots without being mutated by the renderer.
type SceneSource interface {
	Snapshot() SceneSnapshot
}
