package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/raypath/engine/core"
	rmath "github.com/spaghettifunk/raypath/engine/math"
)

// Tick stages, as reported by core.StageError.
const (
	StageRebuild             = "rebuild"
	StageSelectSlot          = "select-slot"
	StageUpdateHostData      = "update-host-data"
	StageSubmitCompute       = "submit-compute"
	StageAcquirePresentImage = "acquire-present-image"
	StageGuardImageReuse     = "guard-image-reuse"
	StageRecordGraphicsPass  = "record-graphics-pass"
	StageSubmitAndPresent    = "submit-and-present"
)

var clearColor = Color{0, 0, 0, 1}

type Config struct {
	FramesInFlight int
	OutputExtent   Extent
	WorkGroupSize  uint32
	FenceTimeout   time.Duration

	ComputeShader  string
	VertexShader   string
	FragmentShader string
}

func (c Config) validate() error {
	var errs []error
	if c.FramesInFlight < 1 {
		errs = append(errs, fmt.Errorf("frames in flight must be at least 1, got %d", c.FramesInFlight))
	}
	if c.OutputExtent.Degenerate() {
		errs = append(errs, fmt.Errorf("output extent %dx%d is degenerate", c.OutputExtent.Width, c.OutputExtent.Height))
	}
	if c.WorkGroupSize == 0 {
		errs = append(errs, errors.New("work group size must be positive"))
	}
	if c.FenceTimeout <= 0 {
		errs = append(errs, errors.New("fence timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Orchestrator drives one frame per Tick: compute into a slot's output image, then
// sample it onto the acquired swapchain image and present.
type Orchestrator struct {
	cfg     Config
	device  Device
	scene   SceneSource
	overlay Overlay

	computeQueue QueueKind
	samplePool   DescriptorPool
	computePool  DescriptorPool
	compute      Pipeline
	graphics     Pipeline
	pool         *FramePool
	swapchain    *SwapchainManager

	chain     *core.InitChain
	metrics   *core.FrameMetrics
	lastFrame core.Stopwatch
	halted    error
	closed    bool
}

// New builds every GPU object the loop needs. On failure the returned error is a
// *core.StageError naming the first stage that failed, and nothing is left allocated.
func New(dev Device, presentation Presentation, window Window, scene SceneSource, overlay Overlay, cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, core.NewInitError("config", err)
	}
	o := &Orchestrator{
		cfg:          cfg,
		device:       dev,
		scene:        scene,
		overlay:      overlay,
		computeQueue: QueueGraphics,
		swapchain:    NewSwapchainManager(dev, presentation, window, cfg.FenceTimeout),
		metrics:      core.NewFrameMetrics(),
	}
	if dev.DedicatedCompute() {
		o.computeQueue = QueueCompute
	}
	core.LogInfo("compute work routed to the %s queue", o.computeQueue)

	o.chain = core.NewInitChain().
		Then("descriptor-pools", o.createDescriptorPools, o.destroyDescriptorPools).
		Then("pipelines", o.createPipelines, o.destroyPipelines).
		Then("frame-pool", func() error {
			var err error
			o.pool, err = NewFramePool(dev, PoolConfig{
				FramesInFlight: cfg.FramesInFlight,
				OutputExtent:   cfg.OutputExtent,
				ComputeQueue:   o.computeQueue,
				Sizes:          scene.Snapshot(),
				FenceTimeout:   cfg.FenceTimeout,
			}, o.samplePool, o.computePool)
			return err
		}, func() {
			o.pool.Destroy()
		}).
		Then("swapchain", func() error {
			if err := o.swapchain.Create(); err != nil {
				return err
			}
			o.pool.TrackImages(o.swapchain.State().ImageCount)
			return nil
		}, o.swapchain.Destroy)
	if err := o.chain.Run(); err != nil {
		return nil, err
	}
	o.lastFrame = core.StartStopwatch()
	return o, nil
}

func (o *Orchestrator) createDescriptorPools() error {
	var err error
	n := uint32(o.cfg.FramesInFlight)
	if o.samplePool, err = o.device.CreateDescriptorPool(SamplingLayout, n); err != nil {
		return core.BackendError("create sampling descriptor pool", err)
	}
	if o.computePool, err = o.device.CreateDescriptorPool(ComputeLayout, n); err != nil {
		o.samplePool.Destroy()
		return core.BackendError("create compute descriptor pool", err)
	}
	return nil
}

func (o *Orchestrator) destroyDescriptorPools() {
	o.computePool.Destroy()
	o.samplePool.Destroy()
}

func (o *Orchestrator) buildPipelines() (compute, graphics Pipeline, err error) {
	compute, err = o.device.CreateComputePipeline(ComputePipelineDesc{
		Name:   "raytrace",
		Shader: o.cfg.ComputeShader,
		Layout: ComputeLayout,
	})
	if err != nil {
		return nil, nil, core.BackendError("create compute pipeline", err)
	}
	graphics, err = o.device.CreateGraphicsPipeline(GraphicsPipelineDesc{
		Name:           "fullscreen",
		VertexShader:   o.cfg.VertexShader,
		FragmentShader: o.cfg.FragmentShader,
		Layout:         SamplingLayout,
	})
	if err != nil {
		compute.Destroy()
		return nil, nil, core.BackendError("create graphics pipeline", err)
	}
	return compute, graphics, nil
}

func (o *Orchestrator) createPipelines() error {
	compute, graphics, err := o.buildPipelines()
	if err != nil {
		return err
	}
	o.compute, o.graphics = compute, graphics
	return nil
}

func (o *Orchestrator) destroyPipelines() {
	o.graphics.Destroy()
	o.compute.Destroy()
}

// Tick runs one frame. Stale and zero-extent surfaces are reported through the Outcome.
// Any other failure is latched: it is returned now, and every later call returns
// core.ErrHalted without touching the device.
func (o *Orchestrator) Tick() (Outcome, error) {
	if o.closed {
		return OutcomeHalted, core.ErrHalted
	}
	if o.halted != nil {
		return OutcomeHalted, fmt.Errorf("%w: %w", core.ErrHalted, o.halted)
	}
	outcome, err := o.tick()
	if err != nil {
		o.halted = err
		core.LogError("frame %d: %s", o.metrics.TotalFrames(), err)
		return OutcomeHalted, err
	}
	return outcome, nil
}

func (o *Orchestrator) tick() (Outcome, error) {
	if !o.swapchain.Usable() {
		return OutcomeSkipped, nil
	}
	if o.swapchain.RebuildPending() {
		rebuilt, err := o.swapchain.Rebuild()
		if err != nil {
			return OutcomeHalted, core.NewFrameError(StageRebuild, err)
		}
		if !rebuilt {
			return OutcomeSkipped, nil
		}
		o.pool.TrackImages(o.swapchain.State().ImageCount)
	}

	// 1
	slot, err := o.pool.AcquireNext()
	if err != nil {
		return OutcomeHalted, core.NewFrameError(StageSelectSlot, err)
	}
	if !slot.VerifyBindings() {
		return OutcomeHalted, core.NewFrameError(StageSelectSlot, fmt.Errorf("%w: descriptor bindings of slot %d changed", core.ErrBackendFatal, slot.Index))
	}

	// 2
	if err := slot.Upload(o.scene.Snapshot()); err != nil {
		return OutcomeHalted, core.NewFrameError(StageUpdateHostData, err)
	}

	// 3
	if err := o.submitCompute(slot); err != nil {
		return OutcomeHalted, core.NewFrameError(StageSubmitCompute, err)
	}

	// 4
	imageIndex, status, err := o.swapchain.Acquire(slot.ImageAvailable)
	if err != nil {
		return OutcomeHalted, core.NewFrameError(StageAcquirePresentImage, err)
	}
	if status == StatusStale {
		core.LogDebug("acquire reported a stale surface, rebuilding next tick")
		return OutcomeStale, nil
	}

	// 5
	if err := o.pool.WaitForImage(imageIndex); err != nil {
		return OutcomeHalted, core.NewFrameError(StageGuardImageReuse, err)
	}
	o.pool.RegisterImageUse(imageIndex, slot.RenderFence)

	// 6
	if err := o.recordGraphics(slot, imageIndex); err != nil {
		return OutcomeHalted, core.NewFrameError(StageRecordGraphicsPass, err)
	}

	// 7
	if err := o.pool.Submit(QueueGraphics, Submission{
		Commands:  slot.GraphicsCommands,
		Wait:      []Semaphore{slot.ImageAvailable},
		WaitStage: PipelineStageColorAttachmentOutput,
		Signal:    []Semaphore{slot.RenderFinished},
	}, slot.RenderFence); err != nil {
		return OutcomeHalted, core.NewFrameError(StageSubmitAndPresent, err)
	}
	if status, err = o.swapchain.Present(imageIndex, slot.RenderFinished); err != nil {
		return OutcomeHalted, core.NewFrameError(StageSubmitAndPresent, err)
	}
	if status == StatusStale {
		core.LogDebug("present reported a stale surface, rebuilding next tick")
	}
	o.swapchain.PollResize()

	// 8
	o.pool.Advance()
	o.metrics.Update(o.lastFrame.Elapsed())
	o.lastFrame = core.StartStopwatch()
	return OutcomePresented, nil
}

func (o *Orchestrator) submitCompute(slot *FrameResourceSet) error {
	cmd := slot.ComputeCommands
	if err := cmd.Begin(); err != nil {
		return core.BackendError("begin compute commands", err)
	}
	cmd.BindPipeline(o.compute)
	cmd.BindDescriptorSet(slot.ComputeSet)
	extent := slot.OutputImage.Extent()
	cmd.Dispatch(
		rmath.DivCeil(extent.Width, o.cfg.WorkGroupSize),
		rmath.DivCeil(extent.Height, o.cfg.WorkGroupSize),
		1,
	)
	if err := cmd.End(); err != nil {
		return core.BackendError("end compute commands", err)
	}
	return o.pool.Submit(o.computeQueue, Submission{Commands: cmd}, slot.CompletionFence)
}

func (o *Orchestrator) recordGraphics(slot *FrameResourceSet, imageIndex uint32) error {
	cmd := slot.GraphicsCommands
	if err := cmd.Begin(); err != nil {
		return core.BackendError("begin graphics commands", err)
	}
	cmd.PipelineBarrier(slot.OutputImage, ImageBarrier{
		OldLayout: LayoutGeneral,
		NewLayout: LayoutGeneral,
		SrcAccess: AccessShaderWrite,
		DstAccess: AccessShaderRead,
		SrcStage:  PipelineStageComputeShader,
		DstStage:  PipelineStageFragmentShader,
	})

	target := o.swapchain.Framebuffer(imageIndex)
	cmd.BeginRenderPass(target, clearColor)
	extent := target.Extent()
	full := Rect{Width: extent.Width, Height: extent.Height}
	cmd.SetViewport(full)
	cmd.SetScissor(full)
	cmd.BindPipeline(o.graphics)
	cmd.BindDescriptorSet(slot.SampleSet)
	cmd.Draw(3, 1, 0, 0)
	if o.overlay != nil {
		if err := o.overlay.Draw(cmd, slot.Index); err != nil {
			return fmt.Errorf("overlay: %w", err)
		}
	}
	cmd.EndRenderPass()
	if err := cmd.End(); err != nil {
		return core.BackendError("end graphics commands", err)
	}
	return nil
}

// ReloadPipelines rebuilds both pipelines from their shader files. The old pipelines are
// kept if the new ones cannot be built, and the error is not latched.
func (o *Orchestrator) ReloadPipelines() error {
	if o.halted != nil || o.closed {
		return core.ErrHalted
	}
	if err := o.device.WaitIdle(); err != nil {
		o.halted = core.NewFrameError("reload-pipelines", core.BackendError("wait idle", err))
		return o.halted
	}
	compute, graphics, err := o.buildPipelines()
	if err != nil {
		core.LogWarn("pipeline reload failed, keeping the previous pipelines: %s", err)
		return err
	}
	o.destroyPipelines()
	o.compute, o.graphics = compute, graphics
	core.LogInfo("pipelines reloaded")
	return nil
}

// Shutdown waits for the device to go idle and releases everything New created,
// in reverse order. It is safe to call more than once.
func (o *Orchestrator) Shutdown() {
	if o.closed {
		return
	}
	o.closed = true
	if err := o.device.WaitIdle(); err != nil {
		core.LogError("wait idle before shutdown: %s", err)
	}
	o.chain.Unwind()
}

// SetOverlay replaces the overlay drawn at the end of every graphics pass. nil disables it.
func (o *Orchestrator) SetOverlay(overlay Overlay) {
	o.overlay = overlay
}

func (o *Orchestrator) Metrics() *core.FrameMetrics {
	return o.metrics
}

func (o *Orchestrator) Pool() *FramePool {
	return o.pool
}

func (o *Orchestrator) Swapchain() *SwapchainManager {
	return o.swapchain
}

// ComputeQueue is the queue compute work is submitted to, resolved once at construction.
func (o *Orchestrator) ComputeQueue() QueueKind {
	return o.computeQueue
}

// Halted returns the latched fatal error, if any.
func (o *Orchestrator) Halted() error {
	return o.halted
}
