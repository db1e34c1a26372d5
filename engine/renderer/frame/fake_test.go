package frame

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/raypath/engine/core"
)

// fakeDevice is an in-memory backend. Fences only signal when waited on, which makes any
// wait without a pending submission (a real-world deadlock) visible as a violation.
type fakeDevice struct {
	nextID    ResourceID
	dedicated bool
	failOn    map[string]error
	hang      map[ResourceID]bool

	live            map[ResourceID]string
	log             []string
	submits         []fakeSubmit
	violations      []string
	waitIdle        int
	lastTimeout     time.Duration
	lastTargetFence map[ResourceID]*fakeFence
}

type fakeSubmit struct {
	queue    QueueKind
	commands *fakeCommands
	ops      []string
	fence    *fakeFence
	wait     []Semaphore
	signal   []Semaphore
	stage    PipelineStage
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		failOn:          map[string]error{},
		hang:            map[ResourceID]bool{},
		live:            map[ResourceID]string{},
		lastTargetFence: map[ResourceID]*fakeFence{},
	}
}

func (d *fakeDevice) record(format string, args ...any) {
	d.log = append(d.log, fmt.Sprintf(format, args...))
}

func (d *fakeDevice) violation(format string, args ...any) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *fakeDevice) newResource(kind string) fakeResource {
	d.nextID++
	d.live[d.nextID] = kind
	return fakeResource{dev: d, id: d.nextID, kind: kind}
}

// liveKinds counts undestroyed objects per kind.
func (d *fakeDevice) liveKinds() map[string]int {
	kinds := map[string]int{}
	for _, k := range d.live {
		kinds[k]++
	}
	return kinds
}

func (d *fakeDevice) indexOf(entry string) int {
	for i, e := range d.log {
		if e == entry {
			return i
		}
	}
	return -1
}

func (d *fakeDevice) indexOfFrom(entry string, from int) int {
	for i := from; i < len(d.log); i++ {
		if d.log[i] == entry {
			return i
		}
	}
	return -1
}

func (d *fakeDevice) lastIndexOf(entry string) int {
	for i := len(d.log) - 1; i >= 0; i-- {
		if d.log[i] == entry {
			return i
		}
	}
	return -1
}

func (d *fakeDevice) submitsWith(op string) []fakeSubmit {
	var out []fakeSubmit
	for _, s := range d.submits {
		for _, o := range s.ops {
			if strings.HasPrefix(o, op) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

type fakeResource struct {
	dev  *fakeDevice
	id   ResourceID
	kind string
}

func (r *fakeResource) ID() ResourceID {
	return r.id
}

func (r *fakeResource) Destroy() {
	if _, ok := r.dev.live[r.id]; !ok {
		r.dev.violation("%s %d destroyed twice", r.kind, r.id)
	}
	delete(r.dev.live, r.id)
	r.dev.record("destroy:%s:%d", r.kind, r.id)
}

type fakeBuffer struct {
	fakeResource
	desc   BufferDesc
	data   []byte
	writes int
}

func (b *fakeBuffer) Size() uint64 {
	return b.desc.Size
}

func (b *fakeBuffer) Write(data []byte) error {
	b.data = append(b.data[:0], data...)
	b.writes++
	b.dev.record("write:%s", b.desc.Name)
	return nil
}

type fakeImage struct {
	fakeResource
	desc ImageDesc
}

func (i *fakeImage) Extent() Extent {
	return i.desc.Extent
}

func (i *fakeImage) Write(pixels []byte) error {
	return nil
}

type fakeFence struct {
	fakeResource
	pending  bool
	signaled bool
	waits    int
	submits  int
}

type fakeSemaphore struct {
	fakeResource
}

type fakeView struct {
	fakeResource
}

type fakeFramebuffer struct {
	fakeResource
	extent Extent
}

func (f *fakeFramebuffer) Extent() Extent {
	return f.extent
}

type fakePipeline struct {
	fakeResource
	name  string
	point BindPoint
}

func (p *fakePipeline) BindPoint() BindPoint {
	return p.point
}

type fakeDescriptorPool struct {
	fakeResource
	layout  DescriptorLayout
	maxSets uint32
	sets    []*fakeDescriptorSet
}

func (p *fakeDescriptorPool) Allocate() (DescriptorSet, error) {
	if err := p.dev.failOn["Allocate"]; err != nil {
		return nil, err
	}
	if uint32(len(p.sets)) >= p.maxSets {
		return nil, fmt.Errorf("descriptor pool %s exhausted", p.layout.Name)
	}
	set := &fakeDescriptorSet{fakeResource: p.dev.newResource("descriptor-set"), layout: p.layout}
	p.sets = append(p.sets, set)
	return set, nil
}

func (p *fakeDescriptorPool) Destroy() {
	for _, s := range p.sets {
		delete(p.dev.live, s.id)
	}
	p.fakeResource.Destroy()
}

type fakeDescriptorSet struct {
	fakeResource
	layout  DescriptorLayout
	writes  []DescriptorWrite
	updates int
}

func (s *fakeDescriptorSet) Update(writes []DescriptorWrite) error {
	for _, w := range writes {
		found := false
		for _, b := range s.layout.Bindings {
			if b.Binding == w.Binding && b.Type == w.Type {
				found = true
			}
		}
		if !found {
			s.dev.violation("binding %d of type %d not in layout %s", w.Binding, w.Type, s.layout.Name)
		}
	}
	s.writes = writes
	s.updates++
	return nil
}

type fakeCommands struct {
	fakeResource
	queue     QueueKind
	recording bool
	inPass    bool
	viewport  bool
	ops       []string
	barriers  []ImageBarrier
}

func (c *fakeCommands) op(format string, args ...any) {
	if !c.recording {
		c.dev.violation("command recorded outside Begin/End: "+format, args...)
	}
	c.ops = append(c.ops, fmt.Sprintf(format, args...))
}

func (c *fakeCommands) Begin() error {
	if err := c.dev.failOn["Begin"]; err != nil {
		return err
	}
	c.ops = nil
	c.barriers = nil
	c.recording = true
	return nil
}

func (c *fakeCommands) End() error {
	if c.inPass {
		c.dev.violation("command buffer ended inside a render pass")
	}
	c.recording = false
	return nil
}

func (c *fakeCommands) BindPipeline(p Pipeline) {
	c.op("bind-pipeline:%s", p.(*fakePipeline).name)
}

func (c *fakeCommands) BindDescriptorSet(set DescriptorSet) {
	c.op("bind-set:%d", set.ID())
}

func (c *fakeCommands) Dispatch(x, y, z uint32) {
	if c.inPass {
		c.dev.violation("dispatch inside a render pass")
	}
	c.op("dispatch:%d,%d,%d", x, y, z)
}

func (c *fakeCommands) PipelineBarrier(img Image, b ImageBarrier) {
	c.barriers = append(c.barriers, b)
	c.op("barrier:%d", img.ID())
}

func (c *fakeCommands) BeginRenderPass(target Framebuffer, clear Color) {
	c.inPass = true
	c.viewport = false
	c.op("begin-pass:%d", target.ID())
}

func (c *fakeCommands) SetViewport(r Rect) {
	c.viewport = true
	c.op("viewport:%dx%d", r.Width, r.Height)
}

func (c *fakeCommands) SetScissor(r Rect) {
	c.op("scissor:%dx%d", r.Width, r.Height)
}

func (c *fakeCommands) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.op("draw:%d", vertexCount)
}

func (c *fakeCommands) EndRenderPass() {
	c.inPass = false
	c.op("end-pass")
}

func (d *fakeDevice) CreateBuffer(desc BufferDesc) (Buffer, error) {
	if err := d.failOn["CreateBuffer"]; err != nil {
		return nil, err
	}
	return &fakeBuffer{fakeResource: d.newResource("buffer"), desc: desc}, nil
}

func (d *fakeDevice) CreateImage(desc ImageDesc) (Image, error) {
	if err := d.failOn["CreateImage"]; err != nil {
		return nil, err
	}
	return &fakeImage{fakeResource: d.newResource("image"), desc: desc}, nil
}

func (d *fakeDevice) CreateFence() (Fence, error) {
	if err := d.failOn["CreateFence"]; err != nil {
		return nil, err
	}
	return &fakeFence{fakeResource: d.newResource("fence")}, nil
}

func (d *fakeDevice) CreateSemaphore() (Semaphore, error) {
	if err := d.failOn["CreateSemaphore"]; err != nil {
		return nil, err
	}
	return &fakeSemaphore{fakeResource: d.newResource("semaphore")}, nil
}

func (d *fakeDevice) AllocateCommandBuffer(queue QueueKind) (CommandBuffer, error) {
	if err := d.failOn["AllocateCommandBuffer"]; err != nil {
		return nil, err
	}
	return &fakeCommands{fakeResource: d.newResource("commands"), queue: queue}, nil
}

func (d *fakeDevice) CreateDescriptorPool(layout DescriptorLayout, maxSets uint32) (DescriptorPool, error) {
	if err := d.failOn["CreateDescriptorPool"]; err != nil {
		return nil, err
	}
	return &fakeDescriptorPool{fakeResource: d.newResource("descriptor-pool"), layout: layout, maxSets: maxSets}, nil
}

func (d *fakeDevice) CreateComputePipeline(desc ComputePipelineDesc) (Pipeline, error) {
	if err := d.failOn["CreateComputePipeline"]; err != nil {
		return nil, err
	}
	d.record("create-pipeline:%s", desc.Name)
	return &fakePipeline{fakeResource: d.newResource("pipeline"), name: desc.Name, point: BindCompute}, nil
}

func (d *fakeDevice) CreateGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error) {
	if err := d.failOn["CreateGraphicsPipeline"]; err != nil {
		return nil, err
	}
	d.record("create-pipeline:%s", desc.Name)
	return &fakePipeline{fakeResource: d.newResource("pipeline"), name: desc.Name, point: BindGraphics}, nil
}

func (d *fakeDevice) WaitForFence(f Fence, timeout time.Duration) error {
	ff := f.(*fakeFence)
	d.lastTimeout = timeout
	if d.hang[ff.id] {
		return core.ErrDeviceTimeout
	}
	ff.waits++
	if !ff.pending {
		d.violation("wait on fence %d with no pending submission", ff.id)
	}
	if ff.waits > 1 {
		d.violation("fence %d waited %d times since its last submission", ff.id, ff.waits)
	}
	ff.pending = false
	ff.signaled = true
	d.record("wait:%d", ff.id)
	return nil
}

func (d *fakeDevice) ResetFence(f Fence) error {
	ff := f.(*fakeFence)
	ff.signaled = false
	d.record("reset:%d", ff.id)
	return nil
}

func (d *fakeDevice) Submit(queue QueueKind, s Submission) error {
	if err := d.failOn["Submit"]; err != nil {
		return err
	}
	cmd := s.Commands.(*fakeCommands)
	if cmd.queue != queue {
		d.violation("command buffer from the %s queue submitted to the %s queue", cmd.queue, queue)
	}
	if cmd.recording {
		d.violation("command buffer %d submitted while recording", cmd.id)
	}
	var fence *fakeFence
	if s.Fence != nil {
		fence = s.Fence.(*fakeFence)
		if fence.pending || fence.signaled {
			d.violation("fence %d submitted while pending or signaled", fence.id)
		}
		fence.pending = true
		fence.waits = 0
		fence.submits++
	}
	for _, op := range cmd.ops {
		var target ResourceID
		if _, err := fmt.Sscanf(op, "begin-pass:%d", &target); err != nil {
			continue
		}
		if prev := d.lastTargetFence[target]; prev != nil && prev.pending && prev != fence {
			d.violation("framebuffer %d rendered again before fence %d was observed", target, prev.id)
		}
		d.lastTargetFence[target] = fence
	}
	d.submits = append(d.submits, fakeSubmit{
		queue:    queue,
		commands: cmd,
		ops:      append([]string(nil), cmd.ops...),
		fence:    fence,
		wait:     s.Wait,
		signal:   s.Signal,
		stage:    s.WaitStage,
	})
	d.record("submit:%s", queue)
	return nil
}

func (d *fakeDevice) DedicatedCompute() bool {
	return d.dedicated
}

func (d *fakeDevice) WaitIdle() error {
	if err := d.failOn["WaitIdle"]; err != nil {
		return err
	}
	d.waitIdle++
	d.record("wait-idle")
	return nil
}

// fakePresentation hands out images round robin. Acquire and present results can be
// scripted by call number, starting at 1.
type fakePresentation struct {
	dev        *fakeDevice
	imageCount int
	format     Format

	extents       []Extent
	next          uint32
	acquires      int
	presents      int
	destroyed     int
	presented     []uint32
	staleAcquires map[int]bool
	presentStatus map[int]Status
}

func newFakePresentation(dev *fakeDevice, imageCount int) *fakePresentation {
	return &fakePresentation{
		dev:           dev,
		imageCount:    imageCount,
		format:        FormatBGRA8SRGB,
		staleAcquires: map[int]bool{},
		presentStatus: map[int]Status{},
	}
}

func (p *fakePresentation) creates() int {
	return len(p.extents)
}

func (p *fakePresentation) CreateSwapchain(extent Extent) (SurfaceImages, error) {
	if err := p.dev.failOn["CreateSwapchain"]; err != nil {
		return SurfaceImages{}, err
	}
	p.extents = append(p.extents, extent)
	p.next = 0
	views := make([]ImageView, 0, p.imageCount)
	for i := 0; i < p.imageCount; i++ {
		views = append(views, &fakeView{fakeResource: p.dev.newResource("view")})
	}
	p.dev.record("create-swapchain")
	return SurfaceImages{Extent: extent, Format: p.format, Views: views}, nil
}

func (p *fakePresentation) DestroySwapchain() {
	p.destroyed++
}

func (p *fakePresentation) CreateFramebuffer(view ImageView, extent Extent) (Framebuffer, error) {
	if err := p.dev.failOn["CreateFramebuffer"]; err != nil {
		return nil, err
	}
	return &fakeFramebuffer{fakeResource: p.dev.newResource("framebuffer"), extent: extent}, nil
}

func (p *fakePresentation) AcquireNextImage(timeout time.Duration, signal Semaphore) (uint32, Status, error) {
	p.acquires++
	p.dev.record("acquire")
	if err := p.dev.failOn["AcquireNextImage"]; err != nil {
		return 0, StatusFatal, err
	}
	if p.staleAcquires[p.acquires] {
		return 0, StatusStale, nil
	}
	idx := p.next
	p.next = (p.next + 1) % uint32(p.imageCount)
	return idx, StatusOk, nil
}

func (p *fakePresentation) Present(imageIndex uint32, wait Semaphore) (Status, error) {
	p.presents++
	p.presented = append(p.presented, imageIndex)
	p.dev.record("present:%d", imageIndex)
	if err := p.dev.failOn["Present"]; err != nil {
		return StatusFatal, err
	}
	return p.presentStatus[p.presents], nil
}

type fakeWindow struct {
	extent  Extent
	changed bool
}

func (w *fakeWindow) FramebufferExtent() Extent {
	return w.extent
}

func (w *fakeWindow) ExtentChanged() bool {
	changed := w.changed
	w.changed = false
	return changed
}

func (w *fakeWindow) resize(e Extent) {
	w.extent = e
	w.changed = true
}

type fakeScene struct {
	snapshots int
}

func (s *fakeScene) Snapshot() SceneSnapshot {
	s.snapshots++
	fill := func(n int) []byte {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(s.snapshots)
		}
		return b
	}
	return SceneSnapshot{
		Camera:     fill(64),
		Random:     fill(4096),
		Settings:   fill(8),
		Primitives: fill(16),
	}
}

type fakeOverlay struct {
	dev    *fakeDevice
	frames []int
}

func (o *fakeOverlay) Draw(cmd CommandBuffer, frameIndex int) error {
	c := cmd.(*fakeCommands)
	if !c.inPass || !c.viewport {
		o.dev.violation("overlay drawn without an active render pass and viewport")
	}
	o.frames = append(o.frames, frameIndex)
	c.op("overlay:%d", frameIndex)
	return nil
}

type harness struct {
	dev     *fakeDevice
	pres    *fakePresentation
	win     *fakeWindow
	scene   *fakeScene
	overlay *fakeOverlay
	orch    *Orchestrator
}

func testConfig(framesInFlight int) Config {
	return Config{
		FramesInFlight: framesInFlight,
		OutputExtent:   Extent{Width: 512, Height: 512},
		WorkGroupSize:  16,
		FenceTimeout:   time.Second,
		ComputeShader:  "compute_pass.comp.spv",
		VertexShader:   "fullscreen_tri.vert.spv",
		FragmentShader: "tex_sample.frag.spv",
	}
}

func newHarnessWith(t *testing.T, cfg Config, imageCount int, setup func(h *harness)) *harness {
	t.Helper()
	dev := newFakeDevice()
	h := &harness{
		dev:     dev,
		pres:    newFakePresentation(dev, imageCount),
		win:     &fakeWindow{extent: Extent{Width: 512, Height: 512}},
		scene:   &fakeScene{},
		overlay: &fakeOverlay{dev: dev},
	}
	if setup != nil {
		setup(h)
	}
	orch, err := New(h.dev, h.pres, h.win, h.scene, h.overlay, cfg)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func newHarness(t *testing.T, framesInFlight, imageCount int) *harness {
	t.Helper()
	return newHarnessWith(t, testConfig(framesInFlight), imageCount, nil)
}

func (h *harness) tick(t *testing.T) Outcome {
	t.Helper()
	outcome, err := h.orch.Tick()
	require.NoError(t, err)
	return outcome
}
