package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/raypath/engine/core"
)

// SwapchainState is the comparable part of the presentable surface.
type SwapchainState struct {
	Extent     Extent
	Format     Format
	ImageCount int
}

// SwapchainManager owns the presentable images, their views and their framebuffers.
// All mutation happens between ticks.
type SwapchainManager struct {
	device       Device
	presentation Presentation
	window       Window
	timeout      time.Duration

	state        SwapchainState
	views        []ImageView
	framebuffers []Framebuffer
	generation   uint64
	pending      bool
}

func NewSwapchainManager(dev Device, presentation Presentation, window Window, timeout time.Duration) *SwapchainManager {
	return &SwapchainManager{
		device:       dev,
		presentation: presentation,
		window:       window,
		timeout:      timeout,
	}
}

// Create builds the first swapchain. A zero extent at startup is an error.
func (s *SwapchainManager) Create() error {
	extent := s.window.FramebufferExtent()
	if extent.Degenerate() {
		return core.ErrDegenerateSurface
	}
	return s.build(extent)
}

func (s *SwapchainManager) build(extent Extent) error {
	images, err := s.presentation.CreateSwapchain(extent)
	if err != nil {
		return core.BackendError("create swapchain", err)
	}
	s.views = images.Views
	s.framebuffers = make([]Framebuffer, 0, len(images.Views))
	for i, view := range images.Views {
		fb, err := s.presentation.CreateFramebuffer(view, images.Extent)
		if err != nil {
			s.destroyTargets()
			return core.BackendError(fmt.Sprintf("create framebuffer %d", i), err)
		}
		s.framebuffers = append(s.framebuffers, fb)
	}
	s.state = SwapchainState{
		Extent:     images.Extent,
		Format:     images.Format,
		ImageCount: len(images.Views),
	}
	s.generation++
	core.LogDebug("swapchain generation %d: %dx%d, %d images", s.generation, s.state.Extent.Width, s.state.Extent.Height, s.state.ImageCount)
	return nil
}

// Framebuffers reference the views, so they go first.
func (s *SwapchainManager) destroyTargets() {
	for i := len(s.framebuffers) - 1; i >= 0; i-- {
		s.framebuffers[i].Destroy()
	}
	for i := len(s.views) - 1; i >= 0; i-- {
		s.views[i].Destroy()
	}
	s.framebuffers = nil
	s.views = nil
}

// Acquire returns the next presentable image index. The semaphore is signalled once the
// image can be written.
func (s *SwapchainManager) Acquire(signal Semaphore) (uint32, Status, error) {
	idx, status, err := s.presentation.AcquireNextImage(s.timeout, signal)
	switch {
	case err != nil:
		return 0, StatusFatal, core.BackendError("acquire next image", err)
	case status == StatusStale:
		s.pending = true
		return 0, StatusStale, nil
	case status == StatusFatal:
		return 0, StatusFatal, core.BackendError("acquire next image", nil)
	}
	if int(idx) >= len(s.framebuffers) {
		return 0, StatusFatal, fmt.Errorf("%w: acquired image %d of %d", core.ErrBackendFatal, idx, len(s.framebuffers))
	}
	return idx, StatusOk, nil
}

// Rebuild replaces images, views and framebuffers with ones matching the current window
// extent. It returns false, keeping the rebuild pending, while the extent is zero.
func (s *SwapchainManager) Rebuild() (bool, error) {
	extent := s.window.FramebufferExtent()
	if extent.Degenerate() {
		s.pending = true
		return false, nil
	}
	if err := s.device.WaitIdle(); err != nil {
		return false, core.BackendError("wait idle before rebuild", err)
	}
	s.destroyTargets()
	if err := s.build(extent); err != nil {
		// The surface can shrink to zero between the window query and the backend's.
		if errors.Is(err, core.ErrDegenerateSurface) {
			s.pending = true
			return false, nil
		}
		return false, err
	}
	s.pending = false
	return true, nil
}

// Present queues the image. Stale and suboptimal results defer a rebuild to the next tick.
func (s *SwapchainManager) Present(imageIndex uint32, wait Semaphore) (Status, error) {
	status, err := s.presentation.Present(imageIndex, wait)
	switch {
	case err != nil:
		return StatusFatal, core.BackendError("present", err)
	case status == StatusStale:
		s.pending = true
	case status == StatusFatal:
		return StatusFatal, core.BackendError("present", nil)
	}
	return status, nil
}

// PollResize consumes the window's resize notification.
func (s *SwapchainManager) PollResize() {
	if s.window.ExtentChanged() {
		s.pending = true
	}
}

// Usable is false while the window has a zero extent.
func (s *SwapchainManager) Usable() bool {
	return !s.window.FramebufferExtent().Degenerate()
}

func (s *SwapchainManager) ScheduleRebuild() {
	s.pending = true
}

func (s *SwapchainManager) RebuildPending() bool {
	return s.pending
}

func (s *SwapchainManager) State() SwapchainState {
	return s.state
}

func (s *SwapchainManager) Generation() uint64 {
	return s.generation
}

func (s *SwapchainManager) Framebuffer(imageIndex uint32) Framebuffer {
	return s.framebuffers[imageIndex]
}

// Destroy releases the framebuffers and the swapchain. The device must be idle.
func (s *SwapchainManager) Destroy() {
	s.destroyTargets()
	s.presentation.DestroySwapchain()
	s.state = SwapchainState{}
}
