package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

var keyMap = map[glfw.Key]core.KeyCode{
	glfw.KeyEnter:  core.KEY_ENTER,
	glfw.KeyEscape: core.KEY_ESCAPE,
	glfw.KeySpace:  core.KEY_SPACE,
	glfw.KeyP:      core.KEY_P,
	glfw.KeyQ:      core.KEY_Q,
	glfw.KeyR:      core.KEY_R,
	glfw.KeyF5:     core.KEY_F5,
}

func translateKey(key glfw.Key) core.KeyCode {
	if code, ok := keyMap[key]; ok {
		return code
	}
	return core.KEY_UNKNOWN
}

// Platform owns the GLFW window. It is the frame.Window the swapchain manager polls and
// the surface source of the Vulkan backend.
type Platform struct {
	Window *glfw.Window

	// Set by the framebuffer size callback, cleared by ExtentChanged.
	resized bool
	width   uint32
	height  uint32
}

var _ frame.Window = (*Platform)(nil)

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("failed to initialize glfw: %w", err)
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return fmt.Errorf("glfw reports no Vulkan loader")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("failed to create window: %w", err)
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	w, h := p.Window.GetFramebufferSize()
	p.width, p.height = uint32(w), uint32(h)
	core.LogInfo("window `%s` created: %dx%d", applicationName, w, h)
	return nil
}

// Shutdown destroys the window and terminates GLFW. It is safe to call more than once.
func (p *Platform) Shutdown() error {
	if p.Window == nil {
		return nil
	}
	p.Window.Destroy()
	p.Window = nil
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. It returns false once the window has
// been asked to close.
func (p *Platform) PumpMessages() bool {
	if p.Window == nil {
		return false
	}
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

// RequestClose makes the next PumpMessages return false.
func (p *Platform) RequestClose() {
	if p.Window != nil {
		p.Window.SetShouldClose(true)
	}
}

func (p *Platform) FramebufferExtent() frame.Extent {
	if p.Window != nil {
		w, h := p.Window.GetFramebufferSize()
		p.width, p.height = uint32(w), uint32(h)
	}
	return frame.Extent{Width: p.width, Height: p.height}
}

func (p *Platform) ExtentChanged() bool {
	changed := p.resized
	p.resized = false
	return changed
}

func (p *Platform) RequiredInstanceExtensions() []string {
	if p.Window == nil {
		return nil
	}
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) CreateWindowSurface(instance vk.Instance) (uintptr, error) {
	if p.Window == nil {
		return 0, fmt.Errorf("no window")
	}
	return p.Window.CreateWindowSurface(instance, nil)
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if action == glfw.Repeat {
		return
	}
	core.InputProcessKey(translateKey(key), action == glfw.Press)
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.onResize(uint32(width), uint32(height))
}

func (p *Platform) onResize(width, height uint32) {
	if width == p.width && height == p.height {
		return
	}
	p.width, p.height = width, height
	p.resized = true
	core.EventFire(core.EventContext{
		Type: core.EVENT_CODE_RESIZED,
		Data: &core.SystemEvent{WindowWidth: width, WindowHeight: height},
	})
}
