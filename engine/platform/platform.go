package platform

import (
	"runtime"
	"sync"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/inflight/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Window is what the engine needs from a platform layer.
type Window interface {
	Startup(applicationName string, x, y, width, height uint32) error
	// PumpMessages processes pending OS events. It returns false once the user
	// asked to close the window.
	PumpMessages() bool
	FramebufferSize() (uint32, uint32)
	Shutdown() error
}

// Platform is a GLFW window without a client API, ready for a Vulkan surface.
type Platform struct {
	Window *glfw.Window
	input  *core.InputState

	mu     sync.Mutex
	width  uint32
	height uint32
}

func New(input *core.InputState) *Platform {
	return &Platform{input: input}
}

func (p *Platform) Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		glfw.Terminate()
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	fbw, fbh := p.Window.GetFramebufferSize()
	p.setSize(uint32(fbw), uint32(fbh))
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

func (p *Platform) FramebufferSize() (uint32, uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// RequiredInstanceExtensions lists the Vulkan instance extensions the window
// system needs.
func (p *Platform) RequiredInstanceExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

// CreateSurface creates a VkSurfaceKHR for the window and returns its handle.
func (p *Platform) CreateSurface(instance interface{}) (uintptr, error) {
	return p.Window.CreateWindowSurface(instance, nil)
}

func (p *Platform) setSize(w, h uint32) {
	p.mu.Lock()
	p.width, p.height = w, h
	p.mu.Unlock()
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if action == glfw.Repeat {
		return
	}
	code := translateKey(key)
	if code == core.KEY_UNKNOWN {
		return
	}
	p.input.ProcessKey(code, action == glfw.Press)
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.setSize(uint32(width), uint32(height))
	core.EventFire(core.EventContext{
		Type: core.EVENT_CODE_RESIZED,
		Data: &core.SystemEvent{
			WindowWidth:  uint32(width),
			WindowHeight: uint32(height),
		},
	})
}

func translateKey(key glfw.Key) core.KeyCode {
	switch key {
	case glfw.KeyEscape:
		return core.KEY_ESCAPE
	case glfw.KeyEnter:
		return core.KEY_ENTER
	case glfw.KeySpace:
		return core.KEY_SPACE
	case glfw.KeyR:
		return core.KEY_R
	case glfw.KeyV:
		return core.KEY_V
	case glfw.KeyF1:
		return core.KEY_F1
	}
	return core.KEY_UNKNOWN
}

// GetAbsoluteTime returns wall clock seconds, used for frame timing.
func GetAbsoluteTime() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
