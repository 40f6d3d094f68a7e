package platform

import (
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/inflight/engine/core"
)

// Headless is a window that exists only in memory. It is used with the
// simulated backend and in tests.
type Headless struct {
	mu     sync.Mutex
	width  uint32
	height uint32
	closed atomic.Bool
}

func NewHeadless() *Headless {
	return &Headless{}
}

func (h *Headless) Startup(applicationName string, x, y, width, height uint32) error {
	core.LogInfo("headless window %q (%dx%d)", applicationName, width, height)
	h.Resize(width, height)
	return nil
}

func (h *Headless) PumpMessages() bool {
	return !h.closed.Load()
}

func (h *Headless) FramebufferSize() (uint32, uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.width, h.height
}

// Resize behaves like the user dragging the window border.
func (h *Headless) Resize(width, height uint32) {
	h.mu.Lock()
	changed := h.width != width || h.height != height
	h.width, h.height = width, height
	h.mu.Unlock()
	if changed {
		core.EventFire(core.EventContext{
			Type: core.EVENT_CODE_RESIZED,
			Data: &core.SystemEvent{WindowWidth: width, WindowHeight: height},
		})
	}
}

// Close makes the next PumpMessages report that the window was closed.
func (h *Headless) Close() {
	h.closed.Store(true)
}

func (h *Headless) Shutdown() error {
	return nil
}
