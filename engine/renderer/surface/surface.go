// Package surface owns the swapchain of a window and rebuilds it when the window,
// the vsync mode or the back buffer count changes.
package surface

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/math"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

const (
	minImageCount = 2
	maxImageCount = 8
)

type Manager struct {
	device    gpu.Device
	queue     gpu.Queue
	window    gpu.Window
	swapchain gpu.Swapchain

	width      uint32
	height     uint32
	vsync      bool
	colorSpace gpu.ColorSpace
	// 0 means use the device recommendation
	imageCountOverride uint32

	outOfDate bool
	// the next build may pick a different format
	formatChanged bool
	generation    uint32
}

func New(device gpu.Device, queue gpu.Queue) *Manager {
	return &Manager{device: device, queue: queue}
}

// SetImageCount forces the number of back buffers. 0 restores the device
// recommendation. Takes effect on the next Recreate.
func (m *Manager) SetImageCount(n uint32) {
	m.imageCountOverride = n
	if m.swapchain != nil {
		m.outOfDate = true
	}
}

// Create builds the swapchain for window. Failures are reported as
// core.ErrSurfaceCreation.
func (m *Manager) Create(window gpu.Window, width, height uint32, vsync bool) error {
	if window == nil {
		return fmt.Errorf("%w: no window", core.ErrSurfaceCreation)
	}
	if m.swapchain != nil {
		return fmt.Errorf("%w: surface already created", core.ErrSurfaceCreation)
	}
	m.window = window
	m.width = width
	m.height = height
	m.vsync = vsync
	return m.build()
}

func (m *Manager) build() error {
	if m.width == 0 || m.height == 0 {
		m.outOfDate = true
		return fmt.Errorf("%w: surface size %dx%d", core.ErrConfiguration, m.width, m.height)
	}
	count := m.imageCountOverride
	if count == 0 {
		count = m.device.RecommendedSwapchainImageCount(m.vsync)
	}
	count = math.Clamp(count, minImageCount, maxImageCount)

	sc, err := m.device.CreateSwapchain(&gpu.SwapchainDesc{
		Window:     m.window,
		Queue:      m.queue,
		Width:      m.width,
		Height:     m.height,
		ImageCount: count,
		Format:     m.device.SupportedSwapchainFormat(m.colorSpace),
		ColorSpace: m.colorSpace,
		VSync:      m.vsync,
	})
	if err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			return err
		}
		return fmt.Errorf("%w: %w", core.ErrSurfaceCreation, err)
	}
	m.swapchain = sc
	m.outOfDate = false
	m.formatChanged = false
	m.generation++
	core.LogInfo("swapchain ready: %dx%d, %d images, vsync=%t", sc.Width(), sc.Height(), sc.ImageCount(), sc.VSync())
	return nil
}

// Destroy releases the swapchain. The queue must be idle.
func (m *Manager) Destroy() {
	if m.swapchain != nil {
		m.swapchain.Destroy()
		m.swapchain = nil
	}
}

// Rebuild destroys and creates the swapchain with the current size and vsync.
// The caller is responsible for idling the queue first.
func (m *Manager) Rebuild() error {
	m.Destroy()
	return m.build()
}

// Recreate idles the queue once and rebuilds the swapchain.
func (m *Manager) Recreate() error {
	if err := m.queue.WaitIdle(); err != nil {
		return err
	}
	return m.Rebuild()
}

// Resize records the new window size. The swapchain is rebuilt on the next frame.
func (m *Manager) Resize(width, height uint32) {
	if width == m.width && height == m.height && m.swapchain != nil {
		return
	}
	m.width = width
	m.height = height
	m.outOfDate = true
}

// SetVSync records the wanted vsync mode; a change marks the swapchain for rebuild.
func (m *Manager) SetVSync(vsync bool) {
	if m.vsync == vsync {
		return
	}
	m.vsync = vsync
	m.outOfDate = true
}

// SetColorSpace picks the output color space. The device falls back to sRGB
// when the surface cannot present in cs.
func (m *Manager) SetColorSpace(cs gpu.ColorSpace) {
	if m.colorSpace == cs {
		return
	}
	m.colorSpace = cs
	if m.swapchain != nil {
		m.outOfDate = true
		m.formatChanged = true
	}
}

// FormatChanged reports a pending rebuild that may change the back buffer
// format, so whatever was built against the old format must go too.
func (m *Manager) FormatChanged() bool {
	return m.formatChanged
}

func (m *Manager) MarkOutOfDate() {
	m.outOfDate = true
}

func (m *Manager) NeedsRecreate() bool {
	return m.outOfDate || m.swapchain == nil
}

// HasArea is false while the window is minimised.
func (m *Manager) HasArea() bool {
	return m.width != 0 && m.height != 0
}

func (m *Manager) VSync() bool {
	return m.vsync
}

func (m *Manager) Size() (uint32, uint32) {
	return m.width, m.height
}

func (m *Manager) Generation() uint32 {
	return m.generation
}

func (m *Manager) Swapchain() gpu.Swapchain {
	return m.swapchain
}

// AcquireNext fetches the next image to render into. An out of date swapchain
// is flagged for rebuild and reported as core.ErrSurfaceOutOfDate.
func (m *Manager) AcquireNext(signal gpu.Semaphore) (uint32, gpu.RenderTarget, error) {
	if m.swapchain == nil {
		return 0, nil, fmt.Errorf("%w: no swapchain", core.ErrSurfaceOutOfDate)
	}
	idx, err := m.swapchain.AcquireNextImage(signal)
	if err != nil {
		if errors.Is(err, core.ErrSurfaceOutOfDate) {
			m.outOfDate = true
		}
		return 0, nil, err
	}
	return idx, m.swapchain.RenderTarget(idx), nil
}

// Present queues imageIndex for display once wait is signaled.
func (m *Manager) Present(queue gpu.Queue, imageIndex uint32, wait gpu.Semaphore) error {
	desc := &gpu.PresentDesc{
		Swapchain:  m.swapchain,
		ImageIndex: imageIndex,
	}
	if wait != nil {
		desc.WaitSemaphores = []gpu.Semaphore{wait}
	}
	err := queue.Present(desc)
	if errors.Is(err, core.ErrSurfaceOutOfDate) {
		m.outOfDate = true
	}
	return err
}
