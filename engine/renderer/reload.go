package renderer

import (
	"strings"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

// ReloadType selects which size or format dependent resources get rebuilt.
type ReloadType uint32

const (
	// ReloadResize rebuilds the swapchain for a new window size or vsync mode.
	ReloadResize ReloadType = 1 << iota
	// ReloadRenderTarget rebuilds the swapchain and everything bound to its format.
	ReloadRenderTarget
	// ReloadShader rebuilds the pipeline from freshly loaded shaders.
	ReloadShader

	ReloadAll = ReloadResize | ReloadRenderTarget | ReloadShader
)

func (r ReloadType) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	if r&ReloadResize != 0 {
		parts = append(parts, "resize")
	}
	if r&ReloadRenderTarget != 0 {
		parts = append(parts, "render_target")
	}
	if r&ReloadShader != 0 {
		parts = append(parts, "shader")
	}
	return strings.Join(parts, "|")
}

// RequestReload queues a reload for the start of the next Draw. Safe to call
// from any goroutine.
func (l *FrameLoop) RequestReload(t ReloadType) {
	for {
		old := l.pendingReload.Load()
		if l.pendingReload.CompareAndSwap(old, old|uint32(t)) {
			return
		}
	}
}

// Reload idles the queue once, tears down the resources t names and builds them
// again.
func (l *FrameLoop) Reload(t ReloadType) error {
	if t == 0 {
		return nil
	}
	core.LogDebug("reloading %s", t)
	if err := l.queue.WaitIdle(); err != nil {
		return err
	}
	l.unload(t)
	return l.load(t)
}

func (l *FrameLoop) unload(t ReloadType) {
	if t&(ReloadShader|ReloadRenderTarget) != 0 && l.pipeline != nil {
		l.pipeline.Destroy()
		l.pipeline = nil
	}
	if t&(ReloadResize|ReloadRenderTarget) != 0 {
		l.surface.Destroy()
		// the acquire semaphore may hold a signal nobody waited on
		if l.acquireSemaphore != nil {
			l.acquireSemaphore.Destroy()
			l.acquireSemaphore = nil
		}
	}
}

func (l *FrameLoop) load(t ReloadType) error {
	if l.acquireSemaphore == nil {
		sem, err := l.device.CreateSemaphore()
		if err != nil {
			return err
		}
		l.acquireSemaphore = sem
	}
	if t&(ReloadResize|ReloadRenderTarget) != 0 {
		if err := l.surface.Rebuild(); err != nil {
			return err
		}
	}
	if l.pipeline == nil && l.surface.Swapchain() != nil {
		if err := l.loadPipeline(); err != nil {
			return err
		}
	}
	return nil
}

func (l *FrameLoop) loadPipeline() error {
	vert, frag, err := l.shaders()
	if err != nil {
		return err
	}
	p, err := l.device.CreatePipeline(&gpu.PipelineDesc{
		Name:           "fullscreen",
		VertexShader:   vert,
		FragmentShader: frag,
		Swapchain:      l.surface.Swapchain(),
	})
	if err != nil {
		return err
	}
	l.pipeline = p
	return nil
}
