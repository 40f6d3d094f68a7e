// Package renderer drives one frame at a time through acquire, record, submit
// and present, recycling per-frame resources from a frames.Ring.
package renderer

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/frames"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
	"github.com/spaghettifunk/inflight/engine/renderer/surface"
)

type State uint8

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
	StateSubmitting
	StatePresenting
)

func (s State) String() string {
	switch s {
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StateSubmitting:
		return "submitting"
	case StatePresenting:
		return "presenting"
	}
	return "idle"
}

const DefaultFenceTimeout = 5 * time.Second

type FrameLoopConfig struct {
	Device  gpu.Device
	Queue   gpu.Queue
	Surface *surface.Manager
	Ring    *frames.Ring
	// Streamer may be nil.
	Streamer     gpu.ResourceStreamer
	NodeIndex    uint32
	Shaders      ShaderSource
	ClearColor   gpu.Color
	FenceTimeout time.Duration
	VSync        bool
}

// FrameInfo describes the last frame that reached the queue.
type FrameInfo struct {
	Frame      uint64
	Slot       uint32
	ImageIndex uint32
}

type FrameLoop struct {
	device   gpu.Device
	queue    gpu.Queue
	surface  *surface.Manager
	ring     *frames.Ring
	streamer gpu.ResourceStreamer
	node     uint32
	shaders  ShaderSource

	clearColor   gpu.Color
	fenceTimeout time.Duration

	state            State
	frameIndex       uint64
	last             FrameInfo
	acquireSemaphore gpu.Semaphore
	pipeline         gpu.Pipeline

	pendingReload  atomic.Uint32
	requestedVSync atomic.Bool
}

// NewFrameLoop creates the loop and its pipeline. The surface must already be
// created.
func NewFrameLoop(cfg FrameLoopConfig) (*FrameLoop, error) {
	if cfg.Device == nil || cfg.Queue == nil || cfg.Surface == nil || cfg.Ring == nil {
		return nil, fmt.Errorf("%w: frame loop needs a device, a queue, a surface and a ring", core.ErrConfiguration)
	}
	l := &FrameLoop{
		device:       cfg.Device,
		queue:        cfg.Queue,
		surface:      cfg.Surface,
		ring:         cfg.Ring,
		streamer:     cfg.Streamer,
		node:         cfg.NodeIndex,
		shaders:      cfg.Shaders,
		clearColor:   cfg.ClearColor,
		fenceTimeout: cfg.FenceTimeout,
	}
	if l.shaders == nil {
		l.shaders = ShaderDir("")
	}
	if l.fenceTimeout <= 0 {
		l.fenceTimeout = DefaultFenceTimeout
	}
	l.requestedVSync.Store(cfg.VSync)
	if err := l.load(ReloadShader); err != nil {
		l.Shutdown()
		return nil, err
	}
	return l, nil
}

func (l *FrameLoop) State() State {
	return l.state
}

// FrameIndex is the number of frames submitted so far.
func (l *FrameLoop) FrameIndex() uint64 {
	return l.frameIndex
}

func (l *FrameLoop) LastFrame() FrameInfo {
	return l.last
}

// RequestVSync asks for a vsync mode. A change costs one queue idle and one
// swapchain rebuild at the start of the next frame. Safe from any goroutine.
func (l *FrameLoop) RequestVSync(on bool) {
	l.requestedVSync.Store(on)
}

func (l *FrameLoop) SetClearColor(c gpu.Color) {
	l.clearColor = c
}

// Draw renders and presents one frame.
//
// Recoverable errors (core.IsRecoverable) drop the frame and leave the loop ready
// for the next one; anything else is fatal.
func (l *FrameLoop) Draw() error {
	l.state = StateIdle

	if want := l.requestedVSync.Load(); want != l.surface.VSync() {
		l.surface.SetVSync(want)
	}
	reload := ReloadType(l.pendingReload.Swap(0))
	if l.surface.NeedsRecreate() {
		reload |= ReloadResize
	}
	if l.surface.FormatChanged() {
		reload |= ReloadRenderTarget
	}
	if !l.surface.HasArea() {
		w, h := l.surface.Size()
		if reload != 0 {
			l.RequestReload(reload)
		}
		return fmt.Errorf("%w: surface is %dx%d", core.ErrConfiguration, w, h)
	}
	if reload != 0 {
		if err := l.Reload(reload); err != nil {
			return err
		}
	}
	if l.pipeline == nil {
		if err := l.loadPipeline(); err != nil {
			return err
		}
	}

	l.state = StateAcquiring
	imageIndex, rt, err := l.surface.AcquireNext(l.acquireSemaphore)
	if err != nil {
		l.state = StateIdle
		return err
	}

	l.state = StateRecording
	slot, err := l.ring.Acquire(l.fenceTimeout)
	if err != nil {
		return l.dropAcquired(err)
	}
	if err := slot.Reset(); err != nil {
		return l.dropAcquired(err)
	}
	if err := l.record(slot.CommandBuffer(0), rt); err != nil {
		return l.dropAcquired(err)
	}

	l.state = StateSubmitting
	waits := make([]gpu.Semaphore, 0, 2)
	if l.streamer != nil {
		sem, err := l.streamer.Flush(l.node)
		if err != nil {
			return l.dropAcquired(err)
		}
		if sem != nil {
			waits = append(waits, sem)
		}
	}
	waits = append(waits, l.acquireSemaphore)
	if err := l.queue.Submit(&gpu.SubmitDesc{
		CommandBuffers:   slot.CommandBuffers(),
		WaitSemaphores:   waits,
		SignalSemaphores: []gpu.Semaphore{slot.Semaphore()},
		SignalFence:      slot.Fence(),
	}); err != nil {
		return l.dropAcquired(err)
	}
	slot.MarkSubmitted(l.frameIndex)
	l.last = FrameInfo{Frame: l.frameIndex, Slot: slot.Index(), ImageIndex: imageIndex}
	l.frameIndex++

	l.state = StatePresenting
	err = l.surface.Present(l.queue, imageIndex, slot.Semaphore())
	l.state = StateIdle
	if errors.Is(err, core.ErrSurfaceOutOfDate) {
		// the frame was submitted; the next one rebuilds the swapchain
		core.LogDebug("present of frame %d: %s", l.last.Frame, err)
		return nil
	}
	return err
}

// dropAcquired abandons a frame whose swapchain image was acquired but will
// never be presented. The image and the pending acquire signal are reclaimed by
// rebuilding the swapchain on the next Draw.
func (l *FrameLoop) dropAcquired(err error) error {
	l.surface.MarkOutOfDate()
	l.state = StateIdle
	return err
}

func (l *FrameLoop) record(cmd gpu.CommandBuffer, rt gpu.RenderTarget) error {
	if err := cmd.Begin(); err != nil {
		return wrapRecording(err)
	}
	w, h := rt.Width(), rt.Height()
	cmd.ResourceBarrier(rt, gpu.ResourceStatePresent, gpu.ResourceStateRenderTarget)
	cmd.BindRenderTarget(rt, gpu.LoadActionClear, l.clearColor)
	cmd.SetViewport(gpu.Viewport{Width: float32(w), Height: float32(h), MinDepth: 0, MaxDepth: 1})
	cmd.SetScissor(gpu.Rect{Width: w, Height: h})
	cmd.BindPipeline(l.pipeline)
	cmd.Draw(3, 0)
	cmd.BindRenderTarget(nil, gpu.LoadActionDontCare, gpu.Color{})
	cmd.ResourceBarrier(rt, gpu.ResourceStateRenderTarget, gpu.ResourceStatePresent)
	if err := cmd.End(); err != nil {
		return wrapRecording(err)
	}
	return nil
}

func wrapRecording(err error) error {
	if errors.Is(err, core.ErrRecording) || core.IsFatal(err) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrRecording, err)
}

// Shutdown idles the queue and releases what the loop created. The ring, the
// surface and the device belong to the caller.
func (l *FrameLoop) Shutdown() error {
	err := l.queue.WaitIdle()
	if l.pipeline != nil {
		l.pipeline.Destroy()
		l.pipeline = nil
	}
	if l.acquireSemaphore != nil {
		l.acquireSemaphore.Destroy()
		l.acquireSemaphore = nil
	}
	return err
}
