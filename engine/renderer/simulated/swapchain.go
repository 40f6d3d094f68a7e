package simulated

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/inflight/engine/containers"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type presentRequest struct {
	image      uint32
	waits      []*signalOp
	submission uint64
	discard    bool
}

type image struct {
	rt       *RenderTarget
	acquired bool
	// presents of this image not yet displayed
	queued int
	// acquire signals that fire once the image leaves the screen queue
	acquireOps []*signalOp
}

type RenderTarget struct {
	index  uint32
	width  uint32
	height uint32
}

func (rt *RenderTarget) Index() uint32  { return rt.index }
func (rt *RenderTarget) Width() uint32  { return rt.width }
func (rt *RenderTarget) Height() uint32 { return rt.height }

type Swapchain struct {
	dev        *Device
	id         uuid.UUID
	generation uint32
	desc       gpu.SwapchainDesc
	images     []*image
	next       uint32
	presents   *containers.RingQueue[*presentRequest]
	outOfDate  bool
	destroyed  bool
}

func (d *Device) CreateSwapchain(desc *gpu.SwapchainDesc) (gpu.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return nil, err
	}
	if d.failSwapchain > 0 {
		d.failSwapchain--
		return nil, fmt.Errorf("%w: injected swapchain failure", core.ErrDeviceError)
	}
	if desc.Width == 0 || desc.Height == 0 || desc.ImageCount == 0 {
		return nil, fmt.Errorf("%w: swapchain %dx%d with %d images", core.ErrDeviceError, desc.Width, desc.Height, desc.ImageCount)
	}
	d.swapchainGen++
	sc := &Swapchain{
		dev:        d,
		id:         uuid.New(),
		generation: d.swapchainGen,
		desc:       *desc,
		images:     make([]*image, desc.ImageCount),
		presents:   containers.NewRingQueue[*presentRequest](int(desc.ImageCount) * 2),
	}
	for i := range sc.images {
		sc.images[i] = &image{rt: &RenderTarget{index: uint32(i), width: desc.Width, height: desc.Height}}
	}
	d.swapchains[sc] = struct{}{}
	d.stats.SwapchainCreates++
	core.LogDebug("simulated swapchain %d created: %dx%d, %d images, vsync=%t", sc.generation, desc.Width, desc.Height, desc.ImageCount, desc.VSync)
	return sc, nil
}

func (sc *Swapchain) Generation() uint32 { return sc.generation }
func (sc *Swapchain) ImageCount() uint32 { return uint32(len(sc.images)) }
func (sc *Swapchain) Format() gpu.Format { return sc.desc.Format }
func (sc *Swapchain) VSync() bool        { return sc.desc.VSync }
func (sc *Swapchain) Width() uint32      { return sc.desc.Width }
func (sc *Swapchain) Height() uint32     { return sc.desc.Height }

func (sc *Swapchain) RenderTarget(index uint32) gpu.RenderTarget {
	return sc.images[index].rt
}

func (sc *Swapchain) AcquireNextImage(signal gpu.Semaphore) (uint32, error) {
	d := sc.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return 0, err
	}
	if sc.destroyed {
		return 0, fmt.Errorf("%w: acquire on destroyed swapchain", core.ErrDeviceError)
	}
	if sc.outOfDate {
		return 0, fmt.Errorf("%w: swapchain %d", core.ErrSurfaceOutOfDate, sc.generation)
	}
	sem, ok := signal.(*Semaphore)
	if !ok || sem == nil || sem.destroyed {
		return 0, fmt.Errorf("%w: acquire needs a live semaphore", core.ErrDeviceError)
	}
	idx := sc.next
	img := sc.images[idx]
	if img.acquired {
		return 0, fmt.Errorf("%w: every image of swapchain %d is acquired", core.ErrDeviceError, sc.generation)
	}
	sc.next = (sc.next + 1) % uint32(len(sc.images))
	img.acquired = true

	op := &signalOp{sem: sem, done: img.queued == 0}
	if !op.done {
		img.acquireOps = append(img.acquireOps, op)
	}
	sem.unpaired = append(sem.unpaired, op)
	d.stats.Acquires++
	return idx, nil
}

// Invalidate marks the swapchain out of date.
func (sc *Swapchain) Invalidate() {
	sc.dev.mu.Lock()
	defer sc.dev.mu.Unlock()
	sc.outOfDate = true
}

func (sc *Swapchain) Destroy() {
	d := sc.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if sc.destroyed {
		return
	}
	if !sc.presents.IsEmpty() && !d.lost {
		panic(fmt.Sprintf("simulated: swapchain %d destroyed with %d presents in flight", sc.generation, sc.presents.Len()))
	}
	sc.destroyed = true
	delete(d.swapchains, sc)
}

// displayLocked hands queued presents to the screen in FIFO order.
func (sc *Swapchain) displayLocked() {
	for !sc.presents.IsEmpty() {
		req, _ := sc.presents.Peek()
		for _, w := range req.waits {
			if !w.done {
				return
			}
		}
		_, _ = sc.presents.Dequeue()
		for _, w := range req.waits {
			w.sem.waiters--
		}
		img := sc.images[req.image]
		img.queued--
		if img.queued == 0 {
			for _, op := range img.acquireOps {
				op.done = true
			}
			img.acquireOps = nil
		}
		if !req.discard {
			sc.dev.displayed = append(sc.dev.displayed, Display{
				Swapchain:  sc.generation,
				ImageIndex: req.image,
				Submission: req.submission,
			})
		}
	}
}
