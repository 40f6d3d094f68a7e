package simulated

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type submission struct {
	id      uint64
	cmds    []*CommandBuffer
	waits   []*signalOp
	signals []*signalOp
	fence   *Fence
}

func (s *submission) ready() bool {
	for _, w := range s.waits {
		if !w.done {
			return false
		}
	}
	return true
}

type Queue struct {
	dev  *Device
	kind gpu.QueueType
	id   uuid.UUID
}

func (q *Queue) Submit(desc *gpu.SubmitDesc) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}

	cmds := make([]*CommandBuffer, 0, len(desc.CommandBuffers))
	for _, c := range desc.CommandBuffers {
		cb, ok := c.(*CommandBuffer)
		if !ok {
			return fmt.Errorf("%w: submit of foreign command buffer %T", core.ErrDeviceError, c)
		}
		if cb.state != stateExecutable {
			return fmt.Errorf("%w: submit of %s in state %s", core.ErrDeviceError, cb, cb.state)
		}
		cmds = append(cmds, cb)
	}
	var fence *Fence
	if desc.SignalFence != nil {
		f, ok := desc.SignalFence.(*Fence)
		if !ok {
			return fmt.Errorf("%w: submit with foreign fence %T", core.ErrDeviceError, desc.SignalFence)
		}
		if f.signaled || f.pending {
			return fmt.Errorf("%w: submit with %s that was not reset", core.ErrDeviceError, f)
		}
		fence = f
	}

	waits, err := pairWaitsLocked(desc.WaitSemaphores)
	if err != nil {
		return err
	}
	d.nextSubmission++
	id := d.nextSubmission
	signals, err := signalLocked(desc.SignalSemaphores, id)
	if err != nil {
		return err
	}

	for _, cb := range cmds {
		cb.state = statePending
	}
	if fence != nil {
		fence.pending = true
	}
	d.pending = append(d.pending, &submission{
		id:      id,
		cmds:    cmds,
		waits:   waits,
		signals: signals,
		fence:   fence,
	})
	d.stats.Submits++
	d.kickLocked()
	return nil
}

func (q *Queue) Present(desc *gpu.PresentDesc) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	sc, ok := desc.Swapchain.(*Swapchain)
	if !ok || sc.destroyed {
		return fmt.Errorf("%w: present to an invalid swapchain", core.ErrDeviceError)
	}
	if desc.ImageIndex >= uint32(len(sc.images)) {
		return fmt.Errorf("%w: present of image %d out of %d", core.ErrDeviceError, desc.ImageIndex, len(sc.images))
	}
	img := sc.images[desc.ImageIndex]
	if !img.acquired {
		return fmt.Errorf("%w: present of image %d that was not acquired", core.ErrDeviceError, desc.ImageIndex)
	}
	waits, err := pairWaitsLocked(desc.WaitSemaphores)
	if err != nil {
		return err
	}

	img.acquired = false
	req := &presentRequest{image: desc.ImageIndex, waits: waits, discard: sc.outOfDate}
	for _, w := range waits {
		if w.submission != 0 {
			req.submission = w.submission
		}
	}
	if err := sc.presents.Enqueue(req); err != nil {
		return fmt.Errorf("%w: presentation queue: %w", core.ErrDeviceError, err)
	}
	img.queued++
	sc.displayLocked()
	d.kickLocked()

	if sc.outOfDate {
		return fmt.Errorf("%w: present of image %d", core.ErrSurfaceOutOfDate, desc.ImageIndex)
	}
	d.stats.Presents++
	return nil
}

// WaitIdle blocks until every submission of the device has completed.
func (q *Queue) WaitIdle() error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	d.stats.WaitIdles++
	switch d.opts.Mode {
	case ModeAsync:
		for len(d.pending) > 0 && !d.lost {
			d.cond.Wait()
		}
		return d.checkLocked()
	default:
		return d.drainLocked()
	}
}
