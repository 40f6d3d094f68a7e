// Package frames keeps a fixed number of frame slots in rotation so the CPU can
// record frame N+1 while the GPU still executes frame N.
package frames

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

// Ring hands out slots in strict round-robin order. Every slot resource is
// created up front; the steady state allocates nothing.
type Ring struct {
	slots []*Slot
	// index of the slot the next request gets
	cursor uint32
	stalls uint64
}

// NewRing creates depth slots with cmdsPerSlot command buffers each.
func NewRing(device gpu.Device, queue gpu.Queue, depth uint32, cmdsPerSlot int) (*Ring, error) {
	if depth == 0 {
		return nil, fmt.Errorf("%w: frame ring depth must be at least 1", core.ErrConfiguration)
	}
	if cmdsPerSlot < 1 {
		cmdsPerSlot = 1
	}
	r := &Ring{slots: make([]*Slot, 0, depth)}
	for i := uint32(0); i < depth; i++ {
		s, err := newSlot(device, queue, i, cmdsPerSlot)
		if err != nil {
			r.Destroy()
			return nil, err
		}
		r.slots = append(r.slots, s)
	}
	core.LogDebug("frame ring created with %d slots", depth)
	return r, nil
}

// Depth is the number of slots, the most frames that can be in flight.
func (r *Ring) Depth() uint32 {
	return uint32(len(r.slots))
}

// Slot returns slot i without moving the cursor.
func (r *Ring) Slot(i uint32) *Slot {
	return r.slots[i]
}

// Current is the index of the slot returned by the last Next call.
func (r *Ring) Current() uint32 {
	n := uint32(len(r.slots))
	return (r.cursor + n - 1) % n
}

// Stalls counts Acquire calls that had to block on a fence.
func (r *Ring) Stalls() uint64 {
	return r.stalls
}

// Next advances the cursor by exactly one and returns the slot under it.
// waitRequired is true when the slot was submitted and its fence has not been
// observed signaled; the caller must wait on Slot.Fence before reusing it.
func (r *Ring) Next() (*Slot, bool) {
	s := r.slots[r.cursor]
	r.cursor = (r.cursor + 1) % uint32(len(r.slots))

	if !s.inFlight {
		return s, false
	}
	status, err := s.fence.Status()
	if err == nil && status == gpu.FenceStatusComplete {
		s.inFlight = false
		return s, false
	}
	return s, true
}

// Acquire is Next followed by the blocking wait when one is required. A wait
// longer than timeout means the GPU is hung; the error matches both
// core.ErrFenceTimeout and core.ErrDeviceLost. The cursor is never moved back.
func (r *Ring) Acquire(timeout time.Duration) (*Slot, error) {
	s, waitRequired := r.Next()
	if !waitRequired {
		return s, nil
	}
	r.stalls++
	if err := s.fence.Wait(timeout); err != nil {
		if errors.Is(err, core.ErrFenceTimeout) {
			return nil, fmt.Errorf("%w: slot %d frame %d: %w", core.ErrDeviceLost, s.index, s.frame, err)
		}
		return nil, fmt.Errorf("slot %d frame %d: %w", s.index, s.frame, err)
	}
	s.inFlight = false
	return s, nil
}

// Destroy releases every slot. The queue must be idle.
func (r *Ring) Destroy() {
	for _, s := range r.slots {
		s.destroy()
	}
	r.slots = nil
}
