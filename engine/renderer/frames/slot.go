package frames

import (
	"fmt"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

// Slot is the set of submission resources owned by one frame in flight.
type Slot struct {
	index     uint32
	pool      gpu.CommandPool
	cmds      []gpu.CommandBuffer
	fence     gpu.Fence
	semaphore gpu.Semaphore

	// submitted and completion not observed yet
	inFlight bool
	// fence was handed to a submission since the last Reset
	fenceUsed bool
	frame     uint64
}

func newSlot(device gpu.Device, queue gpu.Queue, index uint32, cmdCount int) (*Slot, error) {
	s := &Slot{index: index}
	var err error
	if s.pool, err = device.CreateCommandPool(queue); err != nil {
		return nil, fmt.Errorf("slot %d: command pool: %w", index, err)
	}
	s.cmds = make([]gpu.CommandBuffer, cmdCount)
	for i := range s.cmds {
		if s.cmds[i], err = s.pool.AllocateCommandBuffer(); err != nil {
			s.destroy()
			return nil, fmt.Errorf("slot %d: command buffer %d: %w", index, i, err)
		}
	}
	if s.fence, err = device.CreateFence(); err != nil {
		s.destroy()
		return nil, fmt.Errorf("slot %d: fence: %w", index, err)
	}
	if s.semaphore, err = device.CreateSemaphore(); err != nil {
		s.destroy()
		return nil, fmt.Errorf("slot %d: semaphore: %w", index, err)
	}
	return s, nil
}

// Index is the slot's position in its ring.
func (s *Slot) Index() uint32 {
	return s.index
}

// CommandBuffer returns the i-th command buffer of the slot.
func (s *Slot) CommandBuffer(i int) gpu.CommandBuffer {
	return s.cmds[i]
}

func (s *Slot) CommandBuffers() []gpu.CommandBuffer {
	return s.cmds
}

// Fence is signaled when the slot's last submission completes.
func (s *Slot) Fence() gpu.Fence {
	return s.fence
}

// Semaphore is signaled by the slot's submission for the work that follows it.
func (s *Slot) Semaphore() gpu.Semaphore {
	return s.semaphore
}

// Frame is the frame number of the last submission made from this slot.
func (s *Slot) Frame() uint64 {
	return s.frame
}

// InFlight reports a submission whose fence has not been observed signaled.
func (s *Slot) InFlight() bool {
	return s.inFlight
}

// Reset recycles the command pool and the fence. The GPU must be done with the
// slot: calling Reset on a slot whose fence has not signaled fails with
// core.ErrResourceInUse and leaves the slot untouched.
func (s *Slot) Reset() error {
	if s.inFlight {
		status, err := s.fence.Status()
		if err != nil {
			return err
		}
		if status != gpu.FenceStatusComplete {
			return fmt.Errorf("%w: slot %d (frame %d)", core.ErrResourceInUse, s.index, s.frame)
		}
		s.inFlight = false
	}
	if s.fenceUsed {
		if err := s.fence.Reset(); err != nil {
			return err
		}
		s.fenceUsed = false
	}
	return s.pool.Reset()
}

// MarkSubmitted records that the slot's command buffers were submitted with its
// fence for the given frame.
func (s *Slot) MarkSubmitted(frame uint64) {
	s.inFlight = true
	s.fenceUsed = true
	s.frame = frame
}

func (s *Slot) destroy() {
	if s.semaphore != nil {
		s.semaphore.Destroy()
	}
	if s.fence != nil {
		s.fence.Destroy()
	}
	if s.pool != nil {
		s.pool.Destroy()
	}
}
