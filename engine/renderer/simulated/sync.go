package simulated

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type Fence struct {
	dev       *Device
	id        uuid.UUID
	done      chan struct{}
	signaled  bool
	pending   bool
	destroyed bool
}

func (f *Fence) String() string {
	return "fence-" + f.id.String()[:8]
}

func (f *Fence) Status() (gpu.FenceStatus, error) {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	if f.dev.lost {
		return gpu.FenceStatusIncomplete, fmt.Errorf("%w: status of %s", core.ErrDeviceLost, f)
	}
	if f.signaled {
		return gpu.FenceStatusComplete, nil
	}
	return gpu.FenceStatusIncomplete, nil
}

func (f *Fence) Wait(timeout time.Duration) error {
	f.dev.mu.Lock()
	if f.dev.lost {
		f.dev.mu.Unlock()
		return fmt.Errorf("%w: wait on %s", core.ErrDeviceLost, f)
	}
	done := f.done
	lost := f.dev.lostCh
	f.dev.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-lost:
		return fmt.Errorf("%w: wait on %s", core.ErrDeviceLost, f)
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", core.ErrFenceTimeout, f, timeout)
	}
}

func (f *Fence) Reset() error {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	if f.pending {
		return fmt.Errorf("%w: %s is attached to a running submission", core.ErrResourceInUse, f)
	}
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
	return nil
}

func (f *Fence) Destroy() {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	if f.pending && !f.dev.lost {
		panic(fmt.Sprintf("simulated: %s destroyed while in flight", f))
	}
	f.destroyed = true
}

func (f *Fence) signalLocked() {
	f.pending = false
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

// signalOp is one pending signal of a binary semaphore. Each wait consumes the
// oldest unconsumed signal of the semaphore it names.
type signalOp struct {
	sem        *Semaphore
	done       bool
	submission uint64
}

type Semaphore struct {
	dev       *Device
	id        uuid.UUID
	unpaired  []*signalOp
	waiters   int
	destroyed bool
}

func (s *Semaphore) String() string {
	return "semaphore-" + s.id.String()[:8]
}

func (s *Semaphore) Destroy() {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.lost {
		s.destroyed = true
		return
	}
	if s.waiters > 0 {
		panic(fmt.Sprintf("simulated: %s destroyed while %d waits are in flight", s, s.waiters))
	}
	for _, op := range s.unpaired {
		if !op.done {
			panic(fmt.Sprintf("simulated: %s destroyed before its pending signal", s))
		}
	}
	s.destroyed = true
}

// pairWaitsLocked binds every semaphore of waits to its oldest unconsumed signal.
// Nothing is consumed when one of them has no signal to wait on.
func pairWaitsLocked(waits []gpu.Semaphore) ([]*signalOp, error) {
	need := make(map[*Semaphore]int, len(waits))
	sems := make([]*Semaphore, 0, len(waits))
	for _, w := range waits {
		s, ok := w.(*Semaphore)
		if !ok || s == nil {
			return nil, fmt.Errorf("%w: wait on foreign semaphore %T", core.ErrDeviceError, w)
		}
		if s.destroyed {
			return nil, fmt.Errorf("%w: wait on destroyed %s", core.ErrDeviceError, s)
		}
		need[s]++
		if need[s] > len(s.unpaired) {
			return nil, fmt.Errorf("%w: wait on %s with no pending signal", core.ErrDeviceError, s)
		}
		sems = append(sems, s)
	}
	ops := make([]*signalOp, 0, len(sems))
	for _, s := range sems {
		op := s.unpaired[0]
		s.unpaired = s.unpaired[1:]
		s.waiters++
		ops = append(ops, op)
	}
	return ops, nil
}

func signalLocked(signals []gpu.Semaphore, submission uint64) ([]*signalOp, error) {
	ops := make([]*signalOp, 0, len(signals))
	for _, sig := range signals {
		s, ok := sig.(*Semaphore)
		if !ok || s == nil || s.destroyed {
			return nil, fmt.Errorf("%w: signal of invalid semaphore %T", core.ErrDeviceError, sig)
		}
		ops = append(ops, &signalOp{sem: s, submission: submission})
	}
	for _, op := range ops {
		op.sem.unpaired = append(op.sem.unpaired, op)
	}
	return ops, nil
}
