package systems

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/frames"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

// maxInlineUpload is the largest payload a single buffer update may carry.
const maxInlineUpload = 65536

// UploadRequest asks for Load's bytes to be written into Dst at Offset.
type UploadRequest struct {
	Name   string
	Dst    gpu.Buffer
	Offset uint64
	// Load runs on a job worker.
	Load func() ([]byte, error)
}

type preparedUpload struct {
	name   string
	dst    gpu.Buffer
	offset uint64
	data   []byte
}

type StreamingSystemConfig struct {
	// Depth is the number of upload batches that may be in flight.
	Depth        uint32
	FenceTimeout time.Duration
}

// StreamingSystem prepares uploads on the job system and submits them in
// batches from its own frame ring. The frame loop calls Flush right before its
// submit and waits on the semaphore it gets back.
type StreamingSystem struct {
	queue   gpu.Queue
	jobs    *JobSystem
	ring    *frames.Ring
	timeout time.Duration

	mu      sync.Mutex
	ready   []preparedUpload
	failed  []error
	loading sync.WaitGroup

	batches uint64
	uploads uint64
}

func NewStreamingSystem(config *StreamingSystemConfig, device gpu.Device, queue gpu.Queue, jobs *JobSystem) (*StreamingSystem, error) {
	depth := config.Depth
	if depth == 0 {
		depth = 2
	}
	ring, err := frames.NewRing(device, queue, depth, 1)
	if err != nil {
		return nil, err
	}
	timeout := config.FenceTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StreamingSystem{
		queue:   queue,
		jobs:    jobs,
		ring:    ring,
		timeout: timeout,
	}, nil
}

// Upload prepares req in the background. The write reaches the GPU with the
// first Flush after Load returns.
func (s *StreamingSystem) Upload(req UploadRequest) {
	s.loading.Add(1)
	s.jobs.Submit(JobTask{
		Name:  req.Name,
		Input: req,
		OnStart: func(input interface{}) (interface{}, error) {
			r := input.(UploadRequest)
			data, err := r.Load()
			if err != nil {
				return nil, err
			}
			if len(data) > maxInlineUpload {
				return nil, fmt.Errorf("%w: upload %s is %d bytes, limit is %d", core.ErrConfiguration, r.Name, len(data), maxInlineUpload)
			}
			if r.Offset+uint64(len(data)) > r.Dst.Size() {
				return nil, fmt.Errorf("%w: upload %s overflows its buffer", core.ErrConfiguration, r.Name)
			}
			return preparedUpload{name: r.Name, dst: r.Dst, offset: r.Offset, data: data}, nil
		},
		OnComplete: func(result interface{}) {
			s.mu.Lock()
			s.ready = append(s.ready, result.(preparedUpload))
			s.mu.Unlock()
			s.loading.Done()
		},
		OnFailure: func(err error) {
			s.mu.Lock()
			s.failed = append(s.failed, err)
			s.mu.Unlock()
			s.loading.Done()
		},
	})
}

// WaitLoaded blocks until every Upload so far has been prepared or has failed.
func (s *StreamingSystem) WaitLoaded() {
	s.loading.Wait()
}

// Failures returns and clears the errors of uploads that could not be prepared.
func (s *StreamingSystem) Failures() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.failed
	s.failed = nil
	return f
}

// Flush records every prepared upload into the next slot of the streaming ring
// and submits it. It returns the semaphore signaled when the batch is done, or
// nil when nothing was ready.
func (s *StreamingSystem) Flush(nodeIndex uint32) (gpu.Semaphore, error) {
	if nodeIndex != 0 {
		return nil, fmt.Errorf("%w: node %d, only node 0 exists", core.ErrConfiguration, nodeIndex)
	}
	s.mu.Lock()
	batch := s.ready
	s.ready = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil, nil
	}

	slot, err := s.ring.Acquire(s.timeout)
	if err != nil {
		return nil, s.requeue(batch, err)
	}
	if err := slot.Reset(); err != nil {
		return nil, s.requeue(batch, err)
	}
	cmd := slot.CommandBuffer(0)
	if err := cmd.Begin(); err != nil {
		return nil, s.requeue(batch, err)
	}
	for _, u := range batch {
		cmd.BufferBarrier(u.dst, gpu.ResourceStateShaderResource, gpu.ResourceStateCopyDest)
		cmd.UpdateBuffer(u.dst, u.offset, u.data)
		cmd.BufferBarrier(u.dst, gpu.ResourceStateCopyDest, gpu.ResourceStateShaderResource)
	}
	if err := cmd.End(); err != nil {
		return nil, s.requeue(batch, err)
	}
	if err := s.queue.Submit(&gpu.SubmitDesc{
		CommandBuffers:   slot.CommandBuffers(),
		SignalSemaphores: []gpu.Semaphore{slot.Semaphore()},
		SignalFence:      slot.Fence(),
	}); err != nil {
		return nil, s.requeue(batch, err)
	}
	slot.MarkSubmitted(s.batches)
	s.batches++
	s.uploads += uint64(len(batch))
	core.LogDebug("streamed %d uploads in batch %d", len(batch), s.batches)
	return slot.Semaphore(), nil
}

// requeue puts an unsubmitted batch back in front of the uploads that became
// ready meanwhile, so the next Flush retries it in order.
func (s *StreamingSystem) requeue(batch []preparedUpload, err error) error {
	s.mu.Lock()
	s.ready = append(batch, s.ready...)
	s.mu.Unlock()
	core.LogWarn("upload batch of %d not submitted, retrying next flush: %s", len(batch), err)
	return err
}

// Pending returns the number of prepared uploads waiting for a Flush.
func (s *StreamingSystem) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}

// Stats returns the number of submitted batches and uploads.
func (s *StreamingSystem) Stats() (batches, uploads uint64) {
	return s.batches, s.uploads
}

// Shutdown releases the streaming ring. The queue must be idle.
func (s *StreamingSystem) Shutdown() error {
	s.loading.Wait()
	s.ring.Destroy()
	return nil
}
