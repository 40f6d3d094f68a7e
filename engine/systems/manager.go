package systems

import (
	"runtime"
	"time"

	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type SystemManager struct {
	JobSystem       *JobSystem
	StreamingSystem *StreamingSystem
}

func NewSystemManager(device gpu.Device, queue gpu.Queue, fenceTimeout time.Duration) (*SystemManager, error) {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	js, err := NewJobSystem(workers, 64)
	if err != nil {
		return nil, err
	}
	ss, err := NewStreamingSystem(&StreamingSystemConfig{
		Depth:        2,
		FenceTimeout: fenceTimeout,
	}, device, queue, js)
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}
	return &SystemManager{
		JobSystem:       js,
		StreamingSystem: ss,
	}, nil
}

// Shutdown stops the workers and releases GPU resources. The queue must be idle.
func (sm *SystemManager) Shutdown() error {
	if err := sm.JobSystem.Shutdown(); err != nil {
		return err
	}
	return sm.StreamingSystem.Shutdown()
}
