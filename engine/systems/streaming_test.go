package systems_test

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
	"github.com/spaghettifunk/inflight/engine/renderer/simulated"
	"github.com/spaghettifunk/inflight/engine/systems"
)

func init() {
	core.SetLogOutput(io.Discard)
}

func TestJobSystemRunsCallbacks(t *testing.T) {
	js, err := systems.NewJobSystem(2, 4)
	require.NoError(t, err)

	results := make(chan interface{}, 2)
	js.Submit(systems.JobTask{
		Name:       "double",
		Input:      21,
		OnStart:    func(in interface{}) (interface{}, error) { return in.(int) * 2, nil },
		OnComplete: func(r interface{}) { results <- r },
	})
	js.Submit(systems.JobTask{
		Name:      "broken",
		OnStart:   func(interface{}) (interface{}, error) { return nil, errors.New("boom") },
		OnFailure: func(err error) { results <- err },
	})
	require.NoError(t, js.Shutdown())
	close(results)

	var got []interface{}
	for r := range results {
		got = append(got, r)
	}
	assert.Len(t, got, 2)
	assert.Contains(t, got, 42)

	_, err = systems.NewJobSystem(0, 1)
	assert.ErrorIs(t, err, systems.ErrNoWorkers)
}

func TestStreamingFlush(t *testing.T) {
	dev := simulated.New(simulated.Options{})
	q, err := dev.CreateQueue(gpu.QueueTypeGraphics)
	require.NoError(t, err)
	sm, err := systems.NewSystemManager(dev, q, time.Second)
	require.NoError(t, err)
	ss := sm.StreamingSystem

	sem, err := ss.Flush(0)
	require.NoError(t, err)
	assert.Nil(t, sem)

	buf, err := dev.CreateBuffer(8)
	require.NoError(t, err)
	ss.Upload(systems.UploadRequest{
		Name:   "palette",
		Dst:    buf,
		Offset: 4,
		Load:   func() ([]byte, error) { return []byte{1, 2, 3, 4}, nil },
	})
	ss.Upload(systems.UploadRequest{
		Name: "too big",
		Dst:  buf,
		Load: func() ([]byte, error) { return make([]byte, 16), nil },
	})
	ss.WaitLoaded()
	failures := ss.Failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], core.ErrConfiguration)

	sem, err = ss.Flush(0)
	require.NoError(t, err)
	require.NotNil(t, sem)

	// a consumer waits on the batch
	pool, err := dev.CreateCommandPool(q)
	require.NoError(t, err)
	cmd, err := pool.AllocateCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, cmd.Begin())
	require.NoError(t, cmd.End())
	require.NoError(t, q.Submit(&gpu.SubmitDesc{
		CommandBuffers: []gpu.CommandBuffer{cmd},
		WaitSemaphores: []gpu.Semaphore{sem},
	}))
	require.NoError(t, q.WaitIdle())

	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, buf.(*simulated.Buffer).Bytes())
	batches, uploads := ss.Stats()
	assert.Equal(t, uint64(1), batches)
	assert.Equal(t, uint64(1), uploads)

	_, err = ss.Flush(1)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	pool.Destroy()
	require.NoError(t, sm.Shutdown())
	dev.Destroy()
}

func TestStreamingFlushKeepsBatchOnRecordingFailure(t *testing.T) {
	dev := simulated.New(simulated.Options{})
	q, err := dev.CreateQueue(gpu.QueueTypeGraphics)
	require.NoError(t, err)
	sm, err := systems.NewSystemManager(dev, q, time.Second)
	require.NoError(t, err)
	ss := sm.StreamingSystem

	buf, err := dev.CreateBuffer(4)
	require.NoError(t, err)
	ss.Upload(systems.UploadRequest{
		Name: "palette",
		Dst:  buf,
		Load: func() ([]byte, error) { return []byte{9, 8, 7, 6}, nil },
	})
	ss.WaitLoaded()
	require.Equal(t, 1, ss.Pending())

	dev.FailRecording(1)
	sem, err := ss.Flush(0)
	require.ErrorIs(t, err, core.ErrRecording)
	assert.Nil(t, sem)
	assert.Equal(t, 1, ss.Pending())
	assert.Empty(t, ss.Failures())
	batches, _ := ss.Stats()
	assert.Zero(t, batches)

	sem, err = ss.Flush(0)
	require.NoError(t, err)
	require.NotNil(t, sem)
	assert.Zero(t, ss.Pending())
	require.NoError(t, q.WaitIdle())

	assert.Equal(t, []byte{9, 8, 7, 6}, buf.(*simulated.Buffer).Bytes())
	batches, uploads := ss.Stats()
	assert.Equal(t, uint64(1), batches)
	assert.Equal(t, uint64(1), uploads)

	require.NoError(t, sm.Shutdown())
	dev.Destroy()
}
