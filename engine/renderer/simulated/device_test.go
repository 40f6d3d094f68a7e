package simulated_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
	"github.com/spaghettifunk/inflight/engine/renderer/simulated"
)

func init() {
	core.SetLogOutput(io.Discard)
}

type fixture struct {
	dev   *simulated.Device
	queue gpu.Queue
	pool  gpu.CommandPool
	cmd   gpu.CommandBuffer
	fence gpu.Fence
}

func newFixture(t *testing.T, mode simulated.Mode) *fixture {
	t.Helper()
	dev := simulated.New(simulated.Options{Mode: mode, Latency: time.Millisecond})
	q, err := dev.CreateQueue(gpu.QueueTypeGraphics)
	require.NoError(t, err)
	pool, err := dev.CreateCommandPool(q)
	require.NoError(t, err)
	cmd, err := pool.AllocateCommandBuffer()
	require.NoError(t, err)
	fence, err := dev.CreateFence()
	require.NoError(t, err)
	return &fixture{dev: dev, queue: q, pool: pool, cmd: cmd, fence: fence}
}

func (f *fixture) submitEmpty(t *testing.T) {
	t.Helper()
	require.NoError(t, f.cmd.Begin())
	require.NoError(t, f.cmd.End())
	require.NoError(t, f.queue.Submit(&gpu.SubmitDesc{
		CommandBuffers: []gpu.CommandBuffer{f.cmd},
		SignalFence:    f.fence,
	}))
}

func TestPoolResetRejectedWhilePending(t *testing.T) {
	f := newFixture(t, simulated.ModeManual)
	f.submitEmpty(t)

	assert.ErrorIs(t, f.pool.Reset(), core.ErrResourceInUse)
	assert.ErrorIs(t, f.fence.Reset(), core.ErrResourceInUse)

	_, err := f.dev.CompleteNext()
	require.NoError(t, err)
	status, err := f.fence.Status()
	require.NoError(t, err)
	assert.Equal(t, gpu.FenceStatusComplete, status)
	assert.NoError(t, f.pool.Reset())
	assert.NoError(t, f.fence.Reset())
	f.dev.Destroy()
}

func TestFenceWaitTimesOut(t *testing.T) {
	f := newFixture(t, simulated.ModeManual)
	f.submitEmpty(t)

	err := f.fence.Wait(5 * time.Millisecond)
	assert.ErrorIs(t, err, core.ErrFenceTimeout)

	require.NoError(t, f.queue.WaitIdle())
	assert.NoError(t, f.fence.Wait(time.Second))
	assert.Equal(t, uint64(1), f.dev.Stats().WaitIdles)
	f.dev.Destroy()
}

func TestDeviceLossWakesWaiters(t *testing.T) {
	f := newFixture(t, simulated.ModeManual)
	f.submitEmpty(t)

	errCh := make(chan error, 1)
	go func() { errCh <- f.fence.Wait(time.Minute) }()
	f.dev.Lose()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, core.ErrDeviceLost)
	case <-time.After(time.Second):
		t.Fatal("fence wait did not observe device loss")
	}
	assert.ErrorIs(t, f.queue.WaitIdle(), core.ErrDeviceLost)
	f.dev.Destroy()
}

func TestSubmitRequiresResetFence(t *testing.T) {
	f := newFixture(t, simulated.ModeImmediate)
	f.submitEmpty(t)
	require.NoError(t, f.pool.Reset())
	require.NoError(t, f.cmd.Begin())
	require.NoError(t, f.cmd.End())

	err := f.queue.Submit(&gpu.SubmitDesc{CommandBuffers: []gpu.CommandBuffer{f.cmd}, SignalFence: f.fence})
	assert.ErrorIs(t, err, core.ErrDeviceError)
	f.dev.Destroy()
}

func TestWaitWithoutSignalIsRejected(t *testing.T) {
	f := newFixture(t, simulated.ModeImmediate)
	sem, err := f.dev.CreateSemaphore()
	require.NoError(t, err)
	require.NoError(t, f.cmd.Begin())
	require.NoError(t, f.cmd.End())

	err = f.queue.Submit(&gpu.SubmitDesc{
		CommandBuffers: []gpu.CommandBuffer{f.cmd},
		WaitSemaphores: []gpu.Semaphore{sem},
	})
	assert.ErrorIs(t, err, core.ErrDeviceError)
	assert.Zero(t, f.dev.Stats().Submits)
	f.dev.Destroy()
}

func TestCommandsOutsideRecordingFailEnd(t *testing.T) {
	f := newFixture(t, simulated.ModeImmediate)
	f.cmd.Draw(3, 0)
	require.NoError(t, f.cmd.Begin())
	assert.ErrorIs(t, f.cmd.End(), core.ErrRecording)

	require.NoError(t, f.pool.Reset())
	f.dev.FailRecording(1)
	require.NoError(t, f.cmd.Begin())
	assert.ErrorIs(t, f.cmd.End(), core.ErrRecording)
	f.dev.Destroy()
}

func TestPresentationIsFIFO(t *testing.T) {
	dev := simulated.New(simulated.Options{Mode: simulated.ModeManual, ImageCount: 3})
	q, err := dev.CreateQueue(gpu.QueueTypeGraphics)
	require.NoError(t, err)
	sc, err := dev.CreateSwapchain(&gpu.SwapchainDesc{Queue: q, Width: 64, Height: 64, ImageCount: 3, VSync: true})
	require.NoError(t, err)
	acquired, err := dev.CreateSemaphore()
	require.NoError(t, err)

	var ids []uint64
	for i := 0; i < 2; i++ {
		idx, err := sc.AcquireNextImage(acquired)
		require.NoError(t, err)
		pool, err := dev.CreateCommandPool(q)
		require.NoError(t, err)
		cmd, err := pool.AllocateCommandBuffer()
		require.NoError(t, err)
		require.NoError(t, cmd.Begin())
		cmd.ResourceBarrier(sc.RenderTarget(idx), gpu.ResourceStatePresent, gpu.ResourceStateRenderTarget)
		require.NoError(t, cmd.End())
		done, err := dev.CreateSemaphore()
		require.NoError(t, err)
		require.NoError(t, q.Submit(&gpu.SubmitDesc{
			CommandBuffers:   []gpu.CommandBuffer{cmd},
			WaitSemaphores:   []gpu.Semaphore{acquired},
			SignalSemaphores: []gpu.Semaphore{done},
		}))
		require.NoError(t, q.Present(&gpu.PresentDesc{Swapchain: sc, ImageIndex: idx, WaitSemaphores: []gpu.Semaphore{done}}))
	}
	ids = dev.Pending()
	require.Len(t, ids, 2)

	require.NoError(t, dev.Complete(ids[1]))
	assert.Empty(t, dev.Displayed())
	require.NoError(t, dev.Complete(ids[0]))

	shown := dev.Displayed()
	require.Len(t, shown, 2)
	assert.Equal(t, ids[0], shown[0].Submission)
	assert.Equal(t, ids[1], shown[1].Submission)
	assert.Equal(t, []uint64{ids[1], ids[0]}, dev.CompletionOrder())
	dev.Destroy()
}

func TestAsyncModeCompletesInOrder(t *testing.T) {
	f := newFixture(t, simulated.ModeAsync)
	f.submitEmpty(t)
	require.NoError(t, f.fence.Wait(time.Second))
	require.NoError(t, f.queue.WaitIdle())
	assert.Equal(t, uint64(1), f.dev.Stats().Completions)
	f.dev.Destroy()
}

func TestSwapchainOutOfDate(t *testing.T) {
	dev := simulated.New(simulated.Options{})
	q, err := dev.CreateQueue(gpu.QueueTypeGraphics)
	require.NoError(t, err)
	sc, err := dev.CreateSwapchain(&gpu.SwapchainDesc{Queue: q, Width: 8, Height: 8, ImageCount: 2})
	require.NoError(t, err)
	sem, err := dev.CreateSemaphore()
	require.NoError(t, err)

	dev.InvalidateSwapchains()
	_, err = sc.AcquireNextImage(sem)
	assert.ErrorIs(t, err, core.ErrSurfaceOutOfDate)
	sc.Destroy()
	dev.Destroy()
}
