package surface_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
	"github.com/spaghettifunk/inflight/engine/renderer/simulated"
	"github.com/spaghettifunk/inflight/engine/renderer/surface"
)

func init() {
	core.SetLogOutput(io.Discard)
}

type window struct{}

func (window) FramebufferSize() (uint32, uint32) { return 100, 100 }

func newManager(t *testing.T) (*simulated.Device, gpu.Queue, *surface.Manager) {
	t.Helper()
	dev := simulated.New(simulated.Options{})
	q, err := dev.CreateQueue(gpu.QueueTypeGraphics)
	require.NoError(t, err)
	return dev, q, surface.New(dev, q)
}

func TestCreateFailures(t *testing.T) {
	dev, _, m := newManager(t)
	defer dev.Destroy()

	assert.ErrorIs(t, m.Create(nil, 100, 100, true), core.ErrSurfaceCreation)

	dev.FailSwapchainCreation(1)
	err := m.Create(window{}, 100, 100, true)
	assert.ErrorIs(t, err, core.ErrSurfaceCreation)
	assert.True(t, core.IsFatal(err))
	assert.Nil(t, m.Swapchain())
}

func TestCreateUsesRecommendedImageCount(t *testing.T) {
	dev, _, m := newManager(t)
	defer dev.Destroy()

	require.NoError(t, m.Create(window{}, 100, 100, false))
	sc := m.Swapchain()
	assert.Equal(t, dev.RecommendedSwapchainImageCount(false), sc.ImageCount())
	assert.Equal(t, gpu.FormatB8G8R8A8Srgb, sc.Format())
	assert.False(t, m.NeedsRecreate())
	m.Destroy()
}

func TestRecreateIdlesQueueOnce(t *testing.T) {
	dev, _, m := newManager(t)
	defer dev.Destroy()
	require.NoError(t, m.Create(window{}, 100, 100, true))

	m.SetImageCount(12)
	assert.True(t, m.NeedsRecreate())
	require.NoError(t, m.Recreate())

	st := dev.Stats()
	assert.Equal(t, uint64(1), st.WaitIdles)
	assert.Equal(t, uint64(2), st.SwapchainCreates)
	// clamped to the supported maximum
	assert.Equal(t, uint32(8), m.Swapchain().ImageCount())
	assert.Equal(t, uint32(2), m.Generation())
	m.Destroy()
}

func TestResizeToZeroDefersRebuild(t *testing.T) {
	dev, _, m := newManager(t)
	defer dev.Destroy()
	require.NoError(t, m.Create(window{}, 100, 100, true))

	m.Resize(0, 0)
	assert.False(t, m.HasArea())
	assert.ErrorIs(t, m.Recreate(), core.ErrConfiguration)
	assert.True(t, m.NeedsRecreate())
	assert.Nil(t, m.Swapchain())

	m.Resize(50, 40)
	require.NoError(t, m.Recreate())
	w, h := m.Size()
	assert.Equal(t, uint32(50), w)
	assert.Equal(t, uint32(40), h)
	m.Destroy()
}

func TestAcquireFlagsOutOfDate(t *testing.T) {
	dev, _, m := newManager(t)
	defer dev.Destroy()
	require.NoError(t, m.Create(window{}, 100, 100, true))
	sem, err := dev.CreateSemaphore()
	require.NoError(t, err)

	dev.InvalidateSwapchains()
	_, _, err = m.AcquireNext(sem)
	assert.ErrorIs(t, err, core.ErrSurfaceOutOfDate)
	assert.True(t, m.NeedsRecreate())
	m.Destroy()
}

func TestColorSpaceChangeRebuildsWithHDRFormat(t *testing.T) {
	dev, _, m := newManager(t)
	defer dev.Destroy()
	require.NoError(t, m.Create(window{}, 100, 100, true))

	m.SetColorSpace(gpu.ColorSpaceHDR10)
	assert.True(t, m.NeedsRecreate())
	require.NoError(t, m.Recreate())
	assert.Equal(t, gpu.FormatA2B10G10R10Unorm, m.Swapchain().Format())

	gen := m.Generation()
	m.SetColorSpace(gpu.ColorSpaceHDR10)
	assert.False(t, m.NeedsRecreate())
	assert.Equal(t, gen, m.Generation())
	m.Destroy()
}
