package vulkan

import (
	"errors"
	gomath "math"
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

func TestResultErrorTaxonomy(t *testing.T) {
	assert.NoError(t, resultError(vk.Success, "op"))

	cases := []struct {
		result vk.Result
		want   error
	}{
		{vk.ErrorDeviceLost, core.ErrDeviceLost},
		{vk.ErrorOutOfDate, core.ErrSurfaceOutOfDate},
		{vk.Suboptimal, core.ErrSurfaceOutOfDate},
		{vk.Timeout, core.ErrFenceTimeout},
		{vk.ErrorSurfaceLost, core.ErrSurfaceCreation},
		{vk.ErrorOutOfDeviceMemory, core.ErrDeviceError},
	}
	for _, c := range cases {
		err := resultError(c.result, "vkQueuePresentKHR")
		require.Error(t, err)
		assert.Truef(t, errors.Is(err, c.want), "%s should map to %v, got %v", VulkanResultString(c.result), c.want, err)
	}

	assert.True(t, core.IsRecoverable(resultError(vk.ErrorOutOfDate, "acquire")))
	assert.True(t, core.IsFatal(resultError(vk.ErrorDeviceLost, "submit")))
}

func TestChoosePresentMode(t *testing.T) {
	all := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate, vk.PresentModeMailbox}

	assert.Equal(t, vk.PresentModeFifo, choosePresentMode(all, true))
	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode(all, false))
	assert.Equal(t, vk.PresentModeImmediate, choosePresentMode([]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate}, false))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode([]vk.PresentMode{vk.PresentModeFifo}, false))
}

func TestChooseImageCount(t *testing.T) {
	caps := vk.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 3}
	assert.Equal(t, uint32(2), chooseImageCount(caps, 1))
	assert.Equal(t, uint32(3), chooseImageCount(caps, 3))
	assert.Equal(t, uint32(3), chooseImageCount(caps, 8))

	unbounded := vk.SurfaceCapabilities{MinImageCount: 2}
	assert.Equal(t, uint32(8), chooseImageCount(unbounded, 8))
}

func TestChooseExtent(t *testing.T) {
	fixed := vk.SurfaceCapabilities{CurrentExtent: vk.Extent2D{Width: 800, Height: 600}}
	assert.Equal(t, vk.Extent2D{Width: 800, Height: 600}, chooseExtent(fixed, 1920, 1080))

	free := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: gomath.MaxUint32, Height: gomath.MaxUint32},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 2048},
	}
	assert.Equal(t, vk.Extent2D{Width: 1280, Height: 720}, chooseExtent(free, 1280, 720))
	assert.Equal(t, vk.Extent2D{Width: 4096, Height: 2048}, chooseExtent(free, 8000, 4000))
}

func TestPickSwapchainFormat(t *testing.T) {
	sdr := []vk.SurfaceFormat{
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	assert.Equal(t, gpu.FormatB8G8R8A8Srgb, pickSwapchainFormat(sdr, gpu.ColorSpaceSRGBNonlinear))
	// HDR10 not offered by the surface
	assert.Equal(t, gpu.FormatB8G8R8A8Srgb, pickSwapchainFormat(sdr, gpu.ColorSpaceHDR10))

	hdr := append(sdr, vk.SurfaceFormat{Format: vk.FormatA2b10g10r10UnormPack32, ColorSpace: vk.ColorSpaceHdr10St2084})
	assert.Equal(t, gpu.FormatA2B10G10R10Unorm, pickSwapchainFormat(hdr, gpu.ColorSpaceHDR10))

	assert.Equal(t, gpu.FormatB8G8R8A8Srgb, pickSwapchainFormat(nil, gpu.ColorSpaceSRGBNonlinear))
}

func TestFormatMapping(t *testing.T) {
	for _, f := range []gpu.Format{
		gpu.FormatB8G8R8A8Unorm,
		gpu.FormatB8G8R8A8Srgb,
		gpu.FormatR8G8B8A8Unorm,
		gpu.FormatA2B10G10R10Unorm,
	} {
		assert.Equal(t, f, fromVkFormat(toVkFormat(f)))
	}
	assert.Equal(t, vk.FormatUndefined, toVkFormat(gpu.FormatUndefined))
}

func TestBarrierScope(t *testing.T) {
	layout, access, stage := barrierScope(gpu.ResourceStatePresent, true)
	assert.Equal(t, vk.ImageLayoutPresentSrc, layout)
	assert.Zero(t, access)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), stage)

	layout, access, _ = barrierScope(gpu.ResourceStateRenderTarget, false)
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, layout)
	assert.NotZero(t, access&vk.AccessFlags(vk.AccessColorAttachmentWriteBit))

	_, _, stage = barrierScope(gpu.ResourceStatePresent, false)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), stage)

	layout, _, _ = barrierScope(gpu.ResourceStateUndefined, true)
	assert.Equal(t, vk.ImageLayoutUndefined, layout)
}

func TestSwapchainFirstUse(t *testing.T) {
	sc := &VulkanSwapchain{used: make([]bool, 2)}
	assert.True(t, sc.firstUse(0))
	assert.False(t, sc.firstUse(0))
	assert.True(t, sc.firstUse(1))
}

func TestCommandBufferMisuse(t *testing.T) {
	cb := &VulkanCommandBuffer{State: COMMAND_BUFFER_STATE_READY}
	// Not recording: commands are refused without touching the driver.
	cb.Draw(3, 0)
	cb.SetViewport(gpu.Viewport{Width: 1, Height: 1})

	err := cb.End()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRecording)
	assert.Contains(t, err.Error(), "Draw outside of Begin/End")

	cb.reset()
	assert.Empty(t, cb.misuse)
	assert.Equal(t, COMMAND_BUFFER_STATE_READY, cb.State)
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))

	in := []string{"a", "b"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"a\x00", "b\x00"}, out)
	assert.Equal(t, []string{"a", "b"}, in)

	name := make([]byte, 16)
	copy(name, "llvmpipe")
	assert.Equal(t, "llvmpipe", cString(name))
}

func TestLockPoolSerialisesQueueFamily(t *testing.T) {
	pool := NewVulkanLockPool()
	pool.SetQueueFamily(0)

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeQueueCall(0, func() error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)

	want := errors.New("boom")
	assert.Equal(t, want, pool.SafeCall(SwapchainManagement, func() error { return want }))
}
