package vulkan

import (
	"fmt"
	gomath "math"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/math"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type swapchainSupport struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func querySwapchainSupport(pd vk.PhysicalDevice, surface vk.Surface) (*swapchainSupport, error) {
	info := &swapchainSupport{}
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &info.capabilities); res != vk.Success {
		return nil, resultError(res, "vkGetPhysicalDeviceSurfaceCapabilitiesKHR")
	}
	info.capabilities.Deref()
	info.capabilities.CurrentExtent.Deref()
	info.capabilities.MinImageExtent.Deref()
	info.capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, nil); res != vk.Success {
		return nil, resultError(res, "vkGetPhysicalDeviceSurfaceFormatsKHR")
	}
	if formatCount != 0 {
		info.formats = make([]vk.SurfaceFormat, formatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, info.formats); res != vk.Success {
			return nil, resultError(res, "vkGetPhysicalDeviceSurfaceFormatsKHR")
		}
		for i := range info.formats {
			info.formats[i].Deref()
		}
	}

	var modeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &modeCount, nil); res != vk.Success {
		return nil, resultError(res, "vkGetPhysicalDeviceSurfacePresentModesKHR")
	}
	if modeCount != 0 {
		info.presentModes = make([]vk.PresentMode, modeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &modeCount, info.presentModes); res != vk.Success {
			return nil, resultError(res, "vkGetPhysicalDeviceSurfacePresentModesKHR")
		}
	}
	return info, nil
}

func toVkFormat(f gpu.Format) vk.Format {
	switch f {
	case gpu.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case gpu.FormatB8G8R8A8Srgb:
		return vk.FormatB8g8r8a8Srgb
	case gpu.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case gpu.FormatA2B10G10R10Unorm:
		return vk.FormatA2b10g10r10UnormPack32
	}
	return vk.FormatUndefined
}

func fromVkFormat(f vk.Format) gpu.Format {
	switch f {
	case vk.FormatB8g8r8a8Unorm:
		return gpu.FormatB8G8R8A8Unorm
	case vk.FormatB8g8r8a8Srgb:
		return gpu.FormatB8G8R8A8Srgb
	case vk.FormatR8g8b8a8Unorm:
		return gpu.FormatR8G8B8A8Unorm
	case vk.FormatA2b10g10r10UnormPack32:
		return gpu.FormatA2B10G10R10Unorm
	}
	return gpu.FormatUndefined
}

func toVkColorSpace(cs gpu.ColorSpace) vk.ColorSpace {
	if cs == gpu.ColorSpaceHDR10 {
		return vk.ColorSpaceHdr10St2084
	}
	return vk.ColorSpaceSrgbNonlinear
}

// pickSwapchainFormat prefers a 10 bit HDR10 surface when asked for one, then
// sRGB BGRA, then whatever the surface lists first.
func pickSwapchainFormat(formats []vk.SurfaceFormat, cs gpu.ColorSpace) gpu.Format {
	has := func(f vk.Format, space vk.ColorSpace) bool {
		for _, sf := range formats {
			if sf.Format == f && sf.ColorSpace == space {
				return true
			}
		}
		return false
	}
	if cs == gpu.ColorSpaceHDR10 && has(vk.FormatA2b10g10r10UnormPack32, vk.ColorSpaceHdr10St2084) {
		return gpu.FormatA2B10G10R10Unorm
	}
	for _, f := range []vk.Format{vk.FormatB8g8r8a8Srgb, vk.FormatB8g8r8a8Unorm, vk.FormatR8g8b8a8Unorm} {
		if has(f, vk.ColorSpaceSrgbNonlinear) {
			return fromVkFormat(f)
		}
	}
	if len(formats) > 0 {
		if f := fromVkFormat(formats[0].Format); f != gpu.FormatUndefined {
			return f
		}
	}
	return gpu.FormatB8G8R8A8Srgb
}

// choosePresentMode uses FIFO for vsync. Without vsync it takes mailbox, then
// immediate, and falls back to FIFO which every surface supports.
func choosePresentMode(modes []vk.PresentMode, vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	for _, want := range []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeImmediate} {
		for _, m := range modes {
			if m == want {
				return m
			}
		}
	}
	return vk.PresentModeFifo
}

func chooseExtent(caps vk.SurfaceCapabilities, width, height uint32) vk.Extent2D {
	if caps.CurrentExtent.Width != gomath.MaxUint32 {
		return caps.CurrentExtent
	}
	w, h := math.ClampExtent(width, height,
		caps.MinImageExtent.Width, caps.MinImageExtent.Height,
		caps.MaxImageExtent.Width, caps.MaxImageExtent.Height)
	return vk.Extent2D{Width: w, Height: h}
}

// chooseImageCount honours the requested count within the surface limits. A
// MaxImageCount of 0 means no upper limit.
func chooseImageCount(caps vk.SurfaceCapabilities, requested uint32) uint32 {
	count := requested
	if count < caps.MinImageCount {
		count = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

type VulkanSwapchain struct {
	device *Device
	Handle vk.Swapchain

	format      gpu.Format
	vkFormat    vk.Format
	extent      vk.Extent2D
	presentMode vk.PresentMode
	vsync       bool

	images       []vk.Image
	views        []vk.ImageView
	framebuffers []*VulkanFramebuffer
	targets      []*renderTarget

	mu sync.Mutex
	// images that have been transitioned at least once
	used []bool
}

func (d *Device) CreateSwapchain(desc *gpu.SwapchainDesc) (gpu.Swapchain, error) {
	var out *VulkanSwapchain
	err := d.locks.SafeCall(SwapchainManagement, func() error {
		sc, err := d.createSwapchain(desc)
		out = sc
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Device) createSwapchain(desc *gpu.SwapchainDesc) (*VulkanSwapchain, error) {
	support, err := querySwapchainSupport(d.physical, d.surface)
	if err != nil {
		return nil, err
	}
	extent := chooseExtent(support.capabilities, desc.Width, desc.Height)
	if extent.Width == 0 || extent.Height == 0 {
		return nil, fmt.Errorf("%w: surface extent is %dx%d", core.ErrConfiguration, extent.Width, extent.Height)
	}

	format := desc.Format
	if format == gpu.FormatUndefined {
		format = pickSwapchainFormat(support.formats, desc.ColorSpace)
	}
	colorSpace := desc.ColorSpace
	if format != gpu.FormatA2B10G10R10Unorm {
		colorSpace = gpu.ColorSpaceSRGBNonlinear
	}
	sc := &VulkanSwapchain{
		device:      d,
		format:      format,
		vkFormat:    toVkFormat(format),
		extent:      extent,
		presentMode: choosePresentMode(support.presentModes, desc.VSync),
		vsync:       desc.VSync,
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    chooseImageCount(support.capabilities, desc.ImageCount),
		ImageFormat:      sc.vkFormat,
		ImageColorSpace:  toVkColorSpace(colorSpace),
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     support.capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      sc.presentMode,
		Clipped:          vk.True,
	}
	if d.families.graphics != d.families.present {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{d.families.graphics, d.families.present}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var swapchainHandle vk.Swapchain
	if res := vk.CreateSwapchain(d.logical, &swapchainCreateInfo, d.allocator, &swapchainHandle); res != vk.Success {
		return nil, resultError(res, "vkCreateSwapchainKHR")
	}
	sc.Handle = swapchainHandle

	var imageCount uint32
	if res := vk.GetSwapchainImages(d.logical, sc.Handle, &imageCount, nil); res != vk.Success {
		sc.Destroy()
		return nil, resultError(res, "vkGetSwapchainImagesKHR")
	}
	sc.images = make([]vk.Image, imageCount)
	if res := vk.GetSwapchainImages(d.logical, sc.Handle, &imageCount, sc.images); res != vk.Success {
		sc.Destroy()
		return nil, resultError(res, "vkGetSwapchainImagesKHR")
	}
	sc.used = make([]bool, imageCount)

	rp, err := d.renderPass(sc.vkFormat, gpu.LoadActionClear)
	if err != nil {
		sc.Destroy()
		return nil, err
	}
	for i, image := range sc.images {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    image,
			ViewType: vk.ImageViewType2d,
			Format:   sc.vkFormat,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		var view vk.ImageView
		if res := vk.CreateImageView(d.logical, &viewInfo, d.allocator, &view); res != vk.Success {
			sc.Destroy()
			return nil, resultError(res, "vkCreateImageView")
		}
		sc.views = append(sc.views, view)

		fb, err := d.createFramebuffer(rp, extent, view)
		if err != nil {
			sc.Destroy()
			return nil, err
		}
		sc.framebuffers = append(sc.framebuffers, fb)
		sc.targets = append(sc.targets, &renderTarget{swapchain: sc, index: uint32(i), image: image})
	}

	core.LogInfo("Swapchain created: %dx%d, %d images, present mode %d.", extent.Width, extent.Height, imageCount, sc.presentMode)
	return sc, nil
}

// AcquireNextImage blocks until the presentation engine hands out an image.
// A suboptimal swapchain still yields a usable image; the following present
// reports it.
func (sc *VulkanSwapchain) AcquireNextImage(signal gpu.Semaphore) (uint32, error) {
	semaphore := vk.NullSemaphore
	if signal != nil {
		s, ok := signal.(*VulkanSemaphore)
		if !ok {
			return 0, fmt.Errorf("%w: semaphore %T does not belong to this device", core.ErrConfiguration, signal)
		}
		semaphore = s.Handle
	}
	var imageIndex uint32
	res := vk.AcquireNextImage(sc.device.logical, sc.Handle, vk.MaxUint64, semaphore, vk.NullFence, &imageIndex)
	if res == vk.Success || res == vk.Suboptimal {
		return imageIndex, nil
	}
	return 0, resultError(res, "vkAcquireNextImageKHR")
}

func (sc *VulkanSwapchain) firstUse(index uint32) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.used[index] {
		return false
	}
	sc.used[index] = true
	return true
}

func (sc *VulkanSwapchain) ImageCount() uint32 {
	return uint32(len(sc.images))
}

func (sc *VulkanSwapchain) RenderTarget(index uint32) gpu.RenderTarget {
	if int(index) >= len(sc.targets) {
		return nil
	}
	return sc.targets[index]
}

func (sc *VulkanSwapchain) Format() gpu.Format {
	return sc.format
}

func (sc *VulkanSwapchain) VSync() bool {
	return sc.vsync
}

func (sc *VulkanSwapchain) Width() uint32 {
	return sc.extent.Width
}

func (sc *VulkanSwapchain) Height() uint32 {
	return sc.extent.Height
}

// Destroy releases the framebuffers, views and the swapchain. The images are
// owned by the swapchain. The caller must have idled the queues.
func (sc *VulkanSwapchain) Destroy() {
	d := sc.device
	for _, fb := range sc.framebuffers {
		fb.destroy(d)
	}
	sc.framebuffers = nil
	for _, view := range sc.views {
		vk.DestroyImageView(d.logical, view, d.allocator)
	}
	sc.views = nil
	sc.targets = nil
	if sc.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(d.logical, sc.Handle, d.allocator)
		sc.Handle = vk.NullSwapchain
	}
}

type renderTarget struct {
	swapchain *VulkanSwapchain
	index     uint32
	image     vk.Image
}

func (rt *renderTarget) Index() uint32 {
	return rt.index
}

func (rt *renderTarget) Width() uint32 {
	return rt.swapchain.extent.Width
}

func (rt *renderTarget) Height() uint32 {
	return rt.swapchain.extent.Height
}
