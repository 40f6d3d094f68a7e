// Package vulkan implements the gpu device objects on top of goki/vulkan and a
// GLFW window surface.
package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

var (
	_ gpu.Device        = (*Device)(nil)
	_ gpu.Queue         = (*Queue)(nil)
	_ gpu.Fence         = (*VulkanFence)(nil)
	_ gpu.Semaphore     = (*VulkanSemaphore)(nil)
	_ gpu.CommandPool   = (*VulkanCommandPool)(nil)
	_ gpu.CommandBuffer = (*VulkanCommandBuffer)(nil)
	_ gpu.Swapchain     = (*VulkanSwapchain)(nil)
	_ gpu.Pipeline      = (*VulkanPipeline)(nil)
	_ gpu.Buffer        = (*VulkanBuffer)(nil)
)

// WindowSystem is the platform window the device presents to.
type WindowSystem interface {
	RequiredInstanceExtensions() []string
	CreateSurface(instance interface{}) (uintptr, error)
}

type Options struct {
	ApplicationName string
	// Validation enables VK_LAYER_KHRONOS_validation and the debug report callback.
	Validation bool
}

type queueFamilies struct {
	graphics uint32
	present  uint32
	transfer uint32
}

// Device owns the instance, the window surface and the logical device.
type Device struct {
	instance  vk.Instance
	debug     vk.DebugReportCallback
	surface   vk.Surface
	physical  vk.PhysicalDevice
	logical   vk.Device
	allocator *vk.AllocationCallbacks

	properties vk.PhysicalDeviceProperties
	memory     vk.PhysicalDeviceMemoryProperties
	families   queueFamilies
	queues     map[uint32]vk.Queue

	locks        *VulkanLockPool
	renderPasses map[renderPassKey]vk.RenderPass
	validation   bool
}

// New brings up Vulkan for ws: instance, optional validation, surface,
// physical device selection and the logical device.
func New(opts Options, ws WindowSystem) (*Device, error) {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, fmt.Errorf("%w: GetInstanceProcAddress is nil", core.ErrDeviceError)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("%w: vk.Init: %w", core.ErrDeviceError, err)
	}

	d := &Device{
		queues:       make(map[uint32]vk.Queue),
		locks:        NewVulkanLockPool(),
		renderPasses: make(map[renderPassKey]vk.RenderPass),
		validation:   opts.Validation,
	}

	if err := d.createInstance(opts.ApplicationName, ws.RequiredInstanceExtensions()); err != nil {
		return nil, err
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := ws.CreateSurface(d.instance)
	if err != nil {
		d.Destroy()
		return nil, fmt.Errorf("%w: %w", core.ErrSurfaceCreation, err)
	}
	d.surface = vk.SurfaceFromPointer(surface)

	if err := d.selectPhysicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan device ready: %s", d.Name())
	return d, nil
}

func (d *Device) createInstance(appName string, windowExtensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Inflight"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, windowExtensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if d.validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkLayers(layers); err != nil {
			return err
		}
	}
	for _, e := range extensions {
		core.LogDebug("instance extension: %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, d.allocator, &instance); res != vk.Success {
		return resultError(res, "vkCreateInstance")
	}
	d.instance = instance
	if err := vk.InitInstance(d.instance); err != nil {
		return fmt.Errorf("%w: %w", core.ErrDeviceError, err)
	}
	core.LogInfo("Vulkan Instance created.")

	if d.validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if res := vk.CreateDebugReportCallback(d.instance, &debugCreateInfo, d.allocator, &dbg); res != vk.Success {
			core.LogWarn("vkCreateDebugReportCallback failed: %s", VulkanResultString(res))
		} else {
			d.debug = dbg
		}
	}
	return nil
}

func checkLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return resultError(res, "vkEnumerateInstanceLayerProperties")
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return resultError(res, "vkEnumerateInstanceLayerProperties")
	}
	for _, name := range required {
		found := false
		for i := range available {
			available[i].Deref()
			if cString(available[i].LayerName[:]) == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: validation layer %s is missing", core.ErrConfiguration, name)
		}
	}
	return nil
}

type deviceCandidate struct {
	physical   vk.PhysicalDevice
	properties vk.PhysicalDeviceProperties
	families   queueFamilies
	score      int
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(d.instance, &count, nil); res != vk.Success {
		return resultError(res, "vkEnumeratePhysicalDevices")
	}
	if count == 0 {
		return fmt.Errorf("%w: no devices which support Vulkan were found", core.ErrDeviceError)
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(d.instance, &count, devices); res != vk.Success {
		return resultError(res, "vkEnumeratePhysicalDevices")
	}

	var best *deviceCandidate
	for _, pd := range devices {
		c, ok := d.evaluate(pd)
		if !ok {
			continue
		}
		if best == nil || c.score > best.score {
			best = c
		}
	}
	if best == nil {
		return fmt.Errorf("%w: no physical device meets the requirements", core.ErrDeviceError)
	}

	d.physical = best.physical
	d.properties = best.properties
	d.families = best.families
	vk.GetPhysicalDeviceMemoryProperties(d.physical, &d.memory)
	d.memory.Deref()

	core.LogInfo("Selected device: '%s'.", d.Name())
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version(d.properties.ApiVersion).Major(),
		vk.Version(d.properties.ApiVersion).Minor(),
		vk.Version(d.properties.ApiVersion).Patch(),
	)
	core.LogDebug("Graphics Family Index: %d", d.families.graphics)
	core.LogDebug("Present Family Index:  %d", d.families.present)
	core.LogDebug("Transfer Family Index: %d", d.families.transfer)
	return nil
}

// evaluate checks queue support, the swapchain extension and surface formats.
func (d *Device) evaluate(pd vk.PhysicalDevice) (*deviceCandidate, bool) {
	c := &deviceCandidate{physical: pd}
	vk.GetPhysicalDeviceProperties(pd, &c.properties)
	c.properties.Deref()
	name := cString(c.properties.DeviceName[:])

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, families)

	graphicsFound, presentFound, transferFound := false, false, false
	graphicsPresents := false
	minTransferScore := 255
	for i := range families {
		families[i].Deref()
		flags := vk.QueueFlagBits(families[i].QueueFlags)
		index := uint32(i)

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(pd, index, d.surface, &supportsPresent); res != vk.Success {
			return nil, false
		}

		score := 0
		if flags&vk.QueueGraphicsBit != 0 {
			score++
			// Prefer a graphics family that can also present.
			if !graphicsFound || (!graphicsPresents && supportsPresent == vk.True) {
				c.families.graphics = index
				graphicsFound = true
				graphicsPresents = supportsPresent == vk.True
			}
		}
		if flags&vk.QueueComputeBit != 0 {
			score++
		}
		if supportsPresent == vk.True && !presentFound {
			c.families.present = index
			presentFound = true
		}
		// The family with the fewest other capabilities is most likely a
		// dedicated transfer queue.
		if flags&vk.QueueTransferBit != 0 && score <= minTransferScore {
			minTransferScore = score
			c.families.transfer = index
			transferFound = true
		}
	}
	if graphicsPresents {
		c.families.present = c.families.graphics
	}
	if !graphicsFound || !presentFound {
		core.LogInfo("Device '%s' lacks graphics or present queues, skipping.", name)
		return nil, false
	}
	if !transferFound {
		c.families.transfer = c.families.graphics
	}

	if !hasDeviceExtension(pd, vk.KhrSwapchainExtensionName) {
		core.LogInfo("Device '%s' lacks %s, skipping.", name, vk.KhrSwapchainExtensionName)
		return nil, false
	}
	support, err := querySwapchainSupport(pd, d.surface)
	if err != nil || len(support.formats) == 0 || len(support.presentModes) == 0 {
		core.LogInfo("Device '%s' has no usable swapchain support, skipping.", name)
		return nil, false
	}

	switch c.properties.DeviceType {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		c.score = 3
	case vk.PhysicalDeviceTypeIntegratedGpu:
		c.score = 2
	case vk.PhysicalDeviceTypeVirtualGpu:
		c.score = 1
	}
	return c, true
}

func hasDeviceExtension(pd vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func (d *Device) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")

	// Do not create additional queues for shared indices.
	unique := []uint32{d.families.graphics}
	for _, f := range []uint32{d.families.present, d.families.transfer} {
		seen := false
		for _, u := range unique {
			if u == f {
				seen = true
				break
			}
		}
		if !seen {
			unique = append(unique, f)
		}
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(unique))
	for i, family := range unique {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensions := []string{vk.KhrSwapchainExtensionName}
	if hasDeviceExtension(d.physical, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}

	var logical vk.Device
	if res := vk.CreateDevice(d.physical, &deviceCreateInfo, d.allocator, &logical); res != vk.Success {
		return resultError(res, "vkCreateDevice")
	}
	d.logical = logical

	for _, family := range unique {
		var q vk.Queue
		vk.GetDeviceQueue(d.logical, family, 0, &q)
		d.queues[family] = q
		d.locks.SetQueueFamily(family)
	}
	core.LogInfo("Logical device created.")
	return nil
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that has
// all of propertyFlags, or -1.
func (d *Device) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		d.memory.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(d.memory.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	return -1
}

func (d *Device) Name() string {
	return cString(d.properties.DeviceName[:])
}

func (d *Device) CreateQueue(t gpu.QueueType) (gpu.Queue, error) {
	family := d.families.graphics
	if t == gpu.QueueTypeTransfer {
		family = d.families.transfer
	}
	return &Queue{
		device:  d,
		family:  family,
		handle:  d.queues[family],
		present: d.queues[d.families.present],
	}, nil
}

// RecommendedSwapchainImageCount is double buffering with vsync and triple
// buffering without, so mailbox always has an image to replace.
func (d *Device) RecommendedSwapchainImageCount(vsync bool) uint32 {
	if vsync {
		return 2
	}
	return 3
}

func (d *Device) SupportedSwapchainFormat(cs gpu.ColorSpace) gpu.Format {
	support, err := querySwapchainSupport(d.physical, d.surface)
	if err != nil {
		return gpu.FormatB8G8R8A8Srgb
	}
	return pickSwapchainFormat(support.formats, cs)
}

func (d *Device) waitIdle() error {
	return resultError(vk.DeviceWaitIdle(d.logical), "vkDeviceWaitIdle")
}

func (d *Device) Destroy() {
	if d.logical != nil {
		if err := d.waitIdle(); err != nil {
			core.LogWarn("device destroy: %s", err)
		}
		for key, rp := range d.renderPasses {
			vk.DestroyRenderPass(d.logical, rp, d.allocator)
			delete(d.renderPasses, key)
		}
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(d.logical, d.allocator)
		d.logical = nil
	}
	if d.surface != vk.NullSurface {
		vk.DestroySurface(d.instance, d.surface, d.allocator)
		d.surface = vk.NullSurface
	}
	if d.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debug, d.allocator)
		d.debug = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, d.allocator)
		d.instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
