// Package gpu declares the device objects the frame pacing core talks to.
// Backends (simulated, vulkan) implement them; nothing above this package
// knows which one is in use.
package gpu

import "time"

type FenceStatus uint8

const (
	FenceStatusComplete FenceStatus = iota
	FenceStatusIncomplete
)

func (s FenceStatus) String() string {
	if s == FenceStatusComplete {
		return "complete"
	}
	return "incomplete"
}

// Fence is a GPU->CPU completion signal. It is signaled by the queue when the
// submission it was attached to finishes.
type Fence interface {
	Status() (FenceStatus, error)
	// Wait blocks until the fence signals or timeout elapses. A timeout is
	// reported as core.ErrFenceTimeout.
	Wait(timeout time.Duration) error
	// Reset puts a signaled fence back to unsignaled. Resetting a fence whose
	// submission is still executing fails with core.ErrResourceInUse.
	Reset() error
	Destroy()
}

// Semaphore is a GPU->GPU binary signal used to order submissions and presentation.
type Semaphore interface {
	Destroy()
}

type ResourceState uint8

const (
	ResourceStateUndefined ResourceState = iota
	ResourceStatePresent
	ResourceStateRenderTarget
	ResourceStateCopyDest
	ResourceStateShaderResource
)

func (s ResourceState) String() string {
	switch s {
	case ResourceStatePresent:
		return "present"
	case ResourceStateRenderTarget:
		return "render_target"
	case ResourceStateCopyDest:
		return "copy_dest"
	case ResourceStateShaderResource:
		return "shader_resource"
	}
	return "undefined"
}

type LoadAction uint8

const (
	LoadActionDontCare LoadAction = iota
	LoadActionLoad
	LoadActionClear
)

// Color is linear RGBA.
type Color [4]float32

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

// RenderTarget is one presentable image of a swapchain.
type RenderTarget interface {
	Index() uint32
	Width() uint32
	Height() uint32
}

type Buffer interface {
	Size() uint64
	Destroy()
}

type Pipeline interface {
	Name() string
	Destroy()
}

// CommandBuffer records GPU work. Commands issued outside Begin/End make End fail
// with core.ErrRecording.
type CommandBuffer interface {
	Begin() error
	End() error
	ResourceBarrier(rt RenderTarget, from, to ResourceState)
	BufferBarrier(buf Buffer, from, to ResourceState)
	// BindRenderTarget starts rendering into rt. A nil rt ends the current pass.
	BindRenderTarget(rt RenderTarget, load LoadAction, clear Color)
	SetViewport(v Viewport)
	SetScissor(r Rect)
	BindPipeline(p Pipeline)
	Draw(vertexCount, firstVertex uint32)
	UpdateBuffer(dst Buffer, offset uint64, data []byte)
}

// CommandPool owns command buffers. Reset recycles every buffer it allocated and
// fails with core.ErrResourceInUse while any of them is still executing.
type CommandPool interface {
	AllocateCommandBuffer() (CommandBuffer, error)
	Reset() error
	Destroy()
}

type SubmitDesc struct {
	CommandBuffers   []CommandBuffer
	WaitSemaphores   []Semaphore
	SignalSemaphores []Semaphore
	// SignalFence may be nil.
	SignalFence Fence
}

type PresentDesc struct {
	Swapchain      Swapchain
	ImageIndex     uint32
	WaitSemaphores []Semaphore
}

// Queue executes submissions in the order they were issued.
type Queue interface {
	Submit(desc *SubmitDesc) error
	// Present fails with core.ErrSurfaceOutOfDate when the swapchain no longer
	// matches its window and with core.ErrDeviceLost when the device is gone.
	Present(desc *PresentDesc) error
	WaitIdle() error
}

type Format uint8

const (
	FormatUndefined Format = iota
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatR8G8B8A8Unorm
	FormatA2B10G10R10Unorm
)

type ColorSpace uint8

const (
	ColorSpaceSRGBNonlinear ColorSpace = iota
	ColorSpaceHDR10
)

// Window is the platform side of a presentation surface.
type Window interface {
	FramebufferSize() (uint32, uint32)
}

type SwapchainDesc struct {
	Window     Window
	Queue      Queue
	Width      uint32
	Height     uint32
	ImageCount uint32
	Format     Format
	ColorSpace ColorSpace
	VSync      bool
}

type Swapchain interface {
	// AcquireNextImage returns the index of the next image to render into.
	// signal is signaled once the image can be written.
	AcquireNextImage(signal Semaphore) (uint32, error)
	ImageCount() uint32
	RenderTarget(index uint32) RenderTarget
	Format() Format
	VSync() bool
	Width() uint32
	Height() uint32
	Destroy()
}

type PipelineDesc struct {
	Name           string
	VertexShader   []byte
	FragmentShader []byte
	// Swapchain provides the color attachment format.
	Swapchain Swapchain
}

type QueueType uint8

const (
	QueueTypeGraphics QueueType = iota
	QueueTypeTransfer
)

type Device interface {
	Name() string
	CreateQueue(t QueueType) (Queue, error)
	CreateFence() (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateCommandPool(q Queue) (CommandPool, error)
	CreateBuffer(size uint64) (Buffer, error)
	CreateSwapchain(desc *SwapchainDesc) (Swapchain, error)
	CreatePipeline(desc *PipelineDesc) (Pipeline, error)
	// RecommendedSwapchainImageCount is the image count the platform prefers
	// for the given vsync mode.
	RecommendedSwapchainImageCount(vsync bool) uint32
	SupportedSwapchainFormat(cs ColorSpace) Format
	Destroy()
}

// ResourceStreamer uploads data outside the frame ring. Flush submits whatever
// is pending and returns the semaphore the next frame submission must wait on,
// or nil when nothing was pending.
type ResourceStreamer interface {
	Flush(nodeIndex uint32) (Semaphore, error)
}
