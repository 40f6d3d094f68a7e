package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// vkCmdUpdateBuffer limits.
const (
	maxUpdateBufferSize  = 65536
	updateBufferAlignment = 4
)

type VulkanCommandPool struct {
	device  *Device
	Handle  vk.CommandPool
	family  uint32
	buffers []*VulkanCommandBuffer
}

func (d *Device) CreateCommandPool(q gpu.Queue) (gpu.CommandPool, error) {
	queue, ok := q.(*Queue)
	if !ok {
		return nil, fmt.Errorf("%w: queue %T does not belong to this device", core.ErrConfiguration, q)
	}
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queue.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	var pool vk.CommandPool
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return resultError(vk.CreateCommandPool(d.logical, &poolCreateInfo, d.allocator, &pool), "vkCreateCommandPool")
	})
	if err != nil {
		return nil, err
	}
	return &VulkanCommandPool{device: d, Handle: pool, family: queue.family}, nil
}

func (p *VulkanCommandPool) AllocateCommandBuffer() (gpu.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.Handle,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(p.device.logical, &allocateInfo, handles); res != vk.Success {
		return nil, resultError(res, "vkAllocateCommandBuffers")
	}
	cb := &VulkanCommandBuffer{
		pool:   p,
		Handle: handles[0],
		State:  COMMAND_BUFFER_STATE_READY,
	}
	p.buffers = append(p.buffers, cb)
	return cb, nil
}

// Reset recycles every buffer of the pool. It fails with core.ErrResourceInUse
// while a buffer's last submission has not signaled its fence.
func (p *VulkanCommandPool) Reset() error {
	for _, cb := range p.buffers {
		if cb.State != COMMAND_BUFFER_STATE_SUBMITTED || cb.fence == nil {
			continue
		}
		status, err := cb.fence.Status()
		if err != nil {
			return err
		}
		if status != gpu.FenceStatusComplete {
			return fmt.Errorf("%w: command pool has a buffer in flight", core.ErrResourceInUse)
		}
	}
	if res := vk.ResetCommandPool(p.device.logical, p.Handle, 0); res != vk.Success {
		return resultError(res, "vkResetCommandPool")
	}
	for _, cb := range p.buffers {
		cb.reset()
	}
	return nil
}

func (p *VulkanCommandPool) Destroy() {
	if p.Handle == vk.NullCommandPool {
		return
	}
	// Destroying the pool frees its buffers.
	vk.DestroyCommandPool(p.device.logical, p.Handle, p.device.allocator)
	p.Handle = vk.NullCommandPool
	for _, cb := range p.buffers {
		cb.Handle = nil
		cb.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
	}
	p.buffers = nil
}

type VulkanCommandBuffer struct {
	pool   *VulkanCommandPool
	Handle vk.CommandBuffer
	State  VulkanCommandBufferState

	// fence of the last submission, if any
	fence  *VulkanFence
	misuse string
}

func (v *VulkanCommandBuffer) reset() {
	v.State = COMMAND_BUFFER_STATE_READY
	v.fence = nil
	v.misuse = ""
}

func (v *VulkanCommandBuffer) fail(format string, args ...interface{}) {
	if v.misuse == "" {
		v.misuse = fmt.Sprintf(format, args...)
	}
}

func (v *VulkanCommandBuffer) recording(op string) bool {
	if v.State != COMMAND_BUFFER_STATE_RECORDING && v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail("%s outside of Begin/End", op)
		return false
	}
	return true
}

func (v *VulkanCommandBuffer) Begin() error {
	if v.State != COMMAND_BUFFER_STATE_READY {
		return fmt.Errorf("%w: Begin on a command buffer that was not reset (state %d)", core.ErrRecording, v.State)
	}
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		return fmt.Errorf("%w: %w", core.ErrRecording, resultError(res, "vkBeginCommandBuffer"))
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail("End inside a render pass")
		vk.CmdEndRenderPass(v.Handle)
		v.State = COMMAND_BUFFER_STATE_RECORDING
	}
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		v.fail("End without Begin")
		return fmt.Errorf("%w: %s", core.ErrRecording, v.misuse)
	}
	res := vk.EndCommandBuffer(v.Handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	if v.misuse != "" {
		return fmt.Errorf("%w: %s", core.ErrRecording, v.misuse)
	}
	if res != vk.Success {
		return fmt.Errorf("%w: %w", core.ErrRecording, resultError(res, "vkEndCommandBuffer"))
	}
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted(fence *VulkanFence) {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
	v.fence = fence
}

// barrierScope maps a resource state to the image layout, access mask and
// pipeline stage used on one side of a barrier.
func barrierScope(s gpu.ResourceState, source bool) (vk.ImageLayout, vk.AccessFlags, vk.PipelineStageFlags) {
	switch s {
	case gpu.ResourceStatePresent:
		if source {
			return vk.ImageLayoutPresentSrc, 0, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
		}
		return vk.ImageLayoutPresentSrc, 0, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	case gpu.ResourceStateRenderTarget:
		return vk.ImageLayoutColorAttachmentOptimal,
			vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	case gpu.ResourceStateCopyDest:
		return vk.ImageLayoutTransferDstOptimal,
			vk.AccessFlags(vk.AccessTransferWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case gpu.ResourceStateShaderResource:
		return vk.ImageLayoutShaderReadOnlyOptimal,
			vk.AccessFlags(vk.AccessShaderReadBit),
			vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit)
	}
	if source {
		return vk.ImageLayoutUndefined, 0, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	return vk.ImageLayoutUndefined, 0, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
}

func (v *VulkanCommandBuffer) ResourceBarrier(rt gpu.RenderTarget, from, to gpu.ResourceState) {
	if !v.recording("ResourceBarrier") {
		return
	}
	target, ok := rt.(*renderTarget)
	if !ok || target == nil {
		v.fail("ResourceBarrier on foreign render target %T", rt)
		return
	}
	oldLayout, srcAccess, srcStage := barrierScope(from, true)
	newLayout, dstAccess, dstStage := barrierScope(to, false)
	// A swapchain image has no defined content before its first use.
	if target.swapchain.firstUse(target.index) {
		oldLayout = vk.ImageLayoutUndefined
	}

	vk.CmdPipelineBarrier(v.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               target.image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}})
}

func (v *VulkanCommandBuffer) BufferBarrier(buf gpu.Buffer, from, to gpu.ResourceState) {
	if !v.recording("BufferBarrier") {
		return
	}
	b, ok := buf.(*VulkanBuffer)
	if !ok || b == nil {
		v.fail("BufferBarrier on foreign buffer %T", buf)
		return
	}
	_, srcAccess, srcStage := barrierScope(from, true)
	_, dstAccess, dstStage := barrierScope(to, false)
	vk.CmdPipelineBarrier(v.Handle, srcStage, dstStage, 0, 0, nil, 1, []vk.BufferMemoryBarrier{{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              b.Handle,
		Offset:              0,
		Size:                vk.DeviceSize(vk.WholeSize),
	}}, 0, nil)
}

func (v *VulkanCommandBuffer) BindRenderTarget(rt gpu.RenderTarget, load gpu.LoadAction, clear gpu.Color) {
	if !v.recording("BindRenderTarget") {
		return
	}
	if rt == nil {
		if v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
			v.fail("unbind without a bound render target")
			return
		}
		vk.CmdEndRenderPass(v.Handle)
		v.State = COMMAND_BUFFER_STATE_RECORDING
		return
	}
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail("BindRenderTarget while a render target is bound")
		return
	}
	target, ok := rt.(*renderTarget)
	if !ok || target == nil {
		v.fail("BindRenderTarget on foreign render target %T", rt)
		return
	}
	rp, err := v.pool.device.renderPass(target.swapchain.format, load)
	if err != nil {
		v.fail("render pass: %s", err)
		return
	}

	clearValues := make([]vk.ClearValue, 1)
	clearValues[0].SetColor(clear[:])
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp,
		Framebuffer: target.swapchain.framebuffers[target.index].Handle,
		RenderArea: vk.Rect2D{
			Extent: target.swapchain.extent,
		},
		ClearValueCount: 1,
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(v.Handle, &beginInfo, vk.SubpassContentsInline)
	v.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (v *VulkanCommandBuffer) SetViewport(vp gpu.Viewport) {
	if !v.recording("SetViewport") {
		return
	}
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
}

func (v *VulkanCommandBuffer) SetScissor(r gpu.Rect) {
	if !v.recording("SetScissor") {
		return
	}
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}})
}

func (v *VulkanCommandBuffer) BindPipeline(p gpu.Pipeline) {
	if !v.recording("BindPipeline") {
		return
	}
	pipeline, ok := p.(*VulkanPipeline)
	if !ok || pipeline == nil || pipeline.Handle == vk.NullPipeline {
		v.fail("BindPipeline with an invalid pipeline")
		return
	}
	vk.CmdBindPipeline(v.Handle, vk.PipelineBindPointGraphics, pipeline.Handle)
}

func (v *VulkanCommandBuffer) Draw(vertexCount, firstVertex uint32) {
	if !v.recording("Draw") {
		return
	}
	if v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail("Draw without a bound render target")
		return
	}
	vk.CmdDraw(v.Handle, vertexCount, 1, firstVertex, 0)
}

func (v *VulkanCommandBuffer) UpdateBuffer(dst gpu.Buffer, offset uint64, data []byte) {
	if !v.recording("UpdateBuffer") {
		return
	}
	b, ok := dst.(*VulkanBuffer)
	switch {
	case !ok || b == nil:
		v.fail("UpdateBuffer on foreign buffer %T", dst)
		return
	case v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		v.fail("UpdateBuffer inside a render pass")
		return
	case len(data) == 0 || len(data) > maxUpdateBufferSize:
		v.fail("UpdateBuffer of %d bytes", len(data))
		return
	case offset%updateBufferAlignment != 0 || len(data)%updateBufferAlignment != 0:
		v.fail("UpdateBuffer offset %d size %d not 4 byte aligned", offset, len(data))
		return
	case offset+uint64(len(data)) > b.size:
		v.fail("UpdateBuffer of %d bytes at %d overflows buffer of %d", len(data), offset, b.size)
		return
	}
	vk.CmdUpdateBuffer(v.Handle, b.Handle, vk.DeviceSize(offset), vk.DeviceSize(len(data)), unsafe.Pointer(&data[0]))
}
