package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

// Queue submits to one queue family. Presentation goes through the device's
// present queue, which is the same handle when the graphics family can present.
type Queue struct {
	device  *Device
	family  uint32
	handle  vk.Queue
	present vk.Queue
}

func (q *Queue) Submit(desc *gpu.SubmitDesc) error {
	cmds := make([]vk.CommandBuffer, 0, len(desc.CommandBuffers))
	buffers := make([]*VulkanCommandBuffer, 0, len(desc.CommandBuffers))
	for _, c := range desc.CommandBuffers {
		cb, ok := c.(*VulkanCommandBuffer)
		if !ok {
			return fmt.Errorf("%w: command buffer %T does not belong to this device", core.ErrConfiguration, c)
		}
		if cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return fmt.Errorf("%w: submitting a command buffer that is not executable (state %d)", core.ErrRecording, cb.State)
		}
		cmds = append(cmds, cb.Handle)
		buffers = append(buffers, cb)
	}
	waits, err := semaphoreHandles(desc.WaitSemaphores)
	if err != nil {
		return err
	}
	signals, err := semaphoreHandles(desc.SignalSemaphores)
	if err != nil {
		return err
	}

	fence := vk.NullFence
	var vf *VulkanFence
	if desc.SignalFence != nil {
		f, ok := desc.SignalFence.(*VulkanFence)
		if !ok {
			return fmt.Errorf("%w: fence %T does not belong to this device", core.ErrConfiguration, desc.SignalFence)
		}
		vf = f
		fence = f.Handle
	}

	waitStages := make([]vk.PipelineStageFlags, len(waits))
	for i := range waitStages {
		waitStages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   uint32(len(cmds)),
		PCommandBuffers:      cmds,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}

	err = q.device.locks.SafeQueueCall(q.family, func() error {
		return resultError(vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{submitInfo}, fence), "vkQueueSubmit")
	})
	if err != nil {
		return err
	}
	if vf != nil {
		vf.submitted.Store(true)
	}
	for _, cb := range buffers {
		cb.UpdateSubmitted(vf)
	}
	return nil
}

// Present returns the image to the presentation engine. Both
// VK_ERROR_OUT_OF_DATE_KHR and VK_SUBOPTIMAL_KHR are reported as
// core.ErrSurfaceOutOfDate so the swapchain gets rebuilt.
func (q *Queue) Present(desc *gpu.PresentDesc) error {
	sc, ok := desc.Swapchain.(*VulkanSwapchain)
	if !ok || sc == nil {
		return fmt.Errorf("%w: no swapchain to present to", core.ErrSurfaceOutOfDate)
	}
	waits, err := semaphoreHandles(desc.WaitSemaphores)
	if err != nil {
		return err
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    waits,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.Handle},
		PImageIndices:      []uint32{desc.ImageIndex},
	}
	return q.device.locks.SafeQueueCall(q.device.families.present, func() error {
		return resultError(vk.QueuePresent(q.present, &presentInfo), "vkQueuePresentKHR")
	})
}

func (q *Queue) WaitIdle() error {
	err := q.device.locks.SafeQueueCall(q.family, func() error {
		return resultError(vk.QueueWaitIdle(q.handle), "vkQueueWaitIdle")
	})
	if err != nil || q.family == q.device.families.present {
		return err
	}
	return q.device.locks.SafeQueueCall(q.device.families.present, func() error {
		return resultError(vk.QueueWaitIdle(q.present), "vkQueueWaitIdle")
	})
}
