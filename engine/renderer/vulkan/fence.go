package vulkan

import (
	"fmt"
	"sync/atomic"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type VulkanFence struct {
	device *Device
	Handle vk.Fence
	// set by Queue.Submit, cleared once the fence is observed signaled or reset
	submitted atomic.Bool
}

func (d *Device) CreateFence() (gpu.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var pFence vk.Fence
	err := d.locks.SafeCall(SynchronizationManagement, func() error {
		return resultError(vk.CreateFence(d.logical, &fenceCreateInfo, d.allocator, &pFence), "vkCreateFence")
	})
	if err != nil {
		return nil, err
	}
	return &VulkanFence{device: d, Handle: pFence}, nil
}

func (vf *VulkanFence) Status() (gpu.FenceStatus, error) {
	switch res := vk.GetFenceStatus(vf.device.logical, vf.Handle); res {
	case vk.Success:
		vf.submitted.Store(false)
		return gpu.FenceStatusComplete, nil
	case vk.NotReady:
		return gpu.FenceStatusIncomplete, nil
	default:
		return gpu.FenceStatusIncomplete, resultError(res, "vkGetFenceStatus")
	}
}

func (vf *VulkanFence) Wait(timeout time.Duration) error {
	if timeout < 0 {
		timeout = 0
	}
	result := vk.WaitForFences(vf.device.logical, 1, []vk.Fence{vf.Handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch result {
	case vk.Success:
		vf.submitted.Store(false)
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out after %s", timeout)
		return fmt.Errorf("%w: after %s", core.ErrFenceTimeout, timeout)
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	}
	return resultError(result, "vkWaitForFences")
}

// Reset refuses to touch a fence whose submission has not finished; resetting
// it would make the next wait return before the GPU is done.
func (vf *VulkanFence) Reset() error {
	if vf.submitted.Load() {
		status, err := vf.Status()
		if err != nil {
			return err
		}
		if status != gpu.FenceStatusComplete {
			return fmt.Errorf("%w: fence still pending", core.ErrResourceInUse)
		}
	}
	return resultError(vk.ResetFences(vf.device.logical, 1, []vk.Fence{vf.Handle}), "vkResetFences")
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(vf.device.logical, vf.Handle, vf.device.allocator)
		vf.Handle = vk.NullFence
	}
}

type VulkanSemaphore struct {
	device *Device
	Handle vk.Semaphore
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var pSemaphore vk.Semaphore
	err := d.locks.SafeCall(SynchronizationManagement, func() error {
		return resultError(vk.CreateSemaphore(d.logical, &semaphoreCreateInfo, d.allocator, &pSemaphore), "vkCreateSemaphore")
	})
	if err != nil {
		return nil, err
	}
	return &VulkanSemaphore{device: d, Handle: pSemaphore}, nil
}

func (vs *VulkanSemaphore) Destroy() {
	if vs.Handle != vk.NullSemaphore {
		vk.DestroySemaphore(vs.device.logical, vs.Handle, vs.device.allocator)
		vs.Handle = vk.NullSemaphore
	}
}

func semaphoreHandles(list []gpu.Semaphore) ([]vk.Semaphore, error) {
	out := make([]vk.Semaphore, 0, len(list))
	for _, s := range list {
		vs, ok := s.(*VulkanSemaphore)
		if !ok {
			return nil, fmt.Errorf("%w: semaphore %T does not belong to this device", core.ErrConfiguration, s)
		}
		out = append(out, vs.Handle)
	}
	return out, nil
}
