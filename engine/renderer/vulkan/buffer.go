package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type VulkanBuffer struct {
	device *Device
	Handle vk.Buffer
	Memory vk.DeviceMemory
	size   uint64
}

// CreateBuffer allocates a buffer that can be written with UpdateBuffer and
// read by shaders. Device local memory is preferred.
func (d *Device) CreateBuffer(size uint64) (gpu.Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero sized buffer", core.ErrDeviceError)
	}
	bufferInfo := vk.BufferCreateInfo{
		SType: vk.StructureTypeBufferCreateInfo,
		Size:  vk.DeviceSize(size),
		Usage: vk.BufferUsageFlags(vk.BufferUsageTransferDstBit | vk.BufferUsageUniformBufferBit |
			vk.BufferUsageStorageBufferBit),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(d.logical, &bufferInfo, d.allocator, &buffer); res != vk.Success {
		return nil, resultError(res, "vkCreateBuffer")
	}
	out := &VulkanBuffer{device: d, Handle: buffer, size: size}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logical, buffer, &memReqs)
	memReqs.Deref()

	index := d.FindMemoryIndex(memReqs.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if index < 0 {
		index = d.FindMemoryIndex(memReqs.MemoryTypeBits, uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	}
	if index < 0 {
		out.Destroy()
		return nil, fmt.Errorf("%w: no memory type for buffer of %d bytes", core.ErrDeviceError, size)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.logical, &allocInfo, d.allocator, &memory); res != vk.Success {
		out.Destroy()
		return nil, resultError(res, "vkAllocateMemory")
	}
	out.Memory = memory
	if res := vk.BindBufferMemory(d.logical, buffer, memory, 0); res != vk.Success {
		out.Destroy()
		return nil, resultError(res, "vkBindBufferMemory")
	}
	return out, nil
}

func (b *VulkanBuffer) Size() uint64 {
	return b.size
}

func (b *VulkanBuffer) Destroy() {
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(b.device.logical, b.Handle, b.device.allocator)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.device.logical, b.Memory, b.device.allocator)
		b.Memory = vk.NullDeviceMemory
	}
}
