package device

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/renderloop/gpu"
)

func (d *Device) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (gpu.Buffer, error) {
	if size <= 0 {
		return gpu.Buffer{}, errors.Newf("buffer size must be positive, got %d", size)
	}
	buffer, _, err := d.driver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return gpu.Buffer{}, errors.Wrap(err, "create buffer")
	}

	memRequirements := d.driver.GetBufferMemoryRequirements(buffer)
	memoryTypeIndex, err := d.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		d.driver.DestroyBuffer(buffer, nil)
		return gpu.Buffer{}, err
	}

	memory, _, err := d.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		d.driver.DestroyBuffer(buffer, nil)
		return gpu.Buffer{}, errors.Wrap(err, "allocate buffer memory")
	}

	_, err = d.driver.BindBufferMemory(buffer, memory, 0)
	if err != nil {
		d.driver.DestroyBuffer(buffer, nil)
		d.driver.FreeMemory(memory, nil)
		return gpu.Buffer{}, errors.Wrap(err, "bind buffer memory")
	}

	return gpu.Buffer{Handle: buffer, Memory: memory, Size: size}, nil
}

// WriteBuffer copies data into a host-visible buffer at offset.
func (d *Device) WriteBuffer(buffer gpu.Buffer, offset int, data []byte) error {
	if offset < 0 || offset+len(data) > buffer.Size {
		return errors.Newf("write of %d bytes at %d overruns a %d byte buffer", len(data), offset, buffer.Size)
	}
	if len(data) == 0 {
		return nil
	}

	memoryPtr, _, err := d.driver.MapMemory(buffer.Memory, offset, len(data), 0)
	if err != nil {
		return errors.Wrap(err, "map buffer memory")
	}
	defer d.driver.UnmapMemory(buffer.Memory)

	dataBuffer := unsafe.Slice((*byte)(memoryPtr), len(data))
	copy(dataBuffer, data)
	return nil
}

// UploadBuffer stages data through a host-visible buffer into a new
// device-local one and waits for the copy to finish.
func (d *Device) UploadBuffer(usage core1_0.BufferUsageFlags, data []byte) (gpu.Buffer, error) {
	staging, err := d.CreateBuffer(len(data), core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return gpu.Buffer{}, errors.Wrap(err, "create staging buffer")
	}
	defer d.DestroyBuffer(staging)

	if err := d.WriteBuffer(staging, 0, data); err != nil {
		return gpu.Buffer{}, err
	}

	buffer, err := d.CreateBuffer(len(data), usage|core1_0.BufferUsageTransferDst, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return gpu.Buffer{}, err
	}

	if err := d.copyBuffer(staging.Handle, buffer.Handle, len(data)); err != nil {
		d.DestroyBuffer(buffer)
		return gpu.Buffer{}, errors.Wrap(err, "copy staging buffer")
	}
	return buffer, nil
}

func (d *Device) DestroyBuffer(buffer gpu.Buffer) {
	d.driver.DestroyBuffer(buffer.Handle, nil)
	d.driver.FreeMemory(buffer.Memory, nil)
}

func (d *Device) beginSingleTimeCommands() (core1_0.CommandBuffer, error) {
	buffer, err := d.AllocateCommandBuffer()
	if err != nil {
		return core1_0.CommandBuffer{}, err
	}

	_, err = d.driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		d.FreeCommandBuffer(buffer)
		return core1_0.CommandBuffer{}, err
	}
	return buffer, nil
}

func (d *Device) endSingleTimeCommands(buffer core1_0.CommandBuffer) error {
	defer d.FreeCommandBuffer(buffer)

	_, err := d.driver.EndCommandBuffer(buffer)
	if err != nil {
		return err
	}

	_, err = d.driver.QueueSubmit(d.queue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return err
	}

	_, err = d.driver.QueueWaitIdle(d.queue)
	return err
}

func (d *Device) copyBuffer(srcBuffer core1_0.Buffer, dstBuffer core1_0.Buffer, size int) error {
	buffer, err := d.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	err = d.driver.CmdCopyBuffer(buffer, srcBuffer, dstBuffer,
		core1_0.BufferCopy{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      size,
		},
	)
	if err != nil {
		d.FreeCommandBuffer(buffer)
		return err
	}

	return d.endSingleTimeCommands(buffer)
}

func (d *Device) CreateDescriptorSetLayout(info core1_0.DescriptorSetLayoutCreateInfo) (core1_0.DescriptorSetLayout, error) {
	layout, _, err := d.driver.CreateDescriptorSetLayout(nil, info)
	return layout, err
}

func (d *Device) DestroyDescriptorSetLayout(layout core1_0.DescriptorSetLayout) {
	d.driver.DestroyDescriptorSetLayout(layout, nil)
}

func (d *Device) CreateDescriptorPool(info core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, error) {
	pool, _, err := d.driver.CreateDescriptorPool(nil, info)
	return pool, err
}

// DestroyDescriptorPool also frees every set allocated from the pool.
func (d *Device) DestroyDescriptorPool(pool core1_0.DescriptorPool) {
	d.driver.DestroyDescriptorPool(pool, nil)
}

func (d *Device) AllocateDescriptorSet(pool core1_0.DescriptorPool, layout core1_0.DescriptorSetLayout) (core1_0.DescriptorSet, error) {
	sets, _, err := d.driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	})
	if err != nil {
		return core1_0.DescriptorSet{}, err
	}
	return sets[0], nil
}

func (d *Device) UpdateDescriptorSets(writes []core1_0.WriteDescriptorSet) error {
	return d.driver.UpdateDescriptorSets(writes, nil)
}
