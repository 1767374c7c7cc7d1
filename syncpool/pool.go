// Package syncpool hands out the fence and semaphores each in-flight frame slot
// synchronizes with, creating them on first use.
package syncpool

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/renderloop/gpu"
)

type Device interface {
	CreateFence(info core1_0.FenceCreateInfo) (core1_0.Fence, error)
	DestroyFence(fence core1_0.Fence)
	CreateSemaphore() (core1_0.Semaphore, error)
	DestroySemaphore(semaphore core1_0.Semaphore)
}

// Slot is the synchronization for one frame in flight. The semaphores are only
// populated when the pool was built for a presentation engine that needs them.
type Slot struct {
	Index          int
	Fence          core1_0.Fence
	ImageAvailable core1_0.Semaphore
	RenderFinished core1_0.Semaphore
	HasSemaphores  bool

	semaphores *gpu.ReleaseStack
}

type Pool struct {
	dev            Device
	withSemaphores bool
	slots          []*Slot
	release        gpu.ReleaseStack
	destroyed      bool
}

func New(dev Device, slots int, withSemaphores bool) *Pool {
	if slots < 1 {
		slots = 1
	}
	return &Pool{
		dev:            dev,
		withSemaphores: withSemaphores,
		slots:          make([]*Slot, slots),
	}
}

func (p *Pool) Len() int {
	return len(p.slots)
}

// Slot returns slot i, creating its fence (signaled, so the first wait passes)
// and semaphores on first access.
func (p *Pool) Slot(i int) (*Slot, error) {
	if p.destroyed {
		return nil, errors.New("sync pool destroyed")
	}
	if i < 0 || i >= len(p.slots) {
		return nil, errors.Newf("frame slot %d out of range [0, %d)", i, len(p.slots))
	}
	if p.slots[i] != nil {
		return p.slots[i], nil
	}

	fence, err := p.createFence()
	if err != nil {
		return nil, err
	}
	slot := &Slot{Index: i, Fence: fence}
	p.release.Push(func() { p.dev.DestroyFence(slot.Fence) })

	if p.withSemaphores {
		if err := p.createSemaphores(slot); err != nil {
			return nil, err
		}
		stack := slot.semaphores
		p.release.Push(func() { stack.Release() })
	}

	p.slots[i] = slot
	return slot, nil
}

func (p *Pool) createFence() (core1_0.Fence, error) {
	fence, err := p.dev.CreateFence(core1_0.FenceCreateInfo{Flags: core1_0.FenceCreateSignaled})
	if err != nil {
		return core1_0.Fence{}, gpu.MarkFatal(err, "create frame fence")
	}
	return fence, nil
}

// RenewFence swaps the fence of slot i for a new signaled one. Use it when the
// fence was reset but the submission meant to signal it never reached the queue.
func (p *Pool) RenewFence(i int) error {
	if p.destroyed {
		return errors.New("sync pool destroyed")
	}
	if i < 0 || i >= len(p.slots) || p.slots[i] == nil {
		return errors.Newf("frame slot %d was never created", i)
	}
	fence, err := p.createFence()
	if err != nil {
		return err
	}
	slot := p.slots[i]
	p.dev.DestroyFence(slot.Fence)
	slot.Fence = fence
	return nil
}

func (p *Pool) createSemaphores(slot *Slot) error {
	stack := &gpu.ReleaseStack{}

	imageAvailable, err := p.dev.CreateSemaphore()
	if err != nil {
		return gpu.MarkFatal(err, "create image-available semaphore")
	}
	stack.Push(func() { p.dev.DestroySemaphore(imageAvailable) })

	renderFinished, err := p.dev.CreateSemaphore()
	if err != nil {
		stack.Release()
		return gpu.MarkFatal(err, "create render-finished semaphore")
	}
	stack.Push(func() { p.dev.DestroySemaphore(renderFinished) })

	slot.ImageAvailable = imageAvailable
	slot.RenderFinished = renderFinished
	slot.HasSemaphores = true
	if slot.semaphores == nil {
		slot.semaphores = stack
	} else {
		*slot.semaphores = *stack
	}
	return nil
}

// RenewSemaphores replaces the semaphores of every created slot. An acquire that
// reported a stale surface may have left its semaphore signaled with no waiter;
// call this with the device idle, after the chain has been recreated.
func (p *Pool) RenewSemaphores() error {
	if !p.withSemaphores {
		return nil
	}
	for _, slot := range p.slots {
		if slot == nil {
			continue
		}
		slot.semaphores.Release()
		slot.ImageAvailable = core1_0.Semaphore{}
		slot.RenderFinished = core1_0.Semaphore{}
		slot.HasSemaphores = false
		if err := p.createSemaphores(slot); err != nil {
			return err
		}
	}
	return nil
}

// Destroy releases everything in reverse creation order. Later calls do nothing.
func (p *Pool) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.release.Release()
	for i := range p.slots {
		p.slots[i] = nil
	}
}
