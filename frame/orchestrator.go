// Package frame drives the per-frame loop: wait for the frame slot, acquire an
// image, record every pass, submit and present. It also keeps the swapchain
// and everything built on it in step with the surface across resizes.
package frame

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/renderloop/config"
	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/events"
	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/pipeline"
	"github.com/vkngwrapper/renderloop/projection"
	"github.com/vkngwrapper/renderloop/recorder"
	"github.com/vkngwrapper/renderloop/swapchain"
	"github.com/vkngwrapper/renderloop/syncpool"
)

var (
	ErrNotPrepared = errors.New("frame orchestrator not prepared")
	ErrOutOfOrder  = errors.New("frame call out of order")
)

// Status tells the caller of StartFrame whether to record this frame.
type Status int

const (
	// StatusReady means an image was acquired; RecordFrame and EndFrame follow.
	StatusReady Status = iota
	// StatusSkip means there is nothing to draw into this time around.
	StatusSkip
)

func (s Status) String() string {
	if s == StatusSkip {
		return "skip"
	}
	return "ready"
}

type phase int

const (
	phaseIdle phase = iota
	phaseAcquired
	phaseRecorded
)

// MeshSource is the asset loader as seen by the orchestrator.
type MeshSource interface {
	WaitForAll()
}

type Options struct {
	Presentation Presentation
	Shaders      pipeline.Shaders

	// Passes is how many times the scene is drawn per frame, each in its own
	// render pass.
	Passes     int
	ClearColor [4]float32

	PreferredFormat khr_surface.SurfaceFormat
	LowLatency      bool
	PollInterval    time.Duration

	Camera config.Camera
	Meshes MeshSource
}

// OptionsFromConfig fills Options from the configuration file sections.
func OptionsFromConfig(cfg config.Config, presentation Presentation, shaders pipeline.Shaders, meshes MeshSource) Options {
	return Options{
		Presentation: presentation,
		Shaders:      shaders,
		Passes:       cfg.Passes,
		ClearColor:   cfg.ClearColor,
		LowLatency:   cfg.Swapchain.LowLatency,
		PollInterval: time.Duration(cfg.Swapchain.PollIntervalMillis) * time.Millisecond,
		Camera:       cfg.Camera,
		Meshes:       meshes,
	}
}

type feed interface {
	SetAspect(aspect float32) error
	Close()
}

type Stats struct {
	Presented   int
	Skipped     int
	Recreations int
	LastFrame   time.Duration
}

type Orchestrator struct {
	diag      *diag.Context
	dev       Device
	bus       *events.Bus
	opts      Options
	presenter presenter
	subs      events.Group
	registry  registry

	release      gpu.ReleaseStack
	sceneRelease gpu.ReleaseStack
	prepared     bool

	chain         *swapchain.Chain
	pool          *syncpool.Pool
	recorder      *recorder.Recorder
	setLayout     core1_0.DescriptorSetLayout
	descriptorSet core1_0.DescriptorSet
	uniform       gpu.Buffer
	scene         *scene
	passes        []*pipeline.Pass
	framebuffers  []*swapchain.FramebufferSet
	feed          feed

	phase      phase
	slot       *syncpool.Slot
	imageIndex int
	submission gpu.Submission
	frameStart time.Duration

	resizeMu      sync.Mutex
	pendingSize   *core1_0.Extent2D
	pendingStale  bool
	resizeSignals int

	stats Stats
}

// New subscribes to the bus right away so meshes finishing before Prepare are
// not missed. Nothing is created on the device until Prepare.
func New(d *diag.Context, dev Device, bus *events.Bus, opts Options) (*Orchestrator, error) {
	if opts.Presentation == nil {
		return nil, errors.New("frame orchestrator needs a presentation")
	}
	if opts.Passes < 1 {
		opts.Passes = 1
	}

	o := &Orchestrator{
		diag: d.With("frame"),
		dev:  dev,
		bus:  bus,
		opts: opts,
	}
	o.presenter = opts.Presentation.newPresenter(o.diag)

	o.subs.Add(
		bus.MeshReady.Subscribe(o.registry.add),
		bus.SurfaceResized.Subscribe(o.onResize),
	)
	return o, nil
}

func (o *Orchestrator) onResize(e events.SurfaceResized) {
	o.resizeMu.Lock()
	defer o.resizeMu.Unlock()
	if e.Stale {
		o.pendingStale = true
		return
	}
	size := core1_0.Extent2D{Width: e.Width, Height: e.Height}
	o.pendingSize = &size
}

// WaitForAllMeshesToLoad blocks until every mesh handed to the loader so far
// has been published.
func (o *Orchestrator) WaitForAllMeshesToLoad() {
	if o.opts.Meshes != nil {
		o.opts.Meshes.WaitForAll()
	}
}

// Prepare builds everything the frame loop needs. Called again, it waits for
// the device and rebuilds only the scene so newly loaded meshes are drawn.
func (o *Orchestrator) Prepare(ctx context.Context) error {
	o.WaitForAllMeshesToLoad()

	if o.prepared {
		if o.phase != phaseIdle {
			return errors.Wrap(ErrOutOfOrder, "prepare during a frame")
		}
		if err := o.dev.WaitIdle(); err != nil {
			return gpu.MarkFatal(err, "wait idle before scene rebuild")
		}
		return o.buildScene()
	}

	if err := o.prepare(ctx); err != nil {
		o.sceneRelease.Release()
		o.release.Release()
		return err
	}
	o.prepared = true
	return nil
}

func (o *Orchestrator) prepare(ctx context.Context) error {
	depthFormat, err := o.dev.DepthFormat()
	if err != nil {
		return gpu.MarkFatal(err, "find depth format")
	}

	o.chain = swapchain.New(o.diag, o.dev, o.presenter.backend(), swapchain.Options{
		PreferredFormat: o.opts.PreferredFormat,
		LowLatency:      o.opts.LowLatency,
		DepthFormat:     depthFormat,
		PollInterval:    o.opts.PollInterval,
	})
	if err := o.chain.Create(ctx); err != nil {
		return err
	}
	o.release.Push(o.chain.Destroy)

	o.pool = syncpool.New(o.dev, 1, o.presenter.semaphores())
	o.release.Push(o.pool.Destroy)

	commandBuffer, err := o.dev.AllocateCommandBuffer()
	if err != nil {
		return gpu.MarkFatal(err, "allocate command buffer")
	}
	o.release.Push(func() { o.dev.FreeCommandBuffer(commandBuffer) })
	o.recorder = recorder.New(o.dev, commandBuffer)

	o.setLayout, err = o.dev.CreateDescriptorSetLayout(descriptorSetLayoutInfo())
	if err != nil {
		return gpu.MarkFatal(err, "create descriptor set layout")
	}
	setLayout := o.setLayout
	o.release.Push(func() { o.dev.DestroyDescriptorSetLayout(setLayout) })

	uniformSize := projection.MonoSize
	if o.presenter.layers() == 2 {
		uniformSize = projection.StereoSize
	}
	o.uniform, err = o.dev.CreateBuffer(uniformSize, core1_0.BufferUsageUniformBuffer,
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return gpu.MarkFatal(err, "create uniform buffer")
	}
	uniform := o.uniform
	o.release.Push(func() { o.dev.DestroyBuffer(uniform) })

	descriptorPool, err := o.dev.CreateDescriptorPool(descriptorPoolInfo())
	if err != nil {
		return gpu.MarkFatal(err, "create descriptor pool")
	}
	o.release.Push(func() { o.dev.DestroyDescriptorPool(descriptorPool) })

	o.descriptorSet, err = o.dev.AllocateDescriptorSet(descriptorPool, o.setLayout)
	if err != nil {
		return gpu.MarkFatal(err, "allocate descriptor set")
	}

	o.release.Push(o.sceneRelease.Release)
	if err := o.buildScene(); err != nil {
		return err
	}

	o.release.Push(func() {
		for _, pass := range o.passes {
			pass.Destroy()
		}
		o.passes = nil
	})
	for i := 0; i < o.opts.Passes; i++ {
		pass, err := o.buildPass(i)
		if err != nil {
			return err
		}
		o.passes = append(o.passes, pass)
	}

	o.release.Push(func() {
		for _, set := range o.framebuffers {
			set.Release()
		}
		o.framebuffers = nil
	})
	for _, pass := range o.passes {
		set, err := o.chain.NewFramebufferSet(pass.RenderPass)
		if err != nil {
			return err
		}
		o.framebuffers = append(o.framebuffers, set)
	}
	o.release.Push(o.chain.OnRecreate(o.retarget))

	o.feed, err = o.newFeed()
	if err != nil {
		return err
	}
	o.release.Push(o.feed.Close)

	o.diag.Info("prepared",
		"width", o.chain.Extent().Width,
		"height", o.chain.Extent().Height,
		"format", o.chain.Format(),
		"layers", o.chain.Layers(),
		"passes", len(o.passes))
	return nil
}

func (o *Orchestrator) buildPass(i int) (*pipeline.Pass, error) {
	key := pipeline.Key{
		Format:      o.chain.Format(),
		DepthFormat: o.chain.DepthFormat(),
		Layers:      o.chain.Layers(),
		Presentable: o.presenter.presentable(),
	}
	if err := pipeline.CheckTarget(key, o.chain.Format(), o.presenter.layers()); err != nil {
		return nil, err
	}
	sets := []pipeline.SetBinding{{Layout: o.setLayout, PushConstantBytes: 4}}
	return pipeline.Build(o.diag, o.dev, fmt.Sprintf("pass-%d", i), key, sets, o.opts.Shaders)
}

func (o *Orchestrator) newFeed() (feed, error) {
	uniform := uniformBuffer{dev: o.dev, buffer: o.uniform}
	if o.presenter.layers() == 2 {
		return projection.NewStereoFeed(o.diag, o.bus, uniform)
	}
	camera := projection.NewCamera(o.opts.Camera, aspect(o.chain.Extent()))
	return projection.NewFlatFeed(o.diag, o.bus, camera, uniform)
}

func aspect(extent core1_0.Extent2D) float32 {
	return float32(extent.Width) / float32(extent.Height)
}

// retarget runs inside swapchain recreation. Passes survive unless the new
// images changed format or layer count.
func (o *Orchestrator) retarget(chain *swapchain.Chain) error {
	for i, pass := range o.passes {
		if pass.Compatible(chain.Format(), chain.Layers()) {
			continue
		}
		o.diag.Info("render target changed, rebuilding pass", "pass", pass.Name, "format", chain.Format(), "layers", chain.Layers())
		rebuilt, err := o.buildPass(i)
		if err != nil {
			return err
		}
		pass.Destroy()
		o.passes[i] = rebuilt
		if err := o.framebuffers[i].Retarget(rebuilt.RenderPass); err != nil {
			return err
		}
	}
	return o.pool.RenewSemaphores()
}

// ReloadShaders rebuilds every pass with new bytecode between frames. If any
// pass fails to build, the previous passes stay in use.
func (o *Orchestrator) ReloadShaders(shaders pipeline.Shaders) error {
	if !o.prepared {
		o.opts.Shaders = shaders
		return nil
	}
	if o.phase != phaseIdle {
		return errors.Wrap(ErrOutOfOrder, "reload shaders during a frame")
	}
	if err := o.dev.WaitIdle(); err != nil {
		return gpu.MarkFatal(err, "wait idle before shader reload")
	}

	previous := o.opts.Shaders
	o.opts.Shaders = shaders
	rebuilt := make([]*pipeline.Pass, 0, len(o.passes))
	for i := range o.passes {
		pass, err := o.buildPass(i)
		if err != nil {
			for _, p := range rebuilt {
				p.Destroy()
			}
			o.opts.Shaders = previous
			return err
		}
		rebuilt = append(rebuilt, pass)
	}

	for i, pass := range rebuilt {
		o.passes[i].Destroy()
		o.passes[i] = pass
		if err := o.framebuffers[i].Retarget(pass.RenderPass); err != nil {
			return err
		}
	}
	o.diag.Info("shaders reloaded", "passes", len(rebuilt))
	return nil
}

// takeResize returns the coalesced resize request, if any, and clears it.
// A zero-sized request stays pending: the surface is minimized and nothing can
// be built until it comes back.
func (o *Orchestrator) takeResize() (size *core1_0.Extent2D, stale bool, minimized bool) {
	o.resizeMu.Lock()
	defer o.resizeMu.Unlock()
	size, stale = o.pendingSize, o.pendingStale
	if size != nil && (size.Width == 0 || size.Height == 0) {
		return nil, false, true
	}
	o.pendingSize, o.pendingStale = nil, false
	return size, stale, false
}

func (o *Orchestrator) handleResize(ctx context.Context) (bool, error) {
	size, stale, minimized := o.takeResize()
	if minimized {
		return false, nil
	}
	if !stale && (size == nil || *size == o.chain.Extent()) {
		return true, nil
	}

	if err := o.chain.Recreate(ctx); err != nil {
		return false, err
	}
	o.stats.Recreations++
	if err := o.feed.SetAspect(aspect(o.chain.Extent())); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) signalStale() {
	o.resizeMu.Lock()
	o.resizeSignals++
	o.resizeMu.Unlock()
	o.bus.SurfaceResized.Publish(events.SurfaceResized{Stale: true})
}

func (o *Orchestrator) skip() (Status, error) {
	o.stats.Skipped++
	return StatusSkip, nil
}

// StartFrame applies any pending resize, waits for the frame slot and acquires
// the next image. On StatusSkip the caller simply tries again next loop.
func (o *Orchestrator) StartFrame(ctx context.Context) (Status, error) {
	if !o.prepared {
		return StatusSkip, ErrNotPrepared
	}
	if o.phase != phaseIdle {
		return StatusSkip, errors.Wrap(ErrOutOfOrder, "start frame before the previous one ended")
	}
	o.frameStart = hrtime.Now()

	ready, err := o.handleResize(ctx)
	if err != nil {
		return StatusSkip, err
	}
	if !ready {
		return o.skip()
	}

	slot, err := o.pool.Slot(0)
	if err != nil {
		return StatusSkip, err
	}
	if err := o.dev.WaitForFence(slot.Fence); err != nil {
		return StatusSkip, gpu.MarkFatal(err, "wait for frame fence")
	}

	imageIndex, result, err := o.presenter.acquire(slot)
	if err != nil {
		return StatusSkip, err
	}
	switch result {
	case acquireStale:
		o.diag.Debug("swapchain stale on acquire")
		o.signalStale()
		return o.skip()
	case acquireIdle:
		return o.skip()
	}

	o.slot = slot
	o.imageIndex = imageIndex
	o.phase = phaseAcquired
	return StatusReady, nil
}

// RecordFrame records every pass into the frame's command buffer, with a
// barrier between consecutive passes.
func (o *Orchestrator) RecordFrame() error {
	if !o.prepared {
		return ErrNotPrepared
	}
	if o.phase != phaseAcquired {
		return errors.Wrap(ErrOutOfOrder, "record frame without an acquired image")
	}

	if err := o.record(); err != nil {
		return o.abortFrame(err)
	}
	o.phase = phaseRecorded
	return nil
}

func (o *Orchestrator) record() error {
	if err := o.recorder.StartRecord(); err != nil {
		return err
	}
	sets := []core1_0.DescriptorSet{o.descriptorSet}
	for i, pass := range o.passes {
		if i > 0 {
			if err := o.recorder.BarrierBetweenPasses(); err != nil {
				return err
			}
		}
		framebuffer, err := o.framebuffers[i].Framebuffer(o.imageIndex)
		if err != nil {
			return err
		}
		err = o.recorder.StartPass(pass, recorder.Target{
			Framebuffer: framebuffer,
			Extent:      o.chain.Extent(),
			ClearColor:  o.opts.ClearColor,
		})
		if err != nil {
			return err
		}
		if err := o.recorder.BindDescriptorSets(0, sets); err != nil {
			return err
		}
		if err := o.recorder.DrawMeshes(o.scene.draws); err != nil {
			return err
		}
		if err := o.recorder.EndPass(); err != nil {
			return err
		}
	}

	wait, signal := o.presenter.submitSemaphores(o.slot)
	submission, err := o.recorder.EndRecord(wait, signal, o.slot.Fence)
	if err != nil {
		return err
	}

	// Only reset once the submission that signals it is certain to happen.
	if err := o.dev.ResetFence(o.slot.Fence); err != nil {
		return gpu.MarkFatal(err, "reset frame fence")
	}
	o.submission = submission
	return nil
}

// abortFrame gives up on the acquired frame so the next StartFrame starts
// clean. A flat image that was acquired but never presented leaves its
// semaphore signaled, so the chain is recreated before the next frame.
func (o *Orchestrator) abortFrame(err error) error {
	o.recorder.Abort()
	o.phase = phaseIdle
	recreate, err := o.presenter.discard(err)
	if recreate {
		o.resizeMu.Lock()
		o.pendingStale = true
		o.resizeMu.Unlock()
	}
	return err
}

// EndFrame submits the recorded frame and hands the image to the presentation
// engine or XR runtime.
func (o *Orchestrator) EndFrame(ctx context.Context) error {
	if !o.prepared {
		return ErrNotPrepared
	}
	if o.phase != phaseRecorded {
		return errors.Wrap(ErrOutOfOrder, "end frame before it was recorded")
	}
	o.phase = phaseIdle

	if err := o.dev.QueueSubmit(o.submission); err != nil {
		// The fence was reset for this submission and nothing will signal it.
		if renewErr := o.pool.RenewFence(o.slot.Index); renewErr != nil {
			err = errors.CombineErrors(err, renewErr)
		}
		return o.abortFrame(gpu.MarkFatal(err, "submit frame"))
	}

	presented, err := o.presenter.present(o.slot, o.imageIndex, o.chain.Extent())
	if err != nil {
		return err
	}
	o.stats.LastFrame = hrtime.Since(o.frameStart)
	if !presented {
		o.diag.Debug("swapchain stale on present")
		o.signalStale()
		o.stats.Skipped++
		return nil
	}
	o.stats.Presented++
	return nil
}

// RunFrame is StartFrame, RecordFrame and EndFrame in one call.
func (o *Orchestrator) RunFrame(ctx context.Context) (Status, error) {
	status, err := o.StartFrame(ctx)
	if err != nil || status == StatusSkip {
		return status, err
	}
	if err := o.RecordFrame(); err != nil {
		return status, err
	}
	return status, o.EndFrame(ctx)
}

// Stats reports frame counters; safe to call at any time from the render loop.
func (o *Orchestrator) Stats() Stats {
	return o.stats
}

// ResizeSignals is how many stale-surface notifications this orchestrator
// published.
func (o *Orchestrator) ResizeSignals() int {
	o.resizeMu.Lock()
	defer o.resizeMu.Unlock()
	return o.resizeSignals
}

func (o *Orchestrator) Extent() core1_0.Extent2D {
	if o.chain == nil {
		return core1_0.Extent2D{}
	}
	return o.chain.Extent()
}

// Close waits for the device and releases everything Prepare created, newest
// first. It is safe on an orchestrator that was never prepared.
func (o *Orchestrator) Close() error {
	o.subs.Release()
	if !o.prepared {
		return nil
	}
	o.prepared = false

	err := o.dev.WaitIdle()
	o.release.Release()
	o.phase = phaseIdle
	if err != nil {
		return gpu.MarkFatal(err, "wait idle before shutdown")
	}
	return nil
}
