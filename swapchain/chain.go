// Package swapchain owns the presentable images the renderer draws into, their
// views, the shared depth attachment and every framebuffer built over them.
package swapchain

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/gpu"
)

type Device interface {
	WaitIdle() error
	CreateImage(info core1_0.ImageCreateInfo, properties core1_0.MemoryPropertyFlags) (gpu.Image, error)
	DestroyImage(image gpu.Image)
	CreateImageView(info core1_0.ImageViewCreateInfo) (core1_0.ImageView, error)
	DestroyImageView(view core1_0.ImageView)
	CreateFramebuffer(info core1_0.FramebufferCreateInfo) (core1_0.Framebuffer, error)
	DestroyFramebuffer(framebuffer core1_0.Framebuffer)
}

// Backend is the presentation target the chain's images come from: a window
// surface in flat mode, the XR runtime in stereo mode.
type Backend interface {
	// Layers is the array layer count of each image.
	Layers() int
	// DrawableSize is the size the target wants right now; zero while minimized.
	DrawableSize() core1_0.Extent2D
	Support() (Support, error)
	CreateImages(req ImageRequest) ([]core1_0.Image, error)
	DestroyImages() error
}

type ImageRequest struct {
	Format      khr_surface.SurfaceFormat
	PresentMode khr_surface.PresentMode
	Extent      core1_0.Extent2D
	ImageCount  int
	Layers      int
}

type Options struct {
	PreferredFormat khr_surface.SurfaceFormat
	LowLatency      bool
	DepthFormat     core1_0.Format
	PollInterval    time.Duration
}

type Chain struct {
	diag    *diag.Context
	dev     Device
	backend Backend
	opts    Options

	images      []core1_0.Image
	views       []core1_0.ImageView
	depth       gpu.Image
	format      khr_surface.SurfaceFormat
	presentMode khr_surface.PresentMode
	extent      core1_0.Extent2D
	layers      int
	resources   *gpu.ReleaseStack

	created      bool
	recreating   bool
	recreations  int
	sets         []*FramebufferSet
	listeners    map[int]func(*Chain) error
	nextListener int
}

func New(d *diag.Context, dev Device, backend Backend, opts Options) *Chain {
	if opts.PreferredFormat == (khr_surface.SurfaceFormat{}) {
		opts.PreferredFormat = DefaultSurfaceFormat
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 16 * time.Millisecond
	}
	return &Chain{
		diag:      d.With("swapchain"),
		dev:       dev,
		backend:   backend,
		opts:      opts,
		listeners: make(map[int]func(*Chain) error),
	}
}

// Create builds the chain. While the backend reports a zero-sized drawable it
// blocks, polling until the size becomes usable or ctx is done.
func (c *Chain) Create(ctx context.Context) error {
	if c.created {
		return errors.New("swapchain already created")
	}
	if err := c.createResources(ctx); err != nil {
		return err
	}
	if err := c.buildFramebuffers(); err != nil {
		c.destroy()
		return err
	}
	c.created = true
	return nil
}

// Recreate waits for the device to go idle, tears the chain down and builds it
// again. Listeners registered with OnRecreate run after the new images exist and
// before framebuffers are rebuilt, so they may retarget framebuffer sets.
func (c *Chain) Recreate(ctx context.Context) error {
	if err := c.dev.WaitIdle(); err != nil {
		return gpu.MarkFatal(err, "wait idle before swapchain recreation")
	}
	c.destroy()

	if err := c.createResources(ctx); err != nil {
		return err
	}

	c.recreating = true
	for id := 0; id < c.nextListener; id++ {
		listener, ok := c.listeners[id]
		if !ok {
			continue
		}
		if err := listener(c); err != nil {
			c.recreating = false
			c.destroy()
			return err
		}
	}
	c.recreating = false

	if err := c.buildFramebuffers(); err != nil {
		c.destroy()
		return err
	}
	c.created = true
	c.recreations++
	c.diag.Info("swapchain recreated", "width", c.extent.Width, "height", c.extent.Height, "images", len(c.images))
	return nil
}

// OnRecreate registers fn to run during every Recreate. The returned func
// unregisters it.
func (c *Chain) OnRecreate(fn func(*Chain) error) func() {
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() { delete(c.listeners, id) }
}

// Destroy releases framebuffers, views, the depth attachment and the images.
// Framebuffer sets stay registered and are rebuilt by a later Create.
func (c *Chain) Destroy() {
	c.destroy()
}

func (c *Chain) destroy() {
	for _, set := range c.sets {
		set.destroy()
	}
	if c.resources != nil {
		c.resources.Release()
		c.resources = nil
	}
	c.images = nil
	c.views = nil
	c.depth = gpu.Image{}
	c.created = false
}

func (c *Chain) waitForDrawable(ctx context.Context) (core1_0.Extent2D, error) {
	logged := false
	for {
		size := c.backend.DrawableSize()
		if size.Width > 0 && size.Height > 0 {
			return size, nil
		}
		if !logged {
			c.diag.Debug("drawable size is zero, waiting", "width", size.Width, "height", size.Height)
			logged = true
		}

		timer := time.NewTimer(c.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return core1_0.Extent2D{}, errors.Wrap(ctx.Err(), "wait for drawable surface")
		case <-timer.C:
		}
	}
}

func (c *Chain) createResources(ctx context.Context) error {
	drawable, err := c.waitForDrawable(ctx)
	if err != nil {
		return err
	}

	support, err := c.backend.Support()
	if err != nil {
		return gpu.MarkFatal(err, "query surface support")
	}

	format, err := ChooseSurfaceFormat(support.Formats, c.opts.PreferredFormat)
	if err != nil {
		return err
	}
	presentMode := ChoosePresentMode(support.PresentModes, c.opts.LowLatency)
	extent := ChooseExtent(support.Capabilities, drawable)
	if extent.Width <= 0 || extent.Height <= 0 {
		return gpu.Fatalf("surface extent %dx%d is unusable", extent.Width, extent.Height)
	}
	layers := c.backend.Layers()

	var release gpu.ReleaseStack
	images, err := c.backend.CreateImages(ImageRequest{
		Format:      format,
		PresentMode: presentMode,
		Extent:      extent,
		ImageCount:  ChooseImageCount(support.Capabilities),
		Layers:      layers,
	})
	if err != nil {
		return gpu.MarkFatal(err, "create swapchain images")
	}
	release.Push(func() {
		if err := c.backend.DestroyImages(); err != nil {
			c.diag.Error("destroy swapchain images", "error", err)
		}
	})

	views := make([]core1_0.ImageView, 0, len(images))
	for _, image := range images {
		view, err := c.dev.CreateImageView(viewInfo(image, format.Format, core1_0.ImageAspectColor, layers))
		if err != nil {
			release.Release()
			return gpu.MarkFatal(err, "create swapchain image view")
		}
		release.Push(func() { c.dev.DestroyImageView(view) })
		views = append(views, view)
	}

	depth, err := c.createDepth(&release, extent, layers)
	if err != nil {
		release.Release()
		return err
	}

	c.images = images
	c.views = views
	c.depth = depth
	c.format = format
	c.presentMode = presentMode
	c.extent = extent
	c.layers = layers
	c.resources = release.Take()

	c.diag.Debug("swapchain images created",
		"format", format.Format, "presentMode", presentMode,
		"width", extent.Width, "height", extent.Height,
		"images", len(images), "layers", layers)
	return nil
}

func (c *Chain) createDepth(release *gpu.ReleaseStack, extent core1_0.Extent2D, layers int) (gpu.Image, error) {
	depth, err := c.dev.CreateImage(core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   layers,
		Format:        c.opts.DepthFormat,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         core1_0.ImageUsageDepthStencilAttachment,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	}, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return gpu.Image{}, gpu.MarkFatal(err, "create depth image")
	}
	release.Push(func() { c.dev.DestroyImage(depth) })

	depth.View, err = c.dev.CreateImageView(viewInfo(depth.Handle, c.opts.DepthFormat, core1_0.ImageAspectDepth, layers))
	if err != nil {
		return gpu.Image{}, gpu.MarkFatal(err, "create depth image view")
	}
	view := depth.View
	release.Push(func() { c.dev.DestroyImageView(view) })
	return depth, nil
}

func viewInfo(image core1_0.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags, layers int) core1_0.ImageViewCreateInfo {
	viewType := core1_0.ImageViewType2D
	if layers > 1 {
		viewType = core1_0.ImageViewType2DArray
	}
	return core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: viewType,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	}
}

func (c *Chain) Images() []core1_0.Image { return c.images }
func (c *Chain) Views() []core1_0.ImageView { return c.views }
func (c *Chain) DepthView() core1_0.ImageView { return c.depth.View }
func (c *Chain) DepthFormat() core1_0.Format { return c.opts.DepthFormat }
func (c *Chain) Format() core1_0.Format { return c.format.Format }
func (c *Chain) PresentMode() khr_surface.PresentMode { return c.presentMode }
func (c *Chain) Extent() core1_0.Extent2D { return c.extent }
func (c *Chain) Layers() int { return c.layers }
func (c *Chain) Created() bool { return c.created }

// Recreations counts successful calls to Recreate.
func (c *Chain) Recreations() int { return c.recreations }

// DrawableSize is the backend's current drawable size.
func (c *Chain) DrawableSize() core1_0.Extent2D { return c.backend.DrawableSize() }
