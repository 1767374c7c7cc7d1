package swapchain_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/internal/fakegpu"
	"github.com/vkngwrapper/renderloop/swapchain"
)

func newChain(dev *fakegpu.Device, backend swapchain.Backend) *swapchain.Chain {
	return swapchain.New(diag.Discard(), dev, backend, swapchain.Options{
		LowLatency:   true,
		DepthFormat:  core1_0.FormatD32SignedFloat,
		PollInterval: time.Millisecond,
	})
}

func TestCreateBuildsOneFramebufferPerImage(t *testing.T) {
	dev := fakegpu.NewDevice()
	surface := fakegpu.NewSurface()
	chain := newChain(dev, surface)

	require.NoError(t, chain.Create(context.Background()))
	set, err := chain.NewFramebufferSet(core1_0.RenderPass{})
	require.NoError(t, err)

	require.Len(t, chain.Images(), 3)
	require.Len(t, chain.Views(), 3)
	require.Len(t, set.Framebuffers(), len(chain.Images()))
	require.Equal(t, core1_0.Extent2D{Width: 800, Height: 600}, chain.Extent())
	require.Equal(t, core1_0.FormatB8G8R8A8SRGB, chain.Format())
	require.Equal(t, khr_surface.PresentModeMailbox, chain.PresentMode())
	require.Equal(t, 1, chain.Layers())

	require.Equal(t, 3, surface.Requests[0].ImageCount)
	for _, info := range dev.FramebufferInfos {
		require.Equal(t, 800, info.Width)
		require.Equal(t, 600, info.Height)
		require.Equal(t, 1, info.Layers)
		require.Len(t, info.Attachments, 2)
	}

	depth := dev.ImageInfos[0]
	require.Equal(t, core1_0.FormatD32SignedFloat, depth.Format)
	require.Equal(t, 1, depth.ArrayLayers)
	require.Equal(t, core1_0.ImageUsageDepthStencilAttachment, depth.Usage)

	_, err = set.Framebuffer(3)
	require.Error(t, err)
	_, err = set.Framebuffer(2)
	require.NoError(t, err)

	require.Error(t, chain.Create(context.Background()))
}

func TestRecreateKeepsFramebuffersMatchingImages(t *testing.T) {
	dev := fakegpu.NewDevice()
	surface := fakegpu.NewSurface()
	chain := newChain(dev, surface)

	set, err := chain.NewFramebufferSet(core1_0.RenderPass{})
	require.NoError(t, err)
	require.Empty(t, set.Framebuffers())

	require.NoError(t, chain.Create(context.Background()))
	require.Len(t, set.Framebuffers(), 3)

	listenerCalls := 0
	unregister := chain.OnRecreate(func(c *swapchain.Chain) error {
		listenerCalls++
		require.Empty(t, set.Framebuffers())
		require.NoError(t, set.Retarget(core1_0.RenderPass{}))
		require.Empty(t, set.Framebuffers())
		return nil
	})

	surface.Capabilities.MinImageCount = 4
	surface.Resize(640, 480)
	require.NoError(t, chain.Recreate(context.Background()))

	require.Equal(t, 1, listenerCalls)
	require.Equal(t, 1, dev.IdleWaits)
	require.Len(t, chain.Images(), 5)
	require.Len(t, set.Framebuffers(), 5)
	require.Equal(t, core1_0.Extent2D{Width: 640, Height: 480}, chain.Extent())
	require.Equal(t, 1, chain.Recreations())

	// 5 framebuffers, 5 color views, depth image + view
	require.Equal(t, 5, dev.Live["framebuffer"])
	require.Equal(t, 6, dev.Live["imageView"])
	require.Equal(t, 1, dev.Live["image"])
	require.Equal(t, 5, surface.LiveImages)

	unregister()
	require.NoError(t, chain.Recreate(context.Background()))
	require.Equal(t, 1, listenerCalls)

	chain.Destroy()
	require.Zero(t, dev.LiveTotal())
	require.Zero(t, surface.LiveImages)
}

func TestCreateBlocksWhileDrawableIsZero(t *testing.T) {
	dev := fakegpu.NewDevice()
	surface := fakegpu.NewSurface()
	surface.Sizes = []core1_0.Extent2D{{Width: 0, Height: 0}, {Width: 800, Height: 0}}
	chain := newChain(dev, surface)

	require.NoError(t, chain.Create(context.Background()))
	require.Equal(t, 3, surface.SizeQueries)
	require.Equal(t, core1_0.Extent2D{Width: 800, Height: 600}, chain.Extent())
}

func TestCreateGivesUpWhenContextEnds(t *testing.T) {
	dev := fakegpu.NewDevice()
	surface := fakegpu.NewSurface()
	surface.Resize(0, 0)
	chain := newChain(dev, surface)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := chain.Create(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, surface.Requests)
	require.Zero(t, dev.LiveTotal())
}

func TestFailedCreateReleasesEverything(t *testing.T) {
	dev := fakegpu.NewDevice()
	surface := fakegpu.NewSurface()
	chain := newChain(dev, surface)
	_, err := chain.NewFramebufferSet(core1_0.RenderPass{})
	require.NoError(t, err)

	dev.FailOn("CreateFramebuffer", errors.New("out of device memory"))
	err = chain.Create(context.Background())
	require.True(t, gpu.IsFatal(err))
	require.False(t, chain.Created())
	require.Zero(t, dev.LiveTotal())
	require.Zero(t, surface.LiveImages)

	dev.FailOn("CreateFramebuffer", nil)
	dev.FailOn("CreateImage", errors.New("no depth memory"))
	err = chain.Create(context.Background())
	require.True(t, gpu.IsFatal(err))
	require.Zero(t, dev.LiveTotal())
	require.Zero(t, surface.LiveImages)
}

func TestStereoChainUsesLayeredViews(t *testing.T) {
	dev := fakegpu.NewDevice()
	session := fakegpu.NewSession()
	chain := newChain(dev, swapchain.NewXRBackend(session))

	require.NoError(t, chain.Create(context.Background()))
	set, err := chain.NewFramebufferSet(core1_0.RenderPass{})
	require.NoError(t, err)

	require.Equal(t, 2, chain.Layers())
	require.Equal(t, core1_0.Extent2D{Width: 1832, Height: 1920}, chain.Extent())
	require.Equal(t, khr_surface.PresentModeFIFO, chain.PresentMode())
	require.Len(t, chain.Images(), 3)
	require.Len(t, set.Framebuffers(), 3)

	// Preferred format is picked even though the runtime lists it second
	require.Equal(t, core1_0.FormatB8G8R8A8SRGB, chain.Format())

	for _, info := range dev.ImageViewInfos {
		require.Equal(t, core1_0.ImageViewType2DArray, info.ViewType)
		require.Equal(t, 2, info.SubresourceRange.LayerCount)
	}
	require.Equal(t, 2, dev.ImageInfos[0].ArrayLayers)
	for _, info := range dev.FramebufferInfos {
		require.Equal(t, 1, info.Layers)
	}

	set.Release()
	chain.Destroy()
	require.Equal(t, 1, session.Destroyed)
	require.Zero(t, dev.LiveTotal())
}
