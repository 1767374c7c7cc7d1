package frame_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_1"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/renderloop/assets"
	"github.com/vkngwrapper/renderloop/config"
	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/events"
	"github.com/vkngwrapper/renderloop/frame"
	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/internal/fakegpu"
	"github.com/vkngwrapper/renderloop/mesh"
	"github.com/vkngwrapper/renderloop/pipeline"
	"github.com/vkngwrapper/renderloop/xr"
)

var shaders = pipeline.Shaders{Vertex: []byte{3, 2, 35, 7}, Fragment: []byte{3, 2, 35, 7}}

type fixture struct {
	dev     *fakegpu.Device
	surface *fakegpu.Surface
	session *fakegpu.Session
	bus     *events.Bus
	o       *frame.Orchestrator
}

func newFixture(t *testing.T, stereo bool, configure func(*frame.Options)) *fixture {
	t.Helper()
	f := &fixture{
		dev:     fakegpu.NewDevice(),
		surface: fakegpu.NewSurface(),
		session: fakegpu.NewSession(),
		bus:     events.NewBus(),
	}

	var presentation frame.Presentation = frame.Flat{Surface: f.surface}
	if stereo {
		presentation = frame.Stereo{Session: f.session}
	}
	opts := frame.OptionsFromConfig(config.Default(), presentation, shaders, nil)
	if configure != nil {
		configure(&opts)
	}

	o, err := frame.New(diag.Discard(), f.dev, f.bus, opts)
	require.NoError(t, err)
	f.o = o
	return f
}

func (f *fixture) prepare(t *testing.T) {
	t.Helper()
	require.NoError(t, f.o.Prepare(context.Background()))
}

func (f *fixture) run(t *testing.T) frame.Status {
	t.Helper()
	status, err := f.o.RunFrame(context.Background())
	require.NoError(t, err)
	return status
}

func (f *fixture) staleSignals() *int {
	count := 0
	f.bus.SurfaceResized.Subscribe(func(e events.SurfaceResized) {
		if e.Stale {
			count++
		}
	})
	return &count
}

func buffersWith(dev *fakegpu.Device, usage core1_0.BufferUsageFlags) []fakegpu.BufferRecord {
	var out []fakegpu.BufferRecord
	for _, b := range dev.Buffers {
		if b.Usage&usage != 0 {
			out = append(out, b)
		}
	}
	return out
}

func TestZeroMeshesDrawPlaceholder(t *testing.T) {
	f := newFixture(t, false, nil)
	f.prepare(t)

	require.Equal(t, frame.StatusReady, f.run(t))

	require.Equal(t, []int{0}, f.dev.DrawCounts)
	require.Equal(t, [][]byte{{0, 0, 0, 0}}, f.dev.PushConstants)
	require.Zero(t, f.dev.Count("CmdBindVertexBuffer"))
	require.Empty(t, buffersWith(f.dev, core1_0.BufferUsageVertexBuffer))

	transforms := buffersWith(f.dev, core1_0.BufferUsageStorageBuffer)
	require.Len(t, transforms, 1)
	require.Equal(t, mesh.MatrixBytes(mgl32.Ident4()), transforms[0].Uploaded)

	require.Len(t, f.dev.Submissions, 1)
	require.Len(t, f.dev.Submissions[0].WaitSemaphores, 1)
	require.Len(t, f.dev.Submissions[0].SignalSemaphores, 1)
	require.Equal(t, 1, f.surface.Presents)
	require.Equal(t, 1, f.o.Stats().Presented)

	require.Len(t, f.dev.DescriptorWrites, 2)
	require.Equal(t, core1_0.DescriptorTypeUniformBuffer, f.dev.DescriptorWrites[0].DescriptorType)
	require.Equal(t, core1_0.DescriptorTypeStorageBuffer, f.dev.DescriptorWrites[1].DescriptorType)
}

func TestResizeBurstRecreatesOnce(t *testing.T) {
	f := newFixture(t, false, nil)
	f.prepare(t)
	f.run(t)

	f.bus.SurfaceResized.Publish(events.SurfaceResized{Width: 800, Height: 600})
	f.bus.SurfaceResized.Publish(events.SurfaceResized{Width: 0, Height: 0})
	f.bus.SurfaceResized.Publish(events.SurfaceResized{Width: 640, Height: 480})
	f.surface.Resize(640, 480)

	require.Equal(t, frame.StatusReady, f.run(t))
	require.Equal(t, 1, f.o.Stats().Recreations)
	require.Equal(t, 1, f.dev.IdleWaits)
	require.Equal(t, core1_0.Extent2D{Width: 640, Height: 480}, f.o.Extent())

	// Extent changes never rebuild the pipeline
	require.Len(t, f.dev.RenderPassInfos, 1)
	require.Len(t, f.dev.PipelineInfos, 1)
	require.Equal(t, 3, f.dev.Live["framebuffer"])

	f.run(t)
	require.Equal(t, 1, f.o.Stats().Recreations)

	// A resize back to the current size is dropped
	f.bus.SurfaceResized.Publish(events.SurfaceResized{Width: 640, Height: 480})
	f.run(t)
	require.Equal(t, 1, f.o.Stats().Recreations)
}

func TestMinimizedSurfaceSkipsFrames(t *testing.T) {
	f := newFixture(t, false, nil)
	f.prepare(t)

	f.bus.SurfaceResized.Publish(events.SurfaceResized{Width: 0, Height: 0})
	require.Equal(t, frame.StatusSkip, f.run(t))
	require.Equal(t, frame.StatusSkip, f.run(t))
	require.Zero(t, f.o.Stats().Recreations)
	require.Equal(t, 2, f.o.Stats().Skipped)
	require.Zero(t, f.surface.Acquires)

	f.surface.Resize(1024, 768)
	f.bus.SurfaceResized.Publish(events.SurfaceResized{Width: 1024, Height: 768})
	require.Equal(t, frame.StatusReady, f.run(t))
	require.Equal(t, 1, f.o.Stats().Recreations)
	require.Equal(t, core1_0.Extent2D{Width: 1024, Height: 768}, f.o.Extent())
}

func TestStaleAcquireSignalsOnce(t *testing.T) {
	f := newFixture(t, false, nil)
	f.prepare(t)
	stale := f.staleSignals()

	f.surface.AcquireOutcomes = []gpu.Outcome{gpu.OutcomeRetry}
	status, err := f.o.StartFrame(context.Background())
	require.NoError(t, err)
	require.Equal(t, frame.StatusSkip, status)
	require.Equal(t, 1, *stale)
	require.Equal(t, 1, f.o.ResizeSignals())
	require.Empty(t, f.dev.Submissions)

	require.Equal(t, frame.StatusReady, f.run(t))
	require.Equal(t, 1, f.o.Stats().Recreations)
	require.Equal(t, 1, *stale)
	// Semaphores are replaced after recreation
	require.Equal(t, 4, f.dev.Created["semaphore"])
}

func TestStalePresentRecreatesNextFrame(t *testing.T) {
	f := newFixture(t, false, nil)
	f.prepare(t)
	stale := f.staleSignals()

	f.surface.PresentOutcomes = []gpu.Outcome{gpu.OutcomeRetry}
	require.Equal(t, frame.StatusReady, f.run(t))
	require.Equal(t, 1, *stale)
	require.Zero(t, f.o.Stats().Recreations)
	require.Zero(t, f.o.Stats().Presented)
	require.Equal(t, 1, f.o.Stats().Skipped)

	f.run(t)
	require.Equal(t, 1, f.o.Stats().Recreations)
	require.Equal(t, 2, f.surface.Presents)
	require.Equal(t, 1, f.o.Stats().Presented)
}

func TestFormatChangeRebuildsPasses(t *testing.T) {
	f := newFixture(t, false, nil)
	f.prepare(t)

	unorm := khr_surface.SurfaceFormat{Format: core1_0.FormatB8G8R8A8UnsignedNormalized, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}
	f.surface.Formats = []khr_surface.SurfaceFormat{unorm}
	f.bus.SurfaceResized.Publish(events.SurfaceResized{Stale: true})
	f.run(t)

	require.Len(t, f.dev.RenderPassInfos, 2)
	require.Equal(t, core1_0.FormatB8G8R8A8UnsignedNormalized, f.dev.RenderPassInfos[1].Attachments[0].Format)
	require.Equal(t, 1, f.dev.Live["renderPass"])
	require.Equal(t, 1, f.dev.Live["pipeline"])
	require.Equal(t, 3, f.dev.Live["framebuffer"])
}

func TestFlatKeyEventReuploadsBeforeNextRecord(t *testing.T) {
	f := newFixture(t, false, nil)
	f.prepare(t)
	require.Len(t, f.dev.Writes, 1)
	initial := f.dev.Writes[0].Data
	require.Len(t, initial, 128)

	f.bus.KeyPressed.Publish(events.KeyPressed{Key: events.KeyForward})
	require.Len(t, f.dev.Writes, 2)
	require.NotEqual(t, initial, f.dev.Writes[1].Data)

	f.run(t)
	require.Len(t, f.dev.Writes, 2)
}

func TestStereoFrame(t *testing.T) {
	f := newFixture(t, true, nil)
	f.prepare(t)

	multiview, ok := f.dev.RenderPassInfos[0].Next.(core1_1.RenderPassMultiviewCreateInfo)
	require.True(t, ok)
	require.Equal(t, []uint32{0b11}, multiview.ViewMasks)
	require.Equal(t, 256, buffersWith(f.dev, core1_0.BufferUsageUniformBuffer)[0].Size)

	require.Equal(t, frame.StatusReady, f.run(t))
	require.Equal(t, []string{
		"WaitFrame", "BeginFrame", "AcquireSwapchainImage", "WaitSwapchainImage",
		"ReleaseSwapchainImage", "EndFrame",
	}, f.session.Calls)
	require.Equal(t, [][]xr.ProjectionLayer{{
		{ImageIndex: 0, Extent: core1_0.Extent2D{Width: 1832, Height: 1920}, Layers: 2},
	}}, f.session.EndedLayers)
	require.Empty(t, f.dev.Submissions[0].WaitSemaphores)
	require.Zero(t, f.dev.Live["semaphore"])
	require.Zero(t, f.surface.Presents)
}

func TestStereoSkipsWhenRuntimeSaysSo(t *testing.T) {
	f := newFixture(t, true, nil)
	f.prepare(t)

	f.session.ShouldRender = false
	require.Equal(t, frame.StatusSkip, f.run(t))
	require.Equal(t, []string{"WaitFrame", "BeginFrame", "EndFrame"}, f.session.Calls)
	require.Equal(t, [][]xr.ProjectionLayer{nil}, f.session.EndedLayers)
	require.Empty(t, f.dev.Submissions)

	f.session.Calls = nil
	f.session.StateValue = xr.SessionIdle
	require.Equal(t, frame.StatusSkip, f.run(t))
	require.Empty(t, f.session.Calls)
	require.Equal(t, 2, f.o.Stats().Skipped)
}

func TestStereoHeadPoses(t *testing.T) {
	f := newFixture(t, true, nil)
	f.prepare(t)
	require.Len(t, f.dev.Writes, 1)

	eye := mgl32.Translate3D(0.03, 0, 0)
	proj := mgl32.Perspective(1.5, 1, 0.1, 100)
	f.bus.HeadPoseUpdated.Publish(events.HeadPoseUpdated{
		Views:       []mgl32.Mat4{eye, eye.Inv()},
		Projections: []mgl32.Mat4{proj, proj},
	})
	require.Len(t, f.dev.Writes, 2)
	accepted := f.dev.Writes[1].Data
	require.Equal(t, mesh.MatrixBytes(eye, eye.Inv(), proj, proj), accepted)

	f.bus.HeadPoseUpdated.Publish(events.HeadPoseUpdated{Views: []mgl32.Mat4{eye}, Projections: []mgl32.Mat4{proj}})
	f.bus.HeadPoseUpdated.Publish(events.HeadPoseUpdated{
		Views:       []mgl32.Mat4{eye, eye, eye},
		Projections: []mgl32.Mat4{proj, proj, proj},
	})
	require.Len(t, f.dev.Writes, 2)
}

func TestPassesAreSeparatedByBarriers(t *testing.T) {
	for passes := 1; passes <= 3; passes++ {
		f := newFixture(t, false, func(o *frame.Options) { o.Passes = passes })
		f.prepare(t)
		f.run(t)

		require.Equal(t, passes-1, f.dev.Barriers)
		require.Len(t, f.dev.BeginInfos, passes)
		require.Equal(t, passes*3, f.dev.Live["framebuffer"])
		require.Equal(t, passes, f.dev.Live["pipeline"])
		require.NoError(t, f.o.Close())
	}
}

func TestReloadShadersRebuildsPasses(t *testing.T) {
	f := newFixture(t, false, func(o *frame.Options) { o.Passes = 2 })
	f.prepare(t)
	f.run(t)

	reloaded := pipeline.Shaders{Vertex: []byte{3, 2, 35, 7, 0, 0, 1, 0}, Fragment: []byte{3, 2, 35, 7, 0, 0, 1, 0}}
	require.NoError(t, f.o.ReloadShaders(reloaded))
	require.Equal(t, 4, f.dev.Created["pipeline"])
	require.Equal(t, 2, f.dev.Live["pipeline"])
	require.Equal(t, 2, f.dev.Live["renderPass"])
	require.Equal(t, 6, f.dev.Live["framebuffer"])
	require.Equal(t, frame.StatusReady, f.run(t))

	f.dev.FailOn("CreateGraphicsPipeline", errors.New("bad shader"))
	require.Error(t, f.o.ReloadShaders(shaders))
	f.dev.FailOn("CreateGraphicsPipeline", nil)
	require.Equal(t, 2, f.dev.Live["pipeline"])
	require.Equal(t, 2, f.dev.Live["renderPass"])
	require.Equal(t, frame.StatusReady, f.run(t))

	require.NoError(t, f.o.Close())
	require.Zero(t, f.dev.LiveTotal())
}

func TestCallsOutOfOrder(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	_, err := f.o.StartFrame(ctx)
	require.ErrorIs(t, err, frame.ErrNotPrepared)
	require.ErrorIs(t, f.o.RecordFrame(), frame.ErrNotPrepared)

	f.prepare(t)
	require.ErrorIs(t, f.o.RecordFrame(), frame.ErrOutOfOrder)
	require.ErrorIs(t, f.o.EndFrame(ctx), frame.ErrOutOfOrder)

	status, err := f.o.StartFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, frame.StatusReady, status)
	_, err = f.o.StartFrame(ctx)
	require.ErrorIs(t, err, frame.ErrOutOfOrder)
	require.ErrorIs(t, f.o.EndFrame(ctx), frame.ErrOutOfOrder)

	require.NoError(t, f.o.RecordFrame())
	require.NoError(t, f.o.EndFrame(ctx))
	require.Equal(t, 1, f.dev.FenceResets)
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t, false, nil)
	f.prepare(t)
	f.run(t)
	f.bus.SurfaceResized.Publish(events.SurfaceResized{Stale: true})
	f.run(t)

	require.NoError(t, f.o.Close())
	require.Zero(t, f.dev.LiveTotal())
	require.Zero(t, f.surface.LiveImages)
	require.Zero(t, f.bus.SurfaceResized.Len())
	require.Zero(t, f.bus.KeyPressed.Len())
	require.Zero(t, f.bus.MeshReady.Len())

	require.NoError(t, f.o.Close())

	unprepared := newFixture(t, false, nil)
	require.NoError(t, unprepared.o.Close())
	require.Zero(t, unprepared.dev.IdleWaits)
}

func TestFailedPrepareReleasesEverything(t *testing.T) {
	for _, method := range []string{"CreateGraphicsPipeline", "CreateFramebuffer", "UploadBuffer", "AllocateDescriptorSet"} {
		t.Run(method, func(t *testing.T) {
			f := newFixture(t, false, nil)
			f.dev.FailOn(method, errors.New("device lost"))

			err := f.o.Prepare(context.Background())
			require.True(t, gpu.IsFatal(err))
			require.Zero(t, f.dev.LiveTotal())
			require.Zero(t, f.surface.LiveImages)

			_, err = f.o.StartFrame(context.Background())
			require.ErrorIs(t, err, frame.ErrNotPrepared)
		})
	}
}

type sizedDecoder struct{}

// DecodeMesh returns a mesh with as many indices as the path has characters.
func (sizedDecoder) DecodeMesh(path string) ([]mesh.Vertex, []uint32, error) {
	if path == "missing.obj" {
		return nil, nil, errors.New("no such file")
	}
	indices := make([]uint32, len(path))
	return []mesh.Vertex{{}, {}, {}}, indices, nil
}

func (sizedDecoder) DecodeTexture(path string) (mesh.Texture, error) {
	return mesh.PlaceholderTexture(), nil
}

func TestPrepareWaitsForMeshes(t *testing.T) {
	bus := events.NewBus()
	loader := assets.NewLoader(diag.Discard(), bus, assets.WithDecoder(sizedDecoder{}), assets.WithWorkers(3))
	defer loader.Close()

	dev := fakegpu.NewDevice()
	opts := frame.OptionsFromConfig(config.Default(), frame.Flat{Surface: fakegpu.NewSurface()}, shaders, loader)
	o, err := frame.New(diag.Discard(), dev, bus, opts)
	require.NoError(t, err)
	defer o.Close()

	for _, path := range []string{"abc", "missing.obj", "abcdef"} {
		_, err := loader.LoadAsync(assets.Descriptor{Name: path, MeshPath: path})
		require.NoError(t, err)
	}

	require.NoError(t, o.Prepare(context.Background()))
	_, err = o.RunFrame(context.Background())
	require.NoError(t, err)

	require.Equal(t, []int{3, 0, 6}, dev.DrawCounts)
	require.Len(t, buffersWith(dev, core1_0.BufferUsageVertexBuffer), 2)
	transforms := buffersWith(dev, core1_0.BufferUsageStorageBuffer)
	require.Len(t, transforms[0].Uploaded, 3*64)

	_, err = loader.LoadAsync(assets.Descriptor{Name: "late", MeshPath: "abcdefghi"})
	require.NoError(t, err)
	require.NoError(t, o.Prepare(context.Background()))
	dev.ResetRecording()
	_, err = o.RunFrame(context.Background())
	require.NoError(t, err)

	require.Equal(t, []int{3, 0, 6, 9}, dev.DrawCounts)
	// uniform, three vertex/index pairs and the transforms
	require.Equal(t, 8, dev.Live["buffer"])
}

func triangle(name string) mesh.Data {
	return mesh.Data{
		Name:      name,
		Vertices:  make([]mesh.Vertex, 3),
		Indices:   []uint32{0, 1, 2},
		Transform: mgl32.Ident4(),
	}
}

func TestFailedScenePrepareKeepsPreviousScene(t *testing.T) {
	f := newFixture(t, false, nil)
	f.bus.MeshReady.Publish(events.MeshReady{Seq: 1, Mesh: triangle("first")})
	f.prepare(t)
	// uniform, one vertex/index pair and the transforms
	require.Equal(t, 4, f.dev.Live["buffer"])

	f.bus.MeshReady.Publish(events.MeshReady{Seq: 2, Mesh: triangle("second")})
	f.dev.FailOn("UpdateDescriptorSets", errors.New("device lost"))
	err := f.o.Prepare(context.Background())
	require.Error(t, err)
	require.True(t, gpu.IsFatal(err))
	require.Equal(t, 4, f.dev.Live["buffer"])

	f.dev.FailOn("UpdateDescriptorSets", nil)
	f.dev.ResetRecording()
	require.Equal(t, frame.StatusReady, f.run(t))
	require.Equal(t, []int{3}, f.dev.DrawCounts)

	f.prepare(t)
	f.dev.ResetRecording()
	f.run(t)
	require.Equal(t, []int{3, 3}, f.dev.DrawCounts)
	require.Equal(t, 6, f.dev.Live["buffer"])

	require.NoError(t, f.o.Close())
	require.Zero(t, f.dev.LiveTotal())
}

func TestRecordFailureEndsStereoFrame(t *testing.T) {
	f := newFixture(t, true, nil)
	f.prepare(t)

	f.dev.FailOn("CmdBeginRenderPass", errors.New("transient"))
	_, err := f.o.RunFrame(context.Background())
	require.Error(t, err)
	require.False(t, gpu.IsFatal(err))
	require.Equal(t, []string{
		"WaitFrame", "BeginFrame", "AcquireSwapchainImage", "WaitSwapchainImage",
		"ReleaseSwapchainImage", "EndFrame",
	}, f.session.Calls)
	require.Equal(t, [][]xr.ProjectionLayer{nil}, f.session.EndedLayers)
	require.Empty(t, f.dev.Submissions)

	f.dev.FailOn("CmdBeginRenderPass", nil)
	f.session.Calls = nil
	require.Equal(t, frame.StatusReady, f.run(t))
	require.Equal(t, []string{
		"WaitFrame", "BeginFrame", "AcquireSwapchainImage", "WaitSwapchainImage",
		"ReleaseSwapchainImage", "EndFrame",
	}, f.session.Calls)
	require.Len(t, f.dev.Submissions, 1)
	require.Equal(t, 1, f.o.Stats().Presented)
}

func TestRecordFailureRecreatesFlatChain(t *testing.T) {
	f := newFixture(t, false, nil)
	f.prepare(t)

	f.dev.FailOn("CmdBeginRenderPass", errors.New("transient"))
	_, err := f.o.RunFrame(context.Background())
	require.Error(t, err)
	require.Zero(t, f.surface.Presents)

	f.dev.FailOn("CmdBeginRenderPass", nil)
	require.Equal(t, frame.StatusReady, f.run(t))
	require.Equal(t, 1, f.o.Stats().Recreations)
	require.Equal(t, 1, f.surface.Presents)
	// The semaphore left signaled by the dropped acquire was replaced
	require.Equal(t, 4, f.dev.Created["semaphore"])
}

func TestFailedSubmitRenewsFence(t *testing.T) {
	f := newFixture(t, false, nil)
	f.prepare(t)

	f.dev.FailOn("QueueSubmit", errors.New("device lost"))
	_, err := f.o.RunFrame(context.Background())
	require.True(t, gpu.IsFatal(err))
	require.Equal(t, 2, f.dev.Created["fence"])
	require.Equal(t, 1, f.dev.Live["fence"])

	f.dev.FailOn("QueueSubmit", nil)
	require.Equal(t, frame.StatusReady, f.run(t))
	require.Len(t, f.dev.Submissions, 1)

	require.NoError(t, f.o.Close())
	require.Zero(t, f.dev.LiveTotal())
}
