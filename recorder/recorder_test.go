package recorder

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/renderloop/internal/fakegpu"
	"github.com/vkngwrapper/renderloop/pipeline"
)

var target = Target{
	Extent:     core1_0.Extent2D{Width: 640, Height: 480},
	ClearColor: [4]float32{0.1, 0.2, 0.3, 1},
}

func newPass(name string) *pipeline.Pass {
	return &pipeline.Pass{Name: name, PushConstantBytes: 4}
}

func TestRecordSinglePass(t *testing.T) {
	dev := fakegpu.NewDevice()
	rec := New(dev, core1_0.CommandBuffer{})

	require.NoError(t, rec.StartRecord())
	require.NoError(t, rec.StartPass(newPass("main"), target))
	require.NoError(t, rec.BindDescriptorSets(0, []core1_0.DescriptorSet{{}}))
	require.NoError(t, rec.DrawMeshes([]Draw{{IndexCount: 36}, {IndexCount: 0}, {IndexCount: 6}}))
	require.NoError(t, rec.EndPass())

	sub, err := rec.EndRecord([]core1_0.Semaphore{{}}, []core1_0.Semaphore{{}}, core1_0.Fence{})
	require.NoError(t, err)
	require.Equal(t, []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput}, sub.WaitStages)

	require.Equal(t, []int{36, 0, 6}, dev.DrawCounts)
	require.Equal(t, [][]byte{{0, 0, 0, 0}, {1, 0, 0, 0}, {2, 0, 0, 0}}, dev.PushConstants)
	// The mesh without geometry draws without binding buffers
	require.Equal(t, 2, dev.Count("CmdBindVertexBuffer"))
	require.Equal(t, 2, dev.Count("CmdBindIndexBuffer"))

	require.Equal(t, float32(640), dev.Viewports[0].Width)
	require.Equal(t, float32(480), dev.Viewports[0].Height)
	require.Len(t, dev.BeginInfos[0].ClearValues, 2)
	require.Equal(t, core1_0.ClearValueFloat{0.1, 0.2, 0.3, 1}, dev.BeginInfos[0].ClearValues[0])

	stats := rec.Stats()
	require.Equal(t, 1, stats.Passes)
	require.Equal(t, 3, stats.Draws)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, 42, stats.Indices)
	require.Zero(t, stats.Barriers)

	require.Equal(t, []string{"ResetCommandBuffer", "BeginCommandBuffer"}, dev.Calls[:2])
}

func TestBarriersBetweenPasses(t *testing.T) {
	for passes := 1; passes <= 4; passes++ {
		dev := fakegpu.NewDevice()
		rec := New(dev, core1_0.CommandBuffer{})

		require.NoError(t, rec.StartRecord())
		for i := 0; i < passes; i++ {
			if i > 0 {
				require.NoError(t, rec.BarrierBetweenPasses())
			}
			require.NoError(t, rec.StartPass(newPass("p"), target))
			require.NoError(t, rec.DrawMeshes([]Draw{{IndexCount: 3}}))
			require.NoError(t, rec.EndPass())
		}
		_, err := rec.EndRecord(nil, nil, core1_0.Fence{})
		require.NoError(t, err)

		require.Equal(t, passes-1, dev.Barriers)
		require.Equal(t, passes-1, rec.Stats().Barriers)
	}
}

func TestModelIndexBounds(t *testing.T) {
	dev := fakegpu.NewDevice()
	rec := New(dev, core1_0.CommandBuffer{})
	require.NoError(t, rec.StartRecord())
	require.NoError(t, rec.StartPass(newPass("main"), target))

	require.ErrorIs(t, rec.DrawMesh(2, 2, Draw{}), ErrIndexOutOfRange)
	require.ErrorIs(t, rec.DrawMesh(-1, 2, Draw{}), ErrIndexOutOfRange)
	require.NoError(t, rec.DrawMesh(1, 2, Draw{}))

	require.Error(t, rec.PushConstant(make([]byte, 8)))
}

func TestCallsOutOfOrder(t *testing.T) {
	dev := fakegpu.NewDevice()
	rec := New(dev, core1_0.CommandBuffer{})

	require.ErrorIs(t, rec.StartPass(newPass("main"), target), ErrOutOfOrder)
	require.ErrorIs(t, rec.EndPass(), ErrOutOfOrder)

	require.NoError(t, rec.StartRecord())
	require.ErrorIs(t, rec.StartRecord(), ErrOutOfOrder)
	require.ErrorIs(t, rec.DrawMeshes([]Draw{{}}), ErrOutOfOrder)

	require.NoError(t, rec.StartPass(newPass("main"), target))
	require.ErrorIs(t, rec.BarrierBetweenPasses(), ErrOutOfOrder)
	_, err := rec.EndRecord(nil, nil, core1_0.Fence{})
	require.ErrorIs(t, err, ErrOutOfOrder)

	require.NoError(t, rec.EndPass())
	_, err = rec.EndRecord(nil, nil, core1_0.Fence{})
	require.NoError(t, err)

	// A finished buffer can be recorded again
	require.NoError(t, rec.StartRecord())
}

func TestAbortAllowsRecordingAgain(t *testing.T) {
	dev := fakegpu.NewDevice()
	rec := New(dev, core1_0.CommandBuffer{})

	require.NoError(t, rec.StartRecord())
	require.NoError(t, rec.StartPass(newPass("main"), target))
	rec.Abort()

	require.ErrorIs(t, rec.EndPass(), ErrOutOfOrder)
	require.NoError(t, rec.StartRecord())
	require.Equal(t, 2, dev.Count("ResetCommandBuffer"))
}
