package projection

import (
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/renderloop/config"
	"github.com/vkngwrapper/renderloop/diag"
	"github.com/vkngwrapper/renderloop/events"
)

type uniformBuffer struct {
	writes [][]byte
	fail   error
}

func (u *uniformBuffer) Write(data []byte) error {
	if u.fail != nil {
		return u.fail
	}
	u.writes = append(u.writes, append([]byte(nil), data...))
	return nil
}

func (u *uniformBuffer) last() []byte {
	return u.writes[len(u.writes)-1]
}

func pose(views, projections int) events.HeadPoseUpdated {
	var p events.HeadPoseUpdated
	for i := 0; i < views; i++ {
		p.Views = append(p.Views, mgl32.Translate3D(float32(i+1), 0, 0))
	}
	for i := 0; i < projections; i++ {
		p.Projections = append(p.Projections, mgl32.Perspective(1, 1, 0.1, float32(10+i)))
	}
	return p
}

func TestStereoFeedAcceptsTwoEyes(t *testing.T) {
	bus := events.NewBus()
	buf := &uniformBuffer{}
	f, err := NewStereoFeed(diag.Discard(), bus, buf)
	require.NoError(t, err)
	defer f.Close()

	require.Len(t, buf.writes, 1)
	require.Len(t, buf.last(), StereoSize)

	p := pose(2, 2)
	bus.HeadPoseUpdated.Publish(p)

	require.Len(t, buf.writes, 2)
	require.Equal(t, p.Views[1], f.Current().Views[1])
	require.Equal(t, p.Projections[0], f.Current().Projections[0])
	require.Equal(t, f.Current().Bytes(), buf.last())
	require.Equal(t, buf.last(), f.Bytes())
}

func TestStereoFeedRejectsMalformedPoses(t *testing.T) {
	ctx, capture := diag.NewCapture()
	bus := events.NewBus()
	buf := &uniformBuffer{}
	f, err := NewStereoFeed(ctx, bus, buf)
	require.NoError(t, err)
	defer f.Close()

	bus.HeadPoseUpdated.Publish(pose(2, 2))
	before := f.Bytes()

	for _, p := range []events.HeadPoseUpdated{pose(1, 1), pose(3, 3), pose(2, 1)} {
		bus.HeadPoseUpdated.Publish(p)
		require.ErrorIs(t, f.Apply(p), ErrMalformedPose)
	}

	require.Equal(t, before, f.Bytes())
	require.Equal(t, 2, f.Uploads())
	require.Len(t, capture.Messages(slog.LevelWarn), 3)
}

func TestStereoFeedStopsAfterClose(t *testing.T) {
	bus := events.NewBus()
	buf := &uniformBuffer{}
	f, err := NewStereoFeed(diag.Discard(), bus, buf)
	require.NoError(t, err)

	f.Close()
	bus.HeadPoseUpdated.Publish(pose(2, 2))
	require.Len(t, buf.writes, 1)
	require.Zero(t, bus.HeadPoseUpdated.Len())
}

func TestUploadFailureKeepsPreviousPose(t *testing.T) {
	bus := events.NewBus()
	buf := &uniformBuffer{}
	f, err := NewStereoFeed(diag.Discard(), bus, buf)
	require.NoError(t, err)
	defer f.Close()

	buf.fail = errors.New("device lost")
	require.Error(t, f.Apply(pose(2, 2)))
	require.Equal(t, identityStereo(), f.Current())
}

func TestFlatFeedReuploadsOnInput(t *testing.T) {
	bus := events.NewBus()
	buf := &uniformBuffer{}
	camera := NewCamera(config.Default().Camera, 4.0/3.0)
	f, err := NewFlatFeed(diag.Discard(), bus, camera, buf)
	require.NoError(t, err)
	defer f.Close()

	require.Len(t, buf.writes, 1)
	require.Len(t, buf.last(), MonoSize)
	initial := f.Current()

	bus.KeyPressed.Publish(events.KeyPressed{Key: events.KeyForward})
	require.Len(t, buf.writes, 2)
	require.NotEqual(t, initial.View, f.Current().View)
	require.Equal(t, initial.Projection, f.Current().Projection)
	require.Equal(t, f.Current().Bytes(), buf.last())

	bus.KeyPressed.Publish(events.KeyPressed{Key: events.KeyUnknown})
	require.Len(t, buf.writes, 2)

	bus.MouseMoved.Publish(events.MouseMoved{DX: 10, DY: 5})
	require.Len(t, buf.writes, 3)
	require.Equal(t, f.Current().Bytes(), buf.last())

	require.NoError(t, f.SetAspect(4.0/3.0))
	require.Len(t, buf.writes, 3)
	require.NoError(t, f.SetAspect(16.0/9.0))
	require.Len(t, buf.writes, 4)
}

func requireNear(t *testing.T, want, got mgl32.Vec3) {
	t.Helper()
	for i := range want {
		require.InDelta(t, want[i], got[i], 1e-5, "component %d of %v", i, got)
	}
}

func TestCamera(t *testing.T) {
	camera := NewCamera(config.Default().Camera, 1)
	requireNear(t, mgl32.Vec3{0, 0, -1}, camera.Front())

	require.True(t, camera.Move(events.KeyForward))
	requireNear(t, mgl32.Vec3{0, 0, 2.9}, camera.Position)
	require.True(t, camera.Move(events.KeyRight))
	require.InDelta(t, 0.1, camera.Position.X(), 1e-5)

	camera.Look(0, -1000)
	require.Equal(t, float32(89), camera.Pitch)

	// Vulkan clip space: a point above the camera lands at negative Y
	flat := NewCamera(config.Default().Camera, 1)
	clip := flat.Projection().Mul4(flat.View()).Mul4x1(mgl32.Vec4{0, 1, 0, 1})
	require.Less(t, clip.Y()/clip.W(), float32(0))
	depth := clip.Z() / clip.W()
	require.True(t, depth > 0 && depth < 1)
}
