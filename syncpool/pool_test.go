package syncpool_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/internal/fakegpu"
	"github.com/vkngwrapper/renderloop/syncpool"
)

func TestSlotsAreCreatedLazily(t *testing.T) {
	dev := fakegpu.NewDevice()
	pool := syncpool.New(dev, 1, true)
	require.Zero(t, dev.LiveTotal())

	slot, err := pool.Slot(0)
	require.NoError(t, err)
	require.True(t, slot.HasSemaphores)
	require.Equal(t, 1, dev.Live["fence"])
	require.Equal(t, 2, dev.Live["semaphore"])

	again, err := pool.Slot(0)
	require.NoError(t, err)
	require.Same(t, slot, again)
	require.Equal(t, 1, dev.Created["fence"])

	_, err = pool.Slot(1)
	require.Error(t, err)
}

func TestStereoSlotsHaveNoSemaphores(t *testing.T) {
	dev := fakegpu.NewDevice()
	pool := syncpool.New(dev, 1, false)

	slot, err := pool.Slot(0)
	require.NoError(t, err)
	require.False(t, slot.HasSemaphores)
	require.Zero(t, dev.Live["semaphore"])
	require.NoError(t, pool.RenewSemaphores())
	require.Zero(t, dev.Created["semaphore"])
}

func TestDestroyReleasesInReverseOrder(t *testing.T) {
	dev := fakegpu.NewDevice()
	pool := syncpool.New(dev, 2, true)
	_, err := pool.Slot(0)
	require.NoError(t, err)
	_, err = pool.Slot(1)
	require.NoError(t, err)

	dev.ResetRecording()
	pool.Destroy()
	pool.Destroy()

	require.Equal(t, []string{
		"DestroySemaphore", "DestroySemaphore", "DestroyFence",
		"DestroySemaphore", "DestroySemaphore", "DestroyFence",
	}, dev.Calls)
	require.Zero(t, dev.LiveTotal())

	_, err = pool.Slot(0)
	require.Error(t, err)
}

func TestRenewSemaphores(t *testing.T) {
	dev := fakegpu.NewDevice()
	pool := syncpool.New(dev, 1, true)
	_, err := pool.Slot(0)
	require.NoError(t, err)

	require.NoError(t, pool.RenewSemaphores())
	require.Equal(t, 4, dev.Created["semaphore"])
	require.Equal(t, 2, dev.Live["semaphore"])

	pool.Destroy()
	require.Zero(t, dev.LiveTotal())
}

func TestFenceFailureIsFatal(t *testing.T) {
	dev := fakegpu.NewDevice()
	dev.FailOn("CreateFence", errors.New("out of host memory"))
	pool := syncpool.New(dev, 1, true)

	_, err := pool.Slot(0)
	require.True(t, gpu.IsFatal(err))
	require.Zero(t, dev.LiveTotal())
}

func TestRenewFence(t *testing.T) {
	dev := fakegpu.NewDevice()
	pool := syncpool.New(dev, 1, true)
	require.Error(t, pool.RenewFence(0))

	_, err := pool.Slot(0)
	require.NoError(t, err)

	require.NoError(t, pool.RenewFence(0))
	require.Equal(t, 2, dev.Created["fence"])
	require.Equal(t, 1, dev.Live["fence"])

	pool.Destroy()
	require.Zero(t, dev.LiveTotal())
	require.Error(t, pool.RenewFence(0))
}
