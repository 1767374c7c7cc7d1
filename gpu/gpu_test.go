package gpu

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestReleaseStackRunsNewestFirst(t *testing.T) {
	var order []int
	var stack ReleaseStack
	for i := 0; i < 4; i++ {
		i := i
		stack.Push(func() { order = append(order, i) })
	}

	require.Equal(t, 4, stack.Len())
	stack.Release()
	require.Equal(t, []int{3, 2, 1, 0}, order)
	require.Equal(t, 0, stack.Len())

	stack.Release()
	require.Len(t, order, 4)
}

func TestReleaseStackTake(t *testing.T) {
	released := 0
	var stack ReleaseStack
	stack.Push(func() { released++ })

	owned := stack.Take()
	stack.Release()
	require.Zero(t, released)

	owned.Release()
	require.Equal(t, 1, released)
}

func TestFatalMarking(t *testing.T) {
	err := Fatalf("no surface formats for %s", "window")
	require.True(t, IsFatal(err))
	require.EqualError(t, err, "no surface formats for window")

	wrapped := errors.Wrap(MarkFatal(errors.New("boom"), "create swapchain"), "prepare")
	require.True(t, IsFatal(wrapped))
	require.EqualError(t, wrapped, "prepare: create swapchain: boom")

	require.NoError(t, MarkFatal(nil, "unused"))
	require.False(t, IsFatal(errors.New("plain")))
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "retry", OutcomeRetry.String())
	require.Equal(t, "Outcome(9)", Outcome(9).String())
}
