package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunal/batch-runner/pkg/runner"
)

func TestSimulatedRequiresSetup(t *testing.T) {
	s := NewSimulated(time.Millisecond)

	_, err := s.RunBatch(context.Background(), runner.Args([]any{"img"}))
	require.Error(t, err)
}

func TestSimulatedThroughLocal(t *testing.T) {
	r, err := runner.NewLocal(NewSimulated(time.Millisecond))
	require.NoError(t, err)
	ctx := context.Background()

	out, err := r.Run(ctx, runner.Args("img-0"))
	require.NoError(t, err)
	res, ok := out.(map[string]any)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, true, res["simulated"])
	assert.Equal(t, 0, res["batch_pos"])

	batch, err := r.RunBatch(ctx, runner.Args([]any{"a", "b", "c"}))
	require.NoError(t, err)
	assert.Len(t, batch, 3)
}

func TestSimulatedHonoursContext(t *testing.T) {
	s := NewSimulated(time.Second)
	require.NoError(t, s.Setup(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.RunBatch(ctx, runner.Args([]any{1}))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSquare(t *testing.T) {
	r, err := runner.NewLocal(NewSquare())
	require.NoError(t, err)
	ctx := context.Background()

	out, err := r.Run(ctx, runner.Args(5))
	require.NoError(t, err)
	assert.Equal(t, 25, out)

	out, err = r.Run(ctx, runner.Args(1.5))
	require.NoError(t, err)
	assert.InDelta(t, 2.25, out, 1e-9)

	out, err = r.Run(ctx, runner.Args(runner.Tensor{Shape: []int{2}, Data: []float64{3, 4}}))
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 16}, out.(runner.Tensor).Data)

	_, err = r.Run(ctx, runner.Args("five"))
	require.Error(t, err)
}

func TestEchoIsScalarOnly(t *testing.T) {
	r, err := runner.NewLocal(NewEcho())
	require.NoError(t, err)
	assert.Equal(t, runner.KindScalar, r.Kind())

	out, err := r.Run(context.Background(), runner.Args("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = r.RunBatch(context.Background(), runner.Args([]any{"hi"}))
	require.ErrorIs(t, err, runner.ErrUnsupportedOperation)
}
