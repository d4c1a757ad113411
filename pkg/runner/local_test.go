package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var errLoad = errors.New("model weights missing")

// squareUnit squares every element of its first argument.
type squareUnit struct {
	setups   atomic.Int32
	setupErr error
	gate     chan struct{} // if set, Setup blocks until it is closed
	opts     BatchOptions
	lazy     bool // return a single-use iter.Seq instead of a slice
	extra    bool // append an extra element to the batch result
	batches  atomic.Int32
}

func (u *squareUnit) Name() string               { return "square" }
func (u *squareUnit) BatchOptions() BatchOptions { return u.opts }

func (u *squareUnit) Setup(ctx context.Context) error {
	if u.gate != nil {
		<-u.gate
	}
	u.setups.Add(1)
	return u.setupErr
}

func (u *squareUnit) RunBatch(_ context.Context, p Params) (any, error) {
	u.batches.Add(1)
	switch in := p.Arg(0).(type) {
	case Tensor:
		out := Tensor{Shape: in.Shape, Data: make([]float64, len(in.Data))}
		for i, v := range in.Data {
			out.Data[i] = v * v
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(in)+1)
		for _, v := range in {
			x, ok := v.(int)
			if !ok {
				return nil, fmt.Errorf("unexpected item %T", v)
			}
			out = append(out, x*x)
		}
		if u.extra {
			out = append(out, -1)
		}
		if u.lazy {
			return singleUse(out...), nil
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected batch %T", in)
	}
}

// echoUnit is scalar-only.
type echoUnit struct {
	setups atomic.Int32
}

func (u *echoUnit) Name() string { return "echo" }

func (u *echoUnit) Setup(context.Context) error {
	u.setups.Add(1)
	return nil
}

func (u *echoUnit) Run(_ context.Context, p Params) (any, error) {
	return p.Arg(0), nil
}

type inertUnit struct{}

func (inertUnit) Name() string                { return "inert" }
func (inertUnit) Setup(context.Context) error { return nil }

func newLocal(t *testing.T, unit Runnable, opts ...Option) *Local {
	t.Helper()
	r, err := NewLocal(unit, opts...)
	require.NoError(t, err)
	return r
}

func TestNewLocalKind(t *testing.T) {
	assert.Equal(t, KindBatch, newLocal(t, &squareUnit{}).Kind())
	assert.Equal(t, KindScalar, newLocal(t, &echoUnit{}).Kind())

	_, err := NewLocal(inertUnit{})
	require.ErrorIs(t, err, ErrNotRunnable)

	_, err = NewLocal(nil)
	require.ErrorIs(t, err, ErrNotRunnable)
}

func TestRunSquaresScalarInput(t *testing.T) {
	unit := &squareUnit{opts: DefaultBatchOptions()}
	r := newLocal(t, unit)
	assert.Equal(t, StateInit, r.State())

	out, err := r.Run(context.Background(), Args(5))
	require.NoError(t, err)
	assert.Equal(t, 25, out)
	assert.Equal(t, StateReady, r.State())
	assert.Equal(t, int32(1), unit.setups.Load())
}

func TestRunMatchesFirstBatchElement(t *testing.T) {
	r := newLocal(t, &squareUnit{opts: DefaultBatchOptions()})
	ctx := context.Background()

	for _, x := range []int{-3, 0, 1, 7, 12} {
		single, err := r.Run(ctx, Args(x))
		require.NoError(t, err)

		batch, err := r.RunBatch(ctx, Args([]any{x}))
		require.NoError(t, err)
		items, err := BatchToSingles(batch, 0)
		require.NoError(t, err)

		assert.Equal(t, items[0], single, "x=%d", x)
	}
}

func TestRunTensorInput(t *testing.T) {
	r := newLocal(t, &squareUnit{opts: BatchOptions{InputBatchAxis: 0, OutputBatchAxis: 0}})

	out, err := r.Run(context.Background(), Args(Tensor{Shape: []int{3}, Data: []float64{1, 2, 3}}))
	require.NoError(t, err)
	require.IsType(t, Tensor{}, out)
	assert.Equal(t, []int{3}, out.(Tensor).Shape)
	assert.Equal(t, []float64{1, 4, 9}, out.(Tensor).Data)
}

func TestRunMalformedTensorInput(t *testing.T) {
	unit := &squareUnit{opts: DefaultBatchOptions()}
	r := newLocal(t, unit)

	for _, in := range []Tensor{
		{Shape: []int{2}, Data: []float64{1}},
		{Shape: []int{-2}},
	} {
		_, err := r.Run(context.Background(), Args(in))
		require.ErrorIs(t, err, ErrShapeMismatch, "input %v", in)
	}
	assert.Equal(t, int32(0), unit.batches.Load())
}

func TestRunLazyResult(t *testing.T) {
	r := newLocal(t, &squareUnit{opts: DefaultBatchOptions(), lazy: true})

	out, err := r.Run(context.Background(), Args(4))
	require.NoError(t, err)
	assert.Equal(t, 16, out)
}

func TestRunShapeMismatch(t *testing.T) {
	r := newLocal(t, &squareUnit{opts: DefaultBatchOptions(), extra: true})

	_, err := r.Run(context.Background(), Args(2))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRunInvalidInputAxis(t *testing.T) {
	unit := &squareUnit{opts: BatchOptions{InputBatchAxis: 3, OutputBatchAxis: 0}}
	r := newLocal(t, unit)

	_, err := r.Run(context.Background(), Args(2))
	require.ErrorIs(t, err, ErrInvalidAxis)
	assert.Equal(t, int32(0), unit.batches.Load())
}

func TestRunBatchDelegatesUnchanged(t *testing.T) {
	unit := &squareUnit{opts: DefaultBatchOptions()}
	r := newLocal(t, unit)

	out, err := r.RunBatch(context.Background(), Args([]any{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []any{1, 4, 9}, out)
	assert.Equal(t, StateReady, r.State())
}

func TestScalarUnit(t *testing.T) {
	unit := &echoUnit{}
	r := newLocal(t, unit)
	ctx := context.Background()

	t.Run("run delegates directly", func(t *testing.T) {
		in := []int{1, 2}
		out, err := r.Run(ctx, Args(in))
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("run batch is unsupported", func(t *testing.T) {
		for _, p := range []Params{Args(), Args(1), Args([]any{1, 2}), NewParams(nil, Named("x", 1))} {
			_, err := r.RunBatch(ctx, p)
			require.ErrorIs(t, err, ErrUnsupportedOperation)
		}
		f := r.AsyncRunBatch(ctx, Args(1))
		_, err := f.Wait(ctx)
		require.ErrorIs(t, err, ErrUnsupportedOperation)
	})

	assert.Equal(t, int32(1), unit.setups.Load())
}

func TestSetupRunsOnce(t *testing.T) {
	unit := &squareUnit{opts: DefaultBatchOptions(), gate: make(chan struct{})}
	r := newLocal(t, unit)

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			_, err := r.Run(context.Background(), Args(i))
			return err
		})
	}

	assert.Eventually(t, func() bool { return r.State() == StateSetting }, time.Second, time.Millisecond)
	close(unit.gate)

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), unit.setups.Load())
	assert.Equal(t, StateReady, r.State())

	require.NoError(t, r.Setup(context.Background()))
	assert.Equal(t, int32(1), unit.setups.Load())
}

func TestSetupFailure(t *testing.T) {
	unit := &squareUnit{opts: DefaultBatchOptions(), setupErr: errLoad}
	r := newLocal(t, unit)
	ctx := context.Background()

	_, err := r.Run(ctx, Args(3))
	require.ErrorIs(t, err, ErrSetupFailed)
	require.ErrorIs(t, err, errLoad)
	assert.Equal(t, StateInit, r.State())
	assert.Equal(t, int32(0), unit.batches.Load())

	unit.setupErr = nil
	out, err := r.Run(ctx, Args(3))
	require.NoError(t, err)
	assert.Equal(t, 9, out)
	assert.Equal(t, int32(2), unit.setups.Load())
	assert.Equal(t, StateReady, r.State())
}

func TestAsyncRunIsResolved(t *testing.T) {
	r := newLocal(t, &squareUnit{opts: DefaultBatchOptions()})

	f := r.AsyncRun(context.Background(), Args(6))
	select {
	case <-f.Done():
	default:
		t.Fatal("future should be resolved on return")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 36, out)

	batch, err := r.AsyncRunBatch(context.Background(), Args([]any{2})).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{4}, batch)
}

func TestLifecycleLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	r := newLocal(t, &squareUnit{opts: DefaultBatchOptions()}, WithLogger(logger))

	require.NoError(t, r.Setup(context.Background()))
	assert.Contains(t, buf.String(), "runner setup completed")
	assert.Contains(t, buf.String(), `"runner":"square"`)
}

type swapContainer struct {
	AutoContainer
	calls atomic.Int32
}

func (c *swapContainer) BatchToSingles(batch any, axis BatchAxis) ([]any, error) {
	c.calls.Add(1)
	return c.AutoContainer.BatchToSingles(batch, axis)
}

func TestWithContainer(t *testing.T) {
	c := &swapContainer{}
	r := newLocal(t, &squareUnit{opts: DefaultBatchOptions()}, WithContainer(c))

	_, err := r.Run(context.Background(), Args(2))
	require.NoError(t, err)
	assert.Equal(t, int32(1), c.calls.Load())
}
