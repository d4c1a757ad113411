package runner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Local runs a compute unit in-process. It exposes single-item and batch
// entry points over a unit that implements exactly one of BatchRunnable or
// ScalarRunnable, and runs the unit's Setup lazily on first use.
//
// Local does not own the unit and never mutates it; the unit is responsible
// for its own concurrency safety.
type Local struct {
	unit      Runnable
	kind      Kind
	batch     BatchRunnable
	scalar    ScalarRunnable
	opts      BatchOptions
	container Container
	life      *lifecycle
	log       zerolog.Logger
}

// Option configures a Local.
type Option func(*Local)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Local) { r.log = l }
}

// WithContainer overrides the AutoContainer used by Run.
func WithContainer(c Container) Option {
	return func(r *Local) { r.container = c }
}

// NewLocal wraps unit. The capability variant is decided here once: a unit
// implementing BatchRunnable is batch-capable even if it also implements
// ScalarRunnable.
func NewLocal(unit Runnable, opts ...Option) (*Local, error) {
	if unit == nil {
		return nil, fmt.Errorf("%w: nil unit", ErrNotRunnable)
	}

	r := &Local{
		unit:      unit,
		container: AutoContainer{},
		log:       zerolog.Nop(),
	}
	switch u := unit.(type) {
	case BatchRunnable:
		r.kind = KindBatch
		r.batch = u
		r.opts = u.BatchOptions()
	case ScalarRunnable:
		r.kind = KindScalar
		r.scalar = u
	default:
		return nil, fmt.Errorf("%w: %T implements neither RunBatch nor Run", ErrNotRunnable, unit)
	}

	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("runner", unit.Name()).Stringer("kind", r.kind).Logger()
	r.life = &lifecycle{setup: unit.Setup, log: r.log}
	return r, nil
}

// Name returns the wrapped unit's name.
func (r *Local) Name() string { return r.unit.Name() }

// Kind returns the capability variant chosen at construction.
func (r *Local) Kind() Kind { return r.kind }

// BatchOptions returns the unit's axis configuration. It is the zero value
// for scalar units.
func (r *Local) BatchOptions() BatchOptions { return r.opts }

// State returns the current setup state.
func (r *Local) State() State { return r.life.current() }

// Setup runs the unit's Setup if it has not completed yet. It is safe to
// call from many goroutines; the unit's Setup runs once to completion.
func (r *Local) Setup(ctx context.Context) error {
	return r.life.ensureReady(ctx)
}

// Run executes one logical item and returns one result.
//
// For a batch-capable unit every argument is wrapped into a batch of one
// along the input axis, the batch is executed, and the result is split along
// the output axis. The split must yield exactly one item.
func (r *Local) Run(ctx context.Context, p Params) (any, error) {
	if err := r.Setup(ctx); err != nil {
		return nil, err
	}
	if r.kind == KindScalar {
		return r.scalar.Run(ctx, p)
	}

	in, err := p.MapErr(func(v any) (any, error) {
		return r.container.SinglesToBatch([]any{v}, r.opts.InputBatchAxis)
	})
	if err != nil {
		return nil, fmt.Errorf("batch input: %w", err)
	}

	out, err := r.batch.RunBatch(ctx, in)
	if err != nil {
		return nil, err
	}

	singles, err := BatchToSinglesN(r.container, out, r.opts.OutputBatchAxis, 1)
	if err != nil {
		return nil, fmt.Errorf("batch output: %w", err)
	}
	return singles[0], nil
}

// RunBatch executes p as-is on a batch-capable unit. Scalar units fail with
// ErrUnsupportedOperation; setup is skipped on that path and State is left
// unchanged.
func (r *Local) RunBatch(ctx context.Context, p Params) (any, error) {
	if r.kind == KindScalar {
		return nil, fmt.Errorf("%w: RunBatch on scalar runner %q", ErrUnsupportedOperation, r.unit.Name())
	}
	if err := r.Setup(ctx); err != nil {
		return nil, err
	}
	return r.batch.RunBatch(ctx, p)
}

// AsyncRun is Run behind a Future, for callers that expect an asynchronous
// contract. It has no suspension points: the work is done on the calling
// goroutine and the returned Future is already resolved. It gives no
// parallelism.
func (r *Local) AsyncRun(ctx context.Context, p Params) *Future {
	return resolved(r.Run(ctx, p))
}

// AsyncRunBatch is RunBatch behind an already-resolved Future. See AsyncRun.
func (r *Local) AsyncRunBatch(ctx context.Context, p Params) *Future {
	return resolved(r.RunBatch(ctx, p))
}
