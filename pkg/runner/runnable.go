package runner

import "context"

// Runnable is the part of the compute unit contract shared by both
// capability variants.
type Runnable interface {
	// Setup prepares the unit (loads weights, opens sessions, ...). The
	// adapter calls it once before the first execution.
	Setup(ctx context.Context) error

	// Name returns the unit name for logging.
	Name() string
}

// BatchRunnable is a unit that executes whole batches.
type BatchRunnable interface {
	Runnable

	// RunBatch executes one batch. Every argument in p is already a batch
	// value along the input axis.
	RunBatch(ctx context.Context, p Params) (any, error)

	// BatchOptions returns the unit's static axis configuration.
	BatchOptions() BatchOptions
}

// ScalarRunnable is a unit that processes one logical item per call.
type ScalarRunnable interface {
	Runnable

	Run(ctx context.Context, p Params) (any, error)
}

// Kind is the capability variant of a unit, fixed at adapter construction.
type Kind int

const (
	KindBatch Kind = iota + 1
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindBatch:
		return "batch"
	case KindScalar:
		return "scalar"
	default:
		return "unknown"
	}
}
