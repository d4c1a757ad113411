package runner

import "errors"

// Sentinel errors returned by the adapter. Check them with errors.Is.
var (
	// ErrSetupFailed indicates the wrapped unit's Setup returned an error.
	// The adapter is left in StateInit so a later call may try again.
	ErrSetupFailed = errors.New("runner setup failed")

	// ErrUnsupportedOperation indicates RunBatch was called on a unit that
	// only knows how to process one logical item at a time.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrShapeMismatch indicates a batch could not be split, or was split
	// into a different number of items than expected.
	ErrShapeMismatch = errors.New("batch shape mismatch")

	// ErrInvalidAxis indicates a batch axis is out of range for the value.
	ErrInvalidAxis = errors.New("invalid batch axis")

	// ErrNotRunnable indicates a unit implements neither BatchRunnable nor
	// ScalarRunnable.
	ErrNotRunnable = errors.New("unit is not runnable")
)
