package runner

import "context"

// Future holds the outcome of an asynchronous call.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func resolved(v any, err error) *Future {
	f := &Future{done: make(chan struct{}), value: v, err: err}
	close(f.done)
	return f
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx ends.
// A result that is already available wins over a cancelled ctx.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
