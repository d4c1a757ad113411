package runner

import (
	"fmt"
	"iter"
	"reflect"
	"slices"
)

// BatchAxis is the dimension along which single items are joined into a
// batch. NoAxis means the batch is a plain collection of items.
type BatchAxis int

// NoAxis marks a unit whose batches have no structural axis.
const NoAxis BatchAxis = -1

func (a BatchAxis) String() string {
	if a == NoAxis {
		return "none"
	}
	return fmt.Sprintf("%d", int(a))
}

// BatchOptions is the static batching configuration of a batch-capable unit.
type BatchOptions struct {
	InputBatchAxis  BatchAxis
	OutputBatchAxis BatchAxis
}

// DefaultBatchOptions batches inputs and outputs along the leading axis.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{InputBatchAxis: 0, OutputBatchAxis: 0}
}

// Container converts between single values and batch values.
// Implementations are stateless.
type Container interface {
	// SinglesToBatch joins items so that slicing the result along axis at
	// position i recovers items[i].
	SinglesToBatch(items []any, axis BatchAxis) (any, error)

	// BatchToSingles splits batch into one item per position along axis.
	// Lazy batches are materialized first.
	BatchToSingles(batch any, axis BatchAxis) ([]any, error)
}

// AutoContainer picks TensorContainer for Tensor values and
// DefaultContainer for everything else.
type AutoContainer struct{}

func (AutoContainer) SinglesToBatch(items []any, axis BatchAxis) (any, error) {
	if axis != NoAxis && len(items) > 0 && allTensors(items) {
		return TensorContainer{}.SinglesToBatch(items, axis)
	}
	return DefaultContainer{}.SinglesToBatch(items, axis)
}

func (AutoContainer) BatchToSingles(batch any, axis BatchAxis) ([]any, error) {
	batch, err := Materialize(batch)
	if err != nil {
		return nil, err
	}
	if _, ok := batch.(Tensor); ok && axis != NoAxis {
		return TensorContainer{}.BatchToSingles(batch, axis)
	}
	return DefaultContainer{}.BatchToSingles(batch, axis)
}

// DefaultContainer represents a batch as a []any with one element per item.
// Only the leading axis (or NoAxis) is meaningful for it.
type DefaultContainer struct{}

func (DefaultContainer) SinglesToBatch(items []any, axis BatchAxis) (any, error) {
	if axis != 0 && axis != NoAxis {
		return nil, fmt.Errorf("%w: collection batches only support axis 0, got %s", ErrInvalidAxis, axis)
	}
	return slices.Clone(items), nil
}

func (DefaultContainer) BatchToSingles(batch any, axis BatchAxis) ([]any, error) {
	if axis != 0 && axis != NoAxis {
		return nil, fmt.Errorf("%w: collection batches only support axis 0, got %s", ErrInvalidAxis, axis)
	}
	batch, err := Materialize(batch)
	if err != nil {
		return nil, err
	}
	if items, ok := batch.([]any); ok {
		return slices.Clone(items), nil
	}

	rv := reflect.ValueOf(batch)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("%w: batch of type %T is not indexable", ErrShapeMismatch, batch)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// TensorContainer stacks and splits Tensor values along a real axis.
type TensorContainer struct{}

func (TensorContainer) SinglesToBatch(items []any, axis BatchAxis) (any, error) {
	ts := make([]Tensor, len(items))
	for i, it := range items {
		t, ok := it.(Tensor)
		if !ok {
			return nil, fmt.Errorf("%w: item %d is %T, not a Tensor", ErrShapeMismatch, i, it)
		}
		ts[i] = t
	}
	return Stack(ts, int(axis))
}

func (TensorContainer) BatchToSingles(batch any, axis BatchAxis) ([]any, error) {
	t, ok := batch.(Tensor)
	if !ok {
		return nil, fmt.Errorf("%w: batch is %T, not a Tensor", ErrShapeMismatch, batch)
	}
	pieces, err := t.Split(int(axis))
	if err != nil {
		return nil, err
	}
	out := make([]any, len(pieces))
	for i, p := range pieces {
		out[i] = p
	}
	return out, nil
}

// SinglesToBatch joins items with AutoContainer.
func SinglesToBatch(items []any, axis BatchAxis) (any, error) {
	return AutoContainer{}.SinglesToBatch(items, axis)
}

// BatchToSingles splits batch with AutoContainer.
func BatchToSingles(batch any, axis BatchAxis) ([]any, error) {
	return AutoContainer{}.BatchToSingles(batch, axis)
}

// BatchToSinglesN splits batch with c and fails with ErrShapeMismatch unless
// exactly n items come back.
func BatchToSinglesN(c Container, batch any, axis BatchAxis, n int) ([]any, error) {
	items, err := c.BatchToSingles(batch, axis)
	if err != nil {
		return nil, err
	}
	if len(items) != n {
		return nil, fmt.Errorf("%w: expected %d item(s) along axis %s, got %d", ErrShapeMismatch, n, axis, len(items))
	}
	return items, nil
}

// Materialize turns a lazy producer into an indexable []any. Producers may
// be single-consumption, so they are drained exactly once here and never
// indexed directly. Supported producers are iter.Seq of any element type and
// receive-capable channels, which must be closed by their sender. Any other
// value is returned unchanged.
func Materialize(v any) (any, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case iter.Seq[any]:
		if s == nil {
			return []any{}, nil
		}
		return slices.Collect(s), nil
	case <-chan any:
		return drain(s)
	case chan any:
		return drain(s)
	}

	rv := reflect.ValueOf(v)
	switch {
	case isSeq(rv.Type()):
		if rv.IsNil() {
			return []any{}, nil
		}
		out := []any{}
		yield := reflect.MakeFunc(rv.Type().In(0), func(args []reflect.Value) []reflect.Value {
			out = append(out, args[0].Interface())
			return []reflect.Value{reflect.ValueOf(true)}
		})
		rv.Call([]reflect.Value{yield})
		return out, nil
	case rv.Kind() == reflect.Chan && rv.Type().ChanDir()&reflect.RecvDir != 0:
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil channel batch", ErrShapeMismatch)
		}
		out := []any{}
		for {
			x, ok := rv.Recv()
			if !ok {
				return out, nil
			}
			out = append(out, x.Interface())
		}
	}
	return v, nil
}

func drain(ch <-chan any) (any, error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: nil channel batch", ErrShapeMismatch)
	}
	out := []any{}
	for x := range ch {
		out = append(out, x)
	}
	return out, nil
}

// isSeq matches func(yield func(T) bool), the shape of iter.Seq[T].
func isSeq(t reflect.Type) bool {
	if t.Kind() != reflect.Func || t.NumIn() != 1 || t.NumOut() != 0 {
		return false
	}
	y := t.In(0)
	return y.Kind() == reflect.Func && y.NumIn() == 1 && y.NumOut() == 1 && y.Out(0).Kind() == reflect.Bool
}

func allTensors(items []any) bool {
	for _, it := range items {
		if _, ok := it.(Tensor); !ok {
			return false
		}
	}
	return true
}
