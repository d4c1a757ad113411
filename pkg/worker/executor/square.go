package executor

import (
	"context"
	"fmt"

	"github.com/kunal/batch-runner/pkg/runner"
)

// NewSquare returns a batch unit that squares its first argument element-wise.
// Tensors stay tensors; any other batch is treated as a list of numbers.
func NewSquare() *BatchFunc {
	return &BatchFunc{
		UnitName: "square",
		Options:  runner.DefaultBatchOptions(),
		Fn:       square,
	}
}

func square(_ context.Context, p runner.Params) (any, error) {
	if p.NumArgs() == 0 {
		return nil, fmt.Errorf("square needs a batch argument")
	}
	if t, ok := p.Arg(0).(runner.Tensor); ok {
		out := runner.Tensor{Shape: append([]int(nil), t.Shape...), Data: make([]float64, len(t.Data))}
		for i, v := range t.Data {
			out.Data[i] = v * v
		}
		return out, nil
	}

	items, err := runner.BatchToSingles(p.Arg(0), 0)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, it := range items {
		switch v := it.(type) {
		case int:
			out[i] = v * v
		case int64:
			out[i] = v * v
		case float64:
			out[i] = v * v
		default:
			return nil, fmt.Errorf("square: item %d is %T, not a number", i, it)
		}
	}
	return out, nil
}

// NewEcho returns a scalar-only unit that returns its first argument.
func NewEcho() *ScalarFunc {
	return &ScalarFunc{
		UnitName: "echo",
		Fn: func(_ context.Context, p runner.Params) (any, error) {
			if p.NumArgs() == 0 {
				return nil, fmt.Errorf("echo needs one argument")
			}
			return p.Arg(0), nil
		},
	}
}
