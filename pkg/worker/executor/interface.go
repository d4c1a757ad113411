// Package executor provides compute units that a runner.Local can host.
package executor

import (
	"context"

	"github.com/kunal/batch-runner/pkg/runner"
)

// BatchFunc adapts a function to runner.BatchRunnable.
type BatchFunc struct {
	UnitName string
	Options  runner.BatchOptions
	SetupFn  func(ctx context.Context) error
	Fn       func(ctx context.Context, p runner.Params) (any, error)
}

func (f *BatchFunc) Name() string                      { return f.UnitName }
func (f *BatchFunc) BatchOptions() runner.BatchOptions { return f.Options }

func (f *BatchFunc) Setup(ctx context.Context) error {
	if f.SetupFn == nil {
		return nil
	}
	return f.SetupFn(ctx)
}

func (f *BatchFunc) RunBatch(ctx context.Context, p runner.Params) (any, error) {
	return f.Fn(ctx, p)
}

// ScalarFunc adapts a function to runner.ScalarRunnable.
type ScalarFunc struct {
	UnitName string
	SetupFn  func(ctx context.Context) error
	Fn       func(ctx context.Context, p runner.Params) (any, error)
}

func (f *ScalarFunc) Name() string { return f.UnitName }

func (f *ScalarFunc) Setup(ctx context.Context) error {
	if f.SetupFn == nil {
		return nil
	}
	return f.SetupFn(ctx)
}

func (f *ScalarFunc) Run(ctx context.Context, p runner.Params) (any, error) {
	return f.Fn(ctx, p)
}
