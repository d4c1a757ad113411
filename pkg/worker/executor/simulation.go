package executor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/kunal/batch-runner/pkg/runner"
)

// Simulated mimics accelerator inference with CPU work + sleep.
// Produces realistic latency patterns that scale with batch size.
type Simulated struct {
	BaseLatency time.Duration // per-batch base latency (default 5ms)
	Options     runner.BatchOptions

	warm atomic.Bool
}

func NewSimulated(baseLatency time.Duration) *Simulated {
	if baseLatency <= 0 {
		baseLatency = 5 * time.Millisecond
	}
	return &Simulated{BaseLatency: baseLatency, Options: runner.DefaultBatchOptions()}
}

func (s *Simulated) Name() string { return "simulation" }

func (s *Simulated) BatchOptions() runner.BatchOptions { return s.Options }

// Setup warms the simulated device with one round of matrix work.
func (s *Simulated) Setup(ctx context.Context) error {
	matrixWork(64)
	s.warm.Store(true)
	return nil
}

// RunBatch classifies every item of the first argument.
func (s *Simulated) RunBatch(ctx context.Context, p runner.Params) (any, error) {
	if !s.warm.Load() {
		return nil, fmt.Errorf("simulated executor not initialized")
	}
	if p.NumArgs() == 0 {
		return nil, fmt.Errorf("simulated executor needs a batch argument")
	}
	items, err := runner.BatchToSingles(p.Arg(0), s.Options.InputBatchAxis)
	if err != nil {
		return nil, err
	}
	batchSize := len(items)
	if batchSize == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	// Simulate kernel time: base + sublinear scaling with batch size
	latency := s.BaseLatency
	latency += time.Duration(float64(batchSize)*1.5) * time.Millisecond

	// Do some real CPU work (matrix multiply) to create actual load
	matrixWork(64)

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	results := make([]any, batchSize)
	classes := []string{"cat", "dog", "car", "tree", "person", "building", "bird", "fish"}
	for i := range results {
		results[i] = map[string]any{
			"class":      classes[rand.Intn(len(classes))],
			"confidence": 0.7 + rand.Float64()*0.29,
			"simulated":  true,
			"batch_pos":  i,
		}
	}
	return results, nil
}

// matrixWork performs an NxN matrix multiplication to create real CPU load.
func matrixWork(n int) {
	a := make([][]float64, n)
	b := make([][]float64, n)
	c := make([][]float64, n)
	for i := 0; i < n; i++ {
		a[i] = make([]float64, n)
		b[i] = make([]float64, n)
		c[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			a[i][j] = rand.Float64()
			b[i][j] = rand.Float64()
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for k := 0; k < n; k++ {
				sum += a[i][k] * b[k][j]
			}
			c[i][j] = sum
		}
	}
	// Prevent compiler from optimizing away the computation
	_ = math.Sqrt(c[0][0])
}
