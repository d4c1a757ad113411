package worker

import (
	"github.com/kunal/batch-runner/pkg/config"
	"github.com/kunal/batch-runner/pkg/runner"
	"github.com/kunal/batch-runner/pkg/worker/executor"
)

// createExecutor builds the compute unit named by cfg.ExecutorType.
// Batch units get their axes from the config.
func createExecutor(cfg *config.Config) runner.Runnable {
	opts := runner.BatchOptions{
		InputBatchAxis:  runner.BatchAxis(cfg.InputBatchAxis),
		OutputBatchAxis: runner.BatchAxis(cfg.OutputBatchAxis),
	}
	switch cfg.ExecutorType {
	case config.ExecutorSquare:
		sq := executor.NewSquare()
		sq.Options = opts
		return sq
	case config.ExecutorEcho:
		return executor.NewEcho()
	default:
		sim := executor.NewSimulated(cfg.SimLatency)
		sim.Options = opts
		return sim
	}
}
