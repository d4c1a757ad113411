package worker

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/kunal/batch-runner/pkg/runner"
)

// WorkerMetrics is a point-in-time view of the worker. It is served by
// GetMetrics and pushed to /ws clients.
type WorkerMetrics struct {
	WorkerID        string  `json:"worker_id"`
	Runner          string  `json:"runner"`
	Kind            string  `json:"kind"`
	State           string  `json:"state"`
	Ready           bool    `json:"ready"`
	InFlight        int32   `json:"in_flight"`
	TotalCalls      int64   `json:"total_calls"`
	TotalBatchCalls int64   `json:"total_batch_calls"`
	TotalItems      int64   `json:"total_items"`
	TotalErrors     int64   `json:"total_errors"`
	LastBatchSize   int32   `json:"last_batch_size"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
}

func (m WorkerMetrics) asMap() map[string]any {
	return map[string]any{
		"worker_id":         m.WorkerID,
		"runner":            m.Runner,
		"kind":              m.Kind,
		"state":             m.State,
		"ready":             m.Ready,
		"in_flight":         m.InFlight,
		"total_calls":       m.TotalCalls,
		"total_batch_calls": m.TotalBatchCalls,
		"total_items":       m.TotalItems,
		"total_errors":      m.TotalErrors,
		"last_batch_size":   m.LastBatchSize,
		"avg_latency_ms":    m.AvgLatencyMs,
	}
}

// MetricsCollector counts calls into the worker's runner.
type MetricsCollector struct {
	workerID string
	local    *runner.Local

	totalCalls      atomic.Int64
	totalBatchCalls atomic.Int64
	totalItems      atomic.Int64
	totalErrors     atomic.Int64
	lastBatchSize   atomic.Int32
	avgLatencyUs    atomic.Int64 // exponential moving average in microseconds

	// Track requests currently inside the runner
	inFlight atomic.Int32
}

func NewMetricsCollector(workerID string, local *runner.Local) *MetricsCollector {
	return &MetricsCollector{workerID: workerID, local: local}
}

// Observe records one finished call. batchSize is 1 for single calls.
func (mc *MetricsCollector) Observe(batch bool, batchSize int, elapsed time.Duration, err error) {
	if batch {
		mc.totalBatchCalls.Add(1)
	} else {
		mc.totalCalls.Add(1)
	}
	if err != nil {
		mc.totalErrors.Add(1)
		return
	}
	mc.totalItems.Add(int64(batchSize))
	mc.lastBatchSize.Store(int32(batchSize))

	// EMA with alpha=0.3
	us := elapsed.Microseconds()
	for {
		old := mc.avgLatencyUs.Load()
		next := us
		if old != 0 {
			next = int64(float64(old)*0.7 + float64(us)*0.3)
		}
		if mc.avgLatencyUs.CompareAndSwap(old, next) {
			return
		}
	}
}

// IncrInFlight / DecrInFlight track active requests.
func (mc *MetricsCollector) IncrInFlight() { mc.inFlight.Add(1) }
func (mc *MetricsCollector) DecrInFlight() { mc.inFlight.Add(-1) }

// Snapshot returns the current metrics.
func (mc *MetricsCollector) Snapshot() WorkerMetrics {
	state := mc.local.State()
	return WorkerMetrics{
		WorkerID:        mc.workerID,
		Runner:          mc.local.Name(),
		Kind:            mc.local.Kind().String(),
		State:           state.String(),
		Ready:           state == runner.StateReady,
		InFlight:        mc.inFlight.Load(),
		TotalCalls:      mc.totalCalls.Load(),
		TotalBatchCalls: mc.totalBatchCalls.Load(),
		TotalItems:      mc.totalItems.Load(),
		TotalErrors:     mc.totalErrors.Load(),
		LastBatchSize:   mc.lastBatchSize.Load(),
		AvgLatencyMs:    float64(mc.avgLatencyUs.Load()) / 1000,
	}
}

// ServePrometheus writes Prometheus-format metrics to HTTP response.
func (mc *MetricsCollector) ServePrometheus(w http.ResponseWriter, r *http.Request) {
	m := mc.Snapshot()
	ready := 0
	if m.Ready {
		ready = 1
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP runner_ready Whether runner setup has completed\n")
	fmt.Fprintf(w, "# TYPE runner_ready gauge\n")
	fmt.Fprintf(w, "runner_ready{worker=\"%s\",runner=\"%s\"} %d\n", m.WorkerID, m.Runner, ready)
	fmt.Fprintf(w, "# HELP worker_in_flight Requests currently executing\n")
	fmt.Fprintf(w, "# TYPE worker_in_flight gauge\n")
	fmt.Fprintf(w, "worker_in_flight{worker=\"%s\"} %d\n", m.WorkerID, m.InFlight)
	fmt.Fprintf(w, "# HELP worker_avg_latency_ms Average call latency\n")
	fmt.Fprintf(w, "# TYPE worker_avg_latency_ms gauge\n")
	fmt.Fprintf(w, "worker_avg_latency_ms{worker=\"%s\"} %.3f\n", m.WorkerID, m.AvgLatencyMs)
	fmt.Fprintf(w, "# HELP worker_batch_size Last batch size\n")
	fmt.Fprintf(w, "# TYPE worker_batch_size gauge\n")
	fmt.Fprintf(w, "worker_batch_size{worker=\"%s\"} %d\n", m.WorkerID, m.LastBatchSize)
	fmt.Fprintf(w, "# HELP worker_calls_total Calls processed, by entry point\n")
	fmt.Fprintf(w, "# TYPE worker_calls_total counter\n")
	fmt.Fprintf(w, "worker_calls_total{worker=\"%s\",entry=\"single\"} %d\n", m.WorkerID, m.TotalCalls)
	fmt.Fprintf(w, "worker_calls_total{worker=\"%s\",entry=\"batch\"} %d\n", m.WorkerID, m.TotalBatchCalls)
	fmt.Fprintf(w, "# HELP worker_items_total Items processed\n")
	fmt.Fprintf(w, "# TYPE worker_items_total counter\n")
	fmt.Fprintf(w, "worker_items_total{worker=\"%s\"} %d\n", m.WorkerID, m.TotalItems)
	fmt.Fprintf(w, "# HELP worker_errors_total Calls that returned an error\n")
	fmt.Fprintf(w, "# TYPE worker_errors_total counter\n")
	fmt.Fprintf(w, "worker_errors_total{worker=\"%s\"} %d\n", m.WorkerID, m.TotalErrors)
}
