package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kunal/batch-runner/pkg/config"
	"github.com/kunal/batch-runner/pkg/runner"
)

// Worker hosts one runner and serves it over gRPC. Every request is
// forwarded to the runner on its own; the worker never merges requests.
type Worker struct {
	cfg         *config.Config
	log         zerolog.Logger
	local       *runner.Local
	metrics     *MetricsCollector
	broadcaster *Broadcaster

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Worker around the executor named in cfg.
func New(cfg *config.Config, log zerolog.Logger) (*Worker, error) {
	return NewWithUnit(cfg, log, createExecutor(cfg))
}

// NewWithUnit creates a Worker around an explicit compute unit.
func NewWithUnit(cfg *config.Config, log zerolog.Logger, unit runner.Runnable) (*Worker, error) {
	log = log.With().Str("component", "worker").Str("worker_id", cfg.WorkerID).Logger()

	local, err := runner.NewLocal(unit, runner.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("create runner: %w", err)
	}
	log.Info().Str("runner", local.Name()).Stringer("kind", local.Kind()).Msg("executor ready for setup")

	return &Worker{
		cfg:         cfg,
		log:         log,
		local:       local,
		metrics:     NewMetricsCollector(cfg.WorkerID, local),
		broadcaster: NewBroadcaster(log),
		stopCh:      make(chan struct{}),
	}, nil
}

// Runner returns the hosted runner.
func (w *Worker) Runner() *runner.Local { return w.local }

// Metrics returns the worker's metrics collector.
func (w *Worker) Metrics() *MetricsCollector { return w.metrics }

// Start runs setup now when EagerSetup is configured and begins pushing
// metrics to dashboard clients.
func (w *Worker) Start(ctx context.Context) error {
	if w.cfg.EagerSetup {
		if err := w.local.Setup(ctx); err != nil {
			return err
		}
	}

	w.wg.Add(1)
	go w.broadcastLoop()
	return nil
}

// Stop shuts down the broadcast loop and disconnects dashboard clients.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.broadcaster.Close()
	})
}

func (w *Worker) broadcastLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.broadcaster.Broadcast(w.metrics.Snapshot())
		}
	}
}

// RegisterGRPC registers the worker's gRPC service.
func (w *Worker) RegisterGRPC(s *grpc.Server) {
	RegisterRunnerServiceServer(s, w)
}

// RegisterHTTP registers /metrics, /health, /ready and /ws.
func (w *Worker) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", w.metrics.ServePrometheus)
	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("OK"))
	})
	mux.HandleFunc("/ready", func(rw http.ResponseWriter, r *http.Request) {
		if w.local.State() != runner.StateReady {
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte(w.local.State().String()))
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("OK"))
	})
	mux.HandleFunc("/ws", w.broadcaster.HandleWS)
}

// Infer runs a single logical item through the runner.
func (w *Worker) Infer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return w.serve(ctx, req, false)
}

// InferBatch runs an already batched input through the runner.
func (w *Worker) InferBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return w.serve(ctx, req, true)
}

// GetMetrics returns current worker metrics.
func (w *Worker) GetMetrics(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(w.metrics.Snapshot().asMap())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func (w *Worker) serve(ctx context.Context, req *structpb.Struct, batch bool) (*structpb.Struct, error) {
	w.metrics.IncrInFlight()
	defer w.metrics.DecrInFlight()

	requestID := req.GetFields()[fieldRequestID].GetStringValue()
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := w.log.With().Str("request_id", requestID).Bool("batch", batch).Logger()

	p, err := decodeParams(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	size := 1
	var out any
	if batch {
		size = w.batchSize(p)
		out, err = w.local.RunBatch(ctx, p)
	} else {
		out, err = w.local.Run(ctx, p)
	}
	elapsed := time.Since(start)
	w.metrics.Observe(batch, size, elapsed, err)

	if err != nil {
		log.Warn().Err(err).Dur("latency", elapsed).Msg("runner call failed")
		return nil, toStatus(err)
	}
	log.Debug().Int("size", size).Dur("latency", elapsed).Msg("runner call finished")

	result, err := encodeValue(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldRequestID: structpb.NewStringValue(requestID),
		fieldWorkerID:  structpb.NewStringValue(w.cfg.WorkerID),
		fieldResult:    result,
		fieldLatencyNs: structpb.NewNumberValue(float64(elapsed.Nanoseconds())),
	}}, nil
}

// batchSize counts the items of the first argument along the input axis,
// or reports 0 when that cannot be determined.
func (w *Worker) batchSize(p runner.Params) int {
	if p.NumArgs() == 0 {
		return 0
	}
	items, err := runner.BatchToSingles(p.Arg(0), w.local.BatchOptions().InputBatchAxis)
	if err != nil {
		return 0
	}
	return len(items)
}

func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, runner.ErrUnsupportedOperation):
		code = codes.Unimplemented
	case errors.Is(err, runner.ErrSetupFailed):
		code = codes.Unavailable
	case errors.Is(err, runner.ErrShapeMismatch), errors.Is(err, runner.ErrInvalidAxis):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
