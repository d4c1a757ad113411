package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kunal/batch-runner/pkg/runner"
)

// ServiceName is the fully qualified gRPC service name. Messages are the
// protobuf well-known Struct and Empty types, so no generated code is needed.
const ServiceName = "batchrunner.v1.RunnerService"

const (
	inferMethod      = "/" + ServiceName + "/Infer"
	inferBatchMethod = "/" + ServiceName + "/InferBatch"
	getMetricsMethod = "/" + ServiceName + "/GetMetrics"
)

// RunnerServiceServer is the server side of the runner service.
type RunnerServiceServer interface {
	// Infer runs one logical item through the runner.
	Infer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// InferBatch runs an already batched input through the runner.
	InferBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetMetrics returns the worker's current metrics.
	GetMetrics(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RunnerServiceDesc describes the service for grpc.Server.RegisterService.
var RunnerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RunnerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Infer", Handler: inferHandler},
		{MethodName: "InferBatch", Handler: inferBatchHandler},
		{MethodName: "GetMetrics", Handler: getMetricsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "batchrunner/v1/runner.proto",
}

// RegisterRunnerServiceServer registers srv on s.
func RegisterRunnerServiceServer(s grpc.ServiceRegistrar, srv RunnerServiceServer) {
	s.RegisterService(&RunnerServiceDesc, srv)
}

func inferHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServiceServer).Infer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: inferMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunnerServiceServer).Infer(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func inferBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServiceServer).InferBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: inferBatchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunnerServiceServer).InferBatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getMetricsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServiceServer).GetMetrics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getMetricsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunnerServiceServer).GetMetrics(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Reply is a decoded Infer or InferBatch response.
type Reply struct {
	RequestID string
	WorkerID  string
	Result    any
	Latency   time.Duration
}

// Client calls a worker's runner service.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to addr. Without options the connection is insecure, as the
// worker serves plaintext.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", addr, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection. Close is a no-op for it.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close releases the connection created by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Infer runs one logical item.
func (c *Client) Infer(ctx context.Context, p runner.Params) (*Reply, error) {
	return c.call(ctx, inferMethod, p)
}

// InferBatch runs an already batched input.
func (c *Client) InferBatch(ctx context.Context, p runner.Params) (*Reply, error) {
	return c.call(ctx, inferBatchMethod, p)
}

// Metrics returns the worker's metrics as a generic map.
func (c *Client) Metrics(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getMetricsMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) call(ctx context.Context, method string, p runner.Params) (*Reply, error) {
	in, err := encodeParams(uuid.NewString(), p)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}

	fields := out.GetFields()
	result, err := decodeValue(fields[fieldResult])
	if err != nil {
		return nil, err
	}
	return &Reply{
		RequestID: fields[fieldRequestID].GetStringValue(),
		WorkerID:  fields[fieldWorkerID].GetStringValue(),
		Result:    result,
		Latency:   time.Duration(fields[fieldLatencyNs].GetNumberValue()),
	}, nil
}
