package triton

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	pb "github.com/Meesho/BharatMLStack/helix-client/pkg/clients/predator/client/grpc"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
)

// GRPCClient issues inference over ModelInfer, or over one ModelStreamInfer stream
// per call when streaming.
type GRPCClient struct {
	conn      *grpc.ClientConn
	client    pb.GRPCInferenceServiceClient
	endpoint  string
	deadline  time.Duration
	streaming bool
}

func NewGRPCClient(conf *Config, opts ...grpc.DialOption) (*GRPCClient, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	dialOpts := []grpc.DialOption{grpc.WithStatsHandler(otelgrpc.NewClientHandler())}
	if conf.PlainText {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})))
	}
	dialOpts = append(dialOpts, opts...)
	conn, err := grpc.NewClient(conf.Endpoint(), dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc connection to %s: %w", conf.Endpoint(), err)
	}
	return NewGRPCClientFromConn(conn, conf), nil
}

// NewGRPCClientFromConn wraps an existing connection. The client owns conn afterwards.
func NewGRPCClientFromConn(conn *grpc.ClientConn, conf *Config) *GRPCClient {
	return &GRPCClient{
		conn:      conn,
		client:    pb.NewGRPCInferenceServiceClient(conn),
		endpoint:  conf.Endpoint(),
		deadline:  conf.Deadline(),
		streaming: conf.Protocol == ProtocolGRPCStream,
	}
}

func (c *GRPCClient) Protocol() Protocol {
	if c.streaming {
		return ProtocolGRPCStream
	}
	return ProtocolGRPC
}

func (c *GRPCClient) Endpoint() string {
	return c.endpoint
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.deadline <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.deadline)
}

// Infer assigns req.ID when empty and runs one inference.
func (c *GRPCClient) Infer(ctx context.Context, req *InferRequest) (*InferResponse, error) {
	ensureRequestID(req)
	protoReq := mapRequestToProto(req)
	if e := log.Debug(); e.Enabled() {
		e.Str("protocol", c.Protocol().String()).Str("endpoint", c.endpoint).
			RawJSON("request", debugJSON(protoReq)).Msg("model infer request")
	}

	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	var (
		resp *pb.ModelInferResponse
		err  error
	)
	if c.streaming {
		resp, err = c.streamInfer(ctx, protoReq)
	} else {
		resp, err = c.client.ModelInfer(ctx, protoReq)
	}
	if err != nil {
		log.Warn().Err(err).
			Str("model_name", req.ModelName).
			Str("model_version", req.ModelVersion).
			Str("protocol", c.Protocol().String()).
			Msg("Failed to get inference from server")
		return nil, fmt.Errorf("%s inference on model %s failed: %w", c.Protocol(), req.ModelName, err)
	}
	return mapProtoToResponse(resp)
}

func (c *GRPCClient) streamInfer(ctx context.Context, req *pb.ModelInferRequest) (*pb.ModelInferResponse, error) {
	stream, err := c.client.ModelStreamInfer(ctx)
	if err != nil {
		return nil, err
	}
	if err := stream.Send(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	resp, err := stream.Recv()
	if err == io.EOF {
		return nil, fmt.Errorf("stream closed before a response arrived")
	}
	if err != nil {
		return nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, fmt.Errorf("stream error: %s", resp.ErrorMessage)
	}
	return resp.InferResponse, nil
}

func (c *GRPCClient) RegisterSystemSharedMemory(ctx context.Context, name, key string, offset, byteSize uint64) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	_, err := c.client.SystemSharedMemoryRegister(ctx, &pb.SystemSharedMemoryRegisterRequest{
		Name:     name,
		Key:      key,
		Offset:   offset,
		ByteSize: byteSize,
	})
	if err != nil {
		return fmt.Errorf("failed to register system shared memory %s: %w", name, err)
	}
	return nil
}

func (c *GRPCClient) UnregisterSystemSharedMemory(ctx context.Context, name string) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	if _, err := c.client.SystemSharedMemoryUnregister(ctx, &pb.SystemSharedMemoryUnregisterRequest{Name: name}); err != nil {
		return fmt.Errorf("failed to unregister system shared memory %s: %w", name, err)
	}
	return nil
}

func (c *GRPCClient) RegisterCudaSharedMemory(ctx context.Context, name string, rawHandle []byte, deviceID int64, byteSize uint64) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	_, err := c.client.CudaSharedMemoryRegister(ctx, &pb.CudaSharedMemoryRegisterRequest{
		Name:      name,
		RawHandle: rawHandle,
		DeviceId:  deviceID,
		ByteSize:  byteSize,
	})
	if err != nil {
		return fmt.Errorf("failed to register cuda shared memory %s: %w", name, err)
	}
	return nil
}

func (c *GRPCClient) UnregisterCudaSharedMemory(ctx context.Context, name string) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	if _, err := c.client.CudaSharedMemoryUnregister(ctx, &pb.CudaSharedMemoryUnregisterRequest{Name: name}); err != nil {
		return fmt.Errorf("failed to unregister cuda shared memory %s: %w", name, err)
	}
	return nil
}

// raw tensor bytes are dropped from debug dumps
func debugJSON(req *pb.ModelInferRequest) []byte {
	dump := &pb.ModelInferRequest{
		ModelName:    req.ModelName,
		ModelVersion: req.ModelVersion,
		Id:           req.Id,
		Parameters:   req.Parameters,
		Inputs:       req.Inputs,
		Outputs:      req.Outputs,
	}
	b, err := protojson.Marshal(dump)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}
