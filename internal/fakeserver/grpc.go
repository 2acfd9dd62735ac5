package fakeserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"

	pb "github.com/Meesho/BharatMLStack/helix-client/pkg/clients/predator/client/grpc"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/clients/triton"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/shm"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type grpcService struct {
	pb.UnimplementedGRPCInferenceServiceServer
	server *Server
}

// RegisterGRPC registers the inference service on g.
func (s *Server) RegisterGRPC(g *grpc.Server) {
	pb.RegisterGRPCInferenceServiceServer(g, &grpcService{server: s})
}

// NewGRPCServer returns a gRPC server with recovery interceptors and the inference
// service registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(RecoveryInterceptor),
		grpc.ChainStreamInterceptor(StreamRecoveryInterceptor),
	)
	g := grpc.NewServer(opts...)
	s.RegisterGRPC(g)
	return g
}

func RecoveryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Panic occurred in method %s: %v\n%s", info.FullMethod, r, debug.Stack())
			err = status.Errorf(codes.Internal, "panic recovered: %v", r)
		}
	}()
	return handler(ctx, req)
}

func StreamRecoveryInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Panic occurred in stream %s: %v\n%s", info.FullMethod, r, debug.Stack())
			err = status.Errorf(codes.Internal, "panic recovered: %v", r)
		}
	}()
	return handler(srv, ss)
}

func (g *grpcService) ModelInfer(ctx context.Context, req *pb.ModelInferRequest) (*pb.ModelInferResponse, error) {
	resp, err := g.modelInfer(req)
	if err != nil {
		return nil, grpcError(err)
	}
	return resp, nil
}

func (g *grpcService) modelInfer(req *pb.ModelInferRequest) (*pb.ModelInferResponse, error) {
	r, err := requestFromProto(req)
	if err != nil {
		return nil, err
	}
	resp, err := g.server.infer(r)
	if err != nil {
		return nil, err
	}
	return responseToProto(resp), nil
}

// ModelStreamInfer answers each request on the stream in order. Inference failures
// are reported in the stream response and do not end the stream.
func (g *grpcService) ModelStreamInfer(stream pb.GRPCInferenceService_ModelStreamInferServer) error {
	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		resp, err := g.modelInfer(req)
		out := &pb.ModelStreamInferResponse{InferResponse: resp}
		if err != nil {
			out = &pb.ModelStreamInferResponse{ErrorMessage: err.Error()}
		}
		if err := stream.Send(out); err != nil {
			return err
		}
	}
}

func (g *grpcService) ServerLive(ctx context.Context, req *pb.ServerLiveRequest) (*pb.ServerLiveResponse, error) {
	return &pb.ServerLiveResponse{Live: true}, nil
}

func (g *grpcService) ServerReady(ctx context.Context, req *pb.ServerReadyRequest) (*pb.ServerReadyResponse, error) {
	return &pb.ServerReadyResponse{Ready: true}, nil
}

func (g *grpcService) ModelReady(ctx context.Context, req *pb.ModelReadyRequest) (*pb.ModelReadyResponse, error) {
	_, err := resolveModel(req.Name, g.server.swapped)
	return &pb.ModelReadyResponse{Ready: err == nil}, nil
}

func (g *grpcService) ServerMetadata(ctx context.Context, req *pb.ServerMetadataRequest) (*pb.ServerMetadataResponse, error) {
	return &pb.ServerMetadataResponse{
		Name:       ServerName,
		Version:    ServerVersion,
		Extensions: []string{"classification", "sequence", "system_shared_memory", "cuda_shared_memory", "binary_tensor_data"},
	}, nil
}

func (g *grpcService) ModelMetadata(ctx context.Context, req *pb.ModelMetadataRequest) (*pb.ModelMetadataResponse, error) {
	m, err := resolveModel(req.Name, g.server.swapped)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "Request for unknown model: %v", err)
	}
	resp := &pb.ModelMetadataResponse{
		Name:     m.name,
		Versions: []string{defaultVersion},
		Platform: string(m.platform),
	}
	switch m.kind {
	case addSubModel:
		for n := 0; n < 2; n++ {
			resp.Inputs = append(resp.Inputs, tensorMetadata(m, m.inputName(n), m.input))
		}
		resp.Outputs = append(resp.Outputs,
			tensorMetadata(m, m.outputName(0), m.output0),
			tensorMetadata(m, m.outputName(1), m.output1))
	case identityModel:
		for n := 0; n < m.ioCount; n++ {
			resp.Inputs = append(resp.Inputs, tensorMetadata(m, m.inputName(n), m.dataType))
			resp.Outputs = append(resp.Outputs, tensorMetadata(m, m.outputName(n), m.dataType))
		}
	}
	return resp, nil
}

func tensorMetadata(m *model, name string, dt datatype.DataType) *pb.ModelMetadataResponse_TensorMetadata {
	shape := []int64{-1}
	if m.batched {
		shape = []int64{-1, -1}
	}
	return &pb.ModelMetadataResponse_TensorMetadata{Name: name, Datatype: dt.String(), Shape: shape}
}

func (g *grpcService) SystemSharedMemoryRegister(ctx context.Context, req *pb.SystemSharedMemoryRegisterRequest) (*pb.SystemSharedMemoryRegisterResponse, error) {
	if err := g.server.regions.registerSystem(req.Name, req.Key, req.Offset, req.ByteSize); err != nil {
		return nil, grpcError(err)
	}
	return &pb.SystemSharedMemoryRegisterResponse{}, nil
}

func (g *grpcService) SystemSharedMemoryUnregister(ctx context.Context, req *pb.SystemSharedMemoryUnregisterRequest) (*pb.SystemSharedMemoryUnregisterResponse, error) {
	if err := g.server.regions.unregister(shm.System, req.Name); err != nil {
		return nil, grpcError(err)
	}
	return &pb.SystemSharedMemoryUnregisterResponse{}, nil
}

func (g *grpcService) CudaSharedMemoryRegister(ctx context.Context, req *pb.CudaSharedMemoryRegisterRequest) (*pb.CudaSharedMemoryRegisterResponse, error) {
	if err := g.server.regions.registerDevice(req.Name, req.RawHandle, req.DeviceId, req.ByteSize); err != nil {
		return nil, grpcError(err)
	}
	return &pb.CudaSharedMemoryRegisterResponse{}, nil
}

func (g *grpcService) CudaSharedMemoryUnregister(ctx context.Context, req *pb.CudaSharedMemoryUnregisterRequest) (*pb.CudaSharedMemoryUnregisterResponse, error) {
	if err := g.server.regions.unregister(shm.Device, req.Name); err != nil {
		return nil, grpcError(err)
	}
	return &pb.CudaSharedMemoryUnregisterResponse{}, nil
}

func requestFromProto(req *pb.ModelInferRequest) (*triton.InferRequest, error) {
	out := &triton.InferRequest{
		ModelName:    req.ModelName,
		ModelVersion: req.ModelVersion,
		ID:           req.Id,
	}
	if v, ok := triton.Int64Param(req.Parameters, triton.ParamPriority); ok {
		out.Priority = uint64(v)
	}
	if v, ok := triton.Int64Param(req.Parameters, triton.ParamTimeout); ok {
		out.TimeoutMicros = uint64(v)
	}
	if v, ok := triton.Int64Param(req.Parameters, triton.ParamSequenceID); ok {
		out.SequenceID = uint64(v)
	}

	next := 0
	for _, in := range req.Inputs {
		dt, err := datatype.Parse(in.Datatype)
		if err != nil {
			return nil, &RequestError{ErrorMsg: fmt.Sprintf("input %s: %v", in.Name, err)}
		}
		ii := &triton.InferInput{
			Name:         in.Name,
			DataType:     dt,
			Shape:        in.Shape,
			SharedMemory: triton.SharedMemoryParams(in.Parameters),
		}
		switch {
		case ii.SharedMemory != nil:
		case next < len(req.RawInputContents):
			ii.Raw = req.RawInputContents[next]
			next++
		case in.Contents != nil:
			if ii.Raw, err = contentsToRaw(dt, in.Shape, in.Contents); err != nil {
				return nil, &RequestError{ErrorMsg: fmt.Sprintf("input %s: %v", in.Name, err)}
			}
		default:
			return nil, &RequestError{ErrorMsg: fmt.Sprintf("input %s has no data", in.Name)}
		}
		out.Inputs = append(out.Inputs, ii)
	}
	if next != len(req.RawInputContents) {
		return nil, &RequestError{ErrorMsg: fmt.Sprintf("%d raw input contents for %d inputs", len(req.RawInputContents), next)}
	}

	for _, o := range req.Outputs {
		ro := &triton.RequestedOutput{Name: o.Name, SharedMemory: triton.SharedMemoryParams(o.Parameters)}
		if k, ok := triton.Int64Param(o.Parameters, triton.ParamClassification); ok && k > 0 {
			ro.Classification = uint32(k)
		}
		out.Outputs = append(out.Outputs, ro)
	}
	return out, nil
}

func contentsToRaw(dt datatype.DataType, shape []int64, c *pb.InferTensorContents) ([]byte, error) {
	var (
		t   *tensor.Tensor
		err error
	)
	switch dt {
	case datatype.Bool:
		t, err = tensor.FromBools(shape, c.BoolContents)
	case datatype.Int8, datatype.Int16, datatype.Int32:
		t, err = tensor.FromInt64s(dt, shape, widen(c.IntContents))
	case datatype.Int64:
		t, err = tensor.FromInt64s(dt, shape, c.Int64Contents)
	case datatype.Uint8, datatype.Uint16, datatype.Uint32:
		t, err = tensor.FromInt64s(dt, shape, widen(c.UintContents))
	case datatype.Uint64:
		t, err = tensor.FromSlice(dt, shape, c.Uint64Contents)
	case datatype.FP32:
		t, err = tensor.FromSlice(dt, shape, c.Fp32Contents)
	case datatype.FP64:
		t, err = tensor.FromSlice(dt, shape, c.Fp64Contents)
	case datatype.Bytes:
		t, err = tensor.FromSlice(dt, shape, c.BytesContents)
	default:
		return nil, fmt.Errorf("%s tensors must be sent as raw contents", dt)
	}
	if err != nil {
		return nil, err
	}
	return t.Encode(), nil
}

func widen[T int32 | uint32](vals []T) []int64 {
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = int64(v)
	}
	return out
}

func responseToProto(resp *triton.InferResponse) *pb.ModelInferResponse {
	out := &pb.ModelInferResponse{
		ModelName:    resp.ModelName,
		ModelVersion: resp.ModelVersion,
		Id:           resp.ID,
	}
	for _, o := range resp.Outputs {
		params := make(map[string]*pb.InferParameter)
		if o.SharedMemory != nil {
			params[triton.ParamSharedMemoryRegion] = triton.StringParameter(o.SharedMemory.Region)
			params[triton.ParamSharedMemoryByteSize] = triton.Int64Parameter(int64(o.SharedMemory.ByteSize))
			if o.SharedMemory.Offset != 0 {
				params[triton.ParamSharedMemoryOffset] = triton.Int64Parameter(int64(o.SharedMemory.Offset))
			}
		} else {
			out.RawOutputContents = append(out.RawOutputContents, o.Raw)
		}
		out.Outputs = append(out.Outputs, &pb.ModelInferResponse_InferOutputTensor{
			Name:       o.Name,
			Datatype:   o.DataType.String(),
			Shape:      o.Shape,
			Parameters: params,
		})
	}
	return out
}
