package triton

import (
	"fmt"

	pb "github.com/Meesho/BharatMLStack/helix-client/pkg/clients/predator/client/grpc"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/google/uuid"
)

func Int64Parameter(v int64) *pb.InferParameter {
	return &pb.InferParameter{
		ParameterChoice: &pb.InferParameter_Int64Param{
			Int64Param: v,
		},
	}
}

func StringParameter(v string) *pb.InferParameter {
	return &pb.InferParameter{
		ParameterChoice: &pb.InferParameter_StringParam{
			StringParam: v,
		},
	}
}

// Int64Param reads an integer parameter; ok is false when absent or not an integer.
func Int64Param(params map[string]*pb.InferParameter, key string) (int64, bool) {
	p, ok := params[key]
	if !ok || p == nil {
		return 0, false
	}
	v, ok := p.GetParameterChoice().(*pb.InferParameter_Int64Param)
	if !ok {
		return 0, false
	}
	return v.Int64Param, true
}

func StringParam(params map[string]*pb.InferParameter, key string) (string, bool) {
	p, ok := params[key]
	if !ok || p == nil {
		return "", false
	}
	v, ok := p.GetParameterChoice().(*pb.InferParameter_StringParam)
	if !ok {
		return "", false
	}
	return v.StringParam, true
}

// SharedMemoryParams reads the shared memory parameters of a tensor, if any.
func SharedMemoryParams(params map[string]*pb.InferParameter) *SharedMemoryRef {
	region, ok := StringParam(params, ParamSharedMemoryRegion)
	if !ok {
		return nil
	}
	size, _ := Int64Param(params, ParamSharedMemoryByteSize)
	offset, _ := Int64Param(params, ParamSharedMemoryOffset)
	return &SharedMemoryRef{Region: region, ByteSize: uint64(size), Offset: uint64(offset)}
}

func sharedMemoryParameters(ref *SharedMemoryRef, params map[string]*pb.InferParameter) {
	params[ParamSharedMemoryRegion] = StringParameter(ref.Region)
	params[ParamSharedMemoryByteSize] = Int64Parameter(int64(ref.ByteSize))
	if ref.Offset != 0 {
		params[ParamSharedMemoryOffset] = Int64Parameter(int64(ref.Offset))
	}
}

// ensureRequestID assigns a random id to requests that carry none.
func ensureRequestID(req *InferRequest) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
}

func mapRequestToProto(req *InferRequest) *pb.ModelInferRequest {
	params := make(map[string]*pb.InferParameter)
	if req.Priority != 0 {
		params[ParamPriority] = Int64Parameter(int64(req.Priority))
	}
	if req.TimeoutMicros != 0 {
		params[ParamTimeout] = Int64Parameter(int64(req.TimeoutMicros))
	}
	if req.SequenceID != 0 {
		params[ParamSequenceID] = Int64Parameter(int64(req.SequenceID))
	}

	protoReq := &pb.ModelInferRequest{
		ModelName:    req.ModelName,
		ModelVersion: req.ModelVersion,
		Id:           req.ID,
		Parameters:   params,
		Inputs:       make([]*pb.ModelInferRequest_InferInputTensor, 0, len(req.Inputs)),
		Outputs:      make([]*pb.ModelInferRequest_InferRequestedOutputTensor, 0, len(req.Outputs)),
	}
	for _, in := range req.Inputs {
		inParams := make(map[string]*pb.InferParameter)
		if in.SharedMemory != nil {
			sharedMemoryParameters(in.SharedMemory, inParams)
		} else {
			protoReq.RawInputContents = append(protoReq.RawInputContents, in.Raw)
		}
		protoReq.Inputs = append(protoReq.Inputs, &pb.ModelInferRequest_InferInputTensor{
			Name:       in.Name,
			Datatype:   in.DataType.String(),
			Shape:      in.Shape,
			Parameters: inParams,
		})
	}
	for _, out := range req.Outputs {
		outParams := make(map[string]*pb.InferParameter)
		if out.Classification > 0 {
			outParams[ParamClassification] = Int64Parameter(int64(out.Classification))
		}
		if out.SharedMemory != nil {
			sharedMemoryParameters(out.SharedMemory, outParams)
		}
		protoReq.Outputs = append(protoReq.Outputs, &pb.ModelInferRequest_InferRequestedOutputTensor{
			Name:       out.Name,
			Parameters: outParams,
		})
	}
	return protoReq
}

// mapProtoToResponse pairs raw output contents with outputs. Servers either send one
// entry per output or entries only for outputs not written to shared memory.
func mapProtoToResponse(resp *pb.ModelInferResponse) (*InferResponse, error) {
	if resp == nil {
		return nil, fmt.Errorf("empty inference response")
	}
	out := &InferResponse{
		ModelName:    resp.ModelName,
		ModelVersion: resp.ModelVersion,
		ID:           resp.Id,
		Outputs:      make([]*InferOutput, 0, len(resp.Outputs)),
	}
	indexed := len(resp.RawOutputContents) == len(resp.Outputs)
	next := 0
	for i, o := range resp.Outputs {
		dt, err := datatype.Parse(o.Datatype)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", o.Name, err)
		}
		io := &InferOutput{
			Name:         o.Name,
			DataType:     dt,
			Shape:        o.Shape,
			SharedMemory: SharedMemoryParams(o.Parameters),
		}
		switch {
		case io.SharedMemory != nil:
		case indexed:
			io.Raw = nonNil(resp.RawOutputContents[i])
		case next < len(resp.RawOutputContents):
			io.Raw = nonNil(resp.RawOutputContents[next])
			next++
		default:
			return nil, fmt.Errorf("output %s has no raw contents", o.Name)
		}
		out.Outputs = append(out.Outputs, io)
	}
	return out, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
