package triton

import (
	"fmt"
	"strings"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
)

type Protocol uint8

const (
	ProtocolInvalid Protocol = iota
	ProtocolHTTP
	ProtocolGRPC
	ProtocolGRPCStream
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	case ProtocolGRPC:
		return "grpc"
	case ProtocolGRPCStream:
		return "grpc_stream"
	}
	return "invalid"
}

func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "http":
		return ProtocolHTTP, nil
	case "grpc":
		return ProtocolGRPC, nil
	case "grpc_stream", "grpc-stream", "streaming":
		return ProtocolGRPCStream, nil
	}
	return ProtocolInvalid, fmt.Errorf("unknown protocol %q", s)
}

// Request and tensor parameter names of the inference protocol.
const (
	ParamPriority             = "priority"
	ParamTimeout              = "timeout"
	ParamSequenceID           = "sequence_id"
	ParamClassification       = "classification"
	ParamSharedMemoryRegion   = "shared_memory_region"
	ParamSharedMemoryByteSize = "shared_memory_byte_size"
	ParamSharedMemoryOffset   = "shared_memory_offset"
	ParamBinaryDataSize       = "binary_data_size"
	ParamBinaryData           = "binary_data"
	ParamBinaryDataOutput     = "binary_data_output"
)

// SharedMemoryRef points a tensor at a registered shared memory region.
type SharedMemoryRef struct {
	Region   string
	ByteSize uint64
	Offset   uint64
}

type InferInput struct {
	Name         string
	DataType     datatype.DataType
	Shape        []int64
	Raw          []byte
	SharedMemory *SharedMemoryRef
}

// NewInferInput carries t's encoded bytes in the request.
func NewInferInput(name string, t *tensor.Tensor) *InferInput {
	return &InferInput{
		Name:     name,
		DataType: t.DataType(),
		Shape:    t.Shape(),
		Raw:      t.Encode(),
	}
}

type RequestedOutput struct {
	Name string
	// Classification > 0 requests the top-k classes instead of the raw tensor.
	Classification uint32
	SharedMemory   *SharedMemoryRef
}

type InferRequest struct {
	ModelName     string
	ModelVersion  string
	ID            string
	Inputs        []*InferInput
	Outputs       []*RequestedOutput
	Priority      uint64
	TimeoutMicros uint64
	SequenceID    uint64
}

type InferOutput struct {
	Name     string
	DataType datatype.DataType
	Shape    []int64
	// Raw is nil when the server wrote the output to shared memory.
	Raw          []byte
	SharedMemory *SharedMemoryRef
}

// Tensor decodes the output bytes carried in the response.
func (o *InferOutput) Tensor() (*tensor.Tensor, error) {
	if o.SharedMemory != nil {
		return nil, fmt.Errorf("output %s was written to shared memory region %s", o.Name, o.SharedMemory.Region)
	}
	return tensor.Decode(o.DataType, o.Shape, o.Raw)
}

type InferResponse struct {
	ModelName    string
	ModelVersion string
	ID           string
	Outputs      []*InferOutput
}

func (r *InferResponse) Output(name string) (*InferOutput, bool) {
	for _, o := range r.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}
