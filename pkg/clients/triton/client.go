package triton

import "context"

// Client talks to an inference server over one protocol.
type Client interface {
	Infer(ctx context.Context, req *InferRequest) (*InferResponse, error)
	RegisterSystemSharedMemory(ctx context.Context, name, key string, offset, byteSize uint64) error
	UnregisterSystemSharedMemory(ctx context.Context, name string) error
	RegisterCudaSharedMemory(ctx context.Context, name string, rawHandle []byte, deviceID int64, byteSize uint64) error
	UnregisterCudaSharedMemory(ctx context.Context, name string) error
	Protocol() Protocol
	Endpoint() string
	Close() error
}
