package triton

import (
	"context"
	"fmt"
	"sort"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
)

// SharedMemoryRegion is a registered region an input is read from or an output is
// written to. *shm.Region satisfies it.
type SharedMemoryRegion interface {
	RegionName() string
	RegionByteSize() uint64
	ReadAll() ([]byte, error)
}

// RunInput is one named input of InferContext.Run.
type RunInput struct {
	// Slots holds one tensor per batch slot.
	Slots []*tensor.Tensor
	// Region, when set, already holds the input bytes. DataType and Shape then
	// describe the full tensor, batch dimension included.
	Region   SharedMemoryRegion
	DataType datatype.DataType
	Shape    []int64
	// Unbatched inputs are sent as Slots[0] even to batching models.
	Unbatched bool
}

// RunOutput is one requested output of InferContext.Run.
type RunOutput struct {
	Classification uint32
	Region         SharedMemoryRegion
}

type RunOptions struct {
	BatchSize int
	// Batched is true when the model has a leading batch dimension.
	Batched       bool
	Priority      uint64
	TimeoutMicros uint64
}

// Result is the value of one output for one batch slot.
type Result struct {
	Tensor *tensor.Tensor
	// Classes is set for classification outputs.
	Classes []Class
}

// InferContext binds a client to one model and remembers the identity of the last
// request it issued.
type InferContext struct {
	client        Client
	modelName     string
	modelVersion  string
	correlationID uint64

	lastRequestID    string
	lastModelName    string
	lastModelVersion string
}

func NewInferContext(client Client, modelName, modelVersion string, correlationID uint64) *InferContext {
	return &InferContext{
		client:        client,
		modelName:     modelName,
		modelVersion:  modelVersion,
		correlationID: correlationID,
	}
}

func (c *InferContext) Client() Client {
	return c.client
}

func (c *InferContext) LastRequestID() string {
	return c.lastRequestID
}

func (c *InferContext) LastModelName() string {
	return c.lastModelName
}

func (c *InferContext) LastModelVersion() string {
	return c.lastModelVersion
}

// Infer fills in the context's model and correlation id when the request leaves
// them empty, then records the identity the server echoed.
func (c *InferContext) Infer(ctx context.Context, req *InferRequest) (*InferResponse, error) {
	if req.ModelName == "" {
		req.ModelName = c.modelName
	}
	if req.ModelVersion == "" {
		req.ModelVersion = c.modelVersion
	}
	if req.SequenceID == 0 {
		req.SequenceID = c.correlationID
	}
	resp, err := c.client.Infer(ctx, req)
	if err != nil {
		return nil, err
	}
	c.lastRequestID = resp.ID
	c.lastModelName = resp.ModelName
	c.lastModelVersion = resp.ModelVersion
	return resp, nil
}

// Run sends inputs, requests outputs and returns every output of the response
// split into per-slot results. Outputs written to shared memory are read back
// from the region given in outputs.
func (c *InferContext) Run(ctx context.Context, inputs map[string]RunInput, outputs map[string]RunOutput, opts RunOptions) (map[string][]Result, error) {
	batch := opts.BatchSize
	if batch < 1 {
		batch = 1
	}
	req := &InferRequest{
		Priority:      opts.Priority,
		TimeoutMicros: opts.TimeoutMicros,
	}
	for _, name := range sortedKeys(inputs) {
		in, err := runInput(name, inputs[name], batch, opts.Batched)
		if err != nil {
			return nil, err
		}
		req.Inputs = append(req.Inputs, in)
	}
	for _, name := range sortedKeys(outputs) {
		out := outputs[name]
		ro := &RequestedOutput{Name: name, Classification: out.Classification}
		if out.Region != nil {
			ro.SharedMemory = &SharedMemoryRef{Region: out.Region.RegionName(), ByteSize: out.Region.RegionByteSize()}
		}
		req.Outputs = append(req.Outputs, ro)
	}

	resp, err := c.Infer(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make(map[string][]Result, len(resp.Outputs))
	for _, o := range resp.Outputs {
		t, err := outputTensor(o, outputs[o.Name])
		if err != nil {
			return nil, err
		}
		slots := []*tensor.Tensor{t}
		if opts.Batched {
			if slots, err = tensor.Unstack(t, batch); err != nil {
				return nil, fmt.Errorf("output %s: %w", o.Name, err)
			}
		}
		rs := make([]Result, len(slots))
		for i, s := range slots {
			rs[i] = Result{Tensor: s}
			if outputs[o.Name].Classification > 0 {
				if rs[i].Classes, err = classes(s); err != nil {
					return nil, fmt.Errorf("output %s slot %d: %w", o.Name, i, err)
				}
			}
		}
		results[o.Name] = rs
	}
	return results, nil
}

func runInput(name string, in RunInput, batch int, batched bool) (*InferInput, error) {
	if in.Region != nil {
		return &InferInput{
			Name:     name,
			DataType: in.DataType,
			Shape:    in.Shape,
			SharedMemory: &SharedMemoryRef{
				Region:   in.Region.RegionName(),
				ByteSize: in.Region.RegionByteSize(),
			},
		}, nil
	}
	if in.Unbatched || !batched {
		if len(in.Slots) != 1 {
			return nil, fmt.Errorf("input %s: unbatched input needs exactly one tensor, got %d", name, len(in.Slots))
		}
		return NewInferInput(name, in.Slots[0]), nil
	}
	if len(in.Slots) != batch {
		return nil, fmt.Errorf("input %s: batch size is %d but %d slots were given", name, batch, len(in.Slots))
	}
	t, err := tensor.Stack(in.Slots)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", name, err)
	}
	return NewInferInput(name, t), nil
}

func outputTensor(o *InferOutput, requested RunOutput) (*tensor.Tensor, error) {
	if o.SharedMemory == nil {
		return o.Tensor()
	}
	if requested.Region == nil {
		return nil, fmt.Errorf("output %s was written to region %s that was not requested", o.Name, o.SharedMemory.Region)
	}
	raw, err := requested.Region.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", o.Name, err)
	}
	n, err := tensor.NumElements(o.Shape)
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", o.Name, err)
	}
	size := o.SharedMemory.ByteSize
	if o.DataType != datatype.Bytes {
		if elem := o.DataType.Size(); elem > 0 && n > len(raw)/elem {
			return nil, fmt.Errorf("output %s of shape %v does not fit region %s of %d bytes", o.Name, o.Shape, requested.Region.RegionName(), len(raw))
		}
		size = uint64(n) * uint64(o.DataType.Size())
	}
	if size > uint64(len(raw)) {
		return nil, fmt.Errorf("output %s needs %d bytes, region %s holds %d", o.Name, size, requested.Region.RegionName(), len(raw))
	}
	return tensor.Decode(o.DataType, o.Shape, raw[:size])
}

func classes(t *tensor.Tensor) ([]Class, error) {
	if t.DataType() != datatype.Bytes {
		return nil, fmt.Errorf("classification output has data type %s", t.DataType())
	}
	out := make([]Class, t.Len())
	for i := range out {
		c, err := ParseClassification(t.StringAt(i))
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
