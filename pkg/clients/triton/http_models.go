package triton

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// InferenceHeaderContentLength is the length of the JSON header of a request or
// response whose binary tensor data follows the header.
const InferenceHeaderContentLength = "Inference-Header-Content-Length"

type HTTPTensor struct {
	Name       string         `json:"name"`
	Shape      []int64        `json:"shape"`
	Datatype   string         `json:"datatype"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Data       []any          `json:"data,omitempty"`
}

type HTTPRequestedOutput struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type HTTPInferRequest struct {
	ID         string                `json:"id,omitempty"`
	Parameters map[string]any        `json:"parameters,omitempty"`
	Inputs     []HTTPTensor          `json:"inputs"`
	Outputs    []HTTPRequestedOutput `json:"outputs,omitempty"`
}

type HTTPInferResponse struct {
	ModelName    string         `json:"model_name"`
	ModelVersion string         `json:"model_version,omitempty"`
	ID           string         `json:"id,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Outputs      []HTTPTensor   `json:"outputs"`
}

type HTTPSystemRegisterRequest struct {
	Key      string `json:"key"`
	Offset   uint64 `json:"offset"`
	ByteSize uint64 `json:"byte_size"`
}

type HTTPRawHandle struct {
	B64 string `json:"b64"`
}

type HTTPCudaRegisterRequest struct {
	RawHandle HTTPRawHandle `json:"raw_handle"`
	DeviceID  int64         `json:"device_id"`
	ByteSize  uint64        `json:"byte_size"`
}

type HTTPErrorBody struct {
	Error string `json:"error"`
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Message)
}

// HTTPParamInt reads an integer parameter decoded either with or without UseNumber.
func HTTPParamInt(params map[string]any, key string) (int64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case float64:
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case uint64:
		return int64(x), true
	}
	return 0, false
}

func HTTPParamBool(params map[string]any, key string) (bool, bool) {
	v, ok := params[key].(bool)
	return v, ok
}

func HTTPParamString(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok
}

// HTTPSharedMemoryParams reads the shared memory parameters of an HTTP tensor.
func HTTPSharedMemoryParams(params map[string]any) *SharedMemoryRef {
	region, ok := HTTPParamString(params, ParamSharedMemoryRegion)
	if !ok {
		return nil
	}
	size, _ := HTTPParamInt(params, ParamSharedMemoryByteSize)
	offset, _ := HTTPParamInt(params, ParamSharedMemoryOffset)
	return &SharedMemoryRef{Region: region, ByteSize: uint64(size), Offset: uint64(offset)}
}

func httpSharedMemoryParameters(ref *SharedMemoryRef, params map[string]any) {
	params[ParamSharedMemoryRegion] = ref.Region
	params[ParamSharedMemoryByteSize] = ref.ByteSize
	if ref.Offset != 0 {
		params[ParamSharedMemoryOffset] = ref.Offset
	}
}

// SplitHTTPBody separates the JSON header from the binary tensor data. An empty
// headerLength means the whole body is JSON.
func SplitHTTPBody(body []byte, headerLength string) (header, blob []byte, err error) {
	if headerLength == "" {
		return body, nil, nil
	}
	n, err := strconv.Atoi(headerLength)
	if err != nil || n < 0 || n > len(body) {
		return nil, nil, fmt.Errorf("invalid %s %q for a body of %d bytes", InferenceHeaderContentLength, headerLength, len(body))
	}
	return body[:n], body[n:], nil
}

// BlobReader hands out consecutive binary tensor blobs.
type BlobReader struct {
	data   []byte
	offset int
}

func NewBlobReader(data []byte) *BlobReader {
	return &BlobReader{data: data}
}

func (r *BlobReader) Next(name string, size int64) ([]byte, error) {
	if size < 0 || r.offset+int(size) > len(r.data) {
		return nil, fmt.Errorf("tensor %s needs %d binary bytes, %d left", name, size, len(r.data)-r.offset)
	}
	b := r.data[r.offset : r.offset+int(size)]
	r.offset += int(size)
	return b, nil
}

func (r *BlobReader) Remaining() int {
	return len(r.data) - r.offset
}
