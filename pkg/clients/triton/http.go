package triton

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
	"github.com/rs/zerolog/log"
)

// HTTPClient speaks the KServe v2 REST protocol with the binary tensor extension.
type HTTPClient struct {
	baseURL    string
	endpoint   string
	httpClient *http.Client
	json       bool
}

func NewHTTPClient(conf *Config) (*HTTPClient, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	scheme := "https"
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if conf.PlainText {
		scheme = "http"
	} else {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &HTTPClient{
		baseURL:  scheme + "://" + conf.Endpoint(),
		endpoint: conf.Endpoint(),
		httpClient: &http.Client{
			Timeout:   conf.Deadline(),
			Transport: transport,
		},
		json: conf.JSON,
	}, nil
}

// NewHTTPClientWithBaseURL targets baseURL with the given http client, used against
// in-process servers.
func NewHTTPClientWithBaseURL(baseURL string, httpClient *http.Client, jsonData bool) *HTTPClient {
	u, err := url.Parse(baseURL)
	endpoint := baseURL
	if err == nil {
		endpoint = u.Host
	}
	return &HTTPClient{baseURL: baseURL, endpoint: endpoint, httpClient: httpClient, json: jsonData}
}

func (c *HTTPClient) Protocol() Protocol {
	return ProtocolHTTP
}

func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Infer assigns req.ID when empty and runs one inference.
func (c *HTTPClient) Infer(ctx context.Context, req *InferRequest) (*InferResponse, error) {
	ensureRequestID(req)
	header, blobs, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("protocol", "http").Str("endpoint", c.endpoint).
		RawJSON("request", header).Msg("model infer request")

	body := header
	if len(blobs) > 0 {
		body = bytes.Join(append([][]byte{header}, blobs...), nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+inferPath(req.ModelName, req.ModelVersion), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(blobs) > 0 {
		httpReq.Header.Set(InferenceHeaderContentLength, strconv.Itoa(len(header)))
		httpReq.Header.Set("Content-Type", "application/octet-stream")
	} else {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	raw, resp, err := c.do(httpReq)
	if err != nil {
		log.Warn().Err(err).
			Str("model_name", req.ModelName).
			Str("model_version", req.ModelVersion).
			Str("protocol", "http").
			Msg("Failed to get inference from server")
		return nil, fmt.Errorf("http inference on model %s failed: %w", req.ModelName, err)
	}
	log.Debug().Dur("latency", time.Since(start)).Int("bytes", len(raw)).Msg("model infer response")
	return decodeHTTPResponse(raw, resp.Header.Get(InferenceHeaderContentLength))
}

func (c *HTTPClient) do(req *http.Request) ([]byte, *http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body HTTPErrorBody
		msg := string(raw)
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			msg = body.Error
		}
		return nil, nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	return raw, resp, nil
}

func inferPath(model, version string) string {
	path := "/v2/models/" + url.PathEscape(model)
	if version != "" {
		path += "/versions/" + url.PathEscape(version)
	}
	return path + "/infer"
}

func (c *HTTPClient) encodeRequest(req *InferRequest) ([]byte, [][]byte, error) {
	hreq := HTTPInferRequest{
		ID:         req.ID,
		Parameters: map[string]any{},
		Inputs:     make([]HTTPTensor, 0, len(req.Inputs)),
	}
	if req.Priority != 0 {
		hreq.Parameters[ParamPriority] = req.Priority
	}
	if req.TimeoutMicros != 0 {
		hreq.Parameters[ParamTimeout] = req.TimeoutMicros
	}
	if req.SequenceID != 0 {
		hreq.Parameters[ParamSequenceID] = req.SequenceID
	}
	if len(hreq.Parameters) == 0 {
		hreq.Parameters = nil
	}

	var blobs [][]byte
	for _, in := range req.Inputs {
		shape := in.Shape
		if shape == nil {
			shape = []int64{}
		}
		ht := HTTPTensor{
			Name:       in.Name,
			Shape:      shape,
			Datatype:   in.DataType.String(),
			Parameters: map[string]any{},
		}
		switch {
		case in.SharedMemory != nil:
			httpSharedMemoryParameters(in.SharedMemory, ht.Parameters)
		case c.json:
			data, ok, err := jsonData(in)
			if err != nil {
				return nil, nil, fmt.Errorf("input %s: %w", in.Name, err)
			}
			if ok {
				ht.Data = data
				break
			}
			ht.Parameters[ParamBinaryDataSize] = len(in.Raw)
			blobs = append(blobs, in.Raw)
		default:
			ht.Parameters[ParamBinaryDataSize] = len(in.Raw)
			blobs = append(blobs, in.Raw)
		}
		if len(ht.Parameters) == 0 {
			ht.Parameters = nil
		}
		hreq.Inputs = append(hreq.Inputs, ht)
	}

	for _, out := range req.Outputs {
		params := map[string]any{}
		if out.Classification > 0 {
			params[ParamClassification] = out.Classification
		}
		if out.SharedMemory != nil {
			httpSharedMemoryParameters(out.SharedMemory, params)
		} else {
			params[ParamBinaryData] = !c.json
		}
		hreq.Outputs = append(hreq.Outputs, HTTPRequestedOutput{Name: out.Name, Parameters: params})
	}

	header, err := json.Marshal(hreq)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}
	return header, blobs, nil
}

// jsonData returns the "data" array for an input. ok is false for tensors the
// JSON form cannot carry: FP16, empty tensors and BYTES that are not valid UTF-8.
func jsonData(in *InferInput) ([]any, bool, error) {
	if in.DataType == datatype.FP16 || tensor.ElementCount(in.Shape) == 0 {
		return nil, false, nil
	}
	t, err := tensor.Decode(in.DataType, in.Shape, in.Raw)
	if err != nil {
		return nil, false, err
	}
	if in.DataType == datatype.Bytes {
		for _, e := range t.Data().([][]byte) {
			if !utf8.Valid(e) {
				return nil, false, nil
			}
		}
	}
	data, err := t.JSONData()
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func decodeHTTPResponse(body []byte, headerLength string) (*InferResponse, error) {
	header, blob, err := SplitHTTPBody(body, headerLength)
	if err != nil {
		return nil, err
	}
	var hresp HTTPInferResponse
	dec := json.NewDecoder(bytes.NewReader(header))
	dec.UseNumber()
	if err := dec.Decode(&hresp); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}

	out := &InferResponse{
		ModelName:    hresp.ModelName,
		ModelVersion: hresp.ModelVersion,
		ID:           hresp.ID,
		Outputs:      make([]*InferOutput, 0, len(hresp.Outputs)),
	}
	blobs := NewBlobReader(blob)
	for _, ht := range hresp.Outputs {
		dt, err := datatype.Parse(ht.Datatype)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", ht.Name, err)
		}
		o := &InferOutput{
			Name:         ht.Name,
			DataType:     dt,
			Shape:        ht.Shape,
			SharedMemory: HTTPSharedMemoryParams(ht.Parameters),
		}
		if o.SharedMemory == nil {
			if o.Raw, err = httpOutputBytes(ht, dt, blobs); err != nil {
				return nil, fmt.Errorf("output %s: %w", ht.Name, err)
			}
		}
		out.Outputs = append(out.Outputs, o)
	}
	if blobs.Remaining() != 0 {
		return nil, fmt.Errorf("%d unclaimed binary bytes in inference response", blobs.Remaining())
	}
	return out, nil
}

func httpOutputBytes(ht HTTPTensor, dt datatype.DataType, blobs *BlobReader) ([]byte, error) {
	if size, ok := HTTPParamInt(ht.Parameters, ParamBinaryDataSize); ok {
		b, err := blobs.Next(ht.Name, size)
		if err != nil {
			return nil, err
		}
		return nonNil(b), nil
	}
	if ht.Data == nil && tensor.ElementCount(ht.Shape) == 0 {
		return []byte{}, nil
	}
	t, err := tensor.FromJSONData(dt, ht.Shape, ht.Data)
	if err != nil {
		return nil, err
	}
	return t.Encode(), nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, _, err = c.do(req)
	return err
}

func (c *HTTPClient) RegisterSystemSharedMemory(ctx context.Context, name, key string, offset, byteSize uint64) error {
	err := c.post(ctx, "/v2/systemsharedmemory/region/"+url.PathEscape(name)+"/register", HTTPSystemRegisterRequest{
		Key:      key,
		Offset:   offset,
		ByteSize: byteSize,
	})
	if err != nil {
		return fmt.Errorf("failed to register system shared memory %s: %w", name, err)
	}
	return nil
}

func (c *HTTPClient) UnregisterSystemSharedMemory(ctx context.Context, name string) error {
	if err := c.post(ctx, "/v2/systemsharedmemory/region/"+url.PathEscape(name)+"/unregister", nil); err != nil {
		return fmt.Errorf("failed to unregister system shared memory %s: %w", name, err)
	}
	return nil
}

func (c *HTTPClient) RegisterCudaSharedMemory(ctx context.Context, name string, rawHandle []byte, deviceID int64, byteSize uint64) error {
	err := c.post(ctx, "/v2/cudasharedmemory/region/"+url.PathEscape(name)+"/register", HTTPCudaRegisterRequest{
		RawHandle: HTTPRawHandle{B64: base64.StdEncoding.EncodeToString(rawHandle)},
		DeviceID:  deviceID,
		ByteSize:  byteSize,
	})
	if err != nil {
		return fmt.Errorf("failed to register cuda shared memory %s: %w", name, err)
	}
	return nil
}

func (c *HTTPClient) UnregisterCudaSharedMemory(ctx context.Context, name string) error {
	if err := c.post(ctx, "/v2/cudasharedmemory/region/"+url.PathEscape(name)+"/unregister", nil); err != nil {
		return fmt.Errorf("failed to unregister cuda shared memory %s: %w", name, err)
	}
	return nil
}
