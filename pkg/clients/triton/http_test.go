package triton

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitHTTPBody(t *testing.T) {
	header, blob, err := SplitHTTPBody([]byte(`{"a":1}xyz`), "7")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(header))
	assert.Equal(t, "xyz", string(blob))

	header, blob, err = SplitHTTPBody([]byte(`{}`), "")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(header))
	assert.Nil(t, blob)

	for _, bad := range []string{"x", "-1", "99"} {
		_, _, err = SplitHTTPBody([]byte(`{}`), bad)
		assert.Error(t, err, bad)
	}
}

func TestBlobReader(t *testing.T) {
	r := NewBlobReader([]byte{1, 2, 3, 4, 5})
	b, err := r.Next("a", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b)
	b, err = r.Next("empty", 0)
	require.NoError(t, err)
	assert.Empty(t, b)
	assert.Equal(t, 3, r.Remaining())

	_, err = r.Next("b", 4)
	assert.ErrorContains(t, err, "tensor b needs 4 binary bytes, 3 left")
	_, err = r.Next("c", -1)
	assert.Error(t, err)
}

func TestHTTPParamInt(t *testing.T) {
	params := map[string]any{
		"num":    json.Number("12"),
		"float":  float64(3),
		"int":    5,
		"uint":   uint64(8),
		"string": "9",
	}
	for key, want := range map[string]int64{"num": 12, "float": 3, "int": 5, "uint": 8} {
		got, ok := HTTPParamInt(params, key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	_, ok := HTTPParamInt(params, "string")
	assert.False(t, ok)
	_, ok = HTTPParamInt(params, "missing")
	assert.False(t, ok)
}

func TestInferPath(t *testing.T) {
	assert.Equal(t, "/v2/models/simple/infer", inferPath("simple", ""))
	assert.Equal(t, "/v2/models/a%2Fb/versions/3/infer", inferPath("a/b", "3"))
}

func TestJSONData(t *testing.T) {
	i32 := NewInferInput("INPUT0", mustInt32s(t, []int64{2}, 4, -1))
	data, ok, err := jsonData(i32)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, data, 2)

	fp16, err := tensor.New(datatype.FP16, []int64{2})
	require.NoError(t, err)
	_, ok, err = jsonData(NewInferInput("INPUT0", fp16))
	require.NoError(t, err)
	assert.False(t, ok, "fp16 travels as binary")

	empty, err := tensor.New(datatype.Int32, []int64{0})
	require.NoError(t, err)
	_, ok, err = jsonData(NewInferInput("INPUT0", empty))
	require.NoError(t, err)
	assert.False(t, ok, "empty tensors travel as binary")

	raw, err := tensor.FromSlice(datatype.Bytes, []int64{1}, [][]byte{{0xff, 0xfe}})
	require.NoError(t, err)
	_, ok, err = jsonData(NewInferInput("INPUT0", raw))
	require.NoError(t, err)
	assert.False(t, ok, "invalid utf-8 travels as binary")
}

func TestHTTPClient_Infer(t *testing.T) {
	out := mustInt32s(t, []int64{1, 2}, 7, 8)
	var gotReq HTTPInferRequest
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		body, _ := io.ReadAll(r.Body)
		header, _, err := SplitHTTPBody(body, r.Header.Get(InferenceHeaderContentLength))
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(header, &gotReq))

		resp, _ := json.Marshal(HTTPInferResponse{
			ModelName:    "simple",
			ModelVersion: "1",
			ID:           gotReq.ID,
			Outputs: []HTTPTensor{
				{Name: "OUTPUT0", Shape: []int64{1, 2}, Datatype: "INT32", Parameters: map[string]any{ParamBinaryDataSize: 8}},
				{Name: "OUTPUT1", Shape: []int64{1, 2}, Datatype: "INT32", Data: []any{1, 2}},
			},
		})
		w.Header().Set(InferenceHeaderContentLength, strconv.Itoa(len(resp)))
		_, _ = w.Write(append(resp, out.Encode()...))
	}))
	defer srv.Close()

	client := NewHTTPClientWithBaseURL(srv.URL, srv.Client(), false)
	defer client.Close()

	req := &InferRequest{
		ModelName:  "simple",
		Inputs:     []*InferInput{NewInferInput("INPUT0", out)},
		Outputs:    []*RequestedOutput{{Name: "OUTPUT0"}, {Name: "OUTPUT1"}},
		SequenceID: 3,
	}
	resp, err := client.Infer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "/v2/models/simple/infer", gotPath)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, req.ID, resp.ID)
	require.Len(t, gotReq.Inputs, 1)
	assert.EqualValues(t, 8, gotReq.Inputs[0].Parameters[ParamBinaryDataSize])
	assert.Nil(t, gotReq.Inputs[0].Data)
	assert.Equal(t, true, gotReq.Outputs[0].Parameters[ParamBinaryData])
	assert.EqualValues(t, 3, gotReq.Parameters[ParamSequenceID])

	o0, ok := resp.Output("OUTPUT0")
	require.True(t, ok)
	t0, err := o0.Tensor()
	require.NoError(t, err)
	assert.True(t, tensor.Equal(out, t0))

	o1, ok := resp.Output("OUTPUT1")
	require.True(t, ok)
	t1, err := o1.Tensor()
	require.NoError(t, err)
	assert.True(t, tensor.Equal(mustInt32s(t, []int64{1, 2}, 1, 2), t1))
}

func TestHTTPClient_JSONRequest(t *testing.T) {
	var gotReq HTTPInferRequest
	var contentLength string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentLength = r.Header.Get(InferenceHeaderContentLength)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(HTTPInferResponse{ModelName: "simple", Outputs: []HTTPTensor{}})
	}))
	defer srv.Close()

	client := NewHTTPClientWithBaseURL(srv.URL, srv.Client(), true)
	_, err := client.Infer(context.Background(), &InferRequest{
		ModelName: "simple",
		Inputs:    []*InferInput{NewInferInput("INPUT0", mustInt32s(t, []int64{2}, 1, 2))},
		Outputs:   []*RequestedOutput{{Name: "OUTPUT0", Classification: 2}},
	})
	require.NoError(t, err)

	assert.Empty(t, contentLength)
	assert.Equal(t, []any{float64(1), float64(2)}, gotReq.Inputs[0].Data)
	assert.Equal(t, false, gotReq.Outputs[0].Parameters[ParamBinaryData])
	assert.EqualValues(t, 2, gotReq.Outputs[0].Parameters[ParamClassification])
}

func TestHTTPClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/systemsharedmemory/region/missing/unregister" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("plain failure"))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(HTTPErrorBody{Error: "unknown model"})
	}))
	defer srv.Close()

	client := NewHTTPClientWithBaseURL(srv.URL, srv.Client(), false)
	_, err := client.Infer(context.Background(), &InferRequest{ModelName: "nope"})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "unknown model", httpErr.Message)

	err = client.UnregisterSystemSharedMemory(context.Background(), "missing")
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, "plain failure", httpErr.Message)
}

func TestDecodeHTTPResponse_UnclaimedBytes(t *testing.T) {
	header := []byte(`{"model_name":"m","outputs":[{"name":"OUTPUT0","shape":[1],"datatype":"INT8","parameters":{"binary_data_size":1}}]}`)
	body := append(append([]byte{}, header...), 1, 2)
	_, err := decodeHTTPResponse(body, strconv.Itoa(len(header)))
	assert.ErrorContains(t, err, "1 unclaimed binary bytes")

	resp, err := decodeHTTPResponse(body[:len(header)+1], strconv.Itoa(len(header)))
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, resp.Outputs[0].Raw)
}
