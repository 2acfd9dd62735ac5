package fakeserver

import (
	"context"
	"errors"
	"testing"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/clients/triton"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/platform"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/shm"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		want    model
		wantErr bool
	}{
		{
			name:  "addsub",
			model: "graphdef_int32_int8_int16",
			want: model{name: "graphdef_int32_int8_int16", platform: "graphdef", kind: addSubModel, batched: true,
				input: datatype.Int32, output0: datatype.Int8, output1: datatype.Int16},
		},
		{
			name:  "nobatch platform with underscores",
			model: "libtorch_nobatch_float32_float32_float32",
			want: model{name: "libtorch_nobatch_float32_float32_float32", platform: "libtorch_nobatch", kind: addSubModel,
				input: datatype.FP32, output0: datatype.FP32, output1: datatype.FP32},
		},
		{
			name:  "bytes addsub",
			model: "plan_object_object_object",
			want: model{name: "plan_object_object_object", platform: "plan", kind: addSubModel, batched: true,
				input: datatype.Bytes, output0: datatype.Bytes, output1: datatype.Bytes},
		},
		{
			name:  "identity",
			model: "plan_nobatch_zero_3_bool",
			want: model{name: "plan_nobatch_zero_3_bool", platform: "plan_nobatch", kind: identityModel,
				ioCount: 3, dataType: datatype.Bool},
		},
		{name: "too short", model: "int32_int32_int32", wantErr: true},
		{name: "wire type names", model: "graphdef_INT32_INT32_INT32", wantErr: true},
		{name: "bad io count", model: "plan_zero_x_int32", wantErr: true},
		{name: "unknown type", model: "plan_int32_int32_complex64", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveModel(tt.model, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestModelNaming(t *testing.T) {
	m, err := resolveModel("libtorch_int32_int32_int32", nil)
	require.NoError(t, err)
	assert.Equal(t, "INPUT__1", m.inputName(1))
	assert.Equal(t, "OUTPUT__0", m.outputName(0))
	assert.True(t, m.labelled("OUTPUT__0"))
	assert.False(t, m.labelled("OUTPUT__1"))

	m, err = resolveModel("onnx_int32_int32_int32", map[string]bool{"onnx_int32_int32_int32": true})
	require.NoError(t, err)
	assert.Equal(t, "INPUT0", m.inputName(0))
	assert.True(t, m.swap)

	// names resolved from a model name agree with the platform table
	for _, pf := range []platform.Platform{platform.GraphDef, platform.LibTorch, platform.LibTorchNoBatch, platform.PlanNoBatch} {
		m, err := resolveModel(string(pf)+"_zero_2_int32", nil)
		require.NoError(t, err)
		assert.Equal(t, pf, m.platform)
		assert.Equal(t, pf.Batching(), m.batched, pf)
		assert.Equal(t, pf.InputName(1), m.inputName(1), pf)
		assert.Equal(t, pf.OutputName(1), m.outputName(1), pf)
	}
}

func int32Input(t *testing.T, name string, shape []int64, vals ...int32) *triton.InferInput {
	t.Helper()
	tn, err := tensor.FromInt32s(shape, vals)
	require.NoError(t, err)
	return triton.NewInferInput(name, tn)
}

func outputTensor(t *testing.T, resp *triton.InferResponse, name string) *tensor.Tensor {
	t.Helper()
	o, ok := resp.Output(name)
	require.True(t, ok, "missing output %s", name)
	tn, err := o.Tensor()
	require.NoError(t, err)
	return tn
}

func addSubRequest(t *testing.T, model string) *triton.InferRequest {
	return &triton.InferRequest{
		ModelName: model,
		Inputs: []*triton.InferInput{
			int32Input(t, "INPUT0", []int64{2, 2}, 1, 2, 3, 4),
			int32Input(t, "INPUT1", []int64{2, 2}, 10, 20, 30, 40),
		},
		Outputs: []*triton.RequestedOutput{{Name: "OUTPUT0"}, {Name: "OUTPUT1"}},
	}
}

func TestInfer_AddSubAllTransports(t *testing.T) {
	h := StartHarness()
	defer h.Close()

	clients := map[string]triton.Client{
		"http":        h.HTTPClient(false),
		"http_json":   h.HTTPClient(true),
		"grpc":        mustGRPC(t, h, triton.ProtocolGRPC),
		"grpc_stream": mustGRPC(t, h, triton.ProtocolGRPCStream),
	}
	for name, client := range clients {
		t.Run(name, func(t *testing.T) {
			defer client.Close()
			req := addSubRequest(t, "graphdef_int32_int32_int16")
			resp, err := client.Infer(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, "graphdef_int32_int32_int16", resp.ModelName)
			assert.Equal(t, "1", resp.ModelVersion)
			assert.Equal(t, req.ID, resp.ID)
			assert.NotEmpty(t, resp.ID)

			sum, _ := tensor.FromInt32s([]int64{2, 2}, []int32{11, 22, 33, 44})
			assert.True(t, tensor.Equal(sum, outputTensor(t, resp, "OUTPUT0")), tensor.Diff(sum, outputTensor(t, resp, "OUTPUT0")))
			diff, _ := tensor.FromSlice(datatype.Int16, []int64{2, 2}, []int16{-9, -18, -27, -36})
			assert.True(t, tensor.Equal(diff, outputTensor(t, resp, "OUTPUT1")), tensor.Diff(diff, outputTensor(t, resp, "OUTPUT1")))
		})
	}
	assert.Equal(t, int64(4), h.Server.Served())
}

func mustGRPC(t *testing.T, h *Harness, p triton.Protocol) *triton.GRPCClient {
	t.Helper()
	c, err := h.GRPCClient(p)
	require.NoError(t, err)
	return c
}

func TestInfer_SwappedModel(t *testing.T) {
	h := StartHarness(WithSwappedModels("onnx_int32_int32_int32"))
	defer h.Close()
	client := mustGRPC(t, h, triton.ProtocolGRPC)
	defer client.Close()

	resp, err := client.Infer(context.Background(), addSubRequest(t, "onnx_int32_int32_int32"))
	require.NoError(t, err)
	diff, _ := tensor.FromInt32s([]int64{2, 2}, []int32{-9, -18, -27, -36})
	assert.True(t, tensor.Equal(diff, outputTensor(t, resp, "OUTPUT0")))
}

func TestInfer_BytesAddSubOverJSON(t *testing.T) {
	h := StartHarness()
	defer h.Close()
	client := h.HTTPClient(true)
	defer client.Close()

	in0, _ := tensor.FromStrings([]int64{1, 2}, []string{"5", "-7"})
	in1, _ := tensor.FromStrings([]int64{1, 2}, []string{"3", "2"})
	resp, err := client.Infer(context.Background(), &triton.InferRequest{
		ModelName: "graphdef_object_object_int32",
		Inputs:    []*triton.InferInput{triton.NewInferInput("INPUT0", in0), triton.NewInferInput("INPUT1", in1)},
		Outputs:   []*triton.RequestedOutput{{Name: "OUTPUT0"}, {Name: "OUTPUT1"}},
	})
	require.NoError(t, err)

	sum, _ := tensor.FromStrings([]int64{1, 2}, []string{"8", "-5"})
	assert.True(t, tensor.Equal(sum, outputTensor(t, resp, "OUTPUT0")))
	diff, _ := tensor.FromInt32s([]int64{1, 2}, []int32{2, -9})
	assert.True(t, tensor.Equal(diff, outputTensor(t, resp, "OUTPUT1")))
}

func TestInfer_Classification(t *testing.T) {
	h := StartHarness()
	defer h.Close()
	client := mustGRPC(t, h, triton.ProtocolGRPC)
	defer client.Close()

	req := &triton.InferRequest{
		ModelName: "graphdef_int32_float32_float32",
		Inputs: []*triton.InferInput{
			int32Input(t, "INPUT0", []int64{1, 4}, 1, 5, 5, 2),
			int32Input(t, "INPUT1", []int64{1, 4}, 0, 0, 0, 0),
		},
		Outputs: []*triton.RequestedOutput{
			{Name: "OUTPUT0", Classification: 3},
			{Name: "OUTPUT1", Classification: 3},
		},
	}
	resp, err := client.Infer(context.Background(), req)
	require.NoError(t, err)

	out0 := outputTensor(t, resp, "OUTPUT0")
	assert.Equal(t, []int64{1, 3}, out0.Shape())
	assert.Equal(t, "5:1:label1", out0.StringAt(0))
	assert.Equal(t, "5:2:label2", out0.StringAt(1))
	assert.Equal(t, "2:3:label3", out0.StringAt(2))

	out1 := outputTensor(t, resp, "OUTPUT1")
	assert.Equal(t, "5:1", out1.StringAt(0))
}

func TestInfer_Identity(t *testing.T) {
	h := StartHarness(WithOutputShapes("onnx_zero_1_int8", [][]int64{{4}}))
	defer h.Close()
	client := h.HTTPClient(false)
	defer client.Close()

	in, _ := tensor.FromInt64s(datatype.Int8, []int64{1, 2, 2}, []int64{1, -2, 3, -4})
	resp, err := client.Infer(context.Background(), &triton.InferRequest{
		ModelName: "onnx_zero_1_int8",
		Inputs:    []*triton.InferInput{triton.NewInferInput("INPUT0", in)},
	})
	require.NoError(t, err)
	require.Len(t, resp.Outputs, 1)
	want, _ := tensor.Reshape(in, []int64{1, 4})
	assert.True(t, tensor.Equal(want, outputTensor(t, resp, "OUTPUT0")))
}

func TestInfer_IdentityZeroSizedJSON(t *testing.T) {
	h := StartHarness()
	defer h.Close()
	client := h.HTTPClient(true)
	defer client.Close()

	in, _ := tensor.New(datatype.FP32, []int64{1, 0})
	resp, err := client.Infer(context.Background(), &triton.InferRequest{
		ModelName: "graphdef_zero_1_float32",
		Inputs:    []*triton.InferInput{triton.NewInferInput("INPUT0", in)},
		Outputs:   []*triton.RequestedOutput{{Name: "OUTPUT0"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, outputTensor(t, resp, "OUTPUT0").Shape())
}

func TestInfer_ShapeTensor(t *testing.T) {
	h := StartHarness()
	defer h.Close()
	client := mustGRPC(t, h, triton.ProtocolGRPC)
	defer client.Close()

	dummy, _ := tensor.New(datatype.FP32, []int64{2, 3})
	resp, err := client.Infer(context.Background(), &triton.InferRequest{
		ModelName: "plan_zero_1_float32",
		Inputs: []*triton.InferInput{
			int32Input(t, "INPUT0", []int64{2}, 4, 5),
			triton.NewInferInput("DUMMY_INPUT0", dummy),
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Outputs, 2)

	echo := outputTensor(t, resp, "OUTPUT0")
	want, _ := tensor.FromInt32s([]int64{2, 2}, []int32{4, 5, 4, 5})
	assert.True(t, tensor.Equal(want, echo), tensor.Diff(want, echo))
	assert.Equal(t, []int64{2, 4, 5}, outputTensor(t, resp, "DUMMY_OUTPUT0").Shape())
}

func TestInfer_ShapeTensorReshaped(t *testing.T) {
	h := StartHarness(WithOutputShapes("plan_nobatch_zero_1_int8", [][]int64{{2, 2}}))
	defer h.Close()
	client := h.HTTPClient(false)
	defer client.Close()

	dummy, _ := tensor.New(datatype.Int8, []int64{3})
	resp, err := client.Infer(context.Background(), &triton.InferRequest{
		ModelName: "plan_nobatch_zero_1_int8",
		Inputs: []*triton.InferInput{
			int32Input(t, "INPUT0", []int64{2}, 1, 4),
			triton.NewInferInput("DUMMY_INPUT0", dummy),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, outputTensor(t, resp, "OUTPUT0").Shape())
	assert.Equal(t, []int64{2, 2}, outputTensor(t, resp, "DUMMY_OUTPUT0").Shape())
}

func TestInfer_Errors(t *testing.T) {
	h := StartHarness()
	defer h.Close()
	grpcClient := mustGRPC(t, h, triton.ProtocolGRPC)
	defer grpcClient.Close()
	streamClient := mustGRPC(t, h, triton.ProtocolGRPCStream)
	defer streamClient.Close()
	httpClient := h.HTTPClient(false)
	defer httpClient.Close()

	_, err := grpcClient.Infer(context.Background(), addSubRequest(t, "nope"))
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(errors.Unwrap(err)))

	_, err = streamClient.Infer(context.Background(), addSubRequest(t, "nope"))
	assert.ErrorContains(t, err, "unknown model")

	_, err = httpClient.Infer(context.Background(), addSubRequest(t, "nope"))
	var httpErr *triton.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 400, httpErr.StatusCode)
	assert.Contains(t, httpErr.Message, "unknown model")

	req := addSubRequest(t, "graphdef_int32_int32_int32")
	req.Outputs = append(req.Outputs, &triton.RequestedOutput{Name: "OUTPUT7"})
	_, err = grpcClient.Infer(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(errors.Unwrap(err)))

	wrongType := addSubRequest(t, "graphdef_float32_float32_float32")
	_, err = httpClient.Infer(context.Background(), wrongType)
	assert.ErrorContains(t, err, "data type INT32, expected FP32")
}

func TestDeviceSharedMemory_HTTP(t *testing.T) {
	alloc := shm.NewHostDeviceAllocator()
	h := StartHarness(WithDeviceResolver(alloc))
	defer h.Close()
	client := h.HTTPClient(false)
	defer client.Close()

	ctx := context.Background()
	rs := shm.NewRegionSet(shm.NewManager(client, shm.WithDeviceAllocator(alloc, 0)))
	defer func() { assert.NoError(t, rs.ReleaseAll(ctx)) }()

	in0, _ := tensor.FromInt32s([]int64{1, 2}, []int32{1, 2})
	in1, _ := tensor.FromInt32s([]int64{1, 2}, []int32{3, 4})
	r0, err := rs.Create(ctx, "INPUT0", shm.Device, "input0_data", "", 8, in0.Encode())
	require.NoError(t, err)
	r1, err := rs.Create(ctx, "INPUT1", shm.Device, "input1_data", "", 8, in1.Encode())
	require.NoError(t, err)
	out, err := rs.Create(ctx, "OUTPUT0", shm.Device, "output0_data", "", 8, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Server.RegisteredRegions())

	resp, err := client.Infer(ctx, &triton.InferRequest{
		ModelName: "graphdef_int32_int32_int32",
		Inputs: []*triton.InferInput{
			{Name: "INPUT0", DataType: datatype.Int32, Shape: []int64{1, 2}, SharedMemory: &triton.SharedMemoryRef{Region: r0.Name, ByteSize: 8}},
			{Name: "INPUT1", DataType: datatype.Int32, Shape: []int64{1, 2}, SharedMemory: &triton.SharedMemoryRef{Region: r1.Name, ByteSize: 8}},
		},
		Outputs: []*triton.RequestedOutput{
			{Name: "OUTPUT0", SharedMemory: &triton.SharedMemoryRef{Region: out.Name, ByteSize: 8}},
			{Name: "OUTPUT1"},
		},
	})
	require.NoError(t, err)

	o, ok := resp.Output("OUTPUT0")
	require.True(t, ok)
	require.NotNil(t, o.SharedMemory)
	assert.Nil(t, o.Raw)
	assert.Equal(t, uint64(8), o.SharedMemory.ByteSize)

	raw, err := out.ReadAll()
	require.NoError(t, err)
	got, err := tensor.Decode(datatype.Int32, []int64{1, 2}, raw)
	require.NoError(t, err)
	want, _ := tensor.FromInt32s([]int64{1, 2}, []int32{4, 6})
	assert.True(t, tensor.Equal(want, got))

	require.NoError(t, rs.ReleaseAll(ctx))
	assert.Equal(t, 0, h.Server.RegisteredRegions())
	assert.Equal(t, 0, alloc.Live())
}

func TestDeviceSharedMemory_Unsupported(t *testing.T) {
	h := StartHarness()
	defer h.Close()
	client := mustGRPC(t, h, triton.ProtocolGRPC)
	defer client.Close()

	err := client.RegisterCudaSharedMemory(context.Background(), "r", []byte{1, 0, 0, 0, 0, 0, 0, 0}, 0, 8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device shared memory is not supported")
}

func TestRecoveryInterceptor(t *testing.T) {
	_, err := RecoveryInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/inference.GRPCInferenceService/ModelInfer"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			panic("boom")
		})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, err.Error(), "boom")
}
