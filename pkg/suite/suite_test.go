package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/shm"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smokeSuite = `
name: smoke
seed: 42
transports: [http, grpc]
cases:
  - name: fp32
    contract: exact
    platform: graphdef
    shape: [2, 2]
    input: float32
  - name: classify
    contract: exact
    platform: libtorch
    batch_size: 2
    shape: [8]
    input: INT32
    output1: int16
    output0_class: true
    outputs: [OUTPUT0]
  - name: bool zero
    contract: zero
    platform: onnx_nobatch
    datatype: bool
    input_shapes: [[4], [0]]
    shared_memory: system
  - contract: shape_tensor
    platform: plan
    datatype: int32
    shape_values: [[2, 3]]
    dummy_input_shapes: [[4]]
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(smokeSuite))
	require.NoError(t, err)

	assert.Equal(t, "smoke", s.Name)
	assert.Equal(t, uint64(42), s.Seed)
	assert.Equal(t, []string{"http", "grpc"}, s.Transports)
	assert.Equal(t, "none", s.SharedMemory)
	require.Len(t, s.Cases, 4)
	assert.Equal(t, "case-3", s.Cases[3].Name)
	assert.Equal(t, 1, s.Cases[0].BatchSize)
	assert.Equal(t, [][]int64{{4}, {0}}, s.Cases[2].InputShapes)
	assert.Equal(t, [][]int32{{2, 3}}, s.Cases[3].ShapeValues)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cases:\n  - contract: exact\n    platform: graphdef\n    input: int8\n"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "default", s.Name)
	assert.Equal(t, defaultTransports, s.Transports)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "no cases", yaml: "name: empty\n", want: "has no cases"},
		{name: "unknown contract", yaml: "cases:\n  - contract: fuzz\n    platform: plan\n", want: `unknown contract "fuzz"`},
		{name: "no platform", yaml: "cases:\n  - contract: zero\n", want: "platform is required"},
		{name: "transport", yaml: "transports: [udp]\ncases:\n  - contract: zero\n    platform: plan\n", want: "unknown transport udp"},
		{name: "shared memory", yaml: "shared_memory: tmpfs\ncases:\n  - contract: zero\n    platform: plan\n", want: "unknown shared memory kind"},
		{name: "not yaml", yaml: "cases: [", want: "error parsing suite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestCase_Options(t *testing.T) {
	s, err := Parse([]byte(smokeSuite))
	require.NoError(t, err)

	exact, err := s.Cases[1].ExactOptions(s.SharedMemory)
	require.NoError(t, err)
	assert.Equal(t, verify.ExactOptions{
		Platform:     verify.LibTorch,
		TensorShape:  []int64{8},
		BatchSize:    2,
		InputType:    datatype.Int32,
		Output0Type:  datatype.Int32,
		Output1Type:  datatype.Int16,
		Output0Class: true,
		Outputs:      []string{verify.Output0},
		SharedMemory: shm.None,
	}, exact)

	zero, err := s.Cases[2].ZeroOptions("device")
	require.NoError(t, err)
	assert.Equal(t, shm.System, zero.SharedMemory, "case setting wins")
	assert.Equal(t, zero.InputShapes, zero.OutputShapes)
	assert.Equal(t, datatype.Bool, zero.DataType)

	shape, err := s.Cases[3].ShapeTensorOptions("device")
	require.NoError(t, err)
	assert.Equal(t, shm.Device, shape.SharedMemory)
	assert.Equal(t, verify.Plan, shape.Platform)

	bad := Case{Name: "bad", Input: "complex64"}
	_, err = bad.ExactOptions("none")
	assert.ErrorContains(t, err, "case bad input")
	bad = Case{Name: "bad", DataType: "int32", SharedMemory: "tmpfs"}
	_, err = bad.ZeroOptions("none")
	assert.Error(t, err)
}
