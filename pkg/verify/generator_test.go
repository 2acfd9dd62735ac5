package verify

import (
	"math/rand/v2"
	"testing"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var addSubTypes = []datatype.DataType{
	datatype.Uint8, datatype.Uint16, datatype.Uint32, datatype.Uint64,
	datatype.Int8, datatype.Int16, datatype.Int32, datatype.Int64,
	datatype.FP16, datatype.FP32, datatype.FP64, datatype.Bytes,
}

func toInt64(t *tensor.Tensor) ([]int64, error) {
	if t.DataType() == datatype.Bytes {
		parsed, err := tensor.ParseStrings(t, datatype.Int64)
		if err != nil {
			return nil, err
		}
		t = parsed
	}
	out, err := tensor.Cast(t, datatype.Int64)
	if err != nil {
		return nil, err
	}
	return out.Data().([]int64), nil
}

func TestAddSubRange(t *testing.T) {
	tests := []struct {
		name    string
		params  AddSubParams
		wantMin int64
		wantMax int64
	}{
		{
			name:    "int32",
			params:  AddSubParams{Input: datatype.Int32, Output0: datatype.Int32, Output1: datatype.Int32, Output0Raw: true, Output1Raw: true},
			wantMin: -1 << 30, wantMax: 1<<30 - 1,
		},
		{
			name:    "unsigned input",
			params:  AddSubParams{Input: datatype.Uint8, Output0: datatype.Int32, Output1: datatype.Int32, Output0Raw: true, Output1Raw: true},
			wantMin: 0, wantMax: 127,
		},
		{
			name:    "fp16 output",
			params:  AddSubParams{Input: datatype.Int32, Output0: datatype.FP16, Output1: datatype.Int32, Output0Raw: true, Output1Raw: true},
			wantMin: -64, wantMax: 63,
		},
		{
			name:    "classification bounded by fp32",
			params:  AddSubParams{Input: datatype.Int64, Output0: datatype.Int64, Output1: datatype.Int64, Output1Raw: true},
			wantMin: -1 << 14, wantMax: 1<<14 - 1,
		},
		{
			name:    "bytes as int32",
			params:  AddSubParams{Input: datatype.Bytes, Output0: datatype.Bytes, Output1: datatype.Bytes, Output0Raw: true, Output1Raw: true},
			wantMin: -1 << 30, wantMax: 1<<30 - 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi, err := AddSubRange(tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMin, lo)
			assert.Equal(t, tt.wantMax, hi)
		})
	}

	_, _, err := AddSubRange(AddSubParams{Input: datatype.Bool, Output0: datatype.Int8, Output1: datatype.Int8, Output0Raw: true, Output1Raw: true})
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestGenerateAddSub_Rejects(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	_, err := GenerateAddSub(rng, AddSubParams{BatchSize: 0, Input: datatype.Int32, Output0: datatype.Int32, Output1: datatype.Int32})
	assert.ErrorContains(t, err, "batch size must be positive")
	_, err = GenerateAddSub(rng, AddSubParams{BatchSize: 1, Input: datatype.Int32, Output0: datatype.Bool, Output1: datatype.Int32})
	assert.ErrorContains(t, err, "does not support data type BOOL")
}

func TestGenerateAddSub_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := AddSubParams{
			Shape:      rapid.SliceOfN(rapid.Int64Range(0, 4), 0, 3).Draw(t, "shape"),
			BatchSize:  rapid.IntRange(1, 4).Draw(t, "batch"),
			Input:      rapid.SampledFrom(addSubTypes).Draw(t, "input"),
			Output0:    rapid.SampledFrom(addSubTypes).Draw(t, "output0"),
			Output1:    rapid.SampledFrom(addSubTypes).Draw(t, "output1"),
			Output0Raw: true,
			Output1Raw: true,
			Swap:       rapid.Bool().Draw(t, "swap"),
		}
		rng := rand.New(rand.NewPCG(rapid.Uint64().Draw(t, "seed"), 0))
		data, err := GenerateAddSub(rng, p)
		if err != nil {
			t.Fatalf("generate %+v: %v", p, err)
		}
		lo, hi, _ := AddSubRange(p)
		if len(data.Input0) != p.BatchSize || len(data.Expected1) != p.BatchSize {
			t.Fatalf("expected %d slots, got %d and %d", p.BatchSize, len(data.Input0), len(data.Expected1))
		}
		arith := arithmeticType(p.Input)
		for b := 0; b < p.BatchSize; b++ {
			if data.Input0[b].DataType() != p.Input || data.Expected0[b].DataType() != p.Output0 || data.Expected1[b].DataType() != p.Output1 {
				t.Fatalf("slot %d has wrong data types", b)
			}
			x, err := toInt64(data.Input0[b])
			if err != nil {
				t.Fatalf("input0: %v", err)
			}
			y, err := toInt64(data.Input1[b])
			if err != nil {
				t.Fatalf("input1: %v", err)
			}
			sums, diffs := make([]int64, len(x)), make([]int64, len(x))
			for i := range x {
				if x[i] < lo || x[i] >= hi || y[i] < lo || y[i] >= hi {
					t.Fatalf("inputs %d, %d outside [%d, %d)", x[i], y[i], lo, hi)
				}
				sums[i], diffs[i] = x[i]+y[i], x[i]-y[i]
			}
			if p.Swap {
				sums, diffs = diffs, sums
			}

			for o, c := range []struct {
				math     []int64
				values   *tensor.Tensor
				expected *tensor.Tensor
				dt       datatype.DataType
			}{
				{sums, data.Values0[b], data.Expected0[b], p.Output0},
				{diffs, data.Values1[b], data.Expected1[b], p.Output1},
			} {
				// the server computes in the input type, so unsigned inputs wrap
				inArith, err := tensor.FromInt64s(arith, p.Shape, c.math)
				if err != nil {
					t.Fatalf("output %d: %v", o, err)
				}
				if !tensor.Equal(inArith, c.values) {
					t.Fatalf("output %d values: %s", o, tensor.Diff(inArith, c.values))
				}
				want, err := tensor.Cast(inArith, c.dt)
				if err != nil {
					t.Fatalf("output %d: %v", o, err)
				}
				if !tensor.Equal(want, c.expected) {
					t.Fatalf("output %d expected: %s", o, tensor.Diff(want, c.expected))
				}

				got, err := toInt64(c.expected)
				if err != nil {
					t.Fatalf("output %d: %v", o, err)
				}
				for i, r := range c.math {
					wraps := r < 0 && (arith.IsUnsigned() || c.dt.IsUnsigned())
					if !wraps && got[i] != r {
						t.Fatalf("output %d element %d: got %d, want %d", o, i, got[i], r)
					}
				}
			}
		}
	})
}

func TestGenerateAddSub_Deterministic(t *testing.T) {
	p := AddSubParams{Shape: []int64{8}, BatchSize: 2, Input: datatype.Int32, Output0: datatype.Int32, Output1: datatype.Int32, Output0Raw: true, Output1Raw: true}
	a, err := GenerateAddSub(rand.New(rand.NewPCG(3, 4)), p)
	require.NoError(t, err)
	b, err := GenerateAddSub(rand.New(rand.NewPCG(3, 4)), p)
	require.NoError(t, err)
	for i := range a.Input0 {
		assert.True(t, tensor.Equal(a.Input0[i], b.Input0[i]))
		assert.True(t, tensor.Equal(a.Expected1[i], b.Expected1[i]))
	}
}

func TestGenerateIdentity(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for _, dt := range append([]datatype.DataType{datatype.Bool}, addSubTypes...) {
		t.Run(dt.String(), func(t *testing.T) {
			got, err := GenerateIdentity(rng, dt, []int64{2, 3})
			require.NoError(t, err)
			assert.Equal(t, dt, got.DataType())
			assert.Equal(t, []int64{2, 3}, got.Shape())

			empty, err := GenerateIdentity(rng, dt, []int64{0, 3})
			require.NoError(t, err)
			assert.Zero(t, empty.Len())
		})
	}
	_, err := GenerateIdentity(rng, datatype.Invalid, []int64{1})
	assert.Error(t, err)
}

func TestGenerateIdentity_BoolDrawsBothValues(t *testing.T) {
	got, err := GenerateIdentity(rand.New(rand.NewPCG(8, 9)), datatype.Bool, []int64{256})
	require.NoError(t, err)
	seen := map[bool]bool{}
	for _, v := range got.Data().([]bool) {
		seen[v] = true
	}
	assert.Len(t, seen, 2)
}
