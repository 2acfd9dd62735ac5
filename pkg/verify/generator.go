package verify

import (
	"math"
	"math/rand/v2"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
)

// AddSubParams describes one synthetic addsub batch.
type AddSubParams struct {
	Shape     []int64
	BatchSize int
	Input     datatype.DataType
	Output0   datatype.DataType
	Output1   datatype.DataType
	// Output0Raw and Output1Raw are false for outputs read as classifications, whose
	// scores come back as FP32.
	Output0Raw bool
	Output1Raw bool
	Swap       bool
}

// AddSubData is a generated batch and the results a correct server returns for it.
// Every slice holds one tensor per batch slot.
type AddSubData struct {
	Input0 []*tensor.Tensor
	Input1 []*tensor.Tensor
	// Values0 and Values1 are the arithmetic results before the cast to the output
	// types.
	Values0 []*tensor.Tensor
	Values1 []*tensor.Tensor
	// Expected0 and Expected1 are Values cast to the output types.
	Expected0 []*tensor.Tensor
	Expected1 []*tensor.Tensor
}

// arithmeticType is the type the server adds and subtracts in. BYTES inputs carry
// decimal INT32 values.
func arithmeticType(dt datatype.DataType) datatype.DataType {
	if dt == datatype.Bytes {
		return datatype.Int32
	}
	return dt
}

// AddSubRange returns [min, max) for input values such that sums and differences fit
// every type involved. Outputs read as classifications are bounded by FP32.
func AddSubRange(p AddSubParams) (int64, int64, error) {
	out0, out1 := p.Output0, p.Output1
	if !p.Output0Raw {
		out0 = datatype.FP32
	}
	if !p.Output1Raw {
		out1 = datatype.FP32
	}
	lo := int64(math.MinInt64)
	hi := uint64(math.MaxUint64)
	for _, dt := range []datatype.DataType{p.Input, out0, out1} {
		b, ok := datatype.IntBounds(dt.RangeRepr())
		if !ok {
			return 0, 0, configErrorf("data type %s has no integer range for addsub values", dt)
		}
		lo = max(lo, b.Min)
		hi = min(hi, b.Max)
	}
	valMin, valMax := lo/2, int64(hi/2)
	if valMax <= valMin {
		return 0, 0, configErrorf("empty value range [%d, %d)", valMin, valMax)
	}
	return valMin, valMax, nil
}

// GenerateAddSub draws BatchSize pairs of inputs uniformly from AddSubRange and
// computes their sum and difference. With Swap the two outputs trade places.
func GenerateAddSub(rng *rand.Rand, p AddSubParams) (*AddSubData, error) {
	if p.BatchSize < 1 {
		return nil, configErrorf("batch size must be positive, got %d", p.BatchSize)
	}
	for _, dt := range []datatype.DataType{p.Input, p.Output0, p.Output1} {
		if !dt.Valid() || dt == datatype.Bool {
			return nil, configErrorf("addsub does not support data type %s", dt)
		}
	}
	valMin, valMax, err := AddSubRange(p)
	if err != nil {
		return nil, err
	}

	arith := arithmeticType(p.Input)
	n := int(tensor.ElementCount(p.Shape))
	data := &AddSubData{}
	for b := 0; b < p.BatchSize; b++ {
		in0, err := tensor.FromInt64s(arith, p.Shape, drawRange(rng, n, valMin, valMax))
		if err != nil {
			return nil, err
		}
		in1, err := tensor.FromInt64s(arith, p.Shape, drawRange(rng, n, valMin, valMax))
		if err != nil {
			return nil, err
		}
		sum, err := tensor.Add(in0, in1)
		if err != nil {
			return nil, err
		}
		diff, err := tensor.Sub(in0, in1)
		if err != nil {
			return nil, err
		}
		op0, op1 := sum, diff
		if p.Swap {
			op0, op1 = diff, sum
		}
		exp0, err := tensor.Cast(op0, p.Output0)
		if err != nil {
			return nil, err
		}
		exp1, err := tensor.Cast(op1, p.Output1)
		if err != nil {
			return nil, err
		}
		if in0, err = tensor.Cast(in0, p.Input); err != nil {
			return nil, err
		}
		if in1, err = tensor.Cast(in1, p.Input); err != nil {
			return nil, err
		}

		data.Input0 = append(data.Input0, in0)
		data.Input1 = append(data.Input1, in1)
		data.Values0 = append(data.Values0, op0)
		data.Values1 = append(data.Values1, op1)
		data.Expected0 = append(data.Expected0, exp0)
		data.Expected1 = append(data.Expected1, exp1)
	}
	return data, nil
}

// GenerateIdentity draws a tensor over the full range of dt's range-representative
// type. BOOL elements are drawn from {false, true}.
func GenerateIdentity(rng *rand.Rand, dt datatype.DataType, shape []int64) (*tensor.Tensor, error) {
	n := int(tensor.ElementCount(shape))
	if dt == datatype.Bool {
		vals := make([]bool, n)
		for i := range vals {
			vals[i] = rng.IntN(2) == 1
		}
		return tensor.FromBools(shape, vals)
	}
	if !dt.Valid() {
		return nil, configErrorf("cannot generate data of type %s", dt)
	}
	rr := dt.RangeRepr()
	b, ok := datatype.IntBounds(rr)
	if !ok {
		return nil, configErrorf("data type %s has no integer range", dt)
	}
	vals := make([]int64, n)
	for i := range vals {
		if rr == datatype.Int64 || rr == datatype.Uint64 {
			vals[i] = int64(rng.Uint64())
			continue
		}
		vals[i] = b.Min + rng.Int64N(int64(b.Max)-b.Min)
	}
	t, err := tensor.FromInt64s(arithmeticType(dt), shape, vals)
	if err != nil {
		return nil, err
	}
	return tensor.Cast(t, dt)
}

func drawRange(rng *rand.Rand, n int, lo, hi int64) []int64 {
	vals := make([]int64, n)
	for i := range vals {
		vals[i] = lo + rng.Int64N(hi-lo)
	}
	return vals
}
