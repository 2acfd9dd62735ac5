package tensor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/x448/float16"
)

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// Add returns a + b elementwise using the arithmetic of the tensors' data type
// (unsigned integers wrap).
func Add(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, false)
}

// Sub returns a - b elementwise using the arithmetic of the tensors' data type.
func Sub(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, true)
}

func elementwise(a, b *Tensor, sub bool) (*Tensor, error) {
	if a.dtype != b.dtype {
		return nil, fmt.Errorf("data type mismatch: %s vs %s", a.dtype, b.dtype)
	}
	if !sameShape(a.shape, b.shape) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.shape, b.shape)
	}
	var out any
	switch x := a.data.(type) {
	case []uint8:
		out = apply(x, b.data.([]uint8), sub)
	case []uint16:
		out = apply(x, b.data.([]uint16), sub)
	case []uint32:
		out = apply(x, b.data.([]uint32), sub)
	case []uint64:
		out = apply(x, b.data.([]uint64), sub)
	case []int8:
		out = apply(x, b.data.([]int8), sub)
	case []int16:
		out = apply(x, b.data.([]int16), sub)
	case []int32:
		out = apply(x, b.data.([]int32), sub)
	case []int64:
		out = apply(x, b.data.([]int64), sub)
	case []float32:
		out = apply(x, b.data.([]float32), sub)
	case []float64:
		out = apply(x, b.data.([]float64), sub)
	case []float16.Float16:
		y := b.data.([]float16.Float16)
		res := make([]float16.Float16, len(x))
		for i := range x {
			if sub {
				res[i] = float16.Fromfloat32(x[i].Float32() - y[i].Float32())
			} else {
				res[i] = float16.Fromfloat32(x[i].Float32() + y[i].Float32())
			}
		}
		out = res
	default:
		return nil, fmt.Errorf("arithmetic is not defined for %s tensors", a.dtype)
	}
	return &Tensor{dtype: a.dtype, shape: cloneShape(a.shape), data: out}, nil
}

func apply[T number](x, y []T, sub bool) []T {
	out := make([]T, len(x))
	for i := range x {
		if sub {
			out[i] = x[i] - y[i]
		} else {
			out[i] = x[i] + y[i]
		}
	}
	return out
}

// Cast converts a numeric tensor to dt. Numeric targets follow Go conversion
// semantics; a BYTES target holds the decimal rendering of each element.
func Cast(t *Tensor, dt datatype.DataType) (*Tensor, error) {
	if t.dtype == dt {
		return t, nil
	}
	var (
		out any
		err error
	)
	switch x := t.data.(type) {
	case []uint8:
		out, err = castSlice(x, dt)
	case []uint16:
		out, err = castSlice(x, dt)
	case []uint32:
		out, err = castSlice(x, dt)
	case []uint64:
		out, err = castSlice(x, dt)
	case []int8:
		out, err = castSlice(x, dt)
	case []int16:
		out, err = castSlice(x, dt)
	case []int32:
		out, err = castSlice(x, dt)
	case []int64:
		out, err = castSlice(x, dt)
	case []float32:
		out, err = castSlice(x, dt)
	case []float64:
		out, err = castSlice(x, dt)
	case []float16.Float16:
		f := make([]float32, len(x))
		for i, v := range x {
			f[i] = v.Float32()
		}
		out, err = castSlice(f, dt)
	default:
		return nil, fmt.Errorf("cannot cast %s tensor to %s", t.dtype, dt)
	}
	if err != nil {
		return nil, err
	}
	return &Tensor{dtype: dt, shape: cloneShape(t.shape), data: out}, nil
}

func castSlice[S number](src []S, dt datatype.DataType) (any, error) {
	switch dt {
	case datatype.Uint8:
		return convert[S, uint8](src), nil
	case datatype.Uint16:
		return convert[S, uint16](src), nil
	case datatype.Uint32:
		return convert[S, uint32](src), nil
	case datatype.Uint64:
		return convert[S, uint64](src), nil
	case datatype.Int8:
		return convert[S, int8](src), nil
	case datatype.Int16:
		return convert[S, int16](src), nil
	case datatype.Int32:
		return convert[S, int32](src), nil
	case datatype.Int64:
		return convert[S, int64](src), nil
	case datatype.FP32:
		return convert[S, float32](src), nil
	case datatype.FP64:
		return convert[S, float64](src), nil
	case datatype.FP16:
		out := make([]float16.Float16, len(src))
		for i, v := range src {
			out[i] = float16.Fromfloat32(float32(v))
		}
		return out, nil
	case datatype.Bytes:
		out := make([][]byte, len(src))
		for i, v := range src {
			out[i] = []byte(formatElement(v))
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot cast to %s", dt)
}

func convert[S, D number](src []S) []D {
	out := make([]D, len(src))
	for i, v := range src {
		out[i] = D(v)
	}
	return out
}

// formatElement renders integers in base 10 and floats in their shortest
// round-trip form.
func formatElement(v any) string {
	switch x := v.(type) {
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float16.Float16:
		return strconv.FormatFloat(float64(x.Float32()), 'f', -1, 32)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

// ArgsortDesc returns element indices ordered by descending value. Equal values keep
// ascending index order.
func ArgsortDesc(t *Tensor) []int {
	idx := make([]int, t.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return t.Float64At(idx[i]) > t.Float64At(idx[j])
	})
	return idx
}

// Equal reports whether a and b have the same data type, shape and elements.
func Equal(a, b *Tensor) bool {
	return Diff(a, b) == ""
}

// Diff describes the first difference between a and b, or returns "" when equal.
func Diff(a, b *Tensor) string {
	if a == nil || b == nil {
		if a == b {
			return ""
		}
		return fmt.Sprintf("one tensor is nil: %v vs %v", a, b)
	}
	if a.dtype != b.dtype {
		return fmt.Sprintf("data type %s != %s", a.dtype, b.dtype)
	}
	if !sameShape(a.shape, b.shape) {
		return fmt.Sprintf("shape %v != %v", a.shape, b.shape)
	}
	var idx int
	switch x := a.data.(type) {
	case []bool:
		idx = firstMismatch(x, b.data.([]bool))
	case []uint8:
		idx = firstMismatch(x, b.data.([]uint8))
	case []uint16:
		idx = firstMismatch(x, b.data.([]uint16))
	case []uint32:
		idx = firstMismatch(x, b.data.([]uint32))
	case []uint64:
		idx = firstMismatch(x, b.data.([]uint64))
	case []int8:
		idx = firstMismatch(x, b.data.([]int8))
	case []int16:
		idx = firstMismatch(x, b.data.([]int16))
	case []int32:
		idx = firstMismatch(x, b.data.([]int32))
	case []int64:
		idx = firstMismatch(x, b.data.([]int64))
	case []float16.Float16:
		idx = firstMismatch(x, b.data.([]float16.Float16))
	case []float32:
		idx = firstMismatch(x, b.data.([]float32))
	case []float64:
		idx = firstMismatch(x, b.data.([]float64))
	case [][]byte:
		y := b.data.([][]byte)
		idx = -1
		for i := range x {
			if !bytes.Equal(x[i], y[i]) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return ""
	}
	return fmt.Sprintf("element %d: %s != %s", idx, a.StringAt(idx), b.StringAt(idx))
}

func firstMismatch[T comparable](x, y []T) int {
	for i := range x {
		if x[i] != y[i] {
			return i
		}
	}
	return -1
}

func sameShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ParseStrings converts a BYTES tensor holding decimal numbers into a numeric tensor
// of data type dt.
func ParseStrings(t *Tensor, dt datatype.DataType) (*Tensor, error) {
	elems, ok := t.data.([][]byte)
	if !ok {
		return nil, fmt.Errorf("cannot parse a %s tensor as strings", t.dtype)
	}
	vals := make([]any, len(elems))
	for i, e := range elems {
		if dt == datatype.Bool {
			b, err := strconv.ParseBool(string(e))
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			vals[i] = b
			continue
		}
		vals[i] = json.Number(e)
	}
	return FromJSONData(dt, t.shape, vals)
}
