package tensor

import (
	"fmt"
	"math"
	"math/bits"
	"reflect"
	"strconv"
	"strings"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/x448/float16"
)

// Tensor is a typed, shaped array. The values are held in a Go slice whose element
// type matches the data type: []bool, []uint8 ... []int64, []float16.Float16,
// []float32, []float64 or [][]byte for BYTES.
type Tensor struct {
	dtype datatype.DataType
	shape []int64
	data  any
}

// ElementCount is the product of dims; a scalar (empty shape) has one element.
// The product is unchecked; use NumElements for shapes read off the wire.
func ElementCount(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// NumElements is ElementCount for a shape that must describe a real tensor: every
// dim is non-negative and the product fits in an int.
func NumElements(shape []int64) (int, error) {
	n := uint64(1)
	overflow := false
	for i, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("dimension %d of shape %v is negative", i, shape)
		}
		if d == 0 {
			return 0, nil
		}
		hi, lo := bits.Mul64(n, uint64(d))
		if hi != 0 || lo > math.MaxInt {
			overflow = true
		}
		n = lo
	}
	if overflow {
		return 0, fmt.Errorf("shape %v has too many elements", shape)
	}
	return int(n), nil
}

// New returns a zero-valued tensor.
func New(dt datatype.DataType, shape []int64) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	data, err := makeData(dt, n)
	if err != nil {
		return nil, err
	}
	return &Tensor{dtype: dt, shape: cloneShape(shape), data: data}, nil
}

// FromSlice wraps data without copying. The slice type must match dt.
func FromSlice(dt datatype.DataType, shape []int64, data any) (*Tensor, error) {
	count, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	want, err := makeData(dt, 0)
	if err != nil {
		return nil, err
	}
	if reflect.TypeOf(want) != reflect.TypeOf(data) {
		return nil, fmt.Errorf("data of type %T cannot back a %s tensor", data, dt)
	}
	n := reflect.ValueOf(data).Len()
	if n != count {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, count, n)
	}
	if reflect.ValueOf(data).IsNil() {
		data = want
	}
	return &Tensor{dtype: dt, shape: cloneShape(shape), data: data}, nil
}

// FromInt64s converts integer values into a tensor of type dt. Integer targets use
// Go conversion semantics, floats are converted by value, BOOL is v != 0 and BYTES
// holds the base-10 rendering.
func FromInt64s(dt datatype.DataType, shape []int64, vals []int64) (*Tensor, error) {
	src, err := FromSlice(datatype.Int64, shape, vals)
	if err != nil {
		return nil, err
	}
	if dt == datatype.Bool {
		out := make([]bool, len(vals))
		for i, v := range vals {
			out[i] = v != 0
		}
		return FromSlice(dt, shape, out)
	}
	return Cast(src, dt)
}

func FromBools(shape []int64, vals []bool) (*Tensor, error) {
	return FromSlice(datatype.Bool, shape, vals)
}

func FromStrings(shape []int64, vals []string) (*Tensor, error) {
	out := make([][]byte, len(vals))
	for i, s := range vals {
		out[i] = []byte(s)
	}
	return FromSlice(datatype.Bytes, shape, out)
}

func FromInt32s(shape []int64, vals []int32) (*Tensor, error) {
	return FromSlice(datatype.Int32, shape, vals)
}

func makeData(dt datatype.DataType, n int) (any, error) {
	switch dt {
	case datatype.Bool:
		return make([]bool, n), nil
	case datatype.Uint8:
		return make([]uint8, n), nil
	case datatype.Uint16:
		return make([]uint16, n), nil
	case datatype.Uint32:
		return make([]uint32, n), nil
	case datatype.Uint64:
		return make([]uint64, n), nil
	case datatype.Int8:
		return make([]int8, n), nil
	case datatype.Int16:
		return make([]int16, n), nil
	case datatype.Int32:
		return make([]int32, n), nil
	case datatype.Int64:
		return make([]int64, n), nil
	case datatype.FP16:
		return make([]float16.Float16, n), nil
	case datatype.FP32:
		return make([]float32, n), nil
	case datatype.FP64:
		return make([]float64, n), nil
	case datatype.Bytes:
		out := make([][]byte, n)
		for i := range out {
			out[i] = []byte{}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported data type %s", dt)
}

func cloneShape(shape []int64) []int64 {
	out := make([]int64, len(shape))
	copy(out, shape)
	return out
}

func (t *Tensor) DataType() datatype.DataType {
	return t.dtype
}

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() []int64 {
	return cloneShape(t.shape)
}

// Len is the number of elements.
func (t *Tensor) Len() int {
	return reflect.ValueOf(t.data).Len()
}

// Data returns the backing slice. Callers must not change its length.
func (t *Tensor) Data() any {
	return t.data
}

// ByteSize is the number of bytes the tensor occupies on the wire.
func (t *Tensor) ByteSize() int {
	if t.dtype != datatype.Bytes {
		return t.Len() * t.dtype.Size()
	}
	size := 0
	for _, b := range t.data.([][]byte) {
		size += 4 + len(b)
	}
	return size
}

// Float64At returns element i as a float64. It panics for BYTES tensors.
func (t *Tensor) Float64At(i int) float64 {
	switch x := t.data.(type) {
	case []bool:
		if x[i] {
			return 1
		}
		return 0
	case []uint8:
		return float64(x[i])
	case []uint16:
		return float64(x[i])
	case []uint32:
		return float64(x[i])
	case []uint64:
		return float64(x[i])
	case []int8:
		return float64(x[i])
	case []int16:
		return float64(x[i])
	case []int32:
		return float64(x[i])
	case []int64:
		return float64(x[i])
	case []float16.Float16:
		return float64(x[i].Float32())
	case []float32:
		return float64(x[i])
	case []float64:
		return x[i]
	}
	panic(fmt.Sprintf("Float64At is not defined for %s tensors", t.dtype))
}

// StringAt renders element i the way it is compared in failure messages.
func (t *Tensor) StringAt(i int) string {
	switch x := t.data.(type) {
	case [][]byte:
		return string(x[i])
	case []bool:
		return strconv.FormatBool(x[i])
	default:
		return formatElement(reflect.ValueOf(t.data).Index(i).Interface())
	}
}

const maxPreviewElements = 16

func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString(t.dtype.String())
	sb.WriteString(fmt.Sprint(t.shape))
	sb.WriteString("{")
	n := t.Len()
	for i := 0; i < n && i < maxPreviewElements; i++ {
		if i > 0 {
			sb.WriteString(" ")
		}
		if t.dtype == datatype.Bytes {
			sb.WriteString(strconv.Quote(t.StringAt(i)))
		} else {
			sb.WriteString(t.StringAt(i))
		}
	}
	if n > maxPreviewElements {
		sb.WriteString(fmt.Sprintf(" ...(%d more)", n-maxPreviewElements))
	}
	sb.WriteString("}")
	return sb.String()
}
