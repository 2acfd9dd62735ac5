package tensor

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/x448/float16"
)

// Encode serialises the tensor in the Triton raw layout: little-endian fixed-size
// elements, one byte per BOOL and a 4-byte little-endian length before each BYTES
// element.
func (t *Tensor) Encode() []byte {
	if t.dtype == datatype.Bytes {
		return EncodeBytes(t.data.([][]byte))
	}
	buf := new(bytes.Buffer)
	buf.Grow(t.ByteSize())
	// writes to a bytes.Buffer of a fixed-size slice cannot fail
	_ = binary.Write(buf, binary.LittleEndian, t.data)
	return buf.Bytes()
}

// EncodeBytes length-prefixes each element.
func EncodeBytes(elems [][]byte) []byte {
	size := 0
	for _, e := range elems {
		size += 4 + len(e)
	}
	out := make([]byte, size)
	offset := 0
	for _, e := range elems {
		binary.LittleEndian.PutUint32(out[offset:], uint32(len(e)))
		offset += 4
		offset += copy(out[offset:], e)
	}
	return out
}

// Decode parses raw bytes produced by Encode (or by the server) into a tensor.
func Decode(dt datatype.DataType, shape []int64, raw []byte) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if dt == datatype.Bytes {
		elems, err := DecodeBytes(raw, n)
		if err != nil {
			return nil, err
		}
		return &Tensor{dtype: dt, shape: cloneShape(shape), data: elems}, nil
	}
	size := dt.Size()
	if size <= 0 {
		return nil, fmt.Errorf("cannot decode %s tensor", dt)
	}
	if n > len(raw)/size || n*size != len(raw) {
		return nil, fmt.Errorf("%s tensor of shape %v has %d elements, got %d bytes", dt, shape, n, len(raw))
	}
	data, err := makeData(dt, n)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, data); err != nil {
			return nil, fmt.Errorf("failed to decode %s tensor: %w", dt, err)
		}
	}
	return &Tensor{dtype: dt, shape: cloneShape(shape), data: data}, nil
}

// DecodeBytes splits length-prefixed BYTES content into exactly n elements.
func DecodeBytes(raw []byte, n int) ([][]byte, error) {
	if n < 0 || n > len(raw)/4 {
		return nil, fmt.Errorf("truncated BYTES tensor: %d elements need at least %d bytes, got %d", n, 4*n, len(raw))
	}
	out := make([][]byte, 0, n)
	offset := 0
	for len(out) < n {
		if offset+4 > len(raw) {
			return nil, fmt.Errorf("truncated BYTES tensor: element %d has no length prefix", len(out))
		}
		l := int(binary.LittleEndian.Uint32(raw[offset:]))
		offset += 4
		if offset+l > len(raw) {
			return nil, fmt.Errorf("truncated BYTES tensor: element %d needs %d bytes", len(out), l)
		}
		elem := make([]byte, l)
		copy(elem, raw[offset:offset+l])
		out = append(out, elem)
		offset += l
	}
	if offset != len(raw) {
		return nil, fmt.Errorf("BYTES tensor has %d trailing bytes", len(raw)-offset)
	}
	return out, nil
}

// JSONData flattens the tensor into values suitable for the "data" field of the
// HTTP/REST protocol. FP16 has no JSON representation there.
func (t *Tensor) JSONData() ([]any, error) {
	if t.dtype == datatype.FP16 {
		return nil, fmt.Errorf("FP16 tensors cannot be sent as JSON data")
	}
	out := make([]any, t.Len())
	switch x := t.data.(type) {
	case [][]byte:
		for i, v := range x {
			out[i] = string(v)
		}
	case []bool:
		for i, v := range x {
			out[i] = v
		}
	case []float32:
		for i, v := range x {
			out[i] = v
		}
	case []float64:
		for i, v := range x {
			out[i] = v
		}
	default:
		for i := range out {
			out[i] = json.Number(t.StringAt(i))
		}
	}
	return out, nil
}

// FromJSONData builds a tensor from a decoded "data" array. Numbers may be
// json.Number (decoder with UseNumber) or float64.
func FromJSONData(dt datatype.DataType, shape []int64, vals []any) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if len(vals) != n {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(vals))
	}
	t, err := New(dt, shape)
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if err := t.setJSON(i, v); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return t, nil
}

func (t *Tensor) setJSON(i int, v any) error {
	switch x := t.data.(type) {
	case [][]byte:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		x[i] = []byte(s)
		return nil
	case []bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		x[i] = b
		return nil
	}
	num, err := jsonNumber(v)
	if err != nil {
		return err
	}
	switch x := t.data.(type) {
	case []float16.Float16:
		f, err := num.Float64()
		x[i] = float16.Fromfloat32(float32(f))
		return err
	case []float32:
		f, err := strconv.ParseFloat(num.String(), 32)
		x[i] = float32(f)
		return err
	case []float64:
		f, err := num.Float64()
		x[i] = f
		return err
	}
	if t.dtype.IsUnsigned() {
		u, err := strconv.ParseUint(num.String(), 10, t.dtype.Size()*8)
		if err != nil {
			return err
		}
		switch x := t.data.(type) {
		case []uint8:
			x[i] = uint8(u)
		case []uint16:
			x[i] = uint16(u)
		case []uint32:
			x[i] = uint32(u)
		case []uint64:
			x[i] = u
		}
		return nil
	}
	s, err := strconv.ParseInt(num.String(), 10, t.dtype.Size()*8)
	if err != nil {
		return err
	}
	switch x := t.data.(type) {
	case []int8:
		x[i] = int8(s)
	case []int16:
		x[i] = int16(s)
	case []int32:
		x[i] = int32(s)
	case []int64:
		x[i] = s
	}
	return nil
}

func jsonNumber(v any) (json.Number, error) {
	switch x := v.(type) {
	case json.Number:
		return x, nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return json.Number(strconv.FormatInt(int64(x), 10)), nil
		}
		return json.Number(strconv.FormatFloat(x, 'g', -1, 64)), nil
	}
	return "", fmt.Errorf("expected number, got %T", v)
}
