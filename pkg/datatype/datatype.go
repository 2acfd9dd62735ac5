package datatype

import (
	"fmt"
	"math"
	"strings"
)

// DataType identifies the element type of a tensor as named on the Triton wire.
type DataType uint8

const (
	Invalid DataType = iota
	Bool
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	FP16
	FP32
	FP64
	Bytes
)

var (
	dataTypeToSize = [...]int{
		Invalid: 0,
		Bool:    1,
		Uint8:   1,
		Uint16:  2,
		Uint32:  4,
		Uint64:  8,
		Int8:    1,
		Int16:   2,
		Int32:   4,
		Int64:   8,
		FP16:    2,
		FP32:    4,
		FP64:    8,
		Bytes:   0,
	}
	dataTypeToWire = [...]string{
		Invalid: "INVALID",
		Bool:    "BOOL",
		Uint8:   "UINT8",
		Uint16:  "UINT16",
		Uint32:  "UINT32",
		Uint64:  "UINT64",
		Int8:    "INT8",
		Int16:   "INT16",
		Int32:   "INT32",
		Int64:   "INT64",
		FP16:    "FP16",
		FP32:    "FP32",
		FP64:    "FP64",
		Bytes:   "BYTES",
	}
	// model type names follow the numpy dtype names used in model repository naming
	dataTypeToModelName = [...]string{
		Invalid: "invalid",
		Bool:    "bool",
		Uint8:   "uint8",
		Uint16:  "uint16",
		Uint32:  "uint32",
		Uint64:  "uint64",
		Int8:    "int8",
		Int16:   "int16",
		Int32:   "int32",
		Int64:   "int64",
		FP16:    "float16",
		FP32:    "float32",
		FP64:    "float64",
		Bytes:   "object",
	}
	stringToDataType = map[string]DataType{}
)

func init() {
	for dt := Bool; dt <= Bytes; dt++ {
		stringToDataType[dataTypeToWire[dt]] = dt
		stringToDataType[dataTypeToModelName[dt]] = dt
	}
	stringToDataType["STRING"] = Bytes
	stringToDataType["string"] = Bytes
	stringToDataType["bytes"] = Bytes
}

// Parse accepts either the wire name ("FP32") or the model type name ("float32").
func Parse(s string) (DataType, error) {
	if dt, ok := stringToDataType[s]; ok {
		return dt, nil
	}
	if dt, ok := stringToDataType[strings.ToUpper(s)]; ok {
		return dt, nil
	}
	return Invalid, fmt.Errorf("unknown data type %q", s)
}

func (dt DataType) Valid() bool {
	return dt > Invalid && dt <= Bytes
}

// Size returns the size in bytes of one element; BYTES is variable-sized and reports 0.
func (dt DataType) Size() int {
	if int(dt) >= len(dataTypeToSize) {
		return 0
	}
	return dataTypeToSize[dt]
}

func (dt DataType) String() string {
	if int(dt) >= len(dataTypeToWire) {
		return fmt.Sprintf("DataType(%d)", uint8(dt))
	}
	return dataTypeToWire[dt]
}

// ModelName is the type name used when composing model names, e.g. "float32".
func (dt DataType) ModelName() string {
	if int(dt) >= len(dataTypeToModelName) {
		return "invalid"
	}
	return dataTypeToModelName[dt]
}

func (dt DataType) IsFloat() bool {
	return dt == FP16 || dt == FP32 || dt == FP64
}

func (dt DataType) IsSigned() bool {
	return dt >= Int8 && dt <= Int64
}

func (dt DataType) IsUnsigned() bool {
	return dt >= Uint8 && dt <= Uint64
}

func (dt DataType) IsInteger() bool {
	return dt.IsSigned() || dt.IsUnsigned()
}

// RangeRepr returns the integer type whose range bounds random generation for dt,
// so that sums and differences stay exactly representable in dt.
func (dt DataType) RangeRepr() DataType {
	switch dt {
	case FP64:
		return Int32
	case FP32:
		return Int16
	case FP16:
		return Int8
	case Bytes:
		return Int32
	default:
		return dt
	}
}

// Bounds is the closed integer range of an integer data type.
type Bounds struct {
	Min int64
	Max uint64
}

// IntBounds returns the range of an integer type. ok is false for BOOL, floats and BYTES.
func IntBounds(dt DataType) (Bounds, bool) {
	switch dt {
	case Int8:
		return Bounds{Min: math.MinInt8, Max: math.MaxInt8}, true
	case Int16:
		return Bounds{Min: math.MinInt16, Max: math.MaxInt16}, true
	case Int32:
		return Bounds{Min: math.MinInt32, Max: math.MaxInt32}, true
	case Int64:
		return Bounds{Min: math.MinInt64, Max: math.MaxInt64}, true
	case Uint8:
		return Bounds{Min: 0, Max: math.MaxUint8}, true
	case Uint16:
		return Bounds{Min: 0, Max: math.MaxUint16}, true
	case Uint32:
		return Bounds{Min: 0, Max: math.MaxUint32}, true
	case Uint64:
		return Bounds{Min: 0, Max: math.MaxUint64}, true
	}
	return Bounds{}, false
}
