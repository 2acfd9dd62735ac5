package tensor

import (
	"fmt"
	"reflect"
)

// Reshape returns a tensor sharing t's data with a new shape of the same element count.
func Reshape(t *Tensor, shape []int64) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != t.Len() {
		return nil, fmt.Errorf("cannot reshape %v into %v", t.shape, shape)
	}
	return &Tensor{dtype: t.dtype, shape: cloneShape(shape), data: t.data}, nil
}

// Stack prepends a batch dimension of len(slots) and concatenates the slots in order.
// Every slot must have the same data type and shape.
func Stack(slots []*Tensor) (*Tensor, error) {
	if len(slots) == 0 {
		return nil, fmt.Errorf("cannot stack an empty batch")
	}
	first := slots[0]
	total := 0
	for i, s := range slots {
		if s.dtype != first.dtype {
			return nil, fmt.Errorf("slot %d has data type %s, expected %s", i, s.dtype, first.dtype)
		}
		if !sameShape(s.shape, first.shape) {
			return nil, fmt.Errorf("slot %d has shape %v, expected %v", i, s.shape, first.shape)
		}
		total += s.Len()
	}
	out := reflect.MakeSlice(reflect.TypeOf(first.data), 0, total)
	for _, s := range slots {
		out = reflect.AppendSlice(out, reflect.ValueOf(s.data))
	}
	shape := append([]int64{int64(len(slots))}, first.shape...)
	return &Tensor{dtype: first.dtype, shape: shape, data: out.Interface()}, nil
}

// Unstack splits a batched tensor into n slots along dimension 0.
func Unstack(t *Tensor, n int) ([]*Tensor, error) {
	if len(t.shape) == 0 || t.shape[0] != int64(n) {
		return nil, fmt.Errorf("tensor of shape %v does not hold a batch of %d", t.shape, n)
	}
	inner := cloneShape(t.shape[1:])
	per := int(ElementCount(inner))
	data := reflect.ValueOf(t.data)
	slots := make([]*Tensor, n)
	for i := 0; i < n; i++ {
		part := reflect.MakeSlice(data.Type(), per, per)
		reflect.Copy(part, data.Slice(i*per, (i+1)*per))
		slots[i] = &Tensor{dtype: t.dtype, shape: cloneShape(inner), data: part.Interface()}
	}
	return slots, nil
}
