package fakeserver

import (
	"fmt"
	"sort"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/clients/triton"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
	"github.com/rs/zerolog/log"
)

// infer runs req against the model named in it. Both transports funnel into here.
func (s *Server) infer(req *triton.InferRequest) (*triton.InferResponse, error) {
	m, err := resolveModel(req.ModelName, s.swapped)
	if err != nil {
		return nil, &NotFoundError{ErrorMsg: fmt.Sprintf("Request for unknown model: %v", err)}
	}

	inputs := make(map[string]*tensor.Tensor, len(req.Inputs))
	for _, in := range req.Inputs {
		raw := in.Raw
		if in.SharedMemory != nil {
			if raw, err = s.regions.read(in.SharedMemory); err != nil {
				return nil, err
			}
		}
		t, err := tensor.Decode(in.DataType, in.Shape, raw)
		if err != nil {
			return nil, &RequestError{ErrorMsg: fmt.Sprintf("input %s: %v", in.Name, err)}
		}
		inputs[in.Name] = t
	}

	outputs, err := s.execute(m, inputs)
	if err != nil {
		return nil, err
	}

	requested := req.Outputs
	if len(requested) == 0 {
		names := make([]string, 0, len(outputs))
		for n := range outputs {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			requested = append(requested, &triton.RequestedOutput{Name: n})
		}
	}

	version := req.ModelVersion
	if version == "" {
		version = defaultVersion
	}
	resp := &triton.InferResponse{
		ModelName:    req.ModelName,
		ModelVersion: version,
		ID:           req.ID,
	}
	for _, ro := range requested {
		t, ok := outputs[ro.Name]
		if !ok {
			return nil, &RequestError{ErrorMsg: fmt.Sprintf("unexpected inference output '%s' for model '%s'", ro.Name, m.name)}
		}
		if ro.Classification > 0 {
			if t, err = classify(m, ro.Name, t, int(ro.Classification)); err != nil {
				return nil, err
			}
		}
		o := &triton.InferOutput{Name: ro.Name, DataType: t.DataType(), Shape: t.Shape()}
		raw := t.Encode()
		if ro.SharedMemory != nil {
			if err := s.regions.write(ro.SharedMemory, raw); err != nil {
				return nil, err
			}
			o.SharedMemory = &triton.SharedMemoryRef{
				Region:   ro.SharedMemory.Region,
				ByteSize: uint64(len(raw)),
				Offset:   ro.SharedMemory.Offset,
			}
		} else {
			o.Raw = raw
		}
		resp.Outputs = append(resp.Outputs, o)
	}
	s.served.Add(1)
	log.Debug().Str("model_name", req.ModelName).Str("model_version", version).Str("id", req.ID).
		Int("outputs", len(resp.Outputs)).Msg("inference served")
	return resp, nil
}

func (s *Server) execute(m *model, inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	switch m.kind {
	case addSubModel:
		return addSub(m, inputs)
	case identityModel:
		if _, ok := inputs["DUMMY_INPUT0"]; ok {
			return shapeTensor(m, inputs, s.reshapes[m.name])
		}
		return identity(m, inputs, s.reshapes[m.name])
	}
	return nil, fmt.Errorf("model %s has no implementation", m.name)
}

func input(m *model, inputs map[string]*tensor.Tensor, name string, dt datatype.DataType) (*tensor.Tensor, error) {
	t, ok := inputs[name]
	if !ok {
		return nil, &RequestError{ErrorMsg: fmt.Sprintf("expected input '%s' for model '%s'", name, m.name)}
	}
	if t.DataType() != dt {
		return nil, &RequestError{ErrorMsg: fmt.Sprintf("input '%s' for model '%s' has data type %s, expected %s",
			name, m.name, t.DataType(), dt)}
	}
	if m.batched && len(t.Shape()) == 0 {
		return nil, &RequestError{ErrorMsg: fmt.Sprintf("input '%s' for batching model '%s' has no batch dimension", name, m.name)}
	}
	return t, nil
}

func addSub(m *model, inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	in0, err := input(m, inputs, m.inputName(0), m.input)
	if err != nil {
		return nil, err
	}
	in1, err := input(m, inputs, m.inputName(1), m.input)
	if err != nil {
		return nil, err
	}
	if m.input == datatype.Bytes {
		if in0, err = tensor.ParseStrings(in0, datatype.Int32); err != nil {
			return nil, &RequestError{ErrorMsg: fmt.Sprintf("input '%s': %v", m.inputName(0), err)}
		}
		if in1, err = tensor.ParseStrings(in1, datatype.Int32); err != nil {
			return nil, &RequestError{ErrorMsg: fmt.Sprintf("input '%s': %v", m.inputName(1), err)}
		}
	}
	sum, err := tensor.Add(in0, in1)
	if err != nil {
		return nil, &RequestError{ErrorMsg: err.Error()}
	}
	diff, err := tensor.Sub(in0, in1)
	if err != nil {
		return nil, &RequestError{ErrorMsg: err.Error()}
	}
	if m.swap {
		sum, diff = diff, sum
	}
	out0, err := tensor.Cast(sum, m.output0)
	if err != nil {
		return nil, &RequestError{ErrorMsg: err.Error()}
	}
	out1, err := tensor.Cast(diff, m.output1)
	if err != nil {
		return nil, &RequestError{ErrorMsg: err.Error()}
	}
	return map[string]*tensor.Tensor{
		m.outputName(0): out0,
		m.outputName(1): out1,
	}, nil
}

func identity(m *model, inputs map[string]*tensor.Tensor, reshapes [][]int64) (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, m.ioCount)
	for n := 0; n < m.ioCount; n++ {
		in, err := input(m, inputs, m.inputName(n), m.dataType)
		if err != nil {
			return nil, err
		}
		if n < len(reshapes) {
			shape := reshapes[n]
			if m.batched {
				shape = append([]int64{in.Shape()[0]}, shape...)
			}
			if in, err = tensor.Reshape(in, shape); err != nil {
				return nil, &RequestError{ErrorMsg: fmt.Sprintf("output '%s': %v", m.outputName(n), err)}
			}
		}
		out[m.outputName(n)] = in
	}
	return out, nil
}

// shapeTensor echoes INPUTn per batch slot as OUTPUTn and returns DUMMY_OUTPUTn
// shaped by the values of INPUTn, or by reshapes[n] when set.
func shapeTensor(m *model, inputs map[string]*tensor.Tensor, reshapes [][]int64) (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, 2*m.ioCount)
	for n := 0; n < m.ioCount; n++ {
		descName := m.inputName(n)
		desc, ok := inputs[descName]
		if !ok || desc.DataType() != datatype.Int32 || len(desc.Shape()) != 1 {
			return nil, &RequestError{ErrorMsg: fmt.Sprintf("model '%s' expects a 1-d INT32 shape tensor %s", m.name, descName)}
		}
		dummy, err := input(m, inputs, "DUMMY_"+descName, m.dataType)
		if err != nil {
			return nil, err
		}

		dims := make([]int64, desc.Len())
		for i, v := range desc.Data().([]int32) {
			if v < 0 {
				return nil, &RequestError{ErrorMsg: fmt.Sprintf("shape tensor %s has negative value %d", descName, v)}
			}
			dims[i] = int64(v)
		}
		if n < len(reshapes) {
			dims = append([]int64{}, reshapes[n]...)
		}

		echo, dummyShape := desc, dims
		if m.batched {
			batch := int(dummy.Shape()[0])
			slots := make([]*tensor.Tensor, batch)
			for b := range slots {
				slots[b] = desc
			}
			if batch == 0 {
				echo, err = tensor.New(datatype.Int32, []int64{0, int64(desc.Len())})
			} else {
				echo, err = tensor.Stack(slots)
			}
			if err != nil {
				return nil, err
			}
			dummyShape = append([]int64{int64(batch)}, dims...)
		}
		dummyOut, err := tensor.New(m.dataType, dummyShape)
		if err != nil {
			return nil, &RequestError{ErrorMsg: err.Error()}
		}
		out[m.outputName(n)] = echo
		out["DUMMY_"+m.outputName(n)] = dummyOut
	}
	return out, nil
}

// classify replaces t by its top k entries per batch slot, each rendered as
// "value:index" plus ":label" for labelled outputs.
func classify(m *model, name string, t *tensor.Tensor, k int) (*tensor.Tensor, error) {
	if t.DataType() == datatype.Bytes {
		return nil, &RequestError{ErrorMsg: fmt.Sprintf("classification is not supported for BYTES output '%s'", name)}
	}
	slots := []*tensor.Tensor{t}
	if m.batched {
		var err error
		if slots, err = tensor.Unstack(t, int(t.Shape()[0])); err != nil {
			return nil, err
		}
	}
	n := k
	if len(slots) > 0 && slots[0].Len() < n {
		n = slots[0].Len()
	}
	classes := make([]string, 0, len(slots)*n)
	for _, slot := range slots {
		idx := tensor.ArgsortDesc(slot)
		for r := 0; r < n; r++ {
			c := triton.Class{Index: idx[r], Value: slot.Float64At(idx[r])}
			if m.labelled(name) {
				c.Label = fmt.Sprintf("label%d", idx[r])
			}
			classes = append(classes, triton.FormatClassification(c))
		}
	}
	shape := []int64{int64(n)}
	if m.batched {
		shape = []int64{int64(len(slots)), int64(n)}
	}
	return tensor.FromStrings(shape, classes)
}
