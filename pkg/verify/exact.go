package verify

import (
	"context"
	"fmt"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/clients/triton"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/datatype"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/shm"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
	"github.com/stretchr/testify/require"
)

// Logical output names accepted in ExactOptions.Outputs. They are mapped to the
// platform's tensor names.
const (
	Output0 = "OUTPUT0"
	Output1 = "OUTPUT1"
)

type ExactOptions struct {
	Platform    Platform
	TensorShape []int64
	BatchSize   int
	InputType   datatype.DataType
	Output0Type datatype.DataType
	Output1Type datatype.DataType
	// Output0Class and Output1Class request the top classes instead of the raw
	// tensor.
	Output0Class bool
	Output1Class bool
	ModelVersion string
	Swap         bool
	// Outputs defaults to both outputs.
	Outputs            []string
	SkipRequestIDCheck bool
	CorrelationID      uint64

	SharedMemory shm.Kind
	// RegionNames overrides the base name of the regions of input0, input1, output0
	// and output1. A region is named {base}_data with key /{base}.
	RegionNames map[string]string
	// PrecreatedRegions holds output regions, keyed output0 / output1, that the
	// caller owns. They are used as is and left registered.
	PrecreatedRegions map[string]*shm.Region

	Priority      uint64
	TimeoutMicros uint64
}

type exactOutput struct {
	logical  string
	name     string
	class    bool
	labelled bool
	expected []*tensor.Tensor
	values   []*tensor.Tensor
}

func (o ExactOptions) outputs() ([]string, error) {
	if len(o.Outputs) == 0 {
		return []string{Output0, Output1}, nil
	}
	seen := map[string]bool{}
	for _, name := range o.Outputs {
		if name != Output0 && name != Output1 {
			return nil, configErrorf("unknown output %s, expected %s or %s", name, Output0, Output1)
		}
		if seen[name] {
			return nil, configErrorf("output %s requested twice", name)
		}
		seen[name] = true
	}
	return o.Outputs, nil
}

func (o ExactOptions) validate() error {
	if o.BatchSize < 1 {
		return configErrorf("batch size must be positive, got %d", o.BatchSize)
	}
	if !o.Platform.Batching() && o.BatchSize != 1 {
		return configErrorf("platform %s does not batch, batch size must be 1, got %d", o.Platform, o.BatchSize)
	}
	if err := checkSharedMemoryKind(o.SharedMemory); err != nil {
		return err
	}
	for i, class := range []bool{o.Output0Class, o.Output1Class} {
		if !class {
			continue
		}
		if o.SharedMemory != shm.None {
			return configErrorf("output %d: classification results cannot be returned in shared memory", i)
		}
		dt := o.Output0Type
		if i == 1 {
			dt = o.Output1Type
		}
		if dt == datatype.Bytes {
			return configErrorf("output %d: classification of %s outputs is not supported", i, dt)
		}
	}
	return nil
}

// InferExact sends one generated addsub batch through every transport and checks
// each output against the expected sum and difference. It returns the results of
// the last transport.
func (v *Verifier) InferExact(ctx context.Context, t require.TestingT, opts ExactOptions) map[string][]triton.Result {
	require.NoError(t, v.checkTransports())
	require.NoError(t, opts.validate())
	logical, err := opts.outputs()
	require.NoError(t, err)

	pf := opts.Platform
	batched := pf.Batching()
	data, err := GenerateAddSub(v.rng, AddSubParams{
		Shape:      opts.TensorShape,
		BatchSize:  opts.BatchSize,
		Input:      opts.InputType,
		Output0:    opts.Output0Type,
		Output1:    opts.Output1Type,
		Output0Raw: !opts.Output0Class,
		Output1Raw: !opts.Output1Class,
		Swap:       opts.Swap,
	})
	require.NoError(t, err)

	var outs []exactOutput
	for _, l := range logical {
		o := exactOutput{logical: l}
		if l == Output0 {
			o.name, o.class, o.labelled = pf.OutputName(0), opts.Output0Class, true
			o.expected, o.values = data.Expected0, data.Values0
		} else {
			o.name, o.class = pf.OutputName(1), opts.Output1Class
			o.expected, o.values = data.Expected1, data.Values1
		}
		outs = append(outs, o)
	}

	inputs := map[string]triton.RunInput{
		pf.InputName(0): {Slots: data.Input0},
		pf.InputName(1): {Slots: data.Input1},
	}
	outputs := make(map[string]triton.RunOutput, len(outs))
	for _, o := range outs {
		ro := triton.RunOutput{}
		if o.class {
			ro.Classification = numClasses
		}
		outputs[o.name] = ro
	}

	if opts.SharedMemory != shm.None {
		regions, err := v.regionSet(opts.SharedMemory)
		require.NoError(t, err)
		defer releaseRegions(ctx, regions, opts.SharedMemory)

		base := func(key string) string {
			if name, ok := opts.RegionNames[key]; ok {
				return name
			}
			return key
		}
		fullShape := batchShape(opts.TensorShape, opts.BatchSize, batched)
		for n, slots := range [][]*tensor.Tensor{data.Input0, data.Input1} {
			raw, err := batchBytes(slots, batched)
			require.NoError(t, err)
			key := fmt.Sprintf("input%d", n)
			b := base(key)
			r, err := regions.Create(ctx, key, opts.SharedMemory, regionName(b), regionKey(b), uint64(len(raw)), raw)
			require.NoError(t, err)
			inputs[pf.InputName(n)] = triton.RunInput{Region: r, DataType: opts.InputType, Shape: fullShape}
		}
		for _, o := range outs {
			key := "output0"
			if o.logical == Output1 {
				key = "output1"
			}
			r, ok := opts.PrecreatedRegions[key]
			if ok {
				regions.Adopt(key, r)
			} else {
				raw, err := batchBytes(o.expected, batched)
				require.NoError(t, err)
				b := base(key)
				r, err = regions.Create(ctx, key, opts.SharedMemory, regionName(b), regionKey(b), uint64(len(raw)), nil)
				require.NoError(t, err)
			}
			outputs[o.name] = triton.RunOutput{Region: r}
		}
	}

	modelName := AddSubModelName(pf, opts.InputType, opts.Output0Type, opts.Output1Type)
	var results map[string][]triton.Result
	for _, tr := range v.transports {
		runTransport(contractExact, modelName, tr, func() {
			ic := triton.NewInferContext(tr.Client, modelName, opts.ModelVersion, opts.CorrelationID)
			results, err = ic.Run(ctx, inputs, outputs, triton.RunOptions{
				BatchSize:     opts.BatchSize,
				Batched:       batched,
				Priority:      opts.Priority,
				TimeoutMicros: opts.TimeoutMicros,
			})
			require.NoErrorf(t, err, "%s: inference on %s", tr.Name, modelName)

			if !opts.SkipRequestIDCheck {
				id := ic.LastRequestID()
				require.Truef(t, v.requestIDs.Add(id), "%s: request_id: %s was seen before", tr.Name, id)
			}
			checkIdentity(t, ic, modelName, opts.ModelVersion)
			require.Lenf(t, results, len(outs), "%s: %s result count", tr.Name, modelName)

			for name, slots := range results {
				o, ok := findOutput(outs, name)
				require.Truef(t, ok, "%s: %s returned unexpected result %s", tr.Name, modelName, name)
				require.Lenf(t, slots, opts.BatchSize, "%s: %s, %s batch slots", tr.Name, modelName, name)
				for b, got := range slots {
					if o.class {
						checkClasses(t, modelName, name, b, got.Classes, o.expected[b], o.values[b], o.labelled)
						continue
					}
					require.Truef(t, tensor.Equal(o.expected[b], got.Tensor), "%s: %s, %s slot %d expected: %v, got %v (%s)",
						tr.Name, modelName, name, b, o.expected[b], got.Tensor, tensor.Diff(o.expected[b], got.Tensor))
				}
			}
		})
	}
	return results
}

func findOutput(outs []exactOutput, name string) (exactOutput, bool) {
	for _, o := range outs {
		if o.name == name {
			return o, true
		}
	}
	return exactOutput{}, false
}

// checkClasses compares values rather than indices, since equal values may be
// reported at either index. Labels are only comparable when the indices agree.
func checkClasses(t require.TestingT, modelName, output string, slot int, classes []triton.Class, expected, values *tensor.Tensor, labelled bool) {
	require.Lenf(t, classes, numClasses, "%s, %s slot %d class count", modelName, output, slot)
	sorted := tensor.ArgsortDesc(values)
	for r, c := range classes {
		require.Lessf(t, c.Index, expected.Len(), "%s, %s slot %d class %d index out of range", modelName, output, slot, r)
		require.Equalf(t, float32(expected.Float64At(c.Index)), float32(c.Value),
			"%s, %s slot %d class %d value at reported index %d", modelName, output, slot, r, c.Index)
		require.Equalf(t, float32(expected.Float64At(sorted[r])), float32(c.Value),
			"%s, %s slot %d class %d value at rank", modelName, output, slot, r)
		if labelled && c.Index == sorted[r] {
			require.Equalf(t, fmt.Sprintf("label%d", sorted[r]), c.Label,
				"%s, %s slot %d class %d label", modelName, output, slot, r)
		}
	}
}
