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

type ShapeTensorOptions struct {
	Platform Platform
	// BatchSize is the number of dummy tensors sent per input. The shape tensor
	// itself is sent once.
	BatchSize int
	// DataType is the type of the dummy tensors.
	DataType         datatype.DataType
	ShapeValues      [][]int32
	DummyInputShapes [][]int64
	ModelVersion     string

	SharedMemory shm.Kind
	// RegionSuffix is appended to every region name and key.
	RegionSuffix string

	Priority      uint64
	TimeoutMicros uint64
}

// SharedMemoryFromFlags maps separate system and device switches to one kind.
// Turning on both is a configuration error.
func SharedMemoryFromFlags(system, device bool) (shm.Kind, error) {
	kind, err := shm.KindFromFlags(system, device)
	if err != nil {
		return shm.None, &ConfigError{ErrorMsg: err.Error()}
	}
	return kind, nil
}

func (o ShapeTensorOptions) validate() error {
	if !o.Platform.SupportsShapeTensors() {
		return configErrorf("platform %s does not support shape tensors", o.Platform)
	}
	if len(o.ShapeValues) != len(o.DummyInputShapes) {
		return configErrorf("%d shape tensors but %d dummy input shapes", len(o.ShapeValues), len(o.DummyInputShapes))
	}
	if len(o.ShapeValues) == 0 {
		return configErrorf("at least one shape tensor is required")
	}
	if o.BatchSize < 1 {
		return configErrorf("batch size must be positive, got %d", o.BatchSize)
	}
	if !o.Platform.Batching() && o.BatchSize != 1 {
		return configErrorf("platform %s does not batch, batch size must be 1, got %d", o.Platform, o.BatchSize)
	}
	if !o.DataType.Valid() {
		return configErrorf("invalid data type %s", o.DataType)
	}
	for n, values := range o.ShapeValues {
		for _, val := range values {
			if val < 0 {
				return configErrorf("shape tensor %d has negative value %d", n, val)
			}
		}
	}
	return checkSharedMemoryKind(o.SharedMemory)
}

// InferShapeTensor sends shape tensors with companion dummy tensors and checks that
// the server echoes each shape tensor and shapes each dummy output by its values.
func (v *Verifier) InferShapeTensor(ctx context.Context, t require.TestingT, opts ShapeTensorOptions) map[string][]triton.Result {
	require.NoError(t, v.checkTransports())
	require.NoError(t, opts.validate())
	pf := opts.Platform

	batched := pf.Batching()
	ioCount := len(opts.ShapeValues)

	var regions *shm.RegionSet
	if opts.SharedMemory != shm.None {
		var err error
		regions, err = v.regionSet(opts.SharedMemory)
		require.NoError(t, err)
		defer releaseRegions(ctx, regions, opts.SharedMemory)
	}
	create := func(tensorName, base string, raw []byte, size int) *shm.Region {
		b := base + opts.RegionSuffix
		r, err := regions.Create(ctx, tensorName, opts.SharedMemory,
			fmt.Sprintf("%s_data%s", base, opts.RegionSuffix), regionKey(b), uint64(size), raw)
		require.NoError(t, err)
		return r
	}

	inputs := make(map[string]triton.RunInput, 2*ioCount)
	outputs := make(map[string]triton.RunOutput, 2*ioCount)
	descriptors := make(map[int]*tensor.Tensor, ioCount)
	for n := 0; n < ioCount; n++ {
		inName, outName := pf.InputName(n), pf.OutputName(n)
		dummyIn, dummyOut := "DUMMY_"+inName, "DUMMY_"+outName

		values := opts.ShapeValues[n]
		desc, err := tensor.FromInt32s([]int64{int64(len(values))}, append([]int32(nil), values...))
		require.NoError(t, err)
		descriptors[n] = desc

		dummies := make([]*tensor.Tensor, opts.BatchSize)
		for b := range dummies {
			dummies[b], err = GenerateIdentity(v.rng, opts.DataType, opts.DummyInputShapes[n])
			require.NoError(t, err)
		}

		if regions == nil {
			inputs[inName] = triton.RunInput{Slots: []*tensor.Tensor{desc}, Unbatched: true}
			inputs[dummyIn] = triton.RunInput{Slots: dummies}
			outputs[outName] = triton.RunOutput{}
			outputs[dummyOut] = triton.RunOutput{}
			continue
		}

		descRaw := desc.Encode()
		dummyRaw, err := batchBytes(dummies, batched)
		require.NoError(t, err)
		dims := make([]int64, len(values))
		for i, val := range values {
			dims[i] = int64(val)
		}
		zero, err := tensor.New(opts.DataType, batchShape(dims, opts.BatchSize, batched))
		require.NoError(t, err)
		outSize := len(descRaw)
		if batched {
			outSize *= opts.BatchSize
		}

		inputs[inName] = triton.RunInput{
			Region:   create(inName, fmt.Sprintf("input%d", n), descRaw, len(descRaw)),
			DataType: datatype.Int32,
			Shape:    desc.Shape(),
		}
		inputs[dummyIn] = triton.RunInput{
			Region:   create(dummyIn, fmt.Sprintf("dummy_input%d", n), dummyRaw, len(dummyRaw)),
			DataType: opts.DataType,
			Shape:    batchShape(opts.DummyInputShapes[n], opts.BatchSize, batched),
		}
		outputs[outName] = triton.RunOutput{Region: create(outName, fmt.Sprintf("output%d", n), nil, outSize)}
		outputs[dummyOut] = triton.RunOutput{Region: create(dummyOut, fmt.Sprintf("dummy_output%d", n), nil, zero.ByteSize())}
	}

	modelName := ZeroModelName(pf, ioCount, opts.DataType)
	var results map[string][]triton.Result
	for _, tr := range v.transports {
		runTransport(contractShapeTensor, modelName, tr, func() {
			ic := triton.NewInferContext(tr.Client, modelName, opts.ModelVersion, 0)
			var err error
			results, err = ic.Run(ctx, inputs, outputs, triton.RunOptions{
				BatchSize:     opts.BatchSize,
				Batched:       batched,
				Priority:      opts.Priority,
				TimeoutMicros: opts.TimeoutMicros,
			})
			require.NoErrorf(t, err, "%s: inference on %s", tr.Name, modelName)
			checkIdentity(t, ic, modelName, opts.ModelVersion)
			require.Lenf(t, results, 2*ioCount, "%s: %s result count", tr.Name, modelName)

			for n := 0; n < ioCount; n++ {
				desc := descriptors[n]
				outName := pf.OutputName(n)
				dummyOut := "DUMMY_" + outName
				echoed, ok := results[outName]
				require.Truef(t, ok, "%s: %s did not return %s", tr.Name, modelName, outName)
				require.Lenf(t, echoed, opts.BatchSize, "%s: %s, %s batch slots", tr.Name, modelName, outName)
				for b, got := range echoed {
					require.Truef(t, tensor.Equal(desc, got.Tensor), "%s: %s, %s slot %d expected: %v, got %v",
						tr.Name, modelName, outName, b, desc, got.Tensor)
				}
				shaped, ok := results[dummyOut]
				require.Truef(t, ok, "%s: %s did not return %s", tr.Name, modelName, dummyOut)
				require.Lenf(t, shaped, opts.BatchSize, "%s: %s, %s batch slots", tr.Name, modelName, dummyOut)
				want := make([]int64, desc.Len())
				for i, val := range desc.Data().([]int32) {
					want[i] = int64(val)
				}
				for b, got := range shaped {
					require.Equalf(t, want, got.Tensor.Shape(), "%s: %s, %s slot %d shape", tr.Name, modelName, dummyOut, b)
				}
			}
		})
	}
	return results
}
