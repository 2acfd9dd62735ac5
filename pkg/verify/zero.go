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

type ZeroOptions struct {
	Platform     Platform
	BatchSize    int
	DataType     datatype.DataType
	InputShapes  [][]int64
	OutputShapes [][]int64
	ModelVersion string

	SharedMemory shm.Kind
	// RegionPrefix names the input and output regions {prefix}{n}_data. It
	// defaults to "input" and "output".
	RegionPrefix [2]string

	Priority      uint64
	TimeoutMicros uint64
}

func (o ZeroOptions) validate() error {
	if len(o.InputShapes) != len(o.OutputShapes) {
		return configErrorf("%d input shapes but %d output shapes", len(o.InputShapes), len(o.OutputShapes))
	}
	if len(o.InputShapes) == 0 {
		return configErrorf("at least one input is required")
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
	for n := range o.InputShapes {
		if tensor.ElementCount(o.InputShapes[n]) != tensor.ElementCount(o.OutputShapes[n]) {
			return configErrorf("io %d: input shape %v and output shape %v hold different element counts",
				n, o.InputShapes[n], o.OutputShapes[n])
		}
	}
	return checkSharedMemoryKind(o.SharedMemory)
}

// InferZero sends random tensors, zero-sized ones included, through an identity
// model and checks that every output equals its input reshaped to the output shape.
func (v *Verifier) InferZero(ctx context.Context, t require.TestingT, opts ZeroOptions) map[string][]triton.Result {
	require.NoError(t, v.checkTransports())
	require.NoError(t, opts.validate())

	prefix := opts.RegionPrefix
	if prefix == [2]string{} {
		prefix = [2]string{"input", "output"}
	}
	pf := opts.Platform
	batched := pf.Batching()
	ioCount := len(opts.InputShapes)

	var regions *shm.RegionSet
	if opts.SharedMemory != shm.None {
		var err error
		regions, err = v.regionSet(opts.SharedMemory)
		require.NoError(t, err)
		defer releaseRegions(ctx, regions, opts.SharedMemory)
	}

	inputs := make(map[string]triton.RunInput, ioCount)
	outputs := make(map[string]triton.RunOutput, ioCount)
	expected := make(map[string][]*tensor.Tensor, ioCount)
	for n := 0; n < ioCount; n++ {
		inName, outName := pf.InputName(n), pf.OutputName(n)
		slots := make([]*tensor.Tensor, opts.BatchSize)
		want := make([]*tensor.Tensor, opts.BatchSize)
		for b := range slots {
			in, err := GenerateIdentity(v.rng, opts.DataType, opts.InputShapes[n])
			require.NoError(t, err)
			slots[b] = in
			want[b], err = tensor.Reshape(in, opts.OutputShapes[n])
			require.NoError(t, err)
		}
		expected[outName] = want

		if regions == nil {
			inputs[inName] = triton.RunInput{Slots: slots}
			outputs[outName] = triton.RunOutput{}
			continue
		}
		inRaw, err := batchBytes(slots, batched)
		require.NoError(t, err)
		outRaw, err := batchBytes(want, batched)
		require.NoError(t, err)
		inBase, outBase := fmt.Sprintf("%s%d", prefix[0], n), fmt.Sprintf("%s%d", prefix[1], n)
		inRegion, err := regions.Create(ctx, inName, opts.SharedMemory, regionName(inBase), regionKey(inBase), uint64(len(inRaw)), inRaw)
		require.NoError(t, err)
		outRegion, err := regions.Create(ctx, outName, opts.SharedMemory, regionName(outBase), regionKey(outBase), uint64(len(outRaw)), nil)
		require.NoError(t, err)
		inputs[inName] = triton.RunInput{
			Region:   inRegion,
			DataType: opts.DataType,
			Shape:    batchShape(opts.InputShapes[n], opts.BatchSize, batched),
		}
		outputs[outName] = triton.RunOutput{Region: outRegion}
	}

	modelName := ZeroModelName(pf, ioCount, opts.DataType)
	var results map[string][]triton.Result
	for _, tr := range v.transports {
		runTransport(contractZero, modelName, tr, func() {
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
			require.Lenf(t, results, ioCount, "%s: %s result count", tr.Name, modelName)

			for name, slots := range results {
				want, ok := expected[name]
				require.Truef(t, ok, "%s: %s returned unexpected result %s", tr.Name, modelName, name)
				require.Lenf(t, slots, opts.BatchSize, "%s: %s, %s batch slots", tr.Name, modelName, name)
				for b, got := range slots {
					require.Equalf(t, want[b].Shape(), got.Tensor.Shape(), "%s: %s, %s slot %d shape", tr.Name, modelName, name, b)
					require.Truef(t, tensor.Equal(want[b], got.Tensor), "%s: %s, %s slot %d expected: %v, got %v (%s)",
						tr.Name, modelName, name, b, want[b], got.Tensor, tensor.Diff(want[b], got.Tensor))
				}
			}
		})
	}
	return results
}
