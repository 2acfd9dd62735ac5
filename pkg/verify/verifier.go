// Package verify checks an inference server against the addsub, zero and shape
// tensor contracts over every configured transport.
package verify

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/clients/triton"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/metric"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/shm"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/tensor"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

const (
	contractExact       = "exact"
	contractZero        = "zero"
	contractShapeTensor = "shape_tensor"

	// numClasses is how many classes are requested from classification outputs.
	numClasses = 3
)

// Transport is one client the verifications run through, e.g. HTTP with JSON data.
type Transport struct {
	Name   string
	Client triton.Client
}

type Verifier struct {
	transports []Transport
	control    shm.Registrar
	allocator  shm.DeviceAllocator
	deviceID   int64
	requestIDs *RequestIDSet
	rng        *rand.Rand
}

type Option func(*Verifier)

// WithControl sets the client shared memory regions are registered through. It
// defaults to the first transport.
func WithControl(registrar shm.Registrar) Option {
	return func(v *Verifier) {
		v.control = registrar
	}
}

// WithDeviceAllocator enables device shared memory.
func WithDeviceAllocator(a shm.DeviceAllocator, deviceID int64) Option {
	return func(v *Verifier) {
		v.allocator = a
		v.deviceID = deviceID
	}
}

// WithRequestIDSet shares a request id set between verifiers so ids are checked for
// uniqueness across all of them.
func WithRequestIDSet(s *RequestIDSet) Option {
	return func(v *Verifier) {
		v.requestIDs = s
	}
}

func WithSeed(seed uint64) Option {
	return func(v *Verifier) {
		v.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

func New(transports []Transport, opts ...Option) *Verifier {
	v := &Verifier{
		transports: transports,
		requestIDs: NewRequestIDSet(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.rng == nil {
		WithSeed(uint64(time.Now().UnixNano()))(v)
	}
	if v.control == nil && len(transports) > 0 {
		v.control = transports[0].Client
	}
	return v
}

func (v *Verifier) RequestIDs() *RequestIDSet {
	return v.requestIDs
}

func (v *Verifier) Transports() []Transport {
	return v.transports
}

func (v *Verifier) checkTransports() error {
	if len(v.transports) == 0 {
		return configErrorf("at least one transport must be enabled")
	}
	return nil
}

func (v *Verifier) regionSet(kind shm.Kind) (*shm.RegionSet, error) {
	switch kind {
	case shm.System:
	case shm.Device:
		if v.allocator == nil {
			return nil, &ConfigError{ErrorMsg: shm.ErrNoDeviceAllocator.Error()}
		}
	default:
		return nil, configErrorf("cannot stage tensors in %s shared memory", kind)
	}
	if v.control == nil {
		return nil, configErrorf("no client to register shared memory through")
	}
	var opts []shm.Option
	if v.allocator != nil {
		opts = append(opts, shm.WithDeviceAllocator(v.allocator, v.deviceID))
	}
	return shm.NewRegionSet(shm.NewManager(v.control, opts...)), nil
}

func checkSharedMemoryKind(kind shm.Kind) error {
	switch kind {
	case shm.None, shm.System, shm.Device:
		return nil
	}
	return configErrorf("unknown shared memory kind %s", kind)
}

// releaseRegions runs on every exit path of a verification, including FailNow.
func releaseRegions(ctx context.Context, regions *shm.RegionSet, kind shm.Kind) {
	if regions == nil {
		return
	}
	metric.Count(metric.RegionTotal, int64(regions.Len()), metric.BuildTag(metric.NewTag(metric.TagKind, kind.String())))
	if err := regions.ReleaseAll(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Str("kind", kind.String()).Msg("failed to release shared memory regions")
	}
}

// runTransport runs fn for one transport and reports its outcome. fn fails through
// t, so the outcome is "fail" unless fn returns.
func runTransport(contract, modelName string, tr Transport, fn func()) {
	start := time.Now()
	status := metric.TagValueStatusFail
	defer func() {
		tags := metric.BuildTag(
			metric.NewTag(metric.TagContract, contract),
			metric.NewTag(metric.TagProtocol, tr.Client.Protocol().String()),
			metric.NewTag(metric.TagStatus, status),
		)
		metric.Timing(metric.VerificationLatency, time.Since(start), tags)
		metric.Count(metric.VerificationTotal, 1, tags)
		log.Debug().
			Str("contract", contract).
			Str("model_name", modelName).
			Str("transport", tr.Name).
			Str("protocol", tr.Client.Protocol().String()).
			Str("endpoint", tr.Client.Endpoint()).
			Str("status", status).
			Dur("latency", time.Since(start)).
			Msg("verification finished")
	}()
	fn()
	status = metric.TagValueStatusPass
}

// checkIdentity asserts the server echoed the model it was asked for.
func checkIdentity(t require.TestingT, ic *triton.InferContext, modelName, modelVersion string) {
	require.Equalf(t, modelName, ic.LastModelName(), "model name echoed for %s", modelName)
	if modelVersion != "" {
		require.Equalf(t, modelVersion, ic.LastModelVersion(), "model version echoed for %s", modelName)
	}
}

// batchBytes is the wire form of a batch as it is staged in shared memory.
func batchBytes(slots []*tensor.Tensor, batched bool) ([]byte, error) {
	if !batched {
		return slots[0].Encode(), nil
	}
	t, err := tensor.Stack(slots)
	if err != nil {
		return nil, err
	}
	return t.Encode(), nil
}

func batchShape(shape []int64, batchSize int, batched bool) []int64 {
	if !batched {
		return shape
	}
	return append([]int64{int64(batchSize)}, shape...)
}

func regionName(base string) string {
	return base + "_data"
}

func regionKey(base string) string {
	return "/" + base
}
