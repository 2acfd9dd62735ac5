package suite

import (
	"context"
	"time"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/metric"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/verify"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

type Result struct {
	Case     string
	Contract string
	Failures []string
	Duration time.Duration
}

func (r Result) Passed() bool {
	return len(r.Failures) == 0
}

type Runner struct {
	verifier *verify.Verifier
}

func NewRunner(v *verify.Verifier) *Runner {
	return &Runner{verifier: v}
}

// Run executes every case in order. A failing case does not stop the suite.
func (r *Runner) Run(ctx context.Context, s *Suite) []Result {
	results := make([]Result, 0, len(s.Cases))
	for i := range s.Cases {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Str("suite", s.Name).Msg("suite interrupted")
			break
		}
		results = append(results, r.RunCase(ctx, &s.Cases[i], s.SharedMemory))
	}
	return results
}

func (r *Runner) RunCase(ctx context.Context, c *Case, suiteKind string) Result {
	start := time.Now()
	var rec verify.Recorder
	failures := rec.Run(func(t require.TestingT) {
		switch c.Contract {
		case ContractExact:
			opts, err := c.ExactOptions(suiteKind)
			require.NoError(t, err)
			r.verifier.InferExact(ctx, t, opts)
		case ContractZero:
			opts, err := c.ZeroOptions(suiteKind)
			require.NoError(t, err)
			r.verifier.InferZero(ctx, t, opts)
		case ContractShapeTensor:
			opts, err := c.ShapeTensorOptions(suiteKind)
			require.NoError(t, err)
			r.verifier.InferShapeTensor(ctx, t, opts)
		default:
			require.Failf(t, "unknown contract", "case %s has contract %q", c.Name, c.Contract)
		}
	})
	res := Result{Case: c.Name, Contract: c.Contract, Failures: failures, Duration: time.Since(start)}

	status := metric.TagValueStatusPass
	event := log.Info()
	if !res.Passed() {
		status = metric.TagValueStatusFail
		event = log.Error().Strs("failures", failures)
	}
	metric.Incr(metric.SuiteCaseTotal, metric.BuildTag(
		metric.NewTag(metric.TagContract, c.Contract),
		metric.NewTag(metric.TagStatus, status),
	))
	event.Str("case", c.Name).Str("contract", c.Contract).Str("platform", c.Platform).
		Dur("duration", res.Duration).Msg("case finished")
	return res
}

// Failed counts the results with failures.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Passed() {
			n++
		}
	}
	return n
}
