package verify

import (
	"fmt"

	"github.com/stretchr/testify/require"
)

type abort struct{}

// Recorder collects assertion failures outside of go test. FailNow unwinds the
// running verification with a panic that Run recovers, so deferred cleanup in the
// verifier still happens.
type Recorder struct {
	failures []string
}

var _ require.TestingT = (*Recorder)(nil)

func (r *Recorder) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func (r *Recorder) FailNow() {
	panic(abort{})
}

func (r *Recorder) Failed() bool {
	return len(r.failures) > 0
}

func (r *Recorder) Failures() []string {
	return r.failures
}

// Run calls fn with r and returns the failures it recorded.
func (r *Recorder) Run(fn func(t require.TestingT)) (failures []string) {
	start := len(r.failures)
	defer func() {
		if p := recover(); p != nil {
			if _, ok := p.(abort); !ok {
				panic(p)
			}
		}
		failures = r.failures[start:]
	}()
	fn(r)
	return r.failures[start:]
}
