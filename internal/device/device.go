// Package device reads performance counters from a remote device
// through its base command capability. It is the concrete source
// behind the sampling pipeline; everything above it consumes the
// snapshot interfaces and never sees a raw command.
package device

import (
	"sync"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/shell"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/benbjohnson/clock"
)

// Source implements snapshot.Source over a shell.Runner.
type Source struct {
	runner shell.Runner
	clk    clock.Clock

	mu            sync.Mutex
	cpuCount      int
	scalingMaxOK  bool
	maxFreqTotal  uint64
	maxFreqCached bool
}

// Option customizes a Source.
type Option func(*Source)

// WithClock substitutes the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Source) { s.clk = clk }
}

func New(runner shell.Runner, opts ...Option) (*Source, error) {
	if runner == nil {
		return nil, errors.New().New(ErrNoRunner)
	}

	s := &Source{
		runner:       runner,
		clk:          clock.New(),
		scalingMaxOK: true,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

var _ snapshot.Source = (*Source)(nil)
