// Package sampler runs the fixed-cadence sampling loop. One control
// goroutine advances a wall-clock 1-second tick and hands every
// blocking remote read to a bounded worker pool, so inter-sample
// spacing stays close to one second regardless of device latency.
package sampler

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/logger"
	"codeberg.org/mutker/devperf/internal/series"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/benbjohnson/clock"
	"github.com/c2h5oh/datasize"
	"golang.org/x/sync/errgroup"
)

const (
	ErrNoSource  = errors.ErrorCode("sampler_no_source")
	ErrBadConfig = errors.ErrorCode("sampler_invalid_config")
)

const tickInterval = time.Second

// Config shapes one sampling run. All state derived from it lives on
// the run itself; concurrent runs do not share anything mutable.
type Config struct {
	Bundle          string // target app bundle
	Duration        int    // sampling duration in ticks
	Warmup          int    // ticks of raw data required before the callback fires
	Workers         int    // worker pool size
	MainProcessOnly bool
	Normalized      bool
	MemoryUnit      datasize.ByteSize
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 20
	}
	if c.MemoryUnit == 0 {
		c.MemoryUnit = datasize.MB
	}

	return c
}

// Result is the caller-owned outcome of a run.
type Result struct {
	StartedAt time.Time
	CPU       []float64 // per-interval app CPU fractions
	Memory    []float64 // per-tick memory values in the configured unit
	Stopped   bool      // true when the run ended before Duration ticks
}

// OnSample is invoked once per tick after the warmup window with the
// series aggregated so far. Returning false requests termination at
// the next tick boundary.
type OnSample func(tick int, cpu, memory []float64) bool

type Sampler struct {
	source snapshot.Source
	clk    clock.Clock
}

// Option customizes a Sampler.
type Option func(*Sampler)

// WithClock substitutes the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Sampler) { s.clk = clk }
}

func New(source snapshot.Source, opts ...Option) (*Sampler, error) {
	if source == nil {
		return nil, errors.New().New(ErrNoSource)
	}

	s := &Sampler{source: source, clk: clock.New()}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Run executes one sampling run. Tick 0 is dispatched immediately as
// the baseline; ticks 1..Duration follow at one-second boundaries.
// Cancellation is cooperative: ctx and the callback's verdict are
// polled once per tick and take effect at the next boundary, never
// mid-flight. In-flight tasks are always drained before Run returns.
func (s *Sampler) Run(ctx context.Context, cfg Config, onSample OnSample) (*Result, error) {
	errFactory := errors.New()

	cfg = cfg.withDefaults()
	if cfg.Duration <= 0 {
		return nil, errFactory.WithData(ErrBadConfig, cfg.Duration)
	}

	run := &run{
		source:  s.source,
		cfg:     cfg,
		store:   series.NewStore(),
		tracker: newTracker(s.source, cfg.Bundle, cfg.MainProcessOnly),
	}
	run.pool.SetLimit(cfg.Workers)

	result := &Result{StartedAt: s.clk.Now()}

	ticker := s.clk.Ticker(tickInterval)
	defer ticker.Stop()

	run.dispatch(ctx, 0, onSample)

	for tick := 1; tick <= cfg.Duration; tick++ {
		select {
		case <-ctx.Done():
			result.Stopped = true
		case <-ticker.C:
		}
		if result.Stopped || run.stop.Load() {
			result.Stopped = true
			break
		}

		run.dispatch(ctx, tick, onSample)
	}

	// Final drain: wait out the in-flight tasks of the last tick
	// before reading the store one last time.
	if err := run.pool.Wait(); err != nil {
		return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
	}

	result.CPU, result.Memory = run.store.Collect(cfg.Normalized, cfg.MemoryUnit)
	result.Stopped = result.Stopped || run.stop.Load()

	return result, nil
}

// run is the per-invocation state of one sampling pass.
type run struct {
	source snapshot.Source
	cfg    Config

	store   *series.Store
	tracker *tracker
	pool    errgroup.Group
	stop    atomic.Bool
}

// dispatch submits the tick's task set without blocking the control
// goroutine. A saturated pool drops the tick's samples; gaps shorten
// the output series rather than delaying the cadence.
func (r *run) dispatch(ctx context.Context, tick int, onSample OnSample) {
	if !r.pool.TryGo(func() error { r.fetchCPU(ctx, tick); return nil }) {
		logger.Warn().Int("tick", tick).Msg("worker pool saturated, dropping cpu sample")
	}
	if !r.pool.TryGo(func() error { r.fetchMemory(ctx, tick); return nil }) {
		logger.Warn().Int("tick", tick).Msg("worker pool saturated, dropping memory sample")
	}
	if !r.pool.TryGo(func() error { r.aggregate(tick, onSample); return nil }) {
		logger.Warn().Int("tick", tick).Msg("worker pool saturated, dropping aggregation")
	}
}

func (r *run) fetchCPU(ctx context.Context, tick int) {
	pids := r.tracker.Refresh(ctx)

	sys, err := r.source.SystemCPU(ctx)
	if err != nil {
		// retry once, else leave the field unset for this tick
		if sys, err = r.source.SystemCPU(ctx); err != nil {
			logger.Debug().Err(err).Int("tick", tick).Msg("system cpu fetch failed")
		}
	}
	if err == nil {
		r.store.PutSystemCPU(tick, sys)
	}

	app, err := r.source.AppCPU(ctx, pids)
	if err != nil {
		if pid, gone := snapshot.GonePID(err); gone {
			logger.Warn().Int("pid", pid).Msg("process gone, dropping from tracked set")
			r.tracker.Drop(pid)
		} else {
			logger.Debug().Err(err).Int("tick", tick).Msg("app cpu fetch failed")
		}
		return
	}
	r.store.PutAppCPU(tick, app)
}

// fetchMemory reads the process-set memory, retrying once on a
// transient empty reading. A pid reported gone on both attempts is
// dropped from the tracked set.
func (r *run) fetchMemory(ctx context.Context, tick int) {
	pids := r.tracker.Current()

	mem, err := r.source.Memory(ctx, pids)
	if err == nil && mem.Empty() {
		err = errors.New().New(errors.ErrTransientFetch)
	}
	if err != nil {
		firstGone, _ := snapshot.GonePID(err)

		mem, err = r.source.Memory(ctx, pids)
		if err == nil && mem.Empty() {
			err = errors.New().New(errors.ErrTransientFetch)
		}
		if err != nil {
			if pid, gone := snapshot.GonePID(err); gone && pid == firstGone {
				logger.Warn().Int("pid", pid).Msg("process gone, dropping from tracked set")
				r.tracker.Drop(pid)
			}
			logger.Debug().Err(err).Int("tick", tick).Msg("memory fetch failed twice, leaving field unset")
			return
		}
	}

	r.store.PutMemory(tick, mem)
}

func (r *run) aggregate(tick int, onSample OnSample) {
	if onSample == nil {
		return
	}
	if r.store.Count() < r.cfg.Warmup {
		return
	}

	cpu, mem := r.store.Collect(r.cfg.Normalized, r.cfg.MemoryUnit)
	if !onSample(tick, cpu, mem) {
		r.stop.Store(true)
	}
}
