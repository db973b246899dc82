// Package monitor ties the counter source, the sampler, and the
// capture sessions together into the measurement flows a test run
// drives: launch the app, measure, and always leave the device
// without the app running.
package monitor

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/logger"
	"codeberg.org/mutker/devperf/internal/sampler"
	"codeberg.org/mutker/devperf/internal/session"
	"codeberg.org/mutker/devperf/internal/shell"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/benbjohnson/clock"
)

const (
	pidPollInterval = 100 * time.Millisecond

	// DefaultMainPIDWait bounds how long a launched app may take to
	// show up in the process table.
	DefaultMainPIDWait = 30 * time.Second
)

// App identifies the application under test.
type App struct {
	Bundle   string
	Activity string // optional; empty launches through the home launcher
}

// Monitor runs measurement flows against one device.
type Monitor struct {
	runner   shell.Runner
	source   snapshot.Source
	sampler  *sampler.Sampler
	sessions *session.Manager
	clk      clock.Clock
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithMonitorClock substitutes the wall clock, for tests.
func WithMonitorClock(clk clock.Clock) Option {
	return func(m *Monitor) { m.clk = clk }
}

func New(runner shell.Runner, source snapshot.Source, sessions *session.Manager, opts ...Option) (*Monitor, error) {
	if runner == nil || source == nil {
		return nil, errors.New().New(errors.ErrInvalidArgument)
	}

	m := &Monitor{
		runner:   runner,
		source:   source,
		sessions: sessions,
		clk:      clock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}

	smp, err := sampler.New(source, sampler.WithClock(m.clk))
	if err != nil {
		return nil, err
	}
	m.sampler = smp

	return m, nil
}

// Launch starts the app, either through its activity or through the
// home launcher when none is configured.
func (m *Monitor) Launch(ctx context.Context, app App) error {
	cmd := fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", app.Bundle)
	if app.Activity != "" {
		cmd = fmt.Sprintf("am start %s/%s", app.Bundle, app.Activity)
	}

	_, err := m.runner.Run(ctx, cmd)

	return err
}

// Kill force-stops the app.
func (m *Monitor) Kill(ctx context.Context, app App) error {
	_, err := m.runner.Run(ctx, "am force-stop "+app.Bundle)

	return err
}

// killQuietly is the post-measurement cleanup; a failure here must
// not overwrite the measurement outcome.
func (m *Monitor) killQuietly(app App) {
	if err := m.Kill(context.WithoutCancel(context.Background()), app); err != nil {
		logger.Warn().Err(err).Str("bundle", app.Bundle).Msg("failed to stop app after measurement")
	}
}

// awaitMainPID polls the process table until the app's main process
// appears.
func (m *Monitor) awaitMainPID(ctx context.Context, bundle string, maxWait time.Duration) (int, error) {
	deadline := m.clk.Now().Add(maxWait)
	ticker := m.clk.Ticker(pidPollInterval)
	defer ticker.Stop()

	for {
		pid, err := m.source.MainProcess(ctx, bundle)
		if err == nil {
			return pid, nil
		}
		if !errors.IsCode(err, errors.ErrNoProcess) {
			return 0, err
		}
		if !m.clk.Now().Before(deadline) {
			return 0, errors.New().WithData(errors.ErrTimeout, bundle)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// MeasureCPUMemory launches the app cold and samples its CPU and
// memory for the configured duration. The app is stopped when the
// run ends, whatever way it ends.
func (m *Monitor) MeasureCPUMemory(ctx context.Context, app App, cfg sampler.Config, onSample sampler.OnSample) (*sampler.Result, error) {
	cfg.Bundle = app.Bundle

	if err := m.Kill(ctx, app); err != nil {
		return nil, err
	}
	if err := m.Launch(ctx, app); err != nil {
		return nil, err
	}
	defer m.killQuietly(app)

	if _, err := m.awaitMainPID(ctx, app.Bundle, DefaultMainPIDWait); err != nil {
		return nil, err
	}

	return m.sampler.Run(ctx, cfg, onSample)
}
