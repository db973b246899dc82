package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/logger"
	"codeberg.org/mutker/devperf/internal/sampler"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/c2h5oh/datasize"
)

// ErrNeverQuiet reports an app that kept producing traffic for the
// whole settle window, so no clean measurement baseline exists.
const ErrNeverQuiet = errors.ErrorCode("monitor_app_never_quiet")

// TrafficOptions shape one traffic measurement.
type TrafficOptions struct {
	// SettleWait bounds the wait for the app's startup traffic to
	// die down before measuring begins.
	SettleWait time.Duration
	// QuietThresholds are the per-second byte limits under which the
	// app counts as settled.
	QuietThresholds sampler.Thresholds
	// MinQuietSeconds is how many consecutive quiet seconds count as
	// settled.
	MinQuietSeconds int
	// ListenSeconds is the measurement length.
	ListenSeconds int
}

// TrafficReport carries per-second traffic deltas of the app's main
// process, in the configured unit.
type TrafficReport struct {
	StartedAt time.Time
	Down      []float64 // received per second, KB
	Up        []float64 // sent per second, KB
}

// MeasureTraffic launches the app, waits for its startup traffic to
// settle, and then records the main process's per-second traffic
// deltas for the configured window.
func (m *Monitor) MeasureTraffic(ctx context.Context, app App, opts TrafficOptions) (*TrafficReport, error) {
	errFactory := errors.New()

	if opts.ListenSeconds <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, "listen seconds must be positive")
	}

	if err := m.Kill(ctx, app); err != nil {
		return nil, err
	}
	if err := m.Launch(ctx, app); err != nil {
		return nil, err
	}
	defer m.killQuietly(app)

	pid, err := m.awaitMainPID(ctx, app.Bundle, DefaultMainPIDWait)
	if err != nil {
		return nil, err
	}

	det, err := sampler.NewDetector(m.source, pid, sampler.WithDetectorClock(m.clk))
	if err != nil {
		return nil, err
	}

	settled, err := det.Wait(ctx, opts.SettleWait, opts.QuietThresholds, opts.MinQuietSeconds)
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, errFactory.WithData(ErrNeverQuiet, app.Bundle)
	}

	report := &TrafficReport{StartedAt: m.clk.Now()}

	// the main process's counters stand for the whole app; they are
	// cumulative and survive child process churn
	prev, err := m.source.ProcessTraffic(ctx, pid)
	if err != nil {
		return nil, err
	}

	ticker := m.clk.Ticker(time.Second)
	defer ticker.Stop()

	for i := 0; i < opts.ListenSeconds; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		cur, err := m.source.ProcessTraffic(ctx, pid)
		if err != nil {
			return nil, err
		}

		delta := cur.Delta(prev)
		prev = cur

		report.Down = append(report.Down, snapshot.Convert(delta.Rx, datasize.KB))
		report.Up = append(report.Up, snapshot.Convert(delta.Tx, datasize.KB))
		logger.Debug().
			Int("second", i).
			Float64("down_kb", report.Down[i]).
			Float64("up_kb", report.Up[i]).
			Msg("traffic sample")
	}

	return report, nil
}
