package sampler

import (
	"context"
	"time"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/logger"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/benbjohnson/clock"
	"github.com/c2h5oh/datasize"
)

const ErrNoTrafficSource = errors.ErrorCode("sampler_no_traffic_source")

// Thresholds are the per-second byte limits under which traffic
// counts as quiet. A sample is quiet only when it is below both.
type Thresholds struct {
	Rx datasize.ByteSize
	Tx datasize.ByteSize
}

// Detector waits for network traffic to settle. It samples the
// cumulative counters once per second, keeps the per-second deltas,
// and succeeds once the trailing run of quiet samples is long enough.
// Used for both app-level (pid > 0) and device-level (pid == 0) idle
// detection before a capture starts.
type Detector struct {
	source  snapshot.TrafficSource
	pid     int
	clk     clock.Clock
	history []snapshot.Traffic
}

// DetectorOption customizes a Detector.
type DetectorOption func(*Detector)

// WithDetectorClock substitutes the wall clock, for tests.
func WithDetectorClock(clk clock.Clock) DetectorOption {
	return func(d *Detector) { d.clk = clk }
}

func NewDetector(source snapshot.TrafficSource, pid int, opts ...DetectorOption) (*Detector, error) {
	if source == nil {
		return nil, errors.New().New(ErrNoTrafficSource)
	}

	d := &Detector{source: source, pid: pid, clk: clock.New()}
	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Wait blocks until the most recent minConsecutive per-second deltas
// are all below both thresholds, returning true, or until maxWait
// elapses, returning false. A timeout is an outcome, not an error;
// the collected history stays available for diagnosis either way.
// Success is impossible before minConsecutive samples exist.
func (d *Detector) Wait(ctx context.Context, maxWait time.Duration, th Thresholds, minConsecutive int) (bool, error) {
	errFactory := errors.New()

	if minConsecutive <= 0 {
		return false, errFactory.WithData(errors.ErrInvalidArgument, minConsecutive)
	}

	d.history = d.history[:0]

	baseline, err := d.fetch(ctx)
	if err != nil {
		return false, errFactory.Wrap(errors.ErrTransientFetch, err)
	}

	deadline := d.clk.Now().Add(maxWait)
	ticker := d.clk.Ticker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, errFactory.Wrap(errors.ErrTimeout, ctx.Err())
		case <-ticker.C:
		}

		// The verdict is read at the tick boundary, over the samples
		// already collected. Success therefore lands on the tick after
		// the quiet run completes, never mid-sample.
		if d.trailingQuiet(th) >= minConsecutive {
			return true, nil
		}

		current, err := d.fetch(ctx)
		if err != nil {
			// a failed read breaks the quiet run but not the wait
			logger.Debug().Err(err).Msg("traffic fetch failed, resetting quiet run")
			d.history = append(d.history, snapshot.Traffic{Rx: th.Rx, Tx: th.Tx})
		} else {
			delta := current.Delta(baseline)
			baseline = current
			d.history = append(d.history, delta)
		}

		// The deadline holds whether or not this tick's read succeeded.
		if !d.clk.Now().Before(deadline) {
			logger.Debug().
				Int("samples", len(d.history)).
				Msg("quiescence window unmet before deadline")
			return false, nil
		}
	}
}

// trailingQuiet counts how many of the most recent samples are below
// both thresholds.
func (d *Detector) trailingQuiet(th Thresholds) int {
	n := 0
	for i := len(d.history) - 1; i >= 0; i-- {
		if d.history[i].Rx >= th.Rx || d.history[i].Tx >= th.Tx {
			break
		}
		n++
	}

	return n
}

// History returns the per-second traffic deltas collected by the most
// recent Wait, for diagnosis after a timeout.
func (d *Detector) History() []snapshot.Traffic {
	out := make([]snapshot.Traffic, len(d.history))
	copy(out, d.history)

	return out
}

func (d *Detector) fetch(ctx context.Context) (snapshot.Traffic, error) {
	if d.pid > 0 {
		return d.source.ProcessTraffic(ctx, d.pid)
	}

	return d.source.DeviceTraffic(ctx)
}
