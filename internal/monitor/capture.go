package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/session"
)

// DefaultLaunchSettle is how long a freshly launched app gets before
// a recording starts, so startup jank stays out of the video.
const DefaultLaunchSettle = 10 * time.Second

// RecordScreenOptions shape one screen recording flow.
type RecordScreenOptions struct {
	Session      session.RecordOptions
	LaunchSettle time.Duration
}

// RecordScreen launches the app and records its screen. The drive
// function runs while the recording is live; a nil drive just lets
// the recording window elapse.
func (m *Monitor) RecordScreen(ctx context.Context, app App, opts RecordScreenOptions, drive func(ctx context.Context) error) error {
	if m.sessions == nil {
		return errors.New().New(session.ErrNoAgent)
	}

	settle := opts.LaunchSettle
	if settle <= 0 {
		settle = DefaultLaunchSettle
	}

	if err := m.Launch(ctx, app); err != nil {
		return err
	}
	defer m.killQuietly(app)

	if err := m.sleep(ctx, settle); err != nil {
		return err
	}

	return m.sessions.Record(ctx, app.Bundle, opts.Session, func(ctx context.Context) error {
		if drive == nil {
			return nil
		}
		return drive(ctx)
	})
}

// CaptureHTTP routes the device through the capture proxy, launches
// the app inside the capture window, and runs the drive function
// against it.
func (m *Monitor) CaptureHTTP(ctx context.Context, app App, opts session.HTTPCaptureOptions, drive func(ctx context.Context) error) error {
	if m.sessions == nil {
		return errors.New().New(session.ErrNoAgent)
	}

	return m.sessions.CaptureHTTP(ctx, app.Bundle, opts, func(ctx context.Context) error {
		if err := m.Launch(ctx, app); err != nil {
			return err
		}
		defer m.killQuietly(app)

		if drive == nil {
			return nil
		}
		return drive(ctx)
	})
}

// CaptureTrafficLog records the app's per-second helper traffic log
// while the drive function exercises it.
func (m *Monitor) CaptureTrafficLog(ctx context.Context, app App, opts session.TrafficLogOptions, drive func(ctx context.Context) error) ([]session.TrafficLogEntry, error) {
	if m.sessions == nil {
		return nil, errors.New().New(session.ErrNoAgent)
	}

	return m.sessions.CaptureTrafficLog(ctx, app.Bundle, opts, func(ctx context.Context) error {
		if err := m.Launch(ctx, app); err != nil {
			return err
		}
		defer m.killQuietly(app)

		if drive == nil {
			return nil
		}
		return drive(ctx)
	})
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) error {
	timer := m.clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
