package session

import (
	"context"
	"strconv"
	"strings"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/logger"
)

// DefaultTrafficLogPath is where the helper app writes its per-second
// traffic statistics on the device.
const DefaultTrafficLogPath = "/sdcard/tmp/mm.log"

// TrafficLogEntry is one second of helper-reported traffic, in bytes.
type TrafficLogEntry struct {
	Second int
	Down   uint64
	Up     uint64
}

// ParseTrafficLog decodes the helper log: one line per second,
// tab-separated second, download bytes, upload bytes.
func ParseTrafficLog(raw string) ([]TrafficLogEntry, error) {
	errFactory := errors.New()

	var out []TrafficLogEntry
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			return nil, errFactory.WithData(ErrBadLogLine, line)
		}

		sec, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, errFactory.Wrap(ErrBadLogLine, err)
		}
		down, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, errFactory.Wrap(ErrBadLogLine, err)
		}
		up, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return nil, errFactory.Wrap(ErrBadLogLine, err)
		}

		out = append(out, TrafficLogEntry{Second: sec, Down: down, Up: up})
	}

	return out, nil
}

// TrafficLogOptions shape one traffic logging session.
type TrafficLogOptions struct {
	Path string // device path for the helper log, defaulted when empty
}

// CaptureTrafficLog runs a helper-based traffic logging session around
// the caller's active function and returns the per-second entries the
// helper collected. Teardown stops the helper capture, deletes the
// device-side log, and force-stops the helper, whatever path left the
// active phase.
func (m *Manager) CaptureTrafficLog(ctx context.Context, bundle string, opts TrafficLogOptions, active func(ctx context.Context) error) ([]TrafficLogEntry, error) {
	errFactory := errors.New()

	path := opts.Path
	if path == "" {
		path = DefaultTrafficLogPath
	}

	s := &Session{Kind: KindTrafficLog, Bundle: bundle}

	var entries []TrafficLogEntry
	err := m.run(ctx, s,
		func(ctx context.Context, td *teardownStack) error {
			// a stale log from an aborted earlier run must not leak
			// into this session's numbers
			if err := m.agent.DeleteTrafficLog(ctx, path); err != nil {
				logger.Debug().Err(err).Str("path", path).Msg("no stale traffic log to delete")
			}

			if err := m.agent.StartTrafficLog(ctx, bundle, path); err != nil {
				return err
			}
			td.add(func(ctx context.Context) error {
				return m.agent.KillHelper(ctx)
			})
			td.add(func(ctx context.Context) error {
				return m.agent.DeleteTrafficLog(ctx, path)
			})
			td.add(func(ctx context.Context) error {
				if err := m.agent.StopTrafficLog(ctx); err != nil {
					return err
				}

				raw, err := m.agent.ReadTrafficLog(ctx, path)
				if err != nil {
					return errFactory.Wrap(ErrLogUnreadable, err)
				}

				entries, err = ParseTrafficLog(raw)
				return err
			})

			return nil
		},
		active,
	)
	if err != nil {
		return nil, err
	}

	return entries, nil
}
