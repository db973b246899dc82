package session

import (
	"context"

	"codeberg.org/mutker/devperf/internal/errors"
)

// HTTPCaptureOptions shape one proxy-based HTTP request capture.
type HTTPCaptureOptions struct {
	ProxyAddress string // host:port the device proxy is pointed at
	Settings     CaptureSettings
}

// CaptureHTTP routes the device's traffic through the capture proxy
// for the duration of the caller's active function. Teardown clears
// the device proxy and deactivates the capture plugin in reverse
// order of setup, so an abort mid-start never strands the device
// behind a dead proxy.
func (m *Manager) CaptureHTTP(ctx context.Context, bundle string, opts HTTPCaptureOptions, active func(ctx context.Context) error) error {
	errFactory := errors.New()

	if opts.ProxyAddress == "" {
		return errFactory.New(ErrNoProxy)
	}

	s := &Session{Kind: KindHTTPCapture, Bundle: bundle}

	return m.run(ctx, s,
		func(ctx context.Context, td *teardownStack) error {
			if err := m.agent.ConfigureCapture(ctx, opts.Settings); err != nil {
				return err
			}

			if err := m.agent.ActivateCapture(ctx, true); err != nil {
				return err
			}
			td.add(func(ctx context.Context) error {
				return m.agent.ActivateCapture(ctx, false)
			})

			if err := m.agent.SetHTTPProxy(ctx, opts.ProxyAddress); err != nil {
				return err
			}
			td.add(func(ctx context.Context) error {
				return m.agent.ClearHTTPProxy(ctx)
			})

			return nil
		},
		active,
	)
}
