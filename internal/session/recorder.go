package session

import (
	"context"
	"time"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/logger"
)

// RecorderState tracks the screen recorder's own machine:
// Idle → (apply remote config) → Armed → (issue start) → Recording →
// (auto-stop timer or manual stop) → Idle.
type RecorderState int32

const (
	RecorderIdle RecorderState = iota
	RecorderArmed
	RecorderRecording
)

// Recorder drives the on-device screen recorder. Whether a recording
// ends by the remote auto-stop timer or by an explicit Stop is fixed
// at arm time; the two are mutually exclusive.
type Recorder struct {
	agent    RecorderAgent
	state    RecorderState
	autoStop bool
}

func NewRecorder(agent RecorderAgent) (*Recorder, error) {
	if agent == nil {
		return nil, errors.New().New(ErrNoAgent)
	}

	return &Recorder{agent: agent}, nil
}

func (r *Recorder) State() RecorderState {
	return r.state
}

// Arm pushes the recording settings to the device. The AutoStop flag
// decides, once and for all for this session, how the recording ends.
func (r *Recorder) Arm(ctx context.Context, settings RecorderSettings) error {
	errFactory := errors.New()

	if r.state != RecorderIdle {
		return errFactory.WithData(ErrWrongState, "recorder not idle")
	}
	if err := r.agent.ApplyRecorderSettings(ctx, settings); err != nil {
		return errFactory.Wrap(ErrConfigure, err)
	}

	r.autoStop = settings.AutoStop
	r.state = RecorderArmed

	return nil
}

// Start begins recording under the given key. Keys must be unique per
// recording; they identify the video for later upload.
func (r *Recorder) Start(ctx context.Context, key string) error {
	errFactory := errors.New()

	if r.state != RecorderArmed {
		return errFactory.WithData(ErrWrongState, "recorder not armed")
	}
	if err := r.agent.StartRecording(ctx, key); err != nil {
		return errFactory.Wrap(ErrConfigure, err)
	}

	r.state = RecorderRecording

	return nil
}

// Stop ends a manually-stopped recording. Calling it on an auto-stop
// session is a state error: the remote timer owns the stop there.
func (r *Recorder) Stop(ctx context.Context) error {
	errFactory := errors.New()

	if r.state != RecorderRecording {
		return errFactory.WithData(ErrWrongState, "recorder not recording")
	}
	if r.autoStop {
		return errFactory.New(ErrManualStop)
	}
	if err := r.agent.StopRecording(ctx); err != nil {
		return errFactory.Wrap(ErrConfigure, err)
	}

	r.state = RecorderIdle

	return nil
}

// settle returns the recorder to Idle after a remote auto-stop fired.
func (r *Recorder) settle() {
	r.state = RecorderIdle
}

// RecordOptions shape one screen recording session.
type RecordOptions struct {
	Key      string
	Settings RecorderSettings
	Upload   *UploadTarget // optional; configured before arming

	// RecordFor bounds an auto-stop session; ignored for manual stop.
	RecordFor time.Duration
}

// Record runs a screen recording session around the caller's active
// function. With auto-stop armed, the active phase is followed by a
// wait of RecordFor so the remote timer can fire; with manual stop,
// teardown issues the stop command. Either way the helper is left in
// a non-recording state when Record returns.
func (m *Manager) Record(ctx context.Context, bundle string, opts RecordOptions, active func(ctx context.Context) error) error {
	s := &Session{Kind: KindScreenRecording, Bundle: bundle}

	rec, err := NewRecorder(m.agent)
	if err != nil {
		return err
	}

	return m.run(ctx, s,
		func(ctx context.Context, td *teardownStack) error {
			if opts.Upload != nil {
				if err := m.agent.ConfigureUpload(ctx, *opts.Upload); err != nil {
					return err
				}
			}

			if err := rec.Arm(ctx, opts.Settings); err != nil {
				return err
			}

			if err := rec.Start(ctx, opts.Key); err != nil {
				return err
			}
			td.add(func(ctx context.Context) error {
				if rec.State() != RecorderRecording {
					return nil
				}
				if opts.Settings.AutoStop {
					// the remote timer stops the recording; just
					// account for it locally
					rec.settle()
					return nil
				}
				return rec.Stop(ctx)
			})

			return nil
		},
		func(ctx context.Context) error {
			if err := active(ctx); err != nil {
				return err
			}
			if opts.Settings.AutoStop && opts.RecordFor > 0 {
				logger.Debug().Dur("wait", opts.RecordFor).Msg("waiting for remote auto-stop")
				return m.sleep(ctx, opts.RecordFor)
			}
			return nil
		},
	)
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	timer := m.clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
