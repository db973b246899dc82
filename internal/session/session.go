// Package session runs scoped capture sessions against the device's
// companion tooling. Whatever a session mutates on the remote side is
// restored by a teardown that runs exactly once per start, on normal
// completion, on error, and on panic during the active phase.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/logger"
	"github.com/benbjohnson/clock"
)

// Session is one bounded interaction with a capture capability.
type Session struct {
	Kind      Kind
	Bundle    string
	StartedAt time.Time

	state atomic.Int32
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) transition(to State) {
	from := State(s.state.Swap(int32(to)))
	logger.Debug().
		Str("kind", string(s.Kind)).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("session state")
}

// teardownStack collects undo steps as the start phase mutates remote
// state, so an abort mid-start restores only what was touched. Steps
// run in reverse order, exactly once.
type teardownStack struct {
	mu   sync.Mutex
	fns  []func(ctx context.Context) error
	done bool
}

func (t *teardownStack) add(fn func(ctx context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fns = append(t.fns, fn)
}

func (t *teardownStack) run(ctx context.Context) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	fns := t.fns
	t.mu.Unlock()

	var firstErr error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Manager orchestrates capture sessions over one remote agent. The
// remote state a session mutates (proxy address, capture flags) is
// device-wide; callers run at most one session at a time.
type Manager struct {
	agent Agent
	clk   clock.Clock
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithManagerClock substitutes the wall clock, for tests.
func WithManagerClock(clk clock.Clock) ManagerOption {
	return func(m *Manager) { m.clk = clk }
}

func NewManager(agent Agent, opts ...ManagerOption) (*Manager, error) {
	if agent == nil {
		return nil, errors.New().New(ErrNoAgent)
	}

	m := &Manager{agent: agent, clk: clock.New()}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// run drives one session through its lifecycle. start registers undo
// steps on td as it mutates remote state; a start failure aborts
// before Active and unwinds only those steps. The deferred teardown
// also fires when active panics, and still reaches the device after
// ctx is cancelled. A teardown failure is logged and reported only
// when no in-flight error would be masked by it.
func (m *Manager) run(ctx context.Context, s *Session, start func(ctx context.Context, td *teardownStack) error, active func(ctx context.Context) error) (err error) {
	errFactory := errors.New()

	if s.State() != StateIdle {
		return errFactory.WithData(ErrWrongState, s.State().String())
	}

	s.StartedAt = m.clk.Now()
	s.transition(StateStarting)

	td := &teardownStack{}
	defer func() {
		s.transition(StateStopping)
		if terr := td.run(context.WithoutCancel(ctx)); terr != nil {
			logger.Error().Err(terr).Str("kind", string(s.Kind)).Msg("session teardown failed")
			if err == nil {
				err = terr
			}
		}
		if err != nil {
			s.transition(StateFailed)
		} else {
			s.transition(StateIdle)
		}
	}()

	if err = start(ctx, td); err != nil {
		return errFactory.Wrap(ErrConfigure, err)
	}

	s.transition(StateActive)

	return active(ctx)
}
