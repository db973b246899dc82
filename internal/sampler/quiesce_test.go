package sampler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/sampler"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/benbjohnson/clock"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trafficScript serves cumulative counters whose per-second deltas
// follow the scripted sequence, repeating the final value.
type trafficScript struct {
	mu     sync.Mutex
	deltas []datasize.ByteSize
	call   int
	cum    datasize.ByteSize
}

func (s *trafficScript) next() snapshot.Traffic {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.call > 0 {
		i := s.call - 1
		if i >= len(s.deltas) {
			i = len(s.deltas) - 1
		}
		s.cum += s.deltas[i]
	}
	s.call++

	return snapshot.Traffic{Rx: s.cum, Tx: 0}
}

func (s *trafficScript) DeviceTraffic(context.Context) (snapshot.Traffic, error) {
	return s.next(), nil
}

func (s *trafficScript) ProcessTraffic(context.Context, int) (snapshot.Traffic, error) {
	return s.next(), nil
}

type waitOutcome struct {
	ok  bool
	err error
}

// driveWait advances the mock clock one second at a time until Wait
// returns, reporting how many ticks it took.
func driveWait(t *testing.T, mock *clock.Mock, done <-chan waitOutcome) (waitOutcome, int) {
	t.Helper()

	ticks := 0
	for i := 0; i < 100; i++ {
		time.Sleep(5 * time.Millisecond)
		select {
		case out := <-done:
			return out, ticks
		default:
			mock.Add(time.Second)
			ticks++
		}
	}

	t.Fatal("quiescence wait did not finish")
	return waitOutcome{}, 0
}

func startWait(t *testing.T, src snapshot.TrafficSource, mock *clock.Mock, maxWait time.Duration, th sampler.Thresholds, minConsecutive int) (*sampler.Detector, <-chan waitOutcome) {
	t.Helper()

	d, err := sampler.NewDetector(src, 0, sampler.WithDetectorClock(mock))
	require.NoError(t, err)

	done := make(chan waitOutcome, 1)
	go func() {
		ok, err := d.Wait(context.Background(), maxWait, th, minConsecutive)
		done <- waitOutcome{ok, err}
	}()
	time.Sleep(5 * time.Millisecond)

	return d, done
}

func TestWaitDetectsQuiescence(t *testing.T) {
	src := &trafficScript{deltas: []datasize.ByteSize{5, 2, 0, 0, 0, 0}}
	mock := clock.NewMock()
	th := sampler.Thresholds{Rx: 1, Tx: 1}

	d, done := startWait(t, src, mock, 10*time.Second, th, 3)
	out, ticks := driveWait(t, mock, done)

	require.NoError(t, out.err)
	assert.True(t, out.ok)
	assert.Equal(t, 6, ticks, "three consecutive quiet deltas are confirmed on the sixth sampling instant")
	assert.Len(t, d.History(), 5)
}

func TestWaitTimesOut(t *testing.T) {
	src := &trafficScript{deltas: []datasize.ByteSize{512}}
	mock := clock.NewMock()
	th := sampler.Thresholds{Rx: 1, Tx: 1}

	d, done := startWait(t, src, mock, 10*time.Second, th, 3)
	out, _ := driveWait(t, mock, done)

	require.NoError(t, out.err, "an unmet window is an outcome, not an error")
	assert.False(t, out.ok)
	assert.Len(t, d.History(), 10, "full history is retained for diagnosis")
}

// brokenAfterBaseline serves the baseline read, then fails every
// subsequent fetch.
type brokenAfterBaseline struct {
	mu    sync.Mutex
	calls int
}

func (s *brokenAfterBaseline) next() (snapshot.Traffic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls == 1 {
		return snapshot.Traffic{}, nil
	}

	return snapshot.Traffic{}, errors.New().New(errors.ErrTransientFetch)
}

func (s *brokenAfterBaseline) DeviceTraffic(context.Context) (snapshot.Traffic, error) {
	return s.next()
}

func (s *brokenAfterBaseline) ProcessTraffic(context.Context, int) (snapshot.Traffic, error) {
	return s.next()
}

func TestWaitTimesOutWhenFetchesKeepFailing(t *testing.T) {
	src := &brokenAfterBaseline{}
	mock := clock.NewMock()
	th := sampler.Thresholds{Rx: 1, Tx: 1}

	d, done := startWait(t, src, mock, 10*time.Second, th, 3)
	out, ticks := driveWait(t, mock, done)

	require.NoError(t, out.err, "failed reads delay success, never the deadline")
	assert.False(t, out.ok)
	assert.Equal(t, 10, ticks)
	assert.Len(t, d.History(), 10)
}

func TestWaitNeverSucceedsBeforeMinConsecutive(t *testing.T) {
	src := &trafficScript{deltas: []datasize.ByteSize{0}}
	mock := clock.NewMock()
	th := sampler.Thresholds{Rx: 1, Tx: 1}

	_, done := startWait(t, src, mock, 30*time.Second, th, 3)
	out, ticks := driveWait(t, mock, done)

	require.NoError(t, out.err)
	assert.True(t, out.ok)
	assert.GreaterOrEqual(t, ticks, 3+1, "at least minConsecutive samples must exist before success")
}

func TestWaitResetOnViolation(t *testing.T) {
	src := &trafficScript{deltas: []datasize.ByteSize{0, 0, 512, 0, 0, 0}}
	mock := clock.NewMock()
	th := sampler.Thresholds{Rx: 1, Tx: 1}

	_, done := startWait(t, src, mock, 20*time.Second, th, 3)
	out, ticks := driveWait(t, mock, done)

	require.NoError(t, out.err)
	assert.True(t, out.ok)
	assert.Equal(t, 7, ticks, "a violating sample resets the quiet run")
}

func TestWaitRejectsBadWindow(t *testing.T) {
	src := &trafficScript{deltas: []datasize.ByteSize{0}}
	d, err := sampler.NewDetector(src, 0)
	require.NoError(t, err)

	_, err = d.Wait(context.Background(), time.Second, sampler.Thresholds{Rx: 1, Tx: 1}, 0)
	assert.Error(t, err)
}
