package sampler

import (
	"context"
	"sync"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/logger"
	"codeberg.org/mutker/devperf/internal/snapshot"
)

// tracker owns the pid set of one sampling run. Apps spawn and shed
// helper processes while under test, so the full set is re-listed on
// every refresh; in main-process-only mode the single pid is resolved
// once and kept until it vanishes.
type tracker struct {
	source   snapshot.ProcessSource
	bundle   string
	mainOnly bool

	mu      sync.Mutex
	pids    []int
	dropped map[int]bool
}

func newTracker(source snapshot.ProcessSource, bundle string, mainOnly bool) *tracker {
	return &tracker{
		source:   source,
		bundle:   bundle,
		mainOnly: mainOnly,
		dropped:  make(map[int]bool),
	}
}

// Refresh re-reads the process list and returns the tracked pids. A
// listing failure keeps the previous set; a momentarily unreadable
// process table must not empty the run.
func (t *tracker) Refresh(ctx context.Context) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mainOnly {
		if len(t.pids) == 0 {
			pid, err := t.source.MainProcess(ctx, t.bundle)
			if err != nil {
				logger.Debug().Err(err).Str("bundle", t.bundle).Msg("main process not resolved")
				return nil
			}
			t.pids = []int{pid}
		}
		return t.snapshotLocked()
	}

	procs, err := t.source.Processes(ctx, t.bundle)
	if err != nil {
		if !errors.IsCode(err, errors.ErrNoProcess) {
			logger.Debug().Err(err).Str("bundle", t.bundle).Msg("process list refresh failed")
		}
		return t.snapshotLocked()
	}

	pids := make([]int, 0, len(procs))
	for _, p := range procs {
		// a pid once reported gone stays out of subsequent polls,
		// even while the device process table still lists it
		if !t.dropped[p.PID] {
			pids = append(pids, p.PID)
		}
	}
	t.pids = pids

	return t.snapshotLocked()
}

// Current returns the tracked pids without touching the device.
func (t *tracker) Current() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snapshotLocked()
}

// Drop removes a vanished pid from the tracked set.
func (t *tracker) Drop(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropped[pid] = true
	kept := t.pids[:0]
	for _, p := range t.pids {
		if p != pid {
			kept = append(kept, p)
		}
	}
	t.pids = kept
}

func (t *tracker) snapshotLocked() []int {
	out := make([]int, len(t.pids))
	copy(out, t.pids)

	return out
}
