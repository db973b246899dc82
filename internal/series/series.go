// Package series accumulates asynchronously-landing counter snapshots
// keyed by tick index and turns adjacent complete ticks into
// per-second usage rates.
package series

import (
	"sync"

	"codeberg.org/mutker/devperf/internal/rate"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/c2h5oh/datasize"
)

// record is one tick's partially-filled snapshot set. Field writers
// for the same tick run as independent pool tasks; each field is
// written by at most one task, so presence pointers need no further
// locking beyond the store mutex.
type record struct {
	sys *snapshot.SysCPU
	app *snapshot.AppCPU
	mem *snapshot.Memory
}

func (r *record) complete() bool {
	return r != nil && r.sys != nil && r.app != nil && r.mem != nil
}

// Store is the tick-indexed snapshot accumulator for one sampling run.
type Store struct {
	mu      sync.Mutex
	records map[int]*record
	max     int
}

func NewStore() *Store {
	return &Store{records: make(map[int]*record)}
}

func (s *Store) at(idx int) *record {
	r, ok := s.records[idx]
	if !ok {
		r = &record{}
		s.records[idx] = r
	}
	if idx > s.max {
		s.max = idx
	}

	return r
}

func (s *Store) PutSystemCPU(idx int, c snapshot.SysCPU) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.at(idx).sys = &c
}

func (s *Store) PutAppCPU(idx int, c snapshot.AppCPU) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.at(idx).app = &c
}

func (s *Store) PutMemory(idx int, m snapshot.Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.at(idx).mem = &m
}

// Count returns the number of ticks that have any field landed.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

// Complete reports whether every field of tick idx has landed.
func (s *Store) Complete(idx int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.records[idx].complete()
}

// Collect walks ticks strictly by index and emits one (cpuFraction,
// memoryValue) pair per usable interval. Interval i is usable only
// when tick i-1 and tick i are both complete and the system
// total-ticks delta is positive; anything else is skipped, never
// zero-filled or interpolated. Walking by index rather than by
// completion order makes the result independent of worker scheduling.
func (s *Store) Collect(normalized bool, unit datasize.ByteSize) (cpu, mem []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpu = make([]float64, 0, s.max)
	mem = make([]float64, 0, s.max)
	for i := 1; i <= s.max; i++ {
		prev, curr := s.records[i-1], s.records[i]
		if !prev.complete() || !curr.complete() {
			continue
		}

		app, _, err := rate.CPU(*prev.sys, *curr.sys, *prev.app, *curr.app, normalized)
		if err != nil {
			// zero total delta
			continue
		}

		cpu = append(cpu, app)
		mem = append(mem, snapshot.Convert(curr.mem.TotalPSS, unit))
	}

	return cpu, mem
}
