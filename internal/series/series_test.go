package series_test

import (
	"testing"

	"codeberg.org/mutker/devperf/internal/series"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sysAt(total uint64) snapshot.SysCPU {
	return snapshot.SysCPU{User: total / 4, Kernel: total / 8, Total: total, FreqRatio: 1.0}
}

func appAt(user, kernel uint64) snapshot.AppCPU {
	return snapshot.AppCPU{User: user, Kernel: kernel}
}

func memOf(b datasize.ByteSize) snapshot.Memory {
	return snapshot.Memory{TotalPSS: b}
}

func TestCollect(t *testing.T) {
	s := series.NewStore()
	s.PutSystemCPU(0, sysAt(1000))
	s.PutAppCPU(0, appAt(10, 5))
	s.PutMemory(0, memOf(100*datasize.MB))

	s.PutSystemCPU(1, sysAt(1100))
	s.PutAppCPU(1, appAt(15, 9))
	s.PutMemory(1, memOf(150*datasize.MB))

	cpu, mem := s.Collect(false, datasize.MB)
	require.Len(t, cpu, 1)
	require.Len(t, mem, 1)
	assert.InDelta(t, 0.09, cpu[0], 1e-9)
	assert.InDelta(t, 150.0, mem[0], 1e-9)
}

func TestCollectSkipsIncompletePredecessor(t *testing.T) {
	s := series.NewStore()
	// Tick 0 never gets its memory field: its async fetch failed.
	s.PutSystemCPU(0, sysAt(1000))
	s.PutAppCPU(0, appAt(0, 0))

	s.PutSystemCPU(1, sysAt(1100))
	s.PutAppCPU(1, appAt(4, 2))
	s.PutMemory(1, memOf(80*datasize.MB))

	s.PutSystemCPU(2, sysAt(1200))
	s.PutAppCPU(2, appAt(8, 4))
	s.PutMemory(2, memOf(90*datasize.MB))

	cpu, mem := s.Collect(false, datasize.MB)
	// Interval 1 is skipped because tick 0 is incomplete; interval 2
	// still lands. No zero-filling for the gap.
	require.Len(t, cpu, 1)
	assert.InDelta(t, 0.06, cpu[0], 1e-9)
	assert.Equal(t, []float64{90}, mem)
}

func TestCollectSkipsZeroTotalDelta(t *testing.T) {
	s := series.NewStore()
	for i, total := range []uint64{1000, 1000, 1100} {
		s.PutSystemCPU(i, sysAt(total))
		s.PutAppCPU(i, appAt(uint64(i), 0))
		s.PutMemory(i, memOf(10*datasize.MB))
	}

	cpu, _ := s.Collect(false, datasize.MB)
	// Interval 1 has a zero total delta and contributes nothing.
	require.Len(t, cpu, 1)
	assert.InDelta(t, 0.01, cpu[0], 1e-9)
}

// TestCollectOrderIndependent verifies that any arrival order of the
// three per-tick field writes yields the same aggregate.
func TestCollectOrderIndependent(t *testing.T) {
	type write func(s *series.Store)
	writes := []write{
		func(s *series.Store) { s.PutSystemCPU(1, sysAt(1100)) },
		func(s *series.Store) { s.PutAppCPU(1, appAt(15, 9)) },
		func(s *series.Store) { s.PutMemory(1, memOf(64*datasize.MB)) },
	}

	perms := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, p := range perms {
		s := series.NewStore()
		s.PutSystemCPU(0, sysAt(1000))
		s.PutAppCPU(0, appAt(10, 5))
		s.PutMemory(0, memOf(60*datasize.MB))

		for _, i := range p {
			writes[i](s)
		}

		cpu, mem := s.Collect(false, datasize.MB)
		require.Len(t, cpu, 1, "permutation %v", p)
		assert.InDelta(t, 0.09, cpu[0], 1e-9, "permutation %v", p)
		assert.InDelta(t, 64.0, mem[0], 1e-9, "permutation %v", p)
	}
}

func TestCompleteAndCount(t *testing.T) {
	s := series.NewStore()
	assert.Equal(t, 0, s.Count())
	assert.False(t, s.Complete(0))

	s.PutSystemCPU(0, sysAt(1000))
	assert.Equal(t, 1, s.Count())
	assert.False(t, s.Complete(0))

	s.PutAppCPU(0, appAt(0, 0))
	s.PutMemory(0, memOf(0))
	assert.True(t, s.Complete(0))
}
