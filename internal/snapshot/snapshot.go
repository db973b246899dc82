package snapshot

import (
	"math"
	"time"

	"github.com/c2h5oh/datasize"
)

// SysCPU is a point-in-time reading of the system-wide CPU counters,
// cumulative since boot. Times are in jiffies.
type SysCPU struct {
	User       uint64
	Kernel     uint64
	Total      uint64
	FreqRatio  float64 // sum of per-core current frequency over sum of per-core max frequency
	CapturedAt time.Time
}

// AppCPU is the summed CPU time of a tracked process set, cumulative
// since process start. Times are in jiffies.
type AppCPU struct {
	User       uint64
	Kernel     uint64
	CapturedAt time.Time
}

// Memory is a point-in-time resident memory reading for a process
// set. Memory has no delta form; each reading stands on its own.
type Memory struct {
	TotalPSS   datasize.ByteSize
	JavaHeap   datasize.ByteSize
	NativeHeap datasize.ByteSize
	CapturedAt time.Time
	Cost       time.Duration
}

// Empty reports whether the reading carries no data, which marks a
// transient parse failure on the device side.
func (m Memory) Empty() bool {
	return m.TotalPSS == 0 && m.JavaHeap == 0 && m.NativeHeap == 0
}

// Traffic is a cumulative rx/tx byte counter reading, counted since
// boot for the device or since process start for an app.
type Traffic struct {
	Rx         datasize.ByteSize
	Tx         datasize.ByteSize
	CapturedAt time.Time
	Cost       time.Duration
}

// Delta returns the increase from prev to t.
func (t Traffic) Delta(prev Traffic) Traffic {
	return Traffic{
		Rx:         t.Rx - prev.Rx,
		Tx:         t.Tx - prev.Tx,
		CapturedAt: t.CapturedAt,
		Cost:       prev.Cost + t.Cost,
	}
}

// Process identifies one running process of the target app.
type Process struct {
	PID    int
	Parent int
	Name   string
}

// Convert expresses a byte count in the given unit, rounded to two
// decimal places.
func Convert(v datasize.ByteSize, unit datasize.ByteSize) float64 {
	if unit == 0 {
		unit = datasize.B
	}

	return math.Round(float64(v)/float64(unit)*100) / 100
}

// ParseUnit maps a configured unit name onto its byte size.
func ParseUnit(name string) datasize.ByteSize {
	switch name {
	case "KB":
		return datasize.KB
	case "MB":
		return datasize.MB
	case "GB":
		return datasize.GB
	default:
		return datasize.B
	}
}
