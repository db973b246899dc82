package snapshot

import "context"

// CPUSource produces system-wide and per-process-set CPU counter
// snapshots. Call latency is variable and non-zero; callers must not
// assume readings land on exact tick boundaries.
type CPUSource interface {
	SystemCPU(ctx context.Context) (SysCPU, error)

	// AppCPU sums the CPU time of the given pids. A pid that no
	// longer exists yields an error carrying errors.ErrProcessGone;
	// callers drop that pid and keep sampling the rest.
	AppCPU(ctx context.Context, pids []int) (AppCPU, error)
}

// MemorySource produces resident memory snapshots for a process set.
// A transient parse failure on the device yields an empty Memory with
// a nil error; the caller retries once.
type MemorySource interface {
	Memory(ctx context.Context, pids []int) (Memory, error)
}

// TrafficSource produces cumulative network byte counters.
type TrafficSource interface {
	DeviceTraffic(ctx context.Context) (Traffic, error)
	ProcessTraffic(ctx context.Context, pid int) (Traffic, error)
}

// ProcessSource discovers the processes belonging to an app bundle.
type ProcessSource interface {
	Processes(ctx context.Context, bundle string) ([]Process, error)

	// MainProcess returns the pid of the app's main process, the one
	// whose name carries no ':' suffix. Fails with errors.ErrNoProcess
	// while the app has not started yet.
	MainProcess(ctx context.Context, bundle string) (int, error)
}

// Source bundles every counter capability a sampling run needs.
type Source interface {
	CPUSource
	MemorySource
	TrafficSource
	ProcessSource
}
