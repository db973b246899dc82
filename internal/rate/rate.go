package rate

import (
	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/snapshot"
)

const (
	// ErrZeroInterval marks an interval whose system total-ticks delta
	// is zero. Such an interval carries no usable information and is
	// skipped by the aggregator, never divided through.
	ErrZeroInterval = errors.ErrorCode("rate_zero_interval")
)

// CPU computes the per-interval usage fractions between two aligned
// snapshot pairs. The app fraction is (appUserΔ + appKernelΔ) over the
// system total-ticks delta, the system fraction the analogous
// system-wide value. When normalized, both are scaled by the
// frequency ratio sampled at interval end to correct for clock
// throttling under load.
func CPU(sysStart, sysEnd snapshot.SysCPU, appStart, appEnd snapshot.AppCPU, normalized bool) (app, sys float64, err error) {
	errFactory := errors.New()

	totalDelta := int64(sysEnd.Total) - int64(sysStart.Total)
	if totalDelta <= 0 {
		return 0, 0, errFactory.New(ErrZeroInterval)
	}

	appDelta := float64(int64(appEnd.User)-int64(appStart.User)) +
		float64(int64(appEnd.Kernel)-int64(appStart.Kernel))
	sysDelta := float64(int64(sysEnd.User)-int64(sysStart.User)) +
		float64(int64(sysEnd.Kernel)-int64(sysStart.Kernel))

	app = appDelta / float64(totalDelta)
	sys = sysDelta / float64(totalDelta)

	if normalized {
		app *= sysEnd.FreqRatio
		sys *= sysEnd.FreqRatio
	}

	return app, sys, nil
}
