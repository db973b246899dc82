package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/logger"
	"codeberg.org/mutker/devperf/internal/snapshot"
)

// /proc/stat and /proc/<pid>/stat counters are in jiffies, cumulative
// since boot respectively process start.

const freqDir = "/sys/devices/system/cpu/cpu%d/cpufreq/%s"

func (s *Source) coreCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	cached := s.cpuCount
	s.mu.Unlock()
	if cached > 0 {
		return cached, nil
	}

	out, err := s.runner.Run(ctx, "cat /proc/cpuinfo | grep ^processor | wc -l")
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil || n <= 0 {
		return 0, errors.New().WithData(ErrParse, out)
	}

	s.mu.Lock()
	s.cpuCount = n
	s.mu.Unlock()

	return n, nil
}

func (s *Source) readFreq(ctx context.Context, core int, file string) (uint64, error) {
	out, err := s.runner.Run(ctx, "cat "+fmt.Sprintf(freqDir, core, file))
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseUint(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, errors.New().WithData(ErrFreqReadback, out)
	}

	return v, nil
}

// maxFreq reads one core's maximum frequency. Governor-scoped
// scaling_max_freq is preferred; on devices that lock it down the
// source falls back to the hardware cpuinfo_max_freq for the rest of
// the run, which can shift normalized numbers slightly.
func (s *Source) maxFreq(ctx context.Context, core int) (uint64, error) {
	s.mu.Lock()
	useScaling := s.scalingMaxOK
	s.mu.Unlock()

	if useScaling {
		v, err := s.readFreq(ctx, core, "scaling_max_freq")
		if err == nil {
			return v, nil
		}
		if !errors.IsCode(err, ErrFreqReadback) {
			return 0, err
		}

		logger.Warn().Int("core", core).Msg("scaling_max_freq unreadable, falling back to cpuinfo_max_freq")
		s.mu.Lock()
		s.scalingMaxOK = false
		s.mu.Unlock()
	}

	return s.readFreq(ctx, core, "cpuinfo_max_freq")
}

// freqRatio is the sum of per-core current frequencies over the sum
// of per-core maximum frequencies, at this instant.
func (s *Source) freqRatio(ctx context.Context) (float64, error) {
	count, err := s.coreCount(ctx)
	if err != nil {
		return 0, err
	}

	var cur uint64
	for i := 0; i < count; i++ {
		v, err := s.readFreq(ctx, i, "scaling_cur_freq")
		if err != nil {
			return 0, err
		}
		cur += v
	}

	s.mu.Lock()
	max, cached := s.maxFreqTotal, s.maxFreqCached
	s.mu.Unlock()

	if !cached {
		for i := 0; i < count; i++ {
			v, err := s.maxFreq(ctx, i)
			if err != nil {
				return 0, err
			}
			max += v
		}
		s.mu.Lock()
		s.maxFreqTotal, s.maxFreqCached = max, true
		s.mu.Unlock()
	}

	if max == 0 {
		return 0, errors.New().New(ErrFreqReadback)
	}

	return float64(cur) / float64(max), nil
}

// SystemCPU reads the aggregate cpu line of /proc/stat plus the
// current frequency ratio.
func (s *Source) SystemCPU(ctx context.Context) (snapshot.SysCPU, error) {
	out, err := s.runner.Run(ctx, "cat /proc/stat | head -n 1")
	if err != nil {
		return snapshot.SysCPU{}, err
	}

	fields := strings.Fields(out)
	// cpu user nice system idle iowait irq softirq
	if len(fields) < 8 || fields[0] != "cpu" {
		return snapshot.SysCPU{}, errors.New().WithData(ErrParse, out)
	}

	var vals [7]uint64
	var total uint64
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseUint(fields[i+1], 10, 64)
		if err != nil {
			return snapshot.SysCPU{}, errors.New().WithData(ErrParse, out)
		}
		vals[i] = v
		total += v
	}

	ratio, err := s.freqRatio(ctx)
	if err != nil {
		return snapshot.SysCPU{}, err
	}

	return snapshot.SysCPU{
		User:       vals[0],
		Kernel:     vals[2],
		Total:      total,
		FreqRatio:  ratio,
		CapturedAt: s.clk.Now(),
	}, nil
}

// AppCPU sums utime and stime over the given pids. A vanished pid
// fails the whole reading with that pid attached, so the caller can
// prune it and retry on the next tick.
func (s *Source) AppCPU(ctx context.Context, pids []int) (snapshot.AppCPU, error) {
	var user, kernel uint64
	for _, pid := range pids {
		out, err := s.runner.Run(ctx, fmt.Sprintf("cat /proc/%d/stat", pid))
		if err != nil {
			return snapshot.AppCPU{}, err
		}
		if strings.Contains(out, "No such") {
			return snapshot.AppCPU{}, snapshot.Gone(pid)
		}

		fields := strings.Fields(out)
		// field 14 is utime, field 15 is stime
		if len(fields) < 15 {
			return snapshot.AppCPU{}, errors.New().WithData(ErrParse, out)
		}

		u, err := strconv.ParseUint(fields[13], 10, 64)
		if err != nil {
			return snapshot.AppCPU{}, errors.New().WithData(ErrParse, out)
		}
		k, err := strconv.ParseUint(fields[14], 10, 64)
		if err != nil {
			return snapshot.AppCPU{}, errors.New().WithData(ErrParse, out)
		}

		user += u
		kernel += k
	}

	return snapshot.AppCPU{User: user, Kernel: kernel, CapturedAt: s.clk.Now()}, nil
}
