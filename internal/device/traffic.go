package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/c2h5oh/datasize"
)

// /proc/net/dev counters are cumulative since boot; the per-process
// file carries the owning app's counters and survives short-lived
// child processes.

func parseNetDevLine(line string) (rx, tx uint64, err error) {
	fields := strings.Fields(line)
	// interface, then rx bytes at 1 and tx bytes at 9
	if len(fields) < 10 {
		return 0, 0, errors.New().WithData(ErrParse, line)
	}

	rx, err = strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, 0, errors.New().WithData(ErrParse, line)
	}
	tx, err = strconv.ParseUint(fields[9], 10, 64)
	if err != nil {
		return 0, 0, errors.New().WithData(ErrParse, line)
	}

	return rx, tx, nil
}

func (s *Source) parseTraffic(out string) (snapshot.Traffic, error) {
	var t snapshot.Traffic
	for _, line := range strings.Split(out, "\n") {
		// wifi and mobile interfaces; everything else is loopback or
		// tethering noise
		if !strings.Contains(line, "wlan0") && !strings.Contains(line, "rmnet0") {
			continue
		}

		rx, tx, err := parseNetDevLine(line)
		if err != nil {
			return snapshot.Traffic{}, err
		}

		t.Rx += datasize.ByteSize(rx)
		t.Tx += datasize.ByteSize(tx)
	}

	t.CapturedAt = s.clk.Now()

	return t, nil
}

func (s *Source) DeviceTraffic(ctx context.Context) (snapshot.Traffic, error) {
	started := s.clk.Now()

	out, err := s.runner.Run(ctx, "cat /proc/net/dev")
	if err != nil {
		return snapshot.Traffic{}, err
	}

	t, err := s.parseTraffic(out)
	if err != nil {
		return snapshot.Traffic{}, err
	}
	t.Cost = t.CapturedAt.Sub(started)

	return t, nil
}

func (s *Source) ProcessTraffic(ctx context.Context, pid int) (snapshot.Traffic, error) {
	started := s.clk.Now()

	out, err := s.runner.Run(ctx, fmt.Sprintf("cat /proc/%d/net/dev", pid))
	if err != nil {
		return snapshot.Traffic{}, err
	}
	if strings.Contains(out, "No such") {
		return snapshot.Traffic{}, snapshot.Gone(pid)
	}

	t, err := s.parseTraffic(out)
	if err != nil {
		return snapshot.Traffic{}, err
	}
	t.Cost = t.CapturedAt.Sub(started)

	return t, nil
}
