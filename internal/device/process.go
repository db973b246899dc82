package device

import (
	"context"
	"strconv"
	"strings"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/snapshot"
)

// Processes lists every running process of the app bundle. An app can
// run several processes; service processes carry a ':' suffix on the
// bundle name.
func (s *Source) Processes(ctx context.Context, bundle string) ([]snapshot.Process, error) {
	out, err := s.runner.Run(ctx, "ps -A | grep "+bundle)
	if err != nil {
		return nil, err
	}

	var procs []snapshot.Process
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := fields[len(fields)-1]
		if !strings.HasPrefix(name, bundle) {
			continue
		}

		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		parent, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}

		procs = append(procs, snapshot.Process{PID: pid, Parent: parent, Name: name})
	}

	return procs, nil
}

// MainProcess resolves the pid of the bundle's main process, the one
// whose name carries no ':' suffix.
func (s *Source) MainProcess(ctx context.Context, bundle string) (int, error) {
	procs, err := s.Processes(ctx, bundle)
	if err != nil {
		return 0, err
	}

	for _, p := range procs {
		if !strings.Contains(p.Name, ":") {
			return p.PID, nil
		}
	}

	return 0, errors.New().WithData(errors.ErrNoProcess, bundle)
}
