package device

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"codeberg.org/mutker/devperf/internal/logger"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/c2h5oh/datasize"
)

var (
	reMeminfoHeader = regexp.MustCompile(`\*\* MEMINFO in pid (\d+) \[(\S+)] \*\*`)
	reTotalPSS      = regexp.MustCompile(`TOTAL PSS:\s+(\d+)`)
	reJavaHeap      = regexp.MustCompile(`Java Heap:\s+(\d+)`)
	reNativeHeap    = regexp.MustCompile(`Native Heap:\s+(\d+)`)
)

func meminfoKB(re *regexp.Regexp, out string) (datasize.ByteSize, bool) {
	m := re.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}

	kb, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}

	return datasize.ByteSize(kb) * datasize.KB, true
}

// Memory sums meminfo readings over the given pids. A vanished pid
// fails the reading with that pid attached; a reading the device
// garbled comes back empty with a nil error, the caller's cue to try
// again.
func (s *Source) Memory(ctx context.Context, pids []int) (snapshot.Memory, error) {
	started := s.clk.Now()

	var total snapshot.Memory
	for _, pid := range pids {
		out, err := s.runner.Run(ctx, fmt.Sprintf("dumpsys meminfo %d", pid))
		if err != nil {
			return snapshot.Memory{}, err
		}
		if strings.Contains(out, "No process") {
			return snapshot.Memory{}, snapshot.Gone(pid)
		}
		if !reMeminfoHeader.MatchString(out) {
			// dumpsys occasionally emits a truncated report under load
			logger.Debug().Int("pid", pid).Msg("meminfo report truncated")
			return snapshot.Memory{}, nil
		}

		pss, ok := meminfoKB(reTotalPSS, out)
		if !ok {
			return snapshot.Memory{}, nil
		}
		java, _ := meminfoKB(reJavaHeap, out)
		native, _ := meminfoKB(reNativeHeap, out)

		total.TotalPSS += pss
		total.JavaHeap += java
		total.NativeHeap += native
	}

	total.CapturedAt = s.clk.Now()
	total.Cost = total.CapturedAt.Sub(started)

	return total, nil
}
