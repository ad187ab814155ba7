package dispatcher

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// UnixSampler produces real PerfSnapshot readings on Linux: RAM and disk
// utilization via golang.org/x/sys/unix syscalls, CPU utilization via the
// delta between successive /proc/stat readings (the syscall layer has no
// single-shot "CPU percent" primitive, so two samples are required).
// Grounded on jesseduffield-lazydocker's periodic stats-polling loop,
// generalized from per-container stats to host-wide counters.
type UnixSampler struct {
	DiskPaths []string

	mu        sync.Mutex
	prevIdle  uint64
	prevTotal uint64
	hasPrev   bool
}

// Sample implements the AdaptiveConfig.Sampler signature.
func (s *UnixSampler) Sample() PerfSnapshot {
	return PerfSnapshot{
		CPUPercent:  s.cpuPercent(),
		RAMPercent:  s.ramPercent(),
		DiskPercent: s.diskPercent(),
	}
}

func (s *UnixSampler) ramPercent() float64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	total := float64(info.Totalram) * float64(info.Unit)
	free := float64(info.Freeram) * float64(info.Unit)
	if total == 0 {
		return 0
	}
	return (total - free) / total * 100
}

func (s *UnixSampler) diskPercent() map[string]float64 {
	out := make(map[string]float64, len(s.DiskPaths))
	for _, path := range s.DiskPaths {
		var stat unix.Statfs_t
		if err := unix.Statfs(path, &stat); err != nil {
			continue
		}
		if stat.Blocks == 0 {
			continue
		}
		used := float64(stat.Blocks-stat.Bfree) / float64(stat.Blocks) * 100
		out[path] = used
	}
	return out
}

// cpuPercent reads the aggregate "cpu" line of /proc/stat and returns
// utilization since the previous call (0 on the first call, since there
// is no prior sample to delta against).
func (s *UnixSampler) cpuPercent() float64 {
	idle, total, err := readProcStatCPU()
	if err != nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPrev {
		s.prevIdle, s.prevTotal, s.hasPrev = idle, total, true
		return 0
	}
	deltaIdle := float64(idle - s.prevIdle)
	deltaTotal := float64(total - s.prevTotal)
	s.prevIdle, s.prevTotal = idle, total
	if deltaTotal == 0 {
		return 0
	}
	return (1 - deltaIdle/deltaTotal) * 100
}

func readProcStatCPU() (idle, total uint64, err error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, nil
	}
	for i, f := range fields[1:] {
		v, convErr := strconv.ParseUint(f, 10, 64)
		if convErr != nil {
			continue
		}
		total += v
		if i == 3 { // idle field
			idle = v
		}
	}
	return idle, total, nil
}
