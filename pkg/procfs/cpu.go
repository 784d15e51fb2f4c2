package procfs

import "time"

// clkTck is the kernel's USER_HZ. Linux has reported 100 to userspace
// for decades regardless of the scheduler tick; sysconf(_SC_CLK_TCK)
// would return the same value at far more cost.
const clkTck = 100

// CPUPercent computes a process's CPU utilization between two readings
// as a percentage of one core. Returns 0 if either reading is nil, the
// readings are out of order, or no time elapsed.
func CPUPercent(previous, current *Stats, elapsed time.Duration) float64 {
	if previous == nil || current == nil || elapsed <= 0 {
		return 0
	}
	if current.CPUTicks < previous.CPUTicks {
		return 0
	}
	busySeconds := float64(current.CPUTicks-previous.CPUTicks) / clkTck
	return busySeconds / elapsed.Seconds() * 100
}

// RSSMegabytes converts a reading's resident set size to megabytes.
func RSSMegabytes(s *Stats) float64 {
	if s == nil {
		return 0
	}
	return float64(s.RSSBytes) / (1024 * 1024)
}
