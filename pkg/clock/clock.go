// Package clock provides nanosecond-precision monotonic wall and CPU time,
// used by the sampler to time itself and to charge samples against either
// wall-clock or CPU-clock cost (see sampler.TimeMode).
package clock

import "time"

// epoch anchors MonotonicNS to process start so that readings are derived
// from time.Time's internal monotonic clock reading (time.Since), not the
// wall clock, and therefore never move backward across NTP adjustments.
var epoch = time.Now()

// MonotonicNS returns a monotonically nondecreasing wall-clock reading in
// nanoseconds from an unspecified epoch.
func MonotonicNS() uint64 {
	return uint64(time.Since(epoch).Nanoseconds())
}

// MonotonicUS truncates MonotonicNS to microseconds.
func MonotonicUS() uint64 { return MonotonicNS() / 1000 }

// MonotonicMS truncates MonotonicNS to milliseconds.
func MonotonicMS() uint64 { return MonotonicNS() / 1_000_000 }

// ThreadCPUNS returns CPU time consumed by the calling OS thread, in
// nanoseconds. On platforms without a per-thread CPU clock this falls back
// to ProcessCPUNS.
func ThreadCPUNS() uint64 {
	if ns, ok := threadCPUNS(); ok {
		return ns
	}
	return ProcessCPUNS()
}

// ProcessCPUNS returns CPU time consumed by the whole process, in
// nanoseconds.
func ProcessCPUNS() uint64 {
	return processCPUNS()
}
