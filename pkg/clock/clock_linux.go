//go:build linux

package clock

import "golang.org/x/sys/unix"

// threadCPUNS reads CLOCK_THREAD_CPUTIME_ID for the calling OS thread.
//
// Go's goroutine scheduler can migrate a goroutine across OS threads between
// calls, so callers that need a single thread's CPU time across an interval
// must pin with runtime.LockOSThread first; the periodic sampler's worker
// does this for its own accounting.
func threadCPUNS() (uint64, bool) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_THREAD_CPUTIME_ID, &ts); err != nil {
		return 0, false
	}
	return uint64(ts.Sec)*1_000_000_000 + uint64(ts.Nsec), true
}

func processCPUNS() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_PROCESS_CPUTIME_ID, &ts); err != nil {
		return 0
	}
	return uint64(ts.Sec)*1_000_000_000 + uint64(ts.Nsec)
}
