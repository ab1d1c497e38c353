//go:build linux

package monitor

import (
	"time"

	"golang.org/x/sys/unix"
)

// ThreadCPUTime returns the CPU time consumed by the calling OS thread. The
// caller must be locked to its thread for consecutive readings to be
// comparable.
func ThreadCPUTime() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_THREAD_CPUTIME_ID, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

// ThreadID returns the kernel id of the calling OS thread.
func ThreadID() int {
	return unix.Gettid()
}
