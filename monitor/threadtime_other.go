//go:build !linux

package monitor

import (
	"os"
	"time"
)

// ThreadCPUTime is unavailable on this platform and always returns zero.
func ThreadCPUTime() time.Duration {
	return 0
}

// ThreadID falls back to the process id.
func ThreadID() int {
	return os.Getpid()
}
