//go:build linux

package monitor

import (
	"bufio"
	"os"
	"strings"
)

// DebuggerAttached reports whether a tracer such as delve or gdb is attached
// to this process, going by the TracerPid line of /proc/self/status.
func DebuggerAttached() bool {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "TracerPid:") {
			continue
		}
		pid := strings.TrimSpace(strings.TrimPrefix(line, "TracerPid:"))
		return pid != "" && pid != "0"
	}
	return false
}
