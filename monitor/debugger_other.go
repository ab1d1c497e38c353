//go:build !linux

package monitor

// DebuggerAttached cannot be determined on this platform and reports false.
func DebuggerAttached() bool {
	return false
}
