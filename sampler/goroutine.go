package sampler

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// ErrGoroutineNotFound is returned when the designated goroutine is no longer
// present in the runtime's stack dump.
var ErrGoroutineNotFound = errors.New("sampler: goroutine not found")

// GoroutineID identifies the goroutine whose stack a StackSampler captures.
type GoroutineID int64

const maxStackDump = 64 << 20

var goroutinePrefix = []byte("goroutine ")

// CurrentGoroutineID returns the ID of the calling goroutine. Call it from the
// goroutine that runs the monitored message loop.
func CurrentGoroutineID() GoroutineID {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	id, _ := parseGoroutineHeader(buf[:n])
	return id
}

// parseGoroutineHeader reads the ID out of a "goroutine N [state]:" line.
func parseGoroutineHeader(b []byte) (GoroutineID, bool) {
	if !bytes.HasPrefix(b, goroutinePrefix) {
		return 0, false
	}
	b = b[len(goroutinePrefix):]
	i := bytes.IndexByte(b, ' ')
	if i <= 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return 0, false
	}
	return GoroutineID(id), true
}

// dumpAll fills buf with the stacks of every goroutine, growing it until the
// dump fits.
func dumpAll(buf []byte) []byte {
	if len(buf) == 0 {
		buf = make([]byte, 64<<10)
	}
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= maxStackDump {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

// findGoroutine returns the block of dump belonging to id, header included.
func findGoroutine(dump []byte, id GoroutineID) ([]byte, error) {
	for len(dump) > 0 {
		var block []byte
		if i := bytes.Index(dump, []byte("\n\n")); i >= 0 {
			block, dump = dump[:i], dump[i+2:]
		} else {
			block, dump = dump, nil
		}
		if got, ok := parseGoroutineHeader(block); ok && got == id {
			return block, nil
		}
	}
	return nil, fmt.Errorf("goroutine %d: %w", id, ErrGoroutineNotFound)
}

// formatFrames turns a runtime goroutine block into one frame per line:
//
//	main.handle(/src/app/main.go:42)
//
// The header line and argument lists are dropped. A trailing "created by"
// frame is kept, prefixed as such.
func formatFrames(block []byte) string {
	lines := strings.Split(string(block), "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "goroutine ") {
		lines = lines[1:]
	}

	var b strings.Builder
	for i := 0; i < len(lines); i++ {
		fn := strings.TrimSpace(lines[i])
		if fn == "" {
			continue
		}
		loc := ""
		if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "\t") {
			loc = strings.TrimSpace(lines[i+1])
			if j := strings.LastIndex(loc, " +0x"); j >= 0 {
				loc = loc[:j]
			}
			i++
		}
		created := strings.HasPrefix(fn, "created by ")
		fn = strings.TrimPrefix(fn, "created by ")
		if !created {
			fn = trimArgs(fn)
		} else if j := strings.Index(fn, " in goroutine "); j >= 0 {
			fn = fn[:j]
		}
		if created {
			b.WriteString("created by ")
		}
		b.WriteString(fn)
		if loc != "" {
			b.WriteByte('(')
			b.WriteString(loc)
			b.WriteByte(')')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// trimArgs strips the trailing "(0x1, 0x2)" argument list of a frame.
func trimArgs(fn string) string {
	if !strings.HasSuffix(fn, ")") {
		return fn
	}
	depth := 0
	for i := len(fn) - 1; i >= 0; i-- {
		switch fn[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return fn[:i]
			}
		}
	}
	return fn
}
