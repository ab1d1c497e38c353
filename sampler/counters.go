package sampler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrMalformedCounters is returned when a counter source yields data that
// cannot be parsed.
var ErrMalformedCounters = errors.New("sampler: malformed cpu counters")

// ticksPerSecond converts gopsutil's float seconds back into USER_HZ clock
// ticks so the utilisation arithmetic stays in integers.
const ticksPerSecond = 100

// CPUCounters is one snapshot of cumulative, monotonically non-decreasing
// time-in-state counters. Units are whatever the source reports; only deltas
// between two snapshots of the same source are meaningful.
type CPUCounters struct {
	User    int64
	Nice    int64
	System  int64
	Idle    int64
	IOWait  int64
	IRQ     int64
	SoftIRQ int64
	// App is the cumulative CPU time of this process.
	App int64
}

// Total sums the system-wide states the same way the kernel's first "cpu"
// line is usually summed for utilisation.
func (c CPUCounters) Total() int64 {
	return c.User + c.Nice + c.System + c.Idle + c.IOWait + c.IRQ + c.SoftIRQ
}

// CounterSource reads the current counters.
type CounterSource interface {
	Read(ctx context.Context) (CPUCounters, error)
}

// CounterSourceFunc adapts a function to CounterSource.
type CounterSourceFunc func(ctx context.Context) (CPUCounters, error)

func (f CounterSourceFunc) Read(ctx context.Context) (CPUCounters, error) {
	return f(ctx)
}

// PsutilSource reads system counters via gopsutil's aggregate cpu.Times and
// the process counters via process.Times.
type PsutilSource struct {
	proc *process.Process
}

// NewPsutilSource binds a source to pid. Zero selects the current process.
func NewPsutilSource(ctx context.Context, pid int32) (*PsutilSource, error) {
	if pid == 0 {
		pid = int32(os.Getpid())
	}
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	return &PsutilSource{proc: proc}, nil
}

func (s *PsutilSource) Read(ctx context.Context) (CPUCounters, error) {
	all, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return CPUCounters{}, fmt.Errorf("read cpu times: %w", err)
	}
	if len(all) == 0 {
		return CPUCounters{}, fmt.Errorf("read cpu times: no aggregate line: %w", ErrMalformedCounters)
	}
	t := all[0]

	pt, err := s.proc.TimesWithContext(ctx)
	if err != nil {
		return CPUCounters{}, fmt.Errorf("read process times: %w", err)
	}

	return CPUCounters{
		User:    toTicks(t.User),
		Nice:    toTicks(t.Nice),
		System:  toTicks(t.System),
		Idle:    toTicks(t.Idle),
		IOWait:  toTicks(t.Iowait),
		IRQ:     toTicks(t.Irq),
		SoftIRQ: toTicks(t.Softirq),
		App:     toTicks(pt.User + pt.System),
	}, nil
}

func toTicks(seconds float64) int64 {
	return int64(math.Round(seconds * ticksPerSecond))
}

// ProcSource reads the raw /proc text files directly: the first line of
// /proc/stat and the single line of /proc/<pid>/stat.
type ProcSource struct {
	StatPath    string
	PidStatPath string
}

// NewProcSource returns a source for pid under /proc. Zero selects the
// current process.
func NewProcSource(pid int) *ProcSource {
	if pid == 0 {
		pid = os.Getpid()
	}
	return &ProcSource{
		StatPath:    "/proc/stat",
		PidStatPath: fmt.Sprintf("/proc/%d/stat", pid),
	}
}

func (s *ProcSource) Read(ctx context.Context) (CPUCounters, error) {
	statLine, err := firstLine(s.StatPath)
	if err != nil {
		return CPUCounters{}, err
	}
	pidLine, err := firstLine(s.PidStatPath)
	if err != nil {
		return CPUCounters{}, err
	}
	c, err := ParseProcStat(statLine)
	if err != nil {
		return CPUCounters{}, err
	}
	c.App, err = ParseProcPidStat(pidLine)
	if err != nil {
		return CPUCounters{}, err
	}
	return c, nil
}

func firstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return "", fmt.Errorf("read %s: empty: %w", path, ErrMalformedCounters)
	}
	return sc.Text(), nil
}

// ParseProcStat parses the aggregate "cpu  user nice system idle iowait irq
// softirq ..." line. App is left zero.
func ParseProcStat(line string) (CPUCounters, error) {
	fields := strings.Fields(line)
	if len(fields) < 8 || fields[0] != "cpu" {
		return CPUCounters{}, fmt.Errorf("cpu line has %d fields: %w", len(fields), ErrMalformedCounters)
	}
	v, err := parseInts(fields[1:8])
	if err != nil {
		return CPUCounters{}, err
	}
	return CPUCounters{
		User:    v[0],
		Nice:    v[1],
		System:  v[2],
		Idle:    v[3],
		IOWait:  v[4],
		IRQ:     v[5],
		SoftIRQ: v[6],
	}, nil
}

// ParseProcPidStat returns utime+stime+cutime+cstime from a /proc/<pid>/stat
// line. The command name may contain spaces, so fields are counted from the
// closing parenthesis.
func ParseProcPidStat(line string) (int64, error) {
	rest := line
	if i := strings.LastIndexByte(line, ')'); i >= 0 {
		rest = line[i+1:]
	}
	// rest starts at field 3 (state); utime is field 14.
	fields := strings.Fields(rest)
	if len(fields) < 15 {
		return 0, fmt.Errorf("pid stat has %d fields after comm: %w", len(fields), ErrMalformedCounters)
	}
	v, err := parseInts(fields[11:15])
	if err != nil {
		return 0, err
	}
	return v[0] + v[1] + v[2] + v[3], nil
}

func parseInts(fields []string) ([]int64, error) {
	out := make([]int64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f, ErrMalformedCounters)
		}
		out[i] = n
	}
	return out, nil
}
