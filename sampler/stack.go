package sampler

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultStackCapacity is the number of stack samples a StackSampler retains.
const DefaultStackCapacity = 100

// TimeLayout prefixes formatted entries.
const TimeLayout = "01-02 15:04:05.000"

// Stats counts what a sampler has done since construction.
type Stats struct {
	Ticks    uint64
	Failures uint64
	Entries  int
}

// StackOptions configures a StackSampler. Zero values select defaults.
type StackOptions struct {
	Capacity   int
	Interval   time.Duration
	StartDelay time.Duration
	Logger     *zap.Logger
}

// StackSampler periodically snapshots one goroutine's call stack into a
// bounded ring.
type StackSampler struct {
	*Periodic
	target GoroutineID
	ring   *Ring
	log    *zap.Logger
	now    func() time.Time

	// buf is reused between ticks; only touched from the loop goroutine.
	buf []byte

	ticks    atomic.Uint64
	failures atomic.Uint64
}

func NewStackSampler(loop *Loop, target GoroutineID, opts StackOptions) *StackSampler {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultStackCapacity
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &StackSampler{
		target: target,
		ring:   NewRing(opts.Capacity),
		log:    opts.Logger.Named("stack-sampler"),
		now:    time.Now,
	}
	s.Periodic = NewPeriodic(loop, opts.Interval, opts.StartDelay, s.Tick)
	return s
}

func (s *StackSampler) Target() GoroutineID {
	return s.target
}

// Tick captures the target goroutine's stack once. A goroutine that no longer
// exists yields no entry.
func (s *StackSampler) Tick() {
	s.ticks.Add(1)
	trace, err := s.capture()
	if err != nil {
		s.failures.Add(1)
		s.log.Debug("stack capture failed", zap.Int64("goroutine", int64(s.target)), zap.Error(err))
		return
	}
	s.ring.Put(Entry{Time: s.now(), Payload: trace})
}

func (s *StackSampler) capture() (string, error) {
	s.buf = dumpAll(s.buf[:cap(s.buf)])
	block, err := findGoroutine(s.buf, s.target)
	if err != nil {
		return "", err
	}
	trace := formatFrames(block)
	if trace == "" {
		return "", errors.New("empty stack")
	}
	return trace, nil
}

// EntriesBetween returns the samples taken strictly between start and end in
// ascending time order.
func (s *StackSampler) EntriesBetween(start, end time.Time) []Entry {
	return s.ring.Between(start, end)
}

// TraceEntriesBetween is EntriesBetween with each entry rendered as a
// timestamp line, a blank line and the trace.
func (s *StackSampler) TraceEntriesBetween(start, end time.Time) []string {
	entries := s.ring.Between(start, end)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, FormatEntry(e, "\n\n"))
	}
	return out
}

func (s *StackSampler) Stats() Stats {
	return Stats{
		Ticks:    s.ticks.Load(),
		Failures: s.failures.Load(),
		Entries:  s.ring.Len(),
	}
}

// FormatEntry renders e as its timestamp, sep and payload.
func FormatEntry(e Entry, sep string) string {
	var b strings.Builder
	b.WriteString(e.Time.Format(TimeLayout))
	b.WriteString(sep)
	b.WriteString(e.Payload)
	return b.String()
}
