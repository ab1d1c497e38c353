package sampler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultCPUCapacity is the number of CPU summaries a CPUSampler retains.
const DefaultCPUCapacity = 10

// CPUOptions configures a CPUSampler. Zero values select defaults.
type CPUOptions struct {
	Capacity   int
	Interval   time.Duration
	StartDelay time.Duration
	Logger     *zap.Logger
}

// Usage is the utilisation between two consecutive counter snapshots, in
// integer-truncated percent of the total delta.
type Usage struct {
	Busy   int64
	App    int64
	User   int64
	System int64
	IOWait int64
}

func (u Usage) String() string {
	return fmt.Sprintf("cpu:%d%% app:%d%% [user:%d%% system:%d%% ioWait:%d%% ]",
		u.Busy, u.App, u.User, u.System, u.IOWait)
}

// ComputeUsage derives utilisation from two snapshots. It reports false when
// the total delta is not positive, which happens when the counters have not
// advanced between reads.
func ComputeUsage(prev, cur CPUCounters) (Usage, bool) {
	total := cur.Total() - prev.Total()
	if total <= 0 {
		return Usage{}, false
	}
	idle := cur.Idle - prev.Idle
	return Usage{
		Busy:   (total - idle) * 100 / total,
		App:    (cur.App - prev.App) * 100 / total,
		User:   (cur.User - prev.User) * 100 / total,
		System: (cur.System - prev.System) * 100 / total,
		IOWait: (cur.IOWait - prev.IOWait) * 100 / total,
	}, true
}

// CPUSampler records system and process CPU utilisation between consecutive
// ticks.
type CPUSampler struct {
	*Periodic
	source CounterSource
	ring   *Ring
	log    *zap.Logger
	now    func() time.Time

	// busyGap is the spacing between samples above which the sampler is
	// considered starved.
	busyGap time.Duration

	// reset asks the next tick to discard prev; set by Start.
	reset atomic.Bool

	// prev and havePrev are only touched from the loop goroutine.
	prev     CPUCounters
	havePrev bool

	ticks    atomic.Uint64
	failures atomic.Uint64
}

func NewCPUSampler(loop *Loop, source CounterSource, opts CPUOptions) *CPUSampler {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCPUCapacity
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &CPUSampler{
		source: source,
		ring:   NewRing(opts.Capacity),
		log:    opts.Logger.Named("cpu-sampler"),
		now:    time.Now,
	}
	s.Periodic = NewPeriodic(loop, opts.Interval, opts.StartDelay, s.Tick)
	s.busyGap = s.Interval() * 12 / 10
	return s
}

// Start begins a sampling window. The first tick of every window only takes
// a baseline.
func (s *CPUSampler) Start() {
	if s.Periodic.Running() {
		return
	}
	s.reset.Store(true)
	s.Periodic.Start()
}

// Tick reads the counters once and records the utilisation since the last
// successful read. Read failures keep the previous snapshot.
func (s *CPUSampler) Tick() {
	s.ticks.Add(1)
	if s.reset.CompareAndSwap(true, false) {
		s.havePrev = false
	}

	cur, err := s.source.Read(context.Background())
	if err != nil {
		s.failures.Add(1)
		s.log.Debug("cpu counters unavailable", zap.Error(err))
		return
	}

	if s.havePrev {
		if usage, ok := ComputeUsage(s.prev, cur); ok {
			s.ring.Put(Entry{Time: s.now(), Payload: usage.String()})
		}
	}
	s.prev = cur
	s.havePrev = true
}

// RateInfo dumps every retained summary, one "timestamp summary" per line.
func (s *CPUSampler) RateInfo() string {
	entries := s.ring.Snapshot()
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(FormatEntry(e, " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// Entries returns a copy of the retained summaries.
func (s *CPUSampler) Entries() []Entry {
	return s.ring.Snapshot()
}

// IsBusy reports whether the CPU looked saturated during [start, end]. It
// only answers for windows longer than one interval. Samples inside
// (start-interval, end+interval) are scanned, and two consecutive ones spaced
// more than 1.2 intervals apart mean the sampler itself was starved.
func (s *CPUSampler) IsBusy(start, end time.Time) bool {
	interval := s.Interval()
	if end.Sub(start) <= interval {
		return false
	}
	lo := start.Add(-interval)
	hi := end.Add(interval)

	var last time.Time
	for _, e := range s.ring.Between(lo, hi) {
		if !last.IsZero() && e.Time.Sub(last) > s.busyGap {
			return true
		}
		last = e.Time
	}
	return false
}

func (s *CPUSampler) Stats() Stats {
	return Stats{
		Ticks:    s.ticks.Load(),
		Failures: s.failures.Load(),
		Entries:  s.ring.Len(),
	}
}
