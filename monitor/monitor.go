package monitor

import (
	"time"

	"go.uber.org/zap"
)

// DefaultThreshold is the dispatch duration above which a unit of work counts
// as a block.
const DefaultThreshold = 3000 * time.Millisecond

// BoundaryHook receives the signal a message loop emits twice per unit of
// work: once before dispatching it and once after.
type BoundaryHook interface {
	Boundary()
}

// Sampler is started when a unit of work begins and stopped when it ends.
// Both calls must return without waiting on sampling work.
type Sampler interface {
	Start()
	Stop()
}

// Dispatcher runs work on a separate execution context without making the
// caller wait. TryPost reports false when the work was refused.
type Dispatcher interface {
	TryPost(fn func()) bool
}

// BlockEvent describes one unit of work that ran longer than the threshold.
type BlockEvent struct {
	WallStart   time.Time
	WallEnd     time.Time
	ThreadStart time.Duration
	ThreadEnd   time.Duration
}

// Duration is the wall-clock time the unit of work took.
func (e BlockEvent) Duration() time.Duration {
	return e.WallEnd.Sub(e.WallStart)
}

// ThreadTime is the CPU time the monitored thread spent on the unit of work.
func (e BlockEvent) ThreadTime() time.Duration {
	return e.ThreadEnd - e.ThreadStart
}

// BlockListener consumes block events on the dispatcher's context.
type BlockListener interface {
	OnBlockEvent(BlockEvent)
}

// BlockListenerFunc adapts a function to BlockListener.
type BlockListenerFunc func(BlockEvent)

func (f BlockListenerFunc) OnBlockEvent(e BlockEvent) {
	f(e)
}

// Config wires a Monitor. Listener and Dispatcher are required.
type Config struct {
	Threshold         time.Duration
	StopWhenDebugging bool
	// Debugging reports whether someone is inspecting the process
	// interactively. It is called on every boundary when StopWhenDebugging
	// is set and must be cheap.
	Debugging func() bool
	// Duration limits how long after construction boundaries are observed.
	// Zero means forever.
	Duration   time.Duration
	Samplers   []Sampler
	Listener   BlockListener
	Dispatcher Dispatcher
	Logger     *zap.Logger

	Now         func() time.Time
	ThreadClock func() time.Duration
}

// Monitor is a two-state machine driven by boundary signals from one
// goroutine. Boundary signals never overlap, so its fields need no locking.
type Monitor struct {
	cfg      Config
	log      *zap.Logger
	deadline time.Time

	printingStarted bool
	startWall       time.Time
	startThread     time.Duration
}

func New(cfg Config) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Debugging == nil {
		cfg.Debugging = func() bool { return false }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ThreadClock == nil {
		cfg.ThreadClock = ThreadCPUTime
	}
	m := &Monitor{
		cfg: cfg,
		log: cfg.Logger.Named("monitor"),
	}
	if cfg.Duration > 0 {
		m.deadline = cfg.Now().Add(cfg.Duration)
	}
	return m
}

func (m *Monitor) Threshold() time.Duration {
	return m.cfg.Threshold
}

// InDispatch reports whether a unit of work is in flight.
func (m *Monitor) InDispatch() bool {
	return m.printingStarted
}

// Boundary toggles between idle and in-dispatch.
func (m *Monitor) Boundary() {
	if m.cfg.StopWhenDebugging && m.cfg.Debugging() {
		return
	}
	if !m.printingStarted {
		if !m.deadline.IsZero() && m.cfg.Now().After(m.deadline) {
			return
		}
		m.startWall = m.cfg.Now()
		m.startThread = m.cfg.ThreadClock()
		m.printingStarted = true
		m.startDump()
		return
	}

	end := m.cfg.Now()
	m.printingStarted = false
	if m.isBlock(end) {
		m.notifyBlockEvent(end)
	}
	m.stopDump()
}

func (m *Monitor) isBlock(end time.Time) bool {
	return end.Sub(m.startWall) > m.cfg.Threshold
}

func (m *Monitor) notifyBlockEvent(end time.Time) {
	event := BlockEvent{
		WallStart:   m.startWall,
		WallEnd:     end,
		ThreadStart: m.startThread,
		ThreadEnd:   m.cfg.ThreadClock(),
	}
	listener := m.cfg.Listener
	if !m.cfg.Dispatcher.TryPost(func() { listener.OnBlockEvent(event) }) {
		m.log.Warn("block event dropped, reporter busy",
			zap.Time("start", event.WallStart),
			zap.Duration("duration", event.Duration()))
	}
}

func (m *Monitor) startDump() {
	for _, s := range m.cfg.Samplers {
		s.Start()
	}
}

func (m *Monitor) stopDump() {
	for _, s := range m.cfg.Samplers {
		s.Stop()
	}
}
