package sampler

import (
	"sync"
	"time"
)

// DefaultInterval is the spacing between ticks when none is configured.
const DefaultInterval = 300 * time.Millisecond

// DefaultStartDelay postpones the first tick after Start so the first sample
// is not taken at time zero of a sampling window.
const DefaultStartDelay = 2400 * time.Millisecond

// Periodic schedules a tick function on a Loop between Start and Stop. Each
// tick reschedules the next one only after it finishes, so the actual spacing
// drifts later under load rather than bunching up.
//
// Start and Stop may be called from any goroutine. They never wait for a tick
// in progress; a tick racing Stop may still run once.
type Periodic struct {
	loop     *Loop
	tick     func()
	interval time.Duration
	delay    time.Duration

	mu      sync.Mutex
	running bool
	gen     uint64
	timer   *time.Timer
}

// NewPeriodic returns a stopped scheduler. A non-positive interval or delay
// selects the package defaults.
func NewPeriodic(loop *Loop, interval, delay time.Duration, tick func()) *Periodic {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if delay <= 0 {
		delay = DefaultStartDelay
	}
	return &Periodic{
		loop:     loop,
		tick:     tick,
		interval: interval,
		delay:    delay,
	}
}

func (p *Periodic) Interval() time.Duration {
	return p.interval
}

func (p *Periodic) Delay() time.Duration {
	return p.delay
}

// Running reports whether the scheduler is between Start and Stop.
func (p *Periodic) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start schedules the first tick after the start delay. It is a no-op when
// already running.
func (p *Periodic) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.cancelLocked()
	p.scheduleLocked(p.delay)
}

// Stop cancels the pending tick. It is a no-op when not running.
func (p *Periodic) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cancelLocked()
}

// cancelLocked invalidates any scheduled tick. Must be called with p.mu held.
func (p *Periodic) cancelLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// scheduleLocked arms a timer that posts the next tick onto the loop. Must be
// called with p.mu held.
func (p *Periodic) scheduleLocked(after time.Duration) {
	gen := p.gen
	p.timer = time.AfterFunc(after, func() {
		_ = p.loop.Post(func() { p.run(gen) })
	})
}

func (p *Periodic) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && p.gen == gen
}

func (p *Periodic) run(gen uint64) {
	if !p.current(gen) {
		return
	}
	p.tick()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running && p.gen == gen {
		p.scheduleLocked(p.interval)
	}
}
