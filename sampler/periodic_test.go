package sampler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"blockwatch/sampler"
)

func newLoop(t *testing.T) *sampler.Loop {
	t.Helper()
	l := sampler.NewLoop("test", 0, nil)
	t.Cleanup(l.Close)
	return l
}

func TestPeriodicStartIsIdempotent(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int64
	p := sampler.NewPeriodic(newLoop(t), time.Hour, 30*time.Millisecond, func() { ticks.Add(1) })

	p.Start()
	p.Start()
	if !p.Running() {
		t.Fatal("not running after Start")
	}

	time.Sleep(150 * time.Millisecond)
	if got := ticks.Load(); got != 1 {
		t.Errorf("ticks = %d; want 1", got)
	}
	p.Stop()
}

func TestPeriodicStopIsIdempotent(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int64
	p := sampler.NewPeriodic(newLoop(t), 10*time.Millisecond, 10*time.Millisecond, func() { ticks.Add(1) })

	p.Stop()
	p.Start()
	time.Sleep(60 * time.Millisecond)
	p.Stop()
	p.Stop()
	if p.Running() {
		t.Fatal("running after Stop")
	}

	// One tick racing Stop is tolerated.
	settled := ticks.Load()
	time.Sleep(60 * time.Millisecond)
	if got := ticks.Load(); got > settled+1 {
		t.Errorf("ticks grew from %d to %d after Stop", settled, got)
	}
	if settled == 0 {
		t.Error("no ticks ran while started")
	}
}

func TestPeriodicStopBeforeFirstTick(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int64
	p := sampler.NewPeriodic(newLoop(t), 10*time.Millisecond, 50*time.Millisecond, func() { ticks.Add(1) })

	p.Start()
	p.Stop()
	time.Sleep(120 * time.Millisecond)
	if got := ticks.Load(); got != 0 {
		t.Errorf("ticks = %d; want 0", got)
	}
}

func TestPeriodicRestart(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int64
	p := sampler.NewPeriodic(newLoop(t), time.Hour, 20*time.Millisecond, func() { ticks.Add(1) })

	for i := 0; i < 3; i++ {
		p.Start()
		time.Sleep(60 * time.Millisecond)
		p.Stop()
	}
	if got := ticks.Load(); got != 3 {
		t.Errorf("ticks = %d; want 3", got)
	}
}

func TestPeriodicTicksDoNotOverlap(t *testing.T) {
	t.Parallel()

	loop := newLoop(t)
	var active, overlaps atomic.Int64
	tick := func() {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
	}

	a := sampler.NewPeriodic(loop, 2*time.Millisecond, time.Millisecond, tick)
	b := sampler.NewPeriodic(loop, 3*time.Millisecond, time.Millisecond, tick)
	a.Start()
	b.Start()
	time.Sleep(100 * time.Millisecond)
	a.Stop()
	b.Stop()

	if got := overlaps.Load(); got != 0 {
		t.Errorf("overlapping ticks = %d; want 0", got)
	}
}

func TestPeriodicDefaults(t *testing.T) {
	t.Parallel()

	p := sampler.NewPeriodic(newLoop(t), 0, 0, func() {})
	if p.Interval() != sampler.DefaultInterval {
		t.Errorf("interval = %s; want %s", p.Interval(), sampler.DefaultInterval)
	}
	if p.Delay() != sampler.DefaultStartDelay {
		t.Errorf("delay = %s; want %s", p.Delay(), sampler.DefaultStartDelay)
	}
}

func TestLoopRecoversPanics(t *testing.T) {
	t.Parallel()

	l := newLoop(t)
	done := make(chan struct{})
	if err := l.Post(func() { panic("boom") }); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := l.Post(func() { close(done) }); err != nil {
		t.Fatalf("post: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after a panicking task")
	}
}

func TestLoopClosed(t *testing.T) {
	t.Parallel()

	l := sampler.NewLoop("closed", 1, nil)
	l.Close()
	l.Close()

	if err := l.Post(func() {}); err != sampler.ErrLoopClosed {
		t.Errorf("Post after Close = %v; want ErrLoopClosed", err)
	}
	if l.TryPost(func() {}) {
		t.Error("TryPost after Close accepted work")
	}
}
