// Package looper provides a minimal message loop that reports every message
// it dispatches to a monitor.BoundaryHook.
package looper

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"blockwatch/monitor"
	"blockwatch/sampler"
)

// ErrQuit is returned by Post once the loop has stopped.
var ErrQuit = errors.New("looper: quit")

// Message is one unit of work.
type Message func()

type hookBox struct {
	hook monitor.BoundaryHook
}

// Looper runs messages one at a time on a goroutine locked to its OS thread.
// The hook, when set, is called before and after every message.
type Looper struct {
	queue   chan Message
	hook    atomic.Pointer[hookBox]
	started chan struct{}
	quit    chan struct{}
	once    sync.Once

	gid sampler.GoroutineID
	tid int
}

func New(queueSize int) *Looper {
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Looper{
		queue:   make(chan Message, queueSize),
		started: make(chan struct{}),
		quit:    make(chan struct{}),
	}
}

// SetBoundaryHook installs hook, or removes it when nil. Safe from any
// goroutine; takes effect at the next boundary.
func (l *Looper) SetBoundaryHook(hook monitor.BoundaryHook) {
	if hook == nil {
		l.hook.Store(nil)
		return
	}
	l.hook.Store(&hookBox{hook: hook})
}

// Post queues msg for dispatch.
func (l *Looper) Post(ctx context.Context, msg Message) error {
	select {
	case <-l.quit:
		return ErrQuit
	default:
	}
	select {
	case l.queue <- msg:
		return nil
	case <-l.quit:
		return ErrQuit
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quit stops the loop after the message in flight.
func (l *Looper) Quit() {
	l.once.Do(func() { close(l.quit) })
}

// Started is closed once Run has recorded the loop goroutine's identity.
func (l *Looper) Started() <-chan struct{} {
	return l.started
}

// Goroutine returns the ID of the goroutine running the loop. Valid after
// Started is closed.
func (l *Looper) Goroutine() sampler.GoroutineID {
	return l.gid
}

// ThreadID returns the OS thread the loop is locked to. Valid after Started
// is closed.
func (l *Looper) ThreadID() int {
	return l.tid
}

// Run dispatches messages until ctx is done or Quit is called. It must be
// called once, from the goroutine that should be monitored.
func (l *Looper) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.gid = sampler.CurrentGoroutineID()
	l.tid = monitor.ThreadID()
	close(l.started)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.quit:
			return nil
		case msg := <-l.queue:
			l.dispatch(msg)
		}
	}
}

func (l *Looper) dispatch(msg Message) {
	box := l.hook.Load()
	if box != nil {
		box.hook.Boundary()
	}
	msg()
	if box != nil {
		box.hook.Boundary()
	}
}
