package sampler

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrLoopClosed is returned when posting to a loop that has been closed.
var ErrLoopClosed = errors.New("sampler: loop closed")

// DefaultQueueSize is the task backlog a Loop accepts before TryPost starts
// refusing work.
const DefaultQueueSize = 64

// Loop is a dedicated execution context: tasks posted to it run one at a time,
// in order, on a single goroutine. A task that panics is recovered and logged
// so it cannot take the loop down.
type Loop struct {
	name   string
	tasks  chan func()
	done   chan struct{}
	log    *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewLoop starts a loop goroutine. A nil logger disables logging.
func NewLoop(name string, queueSize int, log *zap.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	l := &Loop{
		name:  name,
		tasks: make(chan func(), queueSize),
		done:  make(chan struct{}),
		log:   log.Named(name),
	}
	go l.run()
	return l
}

func (l *Loop) Name() string {
	return l.name
}

func (l *Loop) run() {
	defer close(l.done)
	for task := range l.tasks {
		l.exec(task)
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task panicked", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
		}
	}()
	task()
}

// Post queues fn, waiting for room if the backlog is full.
func (l *Loop) Post(fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrLoopClosed
	}
	l.tasks <- fn
	return nil
}

// TryPost queues fn without waiting. It reports false when the loop is closed
// or its backlog is full.
func (l *Loop) TryPost(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.tasks <- fn:
		return true
	default:
		return false
	}
}

// Close stops accepting tasks and waits for the queued ones to finish.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	close(l.tasks)
	l.mu.Unlock()
	<-l.done
}
