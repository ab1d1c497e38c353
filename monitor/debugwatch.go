package monitor

import (
	"sync"
	"sync/atomic"
	"time"
)

// DebugWatcher polls a debugger probe in the background so the monitored
// goroutine only ever reads a cached flag.
type DebugWatcher struct {
	probe    func() bool
	interval time.Duration
	attached atomic.Bool
	stop     chan struct{}
	once     sync.Once
}

// NewDebugWatcher probes once synchronously, then every interval until
// Close. A nil probe uses DebuggerAttached.
func NewDebugWatcher(probe func() bool, interval time.Duration) *DebugWatcher {
	if probe == nil {
		probe = DebuggerAttached
	}
	if interval <= 0 {
		interval = time.Second
	}
	w := &DebugWatcher{
		probe:    probe,
		interval: interval,
		stop:     make(chan struct{}),
	}
	w.attached.Store(probe())
	go w.run()
	return w
}

func (w *DebugWatcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.attached.Store(w.probe())
		}
	}
}

// Attached returns the last probed state.
func (w *DebugWatcher) Attached() bool {
	return w.attached.Load()
}

func (w *DebugWatcher) Close() {
	w.once.Do(func() { close(w.stop) })
}
