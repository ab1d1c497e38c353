package looper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"blockwatch/looper"
	"blockwatch/sampler"
)

type traceHook struct {
	mu     sync.Mutex
	events []string
}

func (h *traceHook) Boundary() { h.add("boundary") }

func (h *traceHook) add(s string) {
	h.mu.Lock()
	h.events = append(h.events, s)
	h.mu.Unlock()
}

func (h *traceHook) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func startLooper(t *testing.T) *looper.Looper {
	t.Helper()
	l := looper.New(0)
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	<-l.Started()
	t.Cleanup(func() {
		l.Quit()
		if err := <-done; err != nil {
			t.Errorf("run: %v", err)
		}
	})
	return l
}

func postAndWait(t *testing.T, l *looper.Looper, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if err := l.Post(context.Background(), func() { fn(); close(done) }); err != nil {
		t.Fatalf("post: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message never ran")
	}
}

func TestBoundaryTwicePerMessage(t *testing.T) {
	t.Parallel()

	l := startLooper(t)
	hook := &traceHook{}
	l.SetBoundaryHook(hook)

	postAndWait(t, l, func() { hook.add("work") })
	postAndWait(t, l, func() { hook.add("work") })

	// The closing boundary of the last message runs after done is closed.
	l.SetBoundaryHook(nil)
	postAndWait(t, l, func() {})

	want := []string{"boundary", "work", "boundary", "boundary", "work", "boundary"}
	got := hook.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v; want %v", got, want)
		}
	}
}

func TestGoroutineIdentity(t *testing.T) {
	t.Parallel()

	l := startLooper(t)
	var inside sampler.GoroutineID
	postAndWait(t, l, func() { inside = sampler.CurrentGoroutineID() })

	if inside != l.Goroutine() {
		t.Errorf("messages ran on goroutine %d; loop reports %d", inside, l.Goroutine())
	}
	if l.ThreadID() <= 0 {
		t.Errorf("thread id = %d", l.ThreadID())
	}
}

func TestPostAfterQuit(t *testing.T) {
	t.Parallel()

	l := looper.New(1)
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	<-l.Started()
	l.Quit()
	<-done

	if err := l.Post(context.Background(), func() {}); !errors.Is(err, looper.ErrQuit) {
		t.Errorf("Post after Quit = %v; want ErrQuit", err)
	}
}

func TestRunStopsOnContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	l := looper.New(0)
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	<-l.Started()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("run = %v; want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop ignored cancellation")
	}
}
