package sampler_test

import (
	"fmt"
	"testing"
	"time"

	"blockwatch/sampler"
)

func at(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func TestRingBound(t *testing.T) {
	t.Parallel()

	const capacity = 10
	r := sampler.NewRing(capacity)
	for i := 0; i < 35; i++ {
		r.Put(sampler.Entry{Time: at(int64(i)), Payload: fmt.Sprint(i)})
		if r.Len() > capacity {
			t.Fatalf("after %d puts len = %d; want <= %d", i+1, r.Len(), capacity)
		}
	}

	got := r.Snapshot()
	if len(got) != capacity {
		t.Fatalf("len = %d; want %d", len(got), capacity)
	}
	for i, e := range got {
		want := fmt.Sprint(25 + i)
		if e.Payload != want {
			t.Errorf("entry %d = %q; want %q", i, e.Payload, want)
		}
	}
}

func TestRingBetween(t *testing.T) {
	t.Parallel()

	r := sampler.NewRing(100)
	for _, ms := range []int64{100, 200, 300} {
		r.Put(sampler.Entry{Time: at(ms), Payload: fmt.Sprint(ms)})
	}

	got := r.Between(at(150), at(300))
	if len(got) != 1 || got[0].Payload != "200" {
		t.Errorf("Between(150, 300) = %v; want [200]", got)
	}
	if got := r.Between(at(50), at(90)); len(got) != 0 {
		t.Errorf("Between(50, 90) = %v; want empty", got)
	}
	if got := r.Between(at(300), at(100)); len(got) != 0 {
		t.Errorf("inverted range = %v; want empty", got)
	}
	if got := r.Between(at(200), at(200)); len(got) != 0 {
		t.Errorf("empty range = %v; want empty", got)
	}
	if got := r.Between(at(0), at(1000)); len(got) != 3 {
		t.Errorf("full range len = %d; want 3", len(got))
	}
}

func TestRingSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	r := sampler.NewRing(2)
	r.Put(sampler.Entry{Time: at(1), Payload: "a"})
	snap := r.Snapshot()
	snap[0].Payload = "changed"

	if got := r.Snapshot()[0].Payload; got != "a" {
		t.Errorf("ring entry = %q; want %q", got, "a")
	}
}
