package stats

import (
	"sync"
	"testing"
	"time"
)

func TestTrackerBalance(t *testing.T) {
	tr := NewTracker()

	tr.Allocate(100)
	tr.Allocate(50)
	if tr.Outstanding() != 150 {
		t.Errorf("expected 150 outstanding, got %d", tr.Outstanding())
	}

	tr.Release(100)
	tr.Release(50)
	if tr.Outstanding() != 0 {
		t.Errorf("expected 0 outstanding, got %d", tr.Outstanding())
	}
	if tr.TotalAllocated() != 150 || tr.TotalReleased() != 150 {
		t.Errorf("totals should accumulate: allocated=%d released=%d",
			tr.TotalAllocated(), tr.TotalReleased())
	}
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker()
	const goroutines = 8
	const rounds = 1000

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				tr.Allocate(10)
				tr.Release(10)
			}
		}()
	}
	wg.Wait()

	if tr.Outstanding() != 0 {
		t.Errorf("balanced allocate/release should leave 0 outstanding, got %d", tr.Outstanding())
	}
}

func TestByteSizeAdd(t *testing.T) {
	a := ByteSize{Allocated: 100, Used: 80}
	b := ByteSize{Allocated: 50, Used: 50}
	sum := a.Add(b)
	if sum.Allocated != 150 || sum.Used != 130 {
		t.Errorf("unexpected sum: %+v", sum)
	}
}

func TestCollectorLastOpTime(t *testing.T) {
	c := NewCollector()

	if _, ok := c.GetLastOpTime(OpCompact); ok {
		t.Error("untracked operation should have no timestamp")
	}

	before := time.Now()
	c.TrackOperation(OpCompact)
	ts, ok := c.GetLastOpTime(OpCompact)
	if !ok {
		t.Fatal("tracked operation should have a timestamp")
	}
	if ts.Before(before) {
		t.Errorf("timestamp %v predates the operation", ts)
	}
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.TrackOperation(OpGet)
	c.TrackOperation(OpGet)
	c.TrackOperation(OpPut)

	if got := c.GetCount(OpGet); got != 2 {
		t.Errorf("expected 2 gets, got %d", got)
	}
	if got := c.GetCount(OpRemove); got != 0 {
		t.Errorf("expected 0 removes, got %d", got)
	}

	st := c.GetStats()
	if st[OpGet] != 2 || st[OpPut] != 1 {
		t.Errorf("unexpected stats snapshot: %v", st)
	}
}
