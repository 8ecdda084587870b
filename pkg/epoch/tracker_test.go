package epoch

import (
	"sync"
	"testing"
	"time"
)

func TestTrackerProgressAdvances(t *testing.T) {
	tr := NewTracker(2)

	if tr.Announced(0) != 0 {
		t.Error("worker should start unannounced")
	}

	tr.Progress(0)
	first := tr.Announced(0)
	if first == 0 {
		t.Error("progress should announce a nonzero epoch")
	}

	// The barrier waits for worker 0 to move past its announcement, so
	// run it concurrently and release it with another progress.
	done := make(chan struct{})
	go func() {
		tr.Barrier()
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for released := false; !released; {
		select {
		case <-done:
			released = true
		case <-deadline:
			t.Fatal("barrier did not release")
		default:
			tr.Progress(0)
			time.Sleep(time.Millisecond)
		}
	}
	if tr.Announced(0) <= first {
		t.Error("progress after a barrier should announce a later epoch")
	}
}

func TestBarrierIgnoresUnannouncedWorkers(t *testing.T) {
	tr := NewTracker(4)
	// No worker ever announced; the barrier must not wait on them
	done := make(chan struct{})
	go func() {
		tr.Barrier()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier blocked on workers that never announced")
	}
}

func TestBarrierWaitsForStaleWorker(t *testing.T) {
	tr := NewTracker(2)
	tr.Progress(0)

	released := make(chan struct{})
	go func() {
		tr.Barrier()
		close(released)
	}()

	// Worker 0 sits in the old epoch; the barrier must not pass
	select {
	case <-released:
		t.Fatal("barrier passed while a worker was still in the old epoch")
	case <-time.After(50 * time.Millisecond):
	}

	tr.Progress(0)
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier did not release after the stale worker progressed")
	}
}

func TestBarrierUnderChurn(t *testing.T) {
	const workers = 4
	tr := NewTracker(workers)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					tr.Progress(id)
				}
			}
		}(w)
	}

	for i := 0; i < 50; i++ {
		tr.Barrier()
	}

	close(stop)
	wg.Wait()
}

func TestCurrentMonotonic(t *testing.T) {
	tr := NewTracker(1)
	before := tr.Current()
	tr.Barrier()
	if tr.Current() <= before {
		t.Error("barrier should advance the global epoch")
	}
}
