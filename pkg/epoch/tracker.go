// Package epoch implements quiescence-based memory reclamation for the
// index. Worker threads announce progress before every operation;
// anything unlinked from the live structure may only be freed once a
// barrier has observed every announced worker progressing past the
// unlink point.
package epoch

import (
	"runtime"
	"sync/atomic"
	"time"
)

const cacheLineSize = 64

// slot is a per-worker epoch counter padded to its own cache line so
// that announcements from different workers never share a line.
type slot struct {
	epoch atomic.Uint64
	_     [cacheLineSize - 8]byte
}

// Tracker records per-worker progress announcements and provides the
// reclamation barrier.
//
// A worker's announced epoch means "this worker holds no reference to
// data observed before this point". An announcement of zero means the
// worker has never run an operation; such workers hold nothing and are
// not waited on. Progress only moves forward; there is no cancellation.
type Tracker struct {
	global atomic.Uint64
	slots  []slot
}

// NewTracker creates a tracker for the given number of workers
func NewTracker(workers int) *Tracker {
	t := &Tracker{
		slots: make([]slot, workers),
	}
	// Epoch zero is reserved for "never announced"
	t.global.Store(1)
	return t
}

// Workers returns the number of worker slots
func (t *Tracker) Workers() int {
	return len(t.slots)
}

// Current returns the current global epoch
func (t *Tracker) Current() uint64 {
	return t.global.Load()
}

// Progress announces that the given worker holds no reference predating
// now. It must be called before every index operation the worker runs.
func (t *Tracker) Progress(workerID int) {
	t.slots[workerID].epoch.Store(t.global.Load())
}

// Announced returns the worker's last-announced epoch, zero if the
// worker has never announced.
func (t *Tracker) Announced(workerID int) uint64 {
	return t.slots[workerID].epoch.Load()
}

// Barrier advances the global epoch and blocks until every worker that
// has ever announced has re-announced at or past the new epoch. After it
// returns, no worker can still hold a reference to anything unlinked
// before the call.
//
// A worker that announced once and then went permanently idle stalls the
// barrier; callers are required to announce before every operation, and
// there is no stall deadline.
func (t *Tracker) Barrier() {
	target := t.global.Add(1)

	for i := range t.slots {
		spins := 0
		for {
			e := t.slots[i].epoch.Load()
			if e == 0 || e >= target {
				break
			}
			spins++
			if spins < 128 {
				runtime.Gosched()
			} else {
				time.Sleep(50 * time.Microsecond)
			}
		}
	}
}
