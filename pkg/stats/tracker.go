package stats

import "sync/atomic"

// Tracker accounts for bytes held by the live structure of one index
// instance. It is instance-scoped on purpose: two concurrent indexes
// must not share a counter, or both diagnostics become meaningless.
//
// The numbers are a diagnostic, not a correctness mechanism. Allocate is
// called when a root or group is built, Release after the epoch barrier
// confirms no reader can still observe it; whatever remains outstanding
// at close is reported as a suspected reclamation leak.
type Tracker struct {
	outstanding atomic.Int64
	allocated   atomic.Uint64
	released    atomic.Uint64
}

// NewTracker creates an empty byte tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// Allocate records bytes entering the live structure
func (t *Tracker) Allocate(n int64) {
	t.outstanding.Add(n)
	t.allocated.Add(uint64(n))
}

// Release records bytes leaving the live structure after reclamation
func (t *Tracker) Release(n int64) {
	t.outstanding.Add(-n)
	t.released.Add(uint64(n))
}

// Outstanding returns the bytes currently accounted as live
func (t *Tracker) Outstanding() int64 {
	return t.outstanding.Load()
}

// TotalAllocated returns the cumulative bytes ever allocated
func (t *Tracker) TotalAllocated() uint64 {
	return t.allocated.Load()
}

// TotalReleased returns the cumulative bytes ever released
func (t *Tracker) TotalReleased() uint64 {
	return t.released.Load()
}
