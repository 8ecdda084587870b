package index

import (
	"github.com/slopedb/slope/pkg/buffer"
	"github.com/slopedb/slope/pkg/config"
	"github.com/slopedb/slope/pkg/group"
	"github.com/slopedb/slope/pkg/model"
	"github.com/slopedb/slope/pkg/stats"
)

// Root owns the ordered group sequence spanning the full key space and
// the top-level model routing a key to its group. A root is immutable:
// whenever the group sequence changes, a fresh root is built and swapped
// in; the old one is reclaimed behind the epoch barrier.
type Root struct {
	// boundaries[i] is groups[i].Start(); group 0 additionally owns all
	// keys below boundaries[0], so coverage is the full key domain.
	boundaries []buffer.Key
	groups     []*group.Group
	mdl        *model.RMI

	// scratch holds the boundary copy used for model fitting; it is not
	// needed after installation and trimRoot drops it.
	scratch []buffer.Key

	cfg        *config.Config
	trk        *stats.Tracker
	allocBytes int64
}

// newRoot builds and trains a root over the given group sequence
func newRoot(groups []*group.Group, cfg *config.Config, trk *stats.Tracker) *Root {
	boundaries := make([]buffer.Key, len(groups))
	for i, g := range groups {
		boundaries[i] = g.Start()
	}

	scratch := make([]buffer.Key, len(boundaries))
	copy(scratch, boundaries)

	r := &Root{
		boundaries: boundaries,
		groups:     groups,
		mdl:        model.TrainRMI(scratch, cfg.RootErrorBound, cfg.RootMemoryConstraint),
		scratch:    scratch,
		cfg:        cfg,
		trk:        trk,
	}
	r.allocBytes = int64(len(boundaries)*8) + r.mdl.SizeBytes()
	trk.Allocate(r.allocBytes)
	return r
}

// GroupCount returns the number of groups in the sequence
func (r *Root) GroupCount() int {
	return len(r.groups)
}

// locateIndex resolves the group owning the key: model prediction,
// bounded binary search within the error window, then a local walk to
// absorb the off-by-one the window guarantee leaves for keys falling
// between boundaries.
func (r *Root) locateIndex(key buffer.Key) int {
	n := len(r.groups)
	if n <= 1 {
		return 0
	}

	pos := r.mdl.Predict(key)
	if pos > n-1 {
		pos = n - 1
	}
	lo, hi := r.mdl.Window(pos, n)

	// Rightmost boundary <= key within [lo, hi]
	idx := lo
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		if r.boundaries[mid] <= key {
			idx = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	for idx+1 < n && r.boundaries[idx+1] <= key {
		idx++
	}
	for idx > 0 && r.boundaries[idx] > key {
		idx--
	}
	return idx
}

// Get resolves the owning group and reads the key
func (r *Root) Get(key buffer.Key) (buffer.Value, error) {
	return r.groups[r.locateIndex(key)].Get(key)
}

// Put resolves the owning group and writes the key. group.ErrRetry
// propagates to the caller's retry loop.
func (r *Root) Put(key buffer.Key, value buffer.Value) error {
	return r.groups[r.locateIndex(key)].Put(key, value)
}

// Remove resolves the owning group and tombstones the key
func (r *Root) Remove(key buffer.Key) error {
	return r.groups[r.locateIndex(key)].Remove(key)
}

// scanGroups resolves the group sequence a scan walks. While no group
// has been replaced this is the root's own slots; once a restructuring
// round has published replacements it is the deduplicated chain
// leaves. Two slots whose groups were merged share one replacement, so
// walking the raw slots between the merge and the root swap would emit
// the merged range twice.
func (r *Root) scanGroups() ([]*group.Group, bool) {
	for _, g := range r.groups {
		if g.Replaced() {
			leaves := make([]*group.Group, 0, len(r.groups)+1)
			for _, lg := range r.groups {
				leaves = lg.Leaves(leaves)
			}
			return leaves, false
		}
	}
	return r.groups, true
}

// leafFor returns the index of the rightmost group with start <= key,
// or 0 when the key precedes every start.
func leafFor(groups []*group.Group, key buffer.Key) int {
	idx := 0
	lo, hi := 0, len(groups)-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		if groups[mid].Start() <= key {
			idx = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return idx
}

// Scan appends up to n non-tombstoned entries with key >= begin
func (r *Root) Scan(begin buffer.Key, n int, out *[]buffer.Entry) int {
	groups, live := r.scanGroups()
	var gi int
	if live {
		gi = r.locateIndex(begin)
	} else {
		gi = leafFor(groups, begin)
	}

	total := 0
	for ; gi < len(groups) && total < n; gi++ {
		total += groups[gi].Scan(begin, n-total, out)
	}
	return total
}

// RangeScan appends all non-tombstoned entries with begin <= key < end
func (r *Root) RangeScan(begin, end buffer.Key, out *[]buffer.Entry) int {
	groups, live := r.scanGroups()
	var start int
	if live {
		start = r.locateIndex(begin)
	} else {
		start = leafFor(groups, begin)
	}

	total := 0
	for gi := start; gi < len(groups); gi++ {
		if gi > start && groups[gi].Start() >= end {
			break
		}
		total += groups[gi].RangeScan(begin, end, out)
	}
	return total
}

// adjustRange runs one restructuring pass over groups[lo:hi]: compacts
// buffers past threshold, splits over-error and over-size groups, and
// merges adjacent under-full neighbors. Reports whether the group
// sequence changed. Each group is visited at most once per round; the
// caller guarantees disjoint ranges across workers.
func (r *Root) adjustRange(lo, hi int, ops *stats.AtomicCollector) bool {
	changed := false
	i := lo
	for i < hi {
		g := r.groups[i]
		if g.Replaced() {
			i++
			continue
		}

		if g.NeedsCompaction() || g.NeedsSplit() {
			reps := g.Compact()
			ops.TrackOperation(stats.OpCompact)
			if len(reps) > 1 {
				ops.TrackOperation(stats.OpSplit)
			}
			changed = true
			i++
			continue
		}

		if g.UnderFull() && i+1 < hi && r.groups[i+1].UnderFull() &&
			g.CanMergeWith(r.groups[i+1]) {
			if _, merged := g.MergeWith(r.groups[i+1]); merged {
				ops.TrackOperation(stats.OpMerge)
			} else {
				ops.TrackOperation(stats.OpCompact)
			}
			changed = true
			i += 2
			continue
		}

		i++
	}
	return changed
}

// createNewRoot builds a fresh root over the current leaves of every
// group's replacement chain. The existing root is not mutated. Returns
// the new root and the replaced groups now owned by the caller's
// pending-reclamation set.
func (r *Root) createNewRoot() (*Root, []*group.Group) {
	leaves := make([]*group.Group, 0, len(r.groups))
	var retired []*group.Group
	for _, g := range r.groups {
		leaves = g.Leaves(leaves)
		if g.Replaced() {
			retired = append(retired, g)
		}
	}

	return newRoot(leaves, r.cfg, r.trk), retired
}

// trimRoot releases construction-time scratch memory not needed after
// installation.
func (r *Root) trimRoot() {
	r.scratch = nil
}

// release returns the root's own bytes to the tracker. Group bytes are
// released separately, group by group, since groups usually survive the
// root that first referenced them.
func (r *Root) release() {
	r.trk.Release(r.allocBytes)
}

// byteSize reports the root's footprint plus every live group's,
// following replacement chains to their leaves.
func (r *Root) byteSize() stats.ByteSize {
	own := uint64(len(r.boundaries)*8) + uint64(r.mdl.SizeBytes())
	total := stats.ByteSize{
		Allocated: own + uint64(len(r.scratch)*8),
		Used:      own,
	}

	leaves := make([]*group.Group, 0, len(r.groups))
	for _, g := range r.groups {
		leaves = g.Leaves(leaves)
	}
	for _, g := range leaves {
		total = total.Add(g.ByteSize())
	}
	return total
}

// groupErrorStats returns the average and maximum model error over the
// group sequence, for post-swap diagnostics.
func (r *Root) groupErrorStats() (avg float64, max int) {
	if len(r.groups) == 0 {
		return 0, 0
	}
	sum := 0
	for _, g := range r.groups {
		e := g.MaxError()
		sum += e
		if e > max {
			max = e
		}
	}
	return float64(sum) / float64(len(r.groups)), max
}
