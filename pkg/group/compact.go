package group

import (
	"github.com/slopedb/slope/pkg/buffer"
	"github.com/slopedb/slope/pkg/model"
)

// NeedsCompaction reports whether the buffer has enough pending writes
// for the background restructurer to compact this round. Past the size
// bound plus tolerance compaction is mandatory regardless.
func (g *Group) NeedsCompaction() bool {
	return g.buf.Len() >= g.cfg.BufferCompactThreshold || g.buf.ShouldCompact()
}

// NeedsSplit reports whether the group has outgrown its error or size
// target and must be partitioned.
func (g *Group) NeedsSplit() bool {
	return len(g.data) > g.cfg.GroupSizeBound ||
		g.mdl.MaxError() > g.cfg.GroupErrorBound+g.cfg.GroupErrorTolerance
}

// UnderFull reports whether the group is small enough to be a merge
// candidate.
func (g *Group) UnderFull() bool {
	return len(g.data)+g.buf.Len() < g.cfg.MergeSizeThreshold
}

// Compact seals and drains the buffer, merges it into the array with
// tombstoned keys dropped entirely, retrains the model, and publishes
// the replacement group(s) through the next pointer. If the compacted
// group exceeds its error or size target it is split in two. Returns the
// published replacements.
//
// Only one restructuring pass may run per group per round; the caller
// serializes this through its partitioning.
func (g *Group) Compact() []*Group {
	g.buf.Seal()
	merged := mergeCompact(g.data, g.buf.DrainSorted())

	ng := New(g.start, merged, g.cfg, g.trk)

	var out []*Group
	if ng.NeedsSplit() && ng.Len() >= 2 {
		a, b := ng.split()
		ng.Release()
		out = []*Group{a, b}
	} else {
		out = []*Group{ng}
	}

	g.next.Store(&replacement{groups: out})
	return out
}

// split partitions the array at the median key and trains two fresh
// models. The receiver must be unpublished; its halves share its
// backing array.
func (g *Group) split() (*Group, *Group) {
	mid := len(g.data) / 2
	left := g.data[:mid:mid]
	right := g.data[mid:]

	a := New(g.start, left, g.cfg, g.trk)
	b := New(right[0].Key, right, g.cfg, g.trk)
	return a, b
}

// CanMergeWith estimates, without sealing either buffer, whether this
// group and its right neighbor would fit one group within the error and
// size bounds. Checked before MergeWith so that incompatible neighbors
// are not churned through pointless replacements every round. The
// estimate ignores buffered writes; MergeWith re-verifies after the
// drain and degrades to separate replacements when the estimate was
// stale.
func (g *Group) CanMergeWith(right *Group) bool {
	if len(g.data)+len(right.data) > g.cfg.GroupSizeBound {
		return false
	}

	keys := make([]buffer.Key, 0, len(g.data)+len(right.data))
	for _, e := range g.data {
		keys = append(keys, e.Key)
	}
	for _, e := range right.data {
		keys = append(keys, e.Key)
	}
	return model.TrainLinear(keys).MaxError() <= g.cfg.GroupErrorBound
}

// MergeWith compacts this group and its right neighbor and, if the
// combined array still satisfies the group error bound and size target,
// fuses them into a single replacement published on both. Otherwise each
// side gets its own compacted replacement. Returns the replacements and
// whether a structural merge happened.
func (g *Group) MergeWith(right *Group) ([]*Group, bool) {
	g.buf.Seal()
	right.buf.Seal()

	left := mergeCompact(g.data, g.buf.DrainSorted())
	rightData := mergeCompact(right.data, right.buf.DrainSorted())

	combined := make([]buffer.Entry, 0, len(left)+len(rightData))
	combined = append(combined, left...)
	combined = append(combined, rightData...)

	keys := make([]buffer.Key, len(combined))
	for i, e := range combined {
		keys[i] = e.Key
	}
	cm := model.TrainLinear(keys)

	if cm.MaxError() <= g.cfg.GroupErrorBound && len(combined) <= g.cfg.GroupSizeBound {
		ng := New(g.start, combined, g.cfg, g.trk)
		rep := &replacement{groups: []*Group{ng}}
		g.next.Store(rep)
		right.next.Store(rep)
		return []*Group{ng}, true
	}

	na := New(g.start, left, g.cfg, g.trk)
	nb := New(right.start, rightData, g.cfg, g.trk)
	g.next.Store(&replacement{groups: []*Group{na}})
	right.next.Store(&replacement{groups: []*Group{nb}})
	return []*Group{na, nb}, false
}

// mergeCompact merges the sorted array with the sorted drained buffer
// entries. Buffer entries shadow array entries for the same key;
// tombstoned keys are dropped from the result entirely.
func mergeCompact(data, drained []buffer.Entry) []buffer.Entry {
	out := make([]buffer.Entry, 0, len(data)+len(drained))
	i, j := 0, 0

	for i < len(data) || j < len(drained) {
		var e buffer.Entry
		switch {
		case j >= len(drained):
			e = data[i]
			i++
		case i >= len(data):
			e = drained[j]
			j++
		case data[i].Key < drained[j].Key:
			e = data[i]
			i++
		case data[i].Key > drained[j].Key:
			e = drained[j]
			j++
		default:
			e = drained[j]
			i++
			j++
		}
		if !e.Tombstone {
			out = append(out, e)
		}
	}

	return out
}
