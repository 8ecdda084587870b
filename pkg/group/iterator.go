package group

import "github.com/slopedb/slope/pkg/buffer"

// mergeIter walks the buffer snapshot and the immutable array as one
// ascending key sequence. The buffer is the newer source: when both
// sides hold the same key, the buffer entry wins and the array entry is
// skipped. Tombstones are surfaced to the caller, which decides whether
// to drop them (scans) or carry them (nothing does today; compaction
// uses its own merge so it can drop dead keys entirely).
type mergeIter struct {
	newer []buffer.Entry // buffer snapshot, sorted
	older []buffer.Entry // immutable array, sorted
	i, j  int
}

func newMergeIter(newer, older []buffer.Entry) *mergeIter {
	return &mergeIter{newer: newer, older: older}
}

// seek positions the iterator at the first key >= target
func (it *mergeIter) seek(target buffer.Key) {
	it.i = lowerBound(it.newer, target)
	it.j = lowerBound(it.older, target)
}

func (it *mergeIter) valid() bool {
	return it.i < len(it.newer) || it.j < len(it.older)
}

// entry returns the current entry; only valid when valid() is true
func (it *mergeIter) entry() buffer.Entry {
	if it.j >= len(it.older) {
		return it.newer[it.i]
	}
	if it.i >= len(it.newer) {
		return it.older[it.j]
	}
	if it.newer[it.i].Key <= it.older[it.j].Key {
		return it.newer[it.i]
	}
	return it.older[it.j]
}

// next advances past the current key in both sources
func (it *mergeIter) next() {
	if it.j >= len(it.older) {
		it.i++
		return
	}
	if it.i >= len(it.newer) {
		it.j++
		return
	}

	nk, ok := it.newer[it.i].Key, it.older[it.j].Key
	switch {
	case nk < ok:
		it.i++
	case nk > ok:
		it.j++
	default:
		// Same key in both: the newer entry was surfaced, skip the
		// shadowed older one along with it.
		it.i++
		it.j++
	}
}

// lowerBound returns the index of the first entry with key >= target
func lowerBound(entries []buffer.Entry, target buffer.Key) int {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if entries[mid].Key < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
