// Package group implements one partition of the key space: an immutable
// key-sorted array, a linear model trained over it, and a write buffer
// absorbing recent mutations. Groups are replaced, never mutated in
// place; a restructuring publishes the replacement through an atomic
// next pointer so in-flight readers and retrying writers can reach the
// fresh copy before the root swap makes it directly routable.
package group

import (
	"errors"
	"sync/atomic"

	"github.com/slopedb/slope/pkg/buffer"
	"github.com/slopedb/slope/pkg/config"
	"github.com/slopedb/slope/pkg/model"
	"github.com/slopedb/slope/pkg/stats"
)

var (
	// ErrNotFound is returned for absent or tombstoned keys
	ErrNotFound = errors.New("key not found")

	// ErrRetry signals a structural conflict: the group is concurrently
	// being replaced and the caller must re-resolve through the current
	// root and retry.
	ErrRetry = errors.New("group is being replaced")
)

// entryOverhead approximates the fixed in-memory cost of one array slot
const entryOverhead = 24

// Group owns one contiguous key range
type Group struct {
	start buffer.Key
	data  []buffer.Entry
	mdl   *model.Linear
	buf   *buffer.Buffer

	cfg *config.Config
	trk *stats.Tracker

	// next points to the replacement group(s) once a compaction, split
	// or merge has run. Children are ordered by ascending start key.
	next atomic.Pointer[replacement]

	released   atomic.Bool
	allocBytes int64
}

type replacement struct {
	groups []*Group
}

// New builds a group over the given key-sorted entries and trains its
// model. The allocation is registered with the byte tracker and must be
// paired with Release once the group leaves the live structure.
func New(start buffer.Key, entries []buffer.Entry, cfg *config.Config, trk *stats.Tracker) *Group {
	keys := make([]buffer.Key, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}

	g := &Group{
		start: start,
		data:  entries,
		mdl:   model.TrainLinear(keys),
		buf:   buffer.New(cfg.BufferSizeBound, cfg.BufferSizeTolerance),
		cfg:   cfg,
		trk:   trk,
	}
	g.allocBytes = g.staticBytes()
	trk.Allocate(g.allocBytes)
	return g
}

// Start returns the inclusive lower bound of the group's key range.
// Group 0 of a root additionally owns everything below its start.
func (g *Group) Start() buffer.Key {
	return g.start
}

// Len returns the number of entries in the immutable array
func (g *Group) Len() int {
	return len(g.data)
}

// MaxError returns the group model's maximum observed error
func (g *Group) MaxError() int {
	return g.mdl.MaxError()
}

// Replaced reports whether a replacement has been published
func (g *Group) Replaced() bool {
	return g.next.Load() != nil
}

// latest descends the replacement chain to the group currently owning
// the key. Chains are at most a few links deep: each restructuring round
// ends with a root swap that makes the leaves directly reachable.
func (g *Group) latest(key buffer.Key) *Group {
	for {
		r := g.next.Load()
		if r == nil {
			return g
		}
		next := r.groups[0]
		for _, c := range r.groups[1:] {
			if key >= c.start {
				next = c
			}
		}
		g = next
	}
}

// leaves appends the current leaf groups of the replacement chain,
// in key order, deduplicating against the last element of out (two
// merged groups publish the same replacement).
func (g *Group) leaves(out []*Group) []*Group {
	r := g.next.Load()
	if r == nil {
		if len(out) > 0 && out[len(out)-1] == g {
			return out
		}
		return append(out, g)
	}
	for _, c := range r.groups {
		out = c.leaves(out)
	}
	return out
}

// Leaves returns the group itself, or the current leaves of its
// replacement chain. prior is deduplicated against, callers pass the
// accumulator for the whole group sequence.
func (g *Group) Leaves(prior []*Group) []*Group {
	return g.leaves(prior)
}

// Get returns the value for the key. The buffer shadows the array;
// tombstones resolve to ErrNotFound.
func (g *Group) Get(key buffer.Key) (buffer.Value, error) {
	g = g.latest(key)

	if e, ok := g.buf.Get(key); ok {
		if e.Tombstone {
			return nil, ErrNotFound
		}
		return e.Value, nil
	}

	if e, ok := g.findData(key); ok {
		if e.Tombstone {
			return nil, ErrNotFound
		}
		return e.Value, nil
	}

	return nil, ErrNotFound
}

// Put writes the value into the group's buffer. ErrRetry means the
// buffer was sealed by a concurrent restructuring after the caller
// resolved this group; the caller re-resolves through the root.
func (g *Group) Put(key buffer.Key, value buffer.Value) error {
	g = g.latest(key)
	if !g.buf.Put(key, value) {
		return ErrRetry
	}
	return nil
}

// Remove writes a tombstone for the key. Absent and already-tombstoned
// keys report ErrNotFound without writing.
func (g *Group) Remove(key buffer.Key) error {
	g = g.latest(key)

	if e, ok := g.buf.Get(key); ok {
		if e.Tombstone {
			return ErrNotFound
		}
		if !g.buf.Remove(key) {
			return ErrRetry
		}
		return nil
	}

	if e, ok := g.findData(key); ok && !e.Tombstone {
		if !g.buf.Remove(key) {
			return ErrRetry
		}
		return nil
	}

	return ErrNotFound
}

// findData locates the key in the immutable array using the model's
// error window, falling back to binary search within it.
func (g *Group) findData(key buffer.Key) (buffer.Entry, bool) {
	n := len(g.data)
	if n == 0 {
		return buffer.Entry{}, false
	}

	pos := g.mdl.Predict(key)
	if pos > n-1 {
		pos = n - 1
	}
	lo, hi := g.mdl.Window(pos, n)

	// Binary search over the inclusive window [lo, hi]
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		switch {
		case g.data[mid].Key < key:
			lo = mid + 1
		case g.data[mid].Key > key:
			hi = mid - 1
		default:
			return g.data[mid], true
		}
	}
	return buffer.Entry{}, false
}

// Scan appends up to n non-tombstoned entries with key >= begin, in
// ascending key order. Returns the number appended.
func (g *Group) Scan(begin buffer.Key, n int, out *[]buffer.Entry) int {
	if n <= 0 {
		return 0
	}

	if r := g.next.Load(); r != nil {
		total := 0
		for _, c := range r.groups {
			total += c.Scan(begin, n-total, out)
			if total >= n {
				break
			}
		}
		return total
	}

	it := newMergeIter(g.buf.SortedSnapshot(), g.data)
	it.seek(begin)
	count := 0
	for count < n && it.valid() {
		e := it.entry()
		if !e.Tombstone {
			*out = append(*out, e)
			count++
		}
		it.next()
	}
	return count
}

// RangeScan appends all non-tombstoned entries with begin <= key < end,
// in ascending key order. Returns the number appended.
func (g *Group) RangeScan(begin, end buffer.Key, out *[]buffer.Entry) int {
	if r := g.next.Load(); r != nil {
		total := 0
		for _, c := range r.groups {
			total += c.RangeScan(begin, end, out)
		}
		return total
	}

	it := newMergeIter(g.buf.SortedSnapshot(), g.data)
	it.seek(begin)
	count := 0
	for it.valid() {
		e := it.entry()
		if e.Key >= end {
			break
		}
		if !e.Tombstone {
			*out = append(*out, e)
			count++
		}
		it.next()
	}
	return count
}

// ByteSize reports the memory footprint of the group
func (g *Group) ByteSize() stats.ByteSize {
	var used uint64
	for _, e := range g.data {
		used += uint64(entryOverhead + len(e.Value))
	}
	allocated := used + uint64(cap(g.data)-len(g.data))*entryOverhead

	bufBytes := uint64(g.buf.ApproximateSize())
	mdlBytes := uint64(g.mdl.SizeBytes())

	return stats.ByteSize{
		Allocated: allocated + bufBytes + mdlBytes,
		Used:      used + bufBytes + mdlBytes,
	}
}

// staticBytes is the construction-time footprint registered with the
// byte tracker. Buffer growth afterwards is not re-registered; the
// tracker is a reclamation diagnostic, not an allocator.
func (g *Group) staticBytes() int64 {
	var b int64
	for _, e := range g.data {
		b += entryOverhead + int64(len(e.Value))
	}
	return b + g.buf.ApproximateSize() + g.mdl.SizeBytes()
}

// Release returns the group's bytes to the tracker and drops its
// contents. Must only be called once no reader epoch can still observe
// the group.
func (g *Group) Release() {
	if !g.released.CompareAndSwap(false, true) {
		return
	}
	g.trk.Release(g.allocBytes)
	g.buf.Clear()
	g.data = nil
}
