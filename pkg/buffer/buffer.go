// Package buffer implements the per-group write buffer: a small
// concurrent mapping from key to the most recent entry, absorbing writes
// until a compaction merges them into the group's immutable sorted
// array. A buffer entry always shadows any stale entry for the same key
// in the array.
package buffer

import (
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	// shardCount must be a power of two
	shardCount = 16

	// shardOverhead approximates the fixed per-shard map footprint
	shardOverhead = 96
)

type shard struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// Buffer is a bounded concurrent write buffer for one group.
//
// Writers from application threads and a single compacting thread may
// run concurrently. Sealing is the handshake between them: Seal is taken
// under every shard lock, so a write either lands before the drain sees
// it or observes the seal and reports failure, telling the caller to
// retry against the group's replacement.
type Buffer struct {
	shards    [shardCount]shard
	count     atomic.Int64
	bytes     atomic.Int64
	sealed    atomic.Bool
	bound     int
	tolerance int
}

// New creates a buffer with the given size bound and tolerance
func New(bound, tolerance int) *Buffer {
	b := &Buffer{
		bound:     bound,
		tolerance: tolerance,
	}
	for i := range b.shards {
		b.shards[i].entries = make(map[Key]Entry)
	}
	return b
}

// shardFor picks the shard for a key. xxhash spreads the sequential keys
// the index typically sees; low bits of the key alone would pile
// adjacent keys into the same shard.
func (b *Buffer) shardFor(key Key) *shard {
	var kb [8]byte
	binary.BigEndian.PutUint64(kb[:], uint64(key))
	return &b.shards[xxhash.Sum64(kb[:])&(shardCount-1)]
}

// Get returns the most recent entry for the key, if any. Tombstones are
// returned as-is; interpreting them is the group's job.
func (b *Buffer) Get(key Key) (Entry, bool) {
	s := b.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	return e, ok
}

// Put records the latest value for a key. It returns false if the buffer
// has been sealed by a compaction, in which case the write must be
// retried through the current root.
func (b *Buffer) Put(key Key, value Value) bool {
	e := Entry{Key: key, Value: value}
	return b.insert(e)
}

// Remove records a tombstone for a key. Like Put it returns false once
// the buffer is sealed.
func (b *Buffer) Remove(key Key) bool {
	e := Entry{Key: key, Tombstone: true}
	return b.insert(e)
}

func (b *Buffer) insert(e Entry) bool {
	s := b.shardFor(e.Key)
	s.mu.Lock()
	if b.sealed.Load() {
		s.mu.Unlock()
		return false
	}
	prev, existed := s.entries[e.Key]
	s.entries[e.Key] = e
	s.mu.Unlock()

	if existed {
		b.bytes.Add(e.Size() - prev.Size())
	} else {
		b.count.Add(1)
		b.bytes.Add(e.Size())
	}
	return true
}

// Len returns the number of distinct keys buffered
func (b *Buffer) Len() int {
	return int(b.count.Load())
}

// Sealed reports whether the buffer has been sealed
func (b *Buffer) Sealed() bool {
	return b.sealed.Load()
}

// ShouldCompact reports whether the buffer has grown past the point
// where compaction is mandatory (size bound plus tolerance).
func (b *Buffer) ShouldCompact() bool {
	return b.Len() >= b.bound+b.tolerance
}

// Seal permanently closes the buffer for writes. It acquires every shard
// lock, so once Seal returns no concurrent write can land unseen.
func (b *Buffer) Seal() {
	for i := range b.shards {
		b.shards[i].mu.Lock()
	}
	b.sealed.Store(true)
	for i := len(b.shards) - 1; i >= 0; i-- {
		b.shards[i].mu.Unlock()
	}
}

// DrainSorted returns all buffered entries in ascending key order. Only
// the compacting thread may call it, after Seal. The shards are left
// readable: in-flight readers resolving through the old group must keep
// seeing these entries until the replacement is visible. The memory is
// dropped by Clear when the owning group is reclaimed.
func (b *Buffer) DrainSorted() []Entry {
	out := make([]Entry, 0, b.Len())
	for i := range b.shards {
		s := &b.shards[i]
		s.mu.Lock()
		for _, e := range s.entries {
			out = append(out, e)
		}
		s.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SortedSnapshot returns the current entries in ascending key order
// without clearing them. Used by scans to merge-walk against the array.
func (b *Buffer) SortedSnapshot() []Entry {
	out := make([]Entry, 0, b.Len())
	for i := range b.shards {
		s := &b.shards[i]
		s.mu.RLock()
		for _, e := range s.entries {
			out = append(out, e)
		}
		s.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Clear drops all shard contents. Called during reclamation of the
// owning group, after the epoch barrier has passed.
func (b *Buffer) Clear() {
	for i := range b.shards {
		s := &b.shards[i]
		s.mu.Lock()
		s.entries = make(map[Key]Entry)
		s.mu.Unlock()
	}
	b.count.Store(0)
	b.bytes.Store(0)
}

// ApproximateSize returns the approximate memory footprint in bytes
func (b *Buffer) ApproximateSize() int64 {
	return b.bytes.Load() + shardCount*shardOverhead
}
