// Package index implements the top-level learned ordered index: the
// public point/scan API, the current-root handle, the background
// restructurer, and the epoch-guarded reclamation protocol that lets
// restructuring swap roots without blocking readers.
package index

import (
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/slopedb/slope/pkg/buffer"
	"github.com/slopedb/slope/pkg/common/log"
	"github.com/slopedb/slope/pkg/config"
	"github.com/slopedb/slope/pkg/epoch"
	"github.com/slopedb/slope/pkg/group"
	"github.com/slopedb/slope/pkg/snapshot"
	"github.com/slopedb/slope/pkg/stats"
)

// indexOverhead approximates the facade's own footprint for ReportSize
const indexOverhead = 256

// Index is the user-facing handle. One live root at a time; the pointer
// is replaced, never mutated, and only by the background controller or
// a synchronous adjustment.
type Index struct {
	cfg *config.Config

	root    atomic.Pointer[Root]
	tracker *epoch.Tracker
	bytes   *stats.Tracker
	ops     *stats.AtomicCollector
	logger  log.Logger

	maintMu sync.Mutex
	maint   *maintenance

	closed atomic.Bool
}

// Option configures an Index at construction
type Option func(*Index)

// WithConfig overrides the default configuration. WorkerCount and
// BackgroundThreads are still taken from the New arguments.
func WithConfig(cfg *config.Config) Option {
	return func(idx *Index) {
		idx.cfg = cfg
	}
}

// WithLogger sets the logger used for maintenance and reclamation
// diagnostics.
func WithLogger(logger log.Logger) Option {
	return func(idx *Index) {
		idx.logger = logger
	}
}

// New bulk-loads an index from sorted keys and their values.
//
// Keys must be strictly increasing. workerCount is the number of
// concurrent application threads that will use the index; every
// operation takes a workerID in [0, workerCount) which must be stable
// and unique per thread, because it backs the epoch announcements the
// reclamation protocol depends on.
func New(keys []buffer.Key, values []buffer.Value, workerCount, backgroundThreads int, opts ...Option) (*Index, error) {
	idx := &Index{
		cfg:    config.NewDefaultConfig(),
		bytes:  stats.NewTracker(),
		ops:    stats.NewCollector(),
		logger: log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(idx)
	}

	idx.cfg.WorkerCount = workerCount
	idx.cfg.BackgroundThreads = backgroundThreads
	if err := idx.cfg.Validate(); err != nil {
		return nil, err
	}

	if len(keys) != len(values) {
		return nil, fmt.Errorf("%w: %d keys but %d values", config.ErrInvalidConfig, len(keys), len(values))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			return nil, fmt.Errorf("%w: initial keys are not strictly sorted at position %d", config.ErrInvalidConfig, i)
		}
	}

	idx.tracker = epoch.NewTracker(workerCount)
	idx.root.Store(newRoot(idx.bulkLoadGroups(keys, values), idx.cfg, idx.bytes))

	return idx, nil
}

// bulkLoadGroups partitions the sorted input into groups at half the
// size bound, leaving each room to absorb writes before splitting.
func (idx *Index) bulkLoadGroups(keys []buffer.Key, values []buffer.Value) []*group.Group {
	chunk := idx.cfg.GroupSizeBound / 2
	if chunk < 1 {
		chunk = 1
	}

	entries := make([]buffer.Entry, len(keys))
	for i := range keys {
		entries[i] = buffer.Entry{Key: keys[i], Value: values[i]}
	}

	if len(entries) == 0 {
		return []*group.Group{group.New(0, nil, idx.cfg, idx.bytes)}
	}

	var groups []*group.Group
	for begin := 0; begin < len(entries); begin += chunk {
		end := begin + chunk
		if end > len(entries) {
			end = len(entries)
		}
		part := entries[begin:end:end]
		groups = append(groups, group.New(part[0].Key, part, idx.cfg, idx.bytes))
	}
	return groups
}

// Get returns the value for the key
func (idx *Index) Get(key buffer.Key, workerID int) (buffer.Value, error) {
	if idx.closed.Load() {
		return nil, ErrIndexClosed
	}
	idx.tracker.Progress(workerID)
	idx.ops.TrackOperation(stats.OpGet)

	return idx.root.Load().Get(key)
}

// Put writes a value for the key. A structural conflict from a
// concurrent restructuring is absorbed here: the operation re-announces
// epoch progress and re-resolves through the latest root until it
// lands, or until MaxPutRetries is exhausted.
func (idx *Index) Put(key buffer.Key, value buffer.Value, workerID int) error {
	if idx.closed.Load() {
		return ErrIndexClosed
	}
	idx.tracker.Progress(workerID)
	idx.ops.TrackOperation(stats.OpPut)

	return idx.retryWrite(workerID, func() error {
		return idx.root.Load().Put(key, value)
	})
}

// Remove tombstones the key. Returns ErrKeyNotFound if the key is
// absent or already tombstoned.
func (idx *Index) Remove(key buffer.Key, workerID int) error {
	if idx.closed.Load() {
		return ErrIndexClosed
	}
	idx.tracker.Progress(workerID)
	idx.ops.TrackOperation(stats.OpRemove)

	return idx.retryWrite(workerID, func() error {
		return idx.root.Load().Remove(key)
	})
}

// retryWrite runs op until it stops reporting a structural conflict
func (idx *Index) retryWrite(workerID int, op func() error) error {
	attempts := 0
	for {
		err := op()
		if err != group.ErrRetry {
			return err
		}

		idx.ops.TrackOperation(stats.OpRetry)
		attempts++
		if idx.cfg.MaxPutRetries > 0 && attempts >= idx.cfg.MaxPutRetries {
			return ErrRetryExhausted
		}
		idx.tracker.Progress(workerID)
	}
}

// Scan returns up to n non-tombstoned entries with key >= begin, in
// ascending key order. The result reflects a consistent snapshot per
// group; consistency across group boundaries is not guaranteed under
// concurrent mutation.
func (idx *Index) Scan(begin buffer.Key, n int, workerID int) ([]buffer.Entry, error) {
	if idx.closed.Load() {
		return nil, ErrIndexClosed
	}
	idx.tracker.Progress(workerID)
	idx.ops.TrackOperation(stats.OpScan)

	out := make([]buffer.Entry, 0, n)
	idx.root.Load().Scan(begin, n, &out)
	return out, nil
}

// RangeScan returns all non-tombstoned entries with begin <= key < end,
// in ascending key order.
func (idx *Index) RangeScan(begin, end buffer.Key, workerID int) ([]buffer.Entry, error) {
	if idx.closed.Load() {
		return nil, ErrIndexClosed
	}
	idx.tracker.Progress(workerID)
	idx.ops.TrackOperation(stats.OpScanRange)

	var out []buffer.Entry
	idx.root.Load().RangeScan(begin, end, &out)
	return out, nil
}

// ForceAdjustmentSync runs one synchronous restructuring round over all
// groups and installs a new root if the sequence changed. It is the
// deterministic, single-threaded variant of background maintenance and
// must not run while the background controller owns the root; no epoch
// barrier is taken, so no other worker may be mid-operation. Returns
// whether the group sequence changed.
func (idx *Index) ForceAdjustmentSync() (bool, error) {
	if idx.closed.Load() {
		return false, ErrIndexClosed
	}

	idx.maintMu.Lock()
	defer idx.maintMu.Unlock()
	if idx.maint != nil {
		return false, ErrMaintenanceRunning
	}

	r := idx.root.Load()
	changed := r.adjustRange(0, r.GroupCount(), idx.ops)
	if !changed {
		return false, nil
	}

	nr, retired := r.createNewRoot()
	idx.root.Store(nr)
	nr.trimRoot()
	for _, g := range retired {
		g.Release()
	}
	r.release()

	idx.ops.TrackOperation(stats.OpRootSwap)
	idx.logMaintenanceStats(nr)
	return true, nil
}

// Dump streams every live entry, in ascending key order, to w in the
// snapshot format. The dump is per-group consistent, like RangeScan.
func (idx *Index) Dump(w io.Writer, workerID int) error {
	if idx.closed.Load() {
		return ErrIndexClosed
	}
	idx.tracker.Progress(workerID)

	sw, err := snapshot.NewWriter(w)
	if err != nil {
		return err
	}

	var out []buffer.Entry
	idx.root.Load().Scan(0, math.MaxInt, &out)
	for _, e := range out {
		if err := sw.Append(e.Key, e.Value); err != nil {
			return err
		}
	}
	return sw.Close()
}

// ReportSize returns the index's memory footprint, summed recursively
// over the root, its groups and their arrays, models and buffers.
func (idx *Index) ReportSize() stats.ByteSize {
	own := stats.ByteSize{Allocated: indexOverhead, Used: indexOverhead}
	r := idx.root.Load()
	if r == nil {
		return own
	}
	return own.Add(r.byteSize())
}

// Stats returns a snapshot of the operation counters
func (idx *Index) Stats() map[stats.OperationType]uint64 {
	return idx.ops.GetStats()
}

// Close stops background maintenance and releases the live structure.
// If the byte tracker still reports outstanding bytes afterwards, the
// suspected leak is logged; teardown proceeds regardless.
func (idx *Index) Close() error {
	if !idx.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := idx.StopBackgroundMaintenance(); err != nil {
		return err
	}

	r := idx.root.Load()
	if r != nil {
		leaves := make([]*group.Group, 0, r.GroupCount())
		var retired []*group.Group
		for _, g := range r.groups {
			leaves = g.Leaves(leaves)
			if g.Replaced() {
				retired = append(retired, g)
			}
		}
		for _, g := range leaves {
			g.Release()
		}
		for _, g := range retired {
			g.Release()
		}
		r.release()
	}

	if outstanding := idx.bytes.Outstanding(); outstanding > 0 {
		idx.logger.Warn("leaking %d bytes at close (allocated %d, released %d)",
			outstanding, idx.bytes.TotalAllocated(), idx.bytes.TotalReleased())
	}

	return nil
}

// logMaintenanceStats emits the post-swap structure diagnostics
func (idx *Index) logMaintenanceStats(r *Root) {
	avg, max := r.groupErrorStats()
	idx.logger.Debug("root swapped: groups=%d second_stage_models=%d avg_group_error=%.2f max_group_error=%d",
		r.GroupCount(), r.mdl.SecondStageModels(), avg, max)
}
