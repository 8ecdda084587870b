package index

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slopedb/slope/pkg/stats"
)

// span is one worker's share of a restructuring round: a half-open
// group range over a pinned root.
type span struct {
	r      *Root
	lo, hi int
}

// maintenance owns the background restructuring goroutines: one
// controller that drives rounds and swaps roots, and BackgroundThreads
// workers that each adjust a disjoint group range per round.
type maintenance struct {
	cancel  context.CancelFunc
	eg      *errgroup.Group
	assign  []chan span
	results chan bool
}

// StartBackgroundMaintenance launches the restructuring controller and
// its workers. A no-op if maintenance is already running or the index
// was configured without background threads.
func (idx *Index) StartBackgroundMaintenance() error {
	if idx.closed.Load() {
		return ErrIndexClosed
	}

	idx.maintMu.Lock()
	defer idx.maintMu.Unlock()
	if idx.maint != nil || idx.cfg.BackgroundThreads == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)

	m := &maintenance{
		cancel:  cancel,
		eg:      eg,
		assign:  make([]chan span, idx.cfg.BackgroundThreads),
		results: make(chan bool, idx.cfg.BackgroundThreads),
	}
	for i := range m.assign {
		m.assign[i] = make(chan span, 1)
	}

	for i := range m.assign {
		ch := m.assign[i]
		eg.Go(func() error {
			return idx.maintenanceWorker(ctx, ch, m.results)
		})
	}
	eg.Go(func() error {
		return idx.maintenanceController(ctx, m)
	})

	idx.maint = m
	idx.logger.Info("background maintenance started with %d workers", idx.cfg.BackgroundThreads)
	return nil
}

// StopBackgroundMaintenance signals the controller and workers to exit
// and waits for them. A no-op if maintenance is not running.
func (idx *Index) StopBackgroundMaintenance() error {
	idx.maintMu.Lock()
	defer idx.maintMu.Unlock()
	if idx.maint == nil {
		return nil
	}

	idx.maint.cancel()
	err := idx.maint.eg.Wait()
	idx.maint = nil
	if err != nil && err != context.Canceled {
		return err
	}
	idx.logger.Info("background maintenance stopped")
	return nil
}

// maintenanceWorker adjusts whatever span the controller hands it and
// reports whether its range changed. Rounds are joined through the
// results channel, so the controller never swaps a root while a worker
// is still restructuring it.
func (idx *Index) maintenanceWorker(ctx context.Context, assign <-chan span, results chan<- bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sp := <-assign:
			changed := sp.r.adjustRange(sp.lo, sp.hi, idx.ops)
			select {
			case results <- changed:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// maintenanceController drives restructuring rounds: it partitions the
// current root's groups into contiguous disjoint spans, hands one to
// each worker, joins the round, and swaps in a fresh root when any
// span changed.
func (idx *Index) maintenanceController(ctx context.Context, m *maintenance) error {
	for {
		r := idx.root.Load()
		n := r.GroupCount()
		workers := len(m.assign)

		per := (n + workers - 1) / workers
		for i, ch := range m.assign {
			lo := i * per
			hi := lo + per
			if lo > n {
				lo = n
			}
			if hi > n {
				hi = n
			}
			select {
			case ch <- span{r: r, lo: lo, hi: hi}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		changed := false
		for i := 0; i < workers; i++ {
			select {
			case c := <-m.results:
				changed = changed || c
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if changed {
			idx.swapRoot(r)
		}

		select {
		case <-time.After(idx.cfg.MaintenanceInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// swapRoot installs a fresh root built over the replacement-chain
// leaves of the old one, waits out the epoch barrier so no in-flight
// operation still holds the old structure, then reclaims the replaced
// groups and the old root.
func (idx *Index) swapRoot(old *Root) {
	nr, retired := old.createNewRoot()
	idx.root.Store(nr)

	idx.tracker.Barrier()

	nr.trimRoot()
	for _, g := range retired {
		g.Release()
	}
	old.release()

	idx.ops.TrackOperation(stats.OpRootSwap)
	idx.logMaintenanceStats(nr)
}
