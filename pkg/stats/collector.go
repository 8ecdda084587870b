package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Common operation types
const (
	OpGet       OperationType = "get"
	OpPut       OperationType = "put"
	OpRemove    OperationType = "remove"
	OpScan      OperationType = "scan"
	OpScanRange OperationType = "scan_range"
	OpCompact   OperationType = "compact"
	OpSplit     OperationType = "split"
	OpMerge     OperationType = "merge"
	OpRootSwap  OperationType = "root_swap"
	OpRetry     OperationType = "retry"
)

// AtomicCollector provides centralized statistics collection with minimal
// contention using atomic operations for thread safety
type AtomicCollector struct {
	// Operation counters using atomic values
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // Only used when creating new counter entries

	// Timing measurements for last operation timestamps
	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex
}

// NewCollector creates a new statistics collector
func NewCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	counter := c.getOrCreateCounter(op)
	counter.Add(1)

	// Update last operation time (less critical, can use mutex)
	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// GetLastOpTime returns when the operation type was last tracked
func (c *AtomicCollector) GetLastOpTime(op OperationType) (time.Time, bool) {
	c.lastOpTimeMu.RLock()
	defer c.lastOpTimeMu.RUnlock()

	t, exists := c.lastOpTime[op]
	return t, exists
}

// GetCount returns the current count for an operation type
func (c *AtomicCollector) GetCount(op OperationType) uint64 {
	c.countsMu.RLock()
	defer c.countsMu.RUnlock()

	if counter, exists := c.counts[op]; exists {
		return counter.Load()
	}
	return 0
}

// GetStats returns a snapshot of all operation counters
func (c *AtomicCollector) GetStats() map[OperationType]uint64 {
	c.countsMu.RLock()
	defer c.countsMu.RUnlock()

	stats := make(map[OperationType]uint64, len(c.counts))
	for op, counter := range c.counts {
		stats[op] = counter.Load()
	}
	return stats
}

// getOrCreateCounter gets an existing counter or creates a new one
func (c *AtomicCollector) getOrCreateCounter(op OperationType) *atomic.Uint64 {
	// Try read lock first for common case
	c.countsMu.RLock()
	counter, exists := c.counts[op]
	c.countsMu.RUnlock()

	if !exists {
		c.countsMu.Lock()
		if counter, exists = c.counts[op]; !exists {
			counter = &atomic.Uint64{}
			c.counts[op] = counter
		}
		c.countsMu.Unlock()
	}

	return counter
}
