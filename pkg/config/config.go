package config

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfig is returned when a configured bound violates a
	// construction invariant. Callers must not proceed past it.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds the tuning bounds for one index instance.
//
// Every bound is validated at construction; the error-window search and
// the split/merge decisions compare against these values, so a
// non-positive bound is rejected outright rather than clamped.
type Config struct {
	// Root configuration
	RootErrorBound       int   `json:"root_error_bound"`
	RootMemoryConstraint int64 `json:"root_memory_constraint"`

	// Group configuration
	GroupErrorBound     int `json:"group_error_bound"`
	GroupErrorTolerance int `json:"group_error_tolerance"`
	GroupSizeBound      int `json:"group_size_bound"`
	MergeSizeThreshold  int `json:"merge_size_threshold"`

	// Buffer configuration
	BufferSizeBound        int `json:"buffer_size_bound"`
	BufferSizeTolerance    int `json:"buffer_size_tolerance"`
	BufferCompactThreshold int `json:"buffer_compact_threshold"`

	// Worker configuration
	WorkerCount       int `json:"worker_count"`
	BackgroundThreads int `json:"background_threads"`

	// MaxPutRetries bounds the structural-conflict retry loop on writes.
	// Zero means retry without bound.
	MaxPutRetries int `json:"max_put_retries"`

	// MaintenanceInterval is the pause between background rounds.
	MaintenanceInterval time.Duration `json:"maintenance_interval"`
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	return &Config{
		// Root defaults
		RootErrorBound:       32,
		RootMemoryConstraint: 16 * 1024 * 1024, // 16MB

		// Group defaults
		GroupErrorBound:     32,
		GroupErrorTolerance: 16,
		GroupSizeBound:      4096,
		MergeSizeThreshold:  256,

		// Buffer defaults
		BufferSizeBound:        256,
		BufferSizeTolerance:    64,
		BufferCompactThreshold: 128,

		// Worker defaults
		WorkerCount:       1,
		BackgroundThreads: 1,

		MaxPutRetries:       0,
		MaintenanceInterval: 10 * time.Millisecond,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.RootErrorBound <= 0 {
		return fmt.Errorf("%w: root error bound must be positive", ErrInvalidConfig)
	}

	if c.RootMemoryConstraint <= 0 {
		return fmt.Errorf("%w: root memory constraint must be positive", ErrInvalidConfig)
	}

	if c.GroupErrorBound <= 0 {
		return fmt.Errorf("%w: group error bound must be positive", ErrInvalidConfig)
	}

	if c.GroupErrorTolerance <= 0 {
		return fmt.Errorf("%w: group error tolerance must be positive", ErrInvalidConfig)
	}

	if c.GroupSizeBound <= 0 {
		return fmt.Errorf("%w: group size bound must be positive", ErrInvalidConfig)
	}

	if c.MergeSizeThreshold <= 0 {
		return fmt.Errorf("%w: merge size threshold must be positive", ErrInvalidConfig)
	}

	if c.BufferSizeBound <= 0 {
		return fmt.Errorf("%w: buffer size bound must be positive", ErrInvalidConfig)
	}

	if c.BufferSizeTolerance <= 0 {
		return fmt.Errorf("%w: buffer size tolerance must be positive", ErrInvalidConfig)
	}

	if c.BufferCompactThreshold <= 0 {
		return fmt.Errorf("%w: buffer compact threshold must be positive", ErrInvalidConfig)
	}

	if c.WorkerCount <= 0 {
		return fmt.Errorf("%w: worker count must be positive", ErrInvalidConfig)
	}

	if c.BackgroundThreads < 0 {
		return fmt.Errorf("%w: background thread count must not be negative", ErrInvalidConfig)
	}

	if c.MaxPutRetries < 0 {
		return fmt.Errorf("%w: max put retries must not be negative", ErrInvalidConfig)
	}

	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("%w: maintenance interval must be positive", ErrInvalidConfig)
	}

	return nil
}
