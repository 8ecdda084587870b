package index

import (
	"errors"

	"github.com/slopedb/slope/pkg/group"
)

var (
	// ErrIndexClosed is returned when operations are performed on a closed index
	ErrIndexClosed = errors.New("index is closed")

	// ErrKeyNotFound is returned when a key is absent or tombstoned
	ErrKeyNotFound = group.ErrNotFound

	// ErrRetryExhausted is returned when a write kept hitting structural
	// conflicts past the configured retry bound. Only possible with
	// MaxPutRetries > 0; the default retries without bound and never
	// surfaces a conflict.
	ErrRetryExhausted = errors.New("structural conflict retries exhausted")

	// ErrMaintenanceRunning is returned when a synchronous adjustment is
	// requested while background maintenance owns the root.
	ErrMaintenanceRunning = errors.New("background maintenance is running")
)
