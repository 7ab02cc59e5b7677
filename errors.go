package syncbox

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the syncbox engine and store.
var (
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNotFound is returned when a tracked record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrQueueItemNotFound is returned when an outbox item is not found.
	ErrQueueItemNotFound = errors.New("queue item not found")

	// ErrNoHandler is returned when no handler is registered for a table.
	ErrNoHandler = errors.New("no sync handler registered")

	// ErrOffline is returned when a drain is requested while offline.
	ErrOffline = errors.New("device is offline")

	// ErrSyncInProgress is returned when a drain cycle is already running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrInvalidTable is returned when a table name fails validation.
	ErrInvalidTable = errors.New("invalid table name")
)

// ValidationError is returned when configuration validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ConflictError reports that the remote peer rejected a delivery because its
// state diverged from what the local mutation assumed. Conflicts are never
// retried; they are surfaced for manual resolution.
type ConflictError struct {
	Table    string
	RecordID string
	Detail   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("CONFLICT: %s/%s: %s", e.Table, e.RecordID, e.Detail)
}

// DeliveryError is a transient delivery failure (network blip, 5xx, timeout).
// Extractable via errors.As(). Supports Unwrap().
type DeliveryError struct {
	Table      string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s failed (status %d): %v", e.Table, e.StatusCode, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsConflict reports whether err signals a remote conflict.
//
// Handlers may return a typed *ConflictError or, for implementations that
// only surface strings from the wire, any error whose text carries the
// "CONFLICT" marker.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return true
	}
	return strings.Contains(strings.ToUpper(err.Error()), "CONFLICT")
}
