package syncbox

import (
	"context"
	"time"
)

// Operation is the kind of local mutation an outbox item carries.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ValidOperations returns all valid outbox operations.
func ValidOperations() []Operation {
	return []Operation{OpInsert, OpUpdate, OpDelete}
}

// IsValid checks if the operation is a valid outbox operation.
func (o Operation) IsValid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// QueueStatus is the lifecycle state of an outbox item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// IsValid checks if the status is a valid queue status.
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueuePending, QueueProcessing, QueueCompleted, QueueFailed:
		return true
	}
	return false
}

// SyncStatus is the delivery state stamped onto a local record.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncError    SyncStatus = "error"
	SyncConflict SyncStatus = "conflict"
)

// IsValid checks if the status is a valid record sync status.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncError, SyncConflict:
		return true
	}
	return false
}

// QueueItem is a single durable outbox entry.
//
// Payload is an opaque snapshot of the mutation; the engine never interprets
// it. Handlers own (de)serialization for their table.
type QueueItem struct {
	ID             string      `json:"id"`
	TableName      string      `json:"table_name"`
	Operation      Operation   `json:"operation"`
	RecordID       string      `json:"record_id"`
	Payload        []byte      `json:"payload,omitempty"`
	IdempotencyKey string      `json:"idempotency_key"`
	Status         QueueStatus `json:"status"`
	Priority       int         `json:"priority"`
	RetryCount     int         `json:"retry_count"`
	MaxRetries     int         `json:"max_retries"`
	LastError      string      `json:"last_error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ProcessedAt    *time.Time  `json:"processed_at,omitempty"`
	SequenceNumber int64       `json:"sequence_number"`
}

// EnqueueParams describes a mutation to append to the outbox.
type EnqueueParams struct {
	Table    string    `json:"table"`
	Op       Operation `json:"operation"`
	RecordID string    `json:"record_id"`
	Payload  []byte    `json:"payload,omitempty"`
	Priority int       `json:"priority,omitempty"`

	// IdempotencyKey, when set, is reused instead of generating a fresh key.
	// An existing queue row with the same key short-circuits the enqueue.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// MaxRetries overrides the configured default when > 0.
	MaxRetries int `json:"max_retries,omitempty"`
}

// Handler delivers one outbox item to the remote peer.
//
// On success it returns the server-assigned identifier (empty for operations
// that don't produce one). Handlers must be idempotent-safe: the remote peer
// is expected to deduplicate on the item's idempotency key, so a retried
// delivery of a previously seen key must not duplicate the effect.
type Handler func(ctx context.Context, item *QueueItem) (serverID string, err error)

// SyncState is the aggregate engine state published to observers.
type SyncState struct {
	Online       bool      `json:"online"`
	Syncing      bool      `json:"syncing"`
	LastSyncAt   time.Time `json:"last_sync_at"`
	PendingCount int       `json:"pending_count"`
	ErrorCount   int       `json:"error_count"`
}

// SyncResult summarizes one drain cycle.
type SyncResult struct {
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"` // set when the cycle could not start
	Processed int    `json:"processed"`
	Errors    int    `json:"errors"`
}

// Drain-rejection reasons reported in SyncResult.Reason.
const (
	ReasonOffline        = "offline"
	ReasonSyncInProgress = "sync_in_progress"
)

// RecordSyncInfo is the sync metadata carried by every tracked business row.
type RecordSyncInfo struct {
	ID              string     `json:"id"`
	ServerID        string     `json:"server_id,omitempty"`
	SyncStatus      SyncStatus `json:"sync_status"`
	IdempotencyKey  string     `json:"idempotency_key"`
	ClientTimestamp time.Time  `json:"client_timestamp"`
	ServerTimestamp *time.Time `json:"server_timestamp,omitempty"`
	RetryCount      int        `json:"retry_count"`
	LastError       string     `json:"last_error,omitempty"`
}

// TimeEntry is the bundled tracked table: one captured unit of work.
type TimeEntry struct {
	ID              string     `json:"id"`
	Project         string     `json:"project"`
	StartedAt       time.Time  `json:"started_at"`
	Minutes         int        `json:"minutes"`
	Note            string     `json:"note,omitempty"`
	ServerID        string     `json:"server_id,omitempty"`
	SyncStatus      SyncStatus `json:"sync_status"`
	IdempotencyKey  string     `json:"idempotency_key"`
	ClientTimestamp time.Time  `json:"client_timestamp"`
	ServerTimestamp *time.Time `json:"server_timestamp,omitempty"`
	RetryCount      int        `json:"retry_count"`
	LastError       string     `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// QueueCounts holds per-status outbox row counts.
type QueueCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Engine defaults.
const (
	DefaultMaxBatchSize  = 20
	DefaultMaxRetries    = 3
	DefaultRetention     = 24 * time.Hour
	DefaultDebounceDelay = 100 * time.Millisecond
)
