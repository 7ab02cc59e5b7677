package syncbox

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldlog/syncbox/internal/idkey"
	"github.com/oklog/ulid/v2"
)

// Enqueue appends a mutation to the outbox and returns the new row's id.
//
// The sequence number is assigned as max(existing)+1 inside the insert
// transaction; the single-writer model makes this race-free, and the
// transaction covers accidental multi-goroutine use. When the caller supplies
// an idempotency key that is already queued, the existing row's id is
// returned and no new row is inserted: a key, once assigned, is never reused.
func (s *Store) Enqueue(params EnqueueParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	id, err := s.enqueueTx(tx, params, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, tx.Commit()
}

func (s *Store) enqueueTx(tx *sql.Tx, params EnqueueParams, now time.Time) (string, error) {
	if !tableNamePattern.MatchString(params.Table) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTable, params.Table)
	}
	if !params.Op.IsValid() {
		return "", fmt.Errorf("store: invalid operation %q", params.Op)
	}
	if params.RecordID == "" {
		return "", fmt.Errorf("store: enqueue: record id is required")
	}

	key := params.IdempotencyKey
	if key != "" {
		// Dedup: a previously assigned key short-circuits to the existing row.
		var existingID string
		err := tx.QueryRow(`SELECT id FROM sync_queue WHERE idempotency_key = ?`, key).Scan(&existingID)
		if err == nil {
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("store: check idempotency key: %w", err)
		}
	} else {
		key = idkey.New()
	}

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM sync_queue`).Scan(&seq); err != nil {
		return "", fmt.Errorf("store: next sequence number: %w", err)
	}

	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.defaultMaxRetries
	}

	id := ulid.Make().String()
	_, err := tx.Exec(`
		INSERT INTO sync_queue (id, table_name, operation, record_id, payload, idempotency_key,
		                        status, priority, retry_count, max_retries, created_at, sequence_number)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, 0, ?, ?, ?)
	`,
		id,
		params.Table,
		string(params.Op),
		params.RecordID,
		params.Payload,
		key,
		params.Priority,
		maxRetries,
		now.Format(time.RFC3339),
		seq,
	)
	if err != nil {
		return "", fmt.Errorf("store: insert queue item: %w", err)
	}

	return id, nil
}

// PendingItems returns outbox rows eligible for delivery, ordered by
// priority DESC then sequence_number ASC so older same-priority work is
// never starved. A limit <= 0 returns all eligible rows.
func (s *Store) PendingItems(limit int) ([]QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT id, table_name, operation, record_id, payload, idempotency_key,
		       status, priority, retry_count, max_retries, last_error, created_at,
		       processed_at, sequence_number
		FROM sync_queue
		WHERE status = 'pending' AND retry_count < max_retries
		ORDER BY priority DESC, sequence_number ASC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query pending items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// FailedItems returns failed outbox rows, most recent first.
func (s *Store) FailedItems() ([]QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT id, table_name, operation, record_id, payload, idempotency_key,
		       status, priority, retry_count, max_retries, last_error, created_at,
		       processed_at, sequence_number
		FROM sync_queue
		WHERE status = 'failed'
		ORDER BY sequence_number DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query failed items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// GetQueueItem retrieves a single outbox row by id.
func (s *Store) GetQueueItem(id string) (*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT id, table_name, operation, record_id, payload, idempotency_key,
		       status, priority, retry_count, max_retries, last_error, created_at,
		       processed_at, sequence_number
		FROM sync_queue WHERE id = ?
	`, id)

	item, err := scanItemFrom(row)
	if err == sql.ErrNoRows {
		return nil, ErrQueueItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get queue item: %w", err)
	}
	return item, nil
}

// Retry resets a failed item to pending with a fresh retry budget.
func (s *Store) Retry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(`
		UPDATE sync_queue
		SET status = 'pending', retry_count = 0, last_error = NULL, processed_at = NULL
		WHERE id = ? AND status = 'failed'
	`, id)
	if err != nil {
		return fmt.Errorf("store: retry item: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}

// Remove hard-deletes an outbox row. Used to discard permanently
// unrecoverable items; the idempotency key stays burned either way.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: remove item: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}

// Counts returns per-status outbox row counts.
func (s *Store) Counts() (*QueueCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: count queue items: %w", err)
	}
	defer rows.Close()

	counts := &QueueCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch QueueStatus(status) {
		case QueuePending:
			counts.Pending = n
		case QueueProcessing:
			counts.Processing = n
		case QueueCompleted:
			counts.Completed = n
		case QueueFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// markProcessing transitions an item to processing before dispatch.
func (s *Store) markProcessing(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`UPDATE sync_queue SET status = 'processing' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: mark processing: %w", err)
	}
	return nil
}

// completeItem marks the queue row completed and propagates the delivery
// outcome onto the originating business row in one transaction.
func (s *Store) completeItem(item *QueueItem, serverID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE sync_queue SET status = 'completed', processed_at = ?, last_error = NULL WHERE id = ?
	`, now.UTC().Format(time.RFC3339), item.ID)
	if err != nil {
		return fmt.Errorf("store: complete queue item: %w", err)
	}

	if err := markRecordSynced(tx, item, serverID, now); err != nil {
		return err
	}

	return tx.Commit()
}

// failItem marks the queue row failed and stamps the terminal sync status
// onto the business row.
func (s *Store) failItem(item *QueueItem, recordStatus SyncStatus, errMsg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE sync_queue SET status = 'failed', last_error = ? WHERE id = ?
	`, errMsg, item.ID)
	if err != nil {
		return fmt.Errorf("store: fail queue item: %w", err)
	}

	if err := markRecordFailed(tx, item, recordStatus, errMsg, now); err != nil {
		return err
	}

	return tx.Commit()
}

// failItemQueueOnly marks the queue row failed without touching the business
// row. Used for configuration errors (no handler registered) where the
// tracked table may not even exist locally.
func (s *Store) failItemQueueOnly(item *QueueItem, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		UPDATE sync_queue SET status = 'failed', last_error = ? WHERE id = ?
	`, errMsg, item.ID)
	if err != nil {
		return fmt.Errorf("store: fail queue item: %w", err)
	}
	return nil
}

// requeueItem returns a transiently failed item to the pending pool with an
// incremented retry count; it stays eligible for a future batch.
func (s *Store) requeueItem(item *QueueItem, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		UPDATE sync_queue SET status = 'pending', retry_count = retry_count + 1, last_error = ? WHERE id = ?
	`, errMsg, item.ID)
	if err != nil {
		return fmt.Errorf("store: requeue item: %w", err)
	}
	return nil
}

// sweepCompleted deletes completed rows older than retention. Run after each
// successful drain cycle.
func (s *Store) sweepCompleted(retention time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	cutoff := now.UTC().Add(-retention).Format(time.RFC3339)
	_, err := s.db.Exec(`
		DELETE FROM sync_queue WHERE status = 'completed' AND processed_at < ?
	`, cutoff)
	if err != nil {
		return fmt.Errorf("store: sweep completed: %w", err)
	}
	return nil
}

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItemFrom(sc scanner) (*QueueItem, error) {
	var (
		item        QueueItem
		operation   string
		status      string
		lastError   sql.NullString
		createdAt   string
		processedAt sql.NullString
	)

	err := sc.Scan(
		&item.ID,
		&item.TableName,
		&operation,
		&item.RecordID,
		&item.Payload,
		&item.IdempotencyKey,
		&status,
		&item.Priority,
		&item.RetryCount,
		&item.MaxRetries,
		&lastError,
		&createdAt,
		&processedAt,
		&item.SequenceNumber,
	)
	if err != nil {
		return nil, err
	}

	item.Operation = Operation(operation)
	item.Status = QueueStatus(status)
	if lastError.Valid {
		item.LastError = lastError.String
	}
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if processedAt.Valid {
		t, _ := time.Parse(time.RFC3339, processedAt.String)
		item.ProcessedAt = &t
	}

	return &item, nil
}

func scanItems(rows *sql.Rows) ([]QueueItem, error) {
	var items []QueueItem
	for rows.Next() {
		item, err := scanItemFrom(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
