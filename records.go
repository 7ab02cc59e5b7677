package syncbox

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldlog/syncbox/internal/idkey"
	"github.com/oklog/ulid/v2"
)

// markRecordSynced stamps a successful delivery onto the business row.
// For DELETE operations the local row is usually gone already; an update
// affecting zero rows is not an error.
func markRecordSynced(tx *sql.Tx, item *QueueItem, serverID string, now time.Time) error {
	if !tableNamePattern.MatchString(item.TableName) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, item.TableName)
	}

	ts := now.UTC().Format(time.RFC3339)

	if item.Operation == OpInsert && serverID != "" {
		_, err := tx.Exec(fmt.Sprintf(`
			UPDATE %s
			SET server_id = ?, sync_status = 'synced', server_timestamp = ?,
			    retry_count = 0, last_error = NULL, updated_at = ?
			WHERE id = ?
		`, item.TableName), serverID, ts, ts, item.RecordID)
		if err != nil {
			return fmt.Errorf("store: mark %s/%s synced: %w", item.TableName, item.RecordID, err)
		}
		return nil
	}

	_, err := tx.Exec(fmt.Sprintf(`
		UPDATE %s
		SET sync_status = 'synced', server_timestamp = ?,
		    retry_count = 0, last_error = NULL, updated_at = ?
		WHERE id = ?
	`, item.TableName), ts, ts, item.RecordID)
	if err != nil {
		return fmt.Errorf("store: mark %s/%s synced: %w", item.TableName, item.RecordID, err)
	}
	return nil
}

// markRecordFailed stamps a terminal delivery failure (conflict or exhausted
// retries) onto the business row. The record's retry_count holds the number
// of attempts made, including the final one.
func markRecordFailed(tx *sql.Tx, item *QueueItem, status SyncStatus, errMsg string, now time.Time) error {
	if !tableNamePattern.MatchString(item.TableName) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, item.TableName)
	}

	_, err := tx.Exec(fmt.Sprintf(`
		UPDATE %s
		SET sync_status = ?, last_error = ?, retry_count = ?, updated_at = ?
		WHERE id = ?
	`, item.TableName), string(status), errMsg, item.RetryCount+1, now.UTC().Format(time.RFC3339), item.RecordID)
	if err != nil {
		return fmt.Errorf("store: mark %s/%s failed: %w", item.TableName, item.RecordID, err)
	}
	return nil
}

// RecordInfo returns the sync metadata of a tracked business row.
func (s *Store) RecordInfo(table, id string) (*RecordSyncInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}

	row := s.db.QueryRow(fmt.Sprintf(`
		SELECT id, server_id, sync_status, idempotency_key, client_timestamp,
		       server_timestamp, retry_count, last_error
		FROM %s WHERE id = ?
	`, table), id)

	var (
		info            RecordSyncInfo
		serverID        sql.NullString
		syncStatus      string
		clientTimestamp string
		serverTimestamp sql.NullString
		lastError       sql.NullString
	)
	err := row.Scan(
		&info.ID,
		&serverID,
		&syncStatus,
		&info.IdempotencyKey,
		&clientTimestamp,
		&serverTimestamp,
		&info.RetryCount,
		&lastError,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: record info %s/%s: %w", table, id, err)
	}

	info.SyncStatus = SyncStatus(syncStatus)
	if serverID.Valid {
		info.ServerID = serverID.String
	}
	info.ClientTimestamp, _ = time.Parse(time.RFC3339, clientTimestamp)
	if serverTimestamp.Valid {
		t, _ := time.Parse(time.RFC3339, serverTimestamp.String)
		info.ServerTimestamp = &t
	}
	if lastError.Valid {
		info.LastError = lastError.String
	}

	return &info, nil
}

// TimeEntriesTable is the bundled tracked table name.
const TimeEntriesTable = "time_entries"

// InsertTimeEntry atomically inserts a time entry and its outbox row in one
// transaction. This is the primary local-write path: the business write and
// the intent to deliver it are durably recorded together.
func (s *Store) InsertTimeEntry(entry *TimeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if entry.Project == "" {
		return fmt.Errorf("store: time entry project is required")
	}

	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.IdempotencyKey == "" {
		entry.IdempotencyKey = idkey.New()
	}
	if entry.SyncStatus == "" {
		entry.SyncStatus = SyncPending
	}
	if entry.ClientTimestamp.IsZero() {
		entry.ClientTimestamp = now
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = now
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	_, err = tx.Exec(`
		INSERT INTO time_entries (id, project, started_at, minutes, note, sync_status,
		                          idempotency_key, client_timestamp, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`,
		entry.ID,
		entry.Project,
		entry.StartedAt.UTC().Format(time.RFC3339),
		entry.Minutes,
		nullString(entry.Note),
		string(entry.SyncStatus),
		entry.IdempotencyKey,
		entry.ClientTimestamp.UTC().Format(time.RFC3339),
		entry.CreatedAt.Format(time.RFC3339),
		entry.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: insert time entry: %w", err)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: marshal time entry: %w", err)
	}

	if _, err := s.enqueueTx(tx, EnqueueParams{
		Table:          TimeEntriesTable,
		Op:             OpInsert,
		RecordID:       entry.ID,
		Payload:        payload,
		IdempotencyKey: entry.IdempotencyKey,
	}, now); err != nil {
		return fmt.Errorf("store: enqueue time entry: %w", err)
	}

	return tx.Commit()
}

// UpdateTimeEntry atomically updates a time entry's business fields, resets
// it to pending, and appends an UPDATE outbox row. Each update gets a fresh
// idempotency key: it is a distinct logical mutation.
func (s *Store) UpdateTimeEntry(entry *TimeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if entry.ID == "" {
		return fmt.Errorf("store: time entry id is required")
	}

	now := time.Now().UTC()
	entry.SyncStatus = SyncPending
	entry.ClientTimestamp = now
	entry.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE time_entries
		SET project = ?, started_at = ?, minutes = ?, note = ?,
		    sync_status = 'pending', client_timestamp = ?, updated_at = ?
		WHERE id = ?
	`,
		entry.Project,
		entry.StartedAt.UTC().Format(time.RFC3339),
		entry.Minutes,
		nullString(entry.Note),
		entry.ClientTimestamp.Format(time.RFC3339),
		entry.UpdatedAt.Format(time.RFC3339),
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update time entry: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: marshal time entry: %w", err)
	}

	if _, err := s.enqueueTx(tx, EnqueueParams{
		Table:    TimeEntriesTable,
		Op:       OpUpdate,
		RecordID: entry.ID,
		Payload:  payload,
	}, now); err != nil {
		return fmt.Errorf("store: enqueue time entry update: %w", err)
	}

	return tx.Commit()
}

// DeleteTimeEntry atomically deletes a time entry locally and appends a
// DELETE outbox row carrying the server id the handler needs.
func (s *Store) DeleteTimeEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	var serverID sql.NullString
	err = tx.QueryRow(`SELECT server_id FROM time_entries WHERE id = ?`, id).Scan(&serverID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: load time entry: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM time_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete time entry: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"id": id, "server_id": serverID.String})
	if err != nil {
		return fmt.Errorf("store: marshal delete payload: %w", err)
	}

	if _, err := s.enqueueTx(tx, EnqueueParams{
		Table:    TimeEntriesTable,
		Op:       OpDelete,
		RecordID: id,
		Payload:  payload,
	}, now); err != nil {
		return fmt.Errorf("store: enqueue time entry delete: %w", err)
	}

	return tx.Commit()
}

// GetTimeEntry retrieves a time entry by id.
func (s *Store) GetTimeEntry(id string) (*TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT id, project, started_at, minutes, note, server_id, sync_status,
		       idempotency_key, client_timestamp, server_timestamp, retry_count,
		       last_error, created_at, updated_at
		FROM time_entries WHERE id = ?
	`, id)

	var (
		entry           TimeEntry
		startedAt       string
		note            sql.NullString
		serverID        sql.NullString
		syncStatus      string
		clientTimestamp string
		serverTimestamp sql.NullString
		lastError       sql.NullString
		createdAt       string
		updatedAt       string
	)
	err := row.Scan(
		&entry.ID,
		&entry.Project,
		&startedAt,
		&entry.Minutes,
		&note,
		&serverID,
		&syncStatus,
		&entry.IdempotencyKey,
		&clientTimestamp,
		&serverTimestamp,
		&entry.RetryCount,
		&lastError,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get time entry: %w", err)
	}

	entry.SyncStatus = SyncStatus(syncStatus)
	entry.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if note.Valid {
		entry.Note = note.String
	}
	if serverID.Valid {
		entry.ServerID = serverID.String
	}
	entry.ClientTimestamp, _ = time.Parse(time.RFC3339, clientTimestamp)
	if serverTimestamp.Valid {
		t, _ := time.Parse(time.RFC3339, serverTimestamp.String)
		entry.ServerTimestamp = &t
	}
	if lastError.Valid {
		entry.LastError = lastError.String
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	entry.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &entry, nil
}
