package syncbox

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fieldlog/syncbox/internal/store/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// metadata keys used by the engine.
const (
	metaLastSyncAt = "last_sync_at"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store manages the local SQLite database: the outbox, the metadata table,
// and the sync columns of tracked business tables.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string

	defaultMaxRetries int
}

// NewStore opens or creates a local store at path.
func NewStore(path string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent-safe durability; busy_timeout so a slow checkpoint
	// never surfaces as SQLITE_BUSY to the engine.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
		}
	}

	store := &Store{db: db, path: path, defaultMaxRetries: DefaultMaxRetries}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	// Rows stranded in 'processing' by a crash mid-drain go back to pending.
	// The delivery may or may not have reached the backend; the idempotency
	// key makes a repeated delivery safe either way.
	if _, err := db.Exec(`UPDATE sync_queue SET status = 'pending' WHERE status = 'processing'`); err != nil {
		db.Close()
		return nil, fmt.Errorf("recover in-flight queue rows: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// SetDefaultMaxRetries overrides the max_retries assigned to new queue items.
func (s *Store) SetDefaultMaxRetries(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.defaultMaxRetries = n
	}
}

// Path returns the filesystem path of the database.
func (s *Store) Path() string { return s.path }

// GetMetadata returns the value for key, or "" when unset.
func (s *Store) GetMetadata(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get metadata %q: %w", key, err)
	}
	return value, nil
}

// SetMetadata upserts a metadata key.
func (s *Store) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: set metadata %q: %w", key, err)
	}
	return nil
}

// LastSyncAt returns the persisted timestamp of the last completed drain.
func (s *Store) LastSyncAt() (time.Time, error) {
	value, err := s.GetMetadata(metaLastSyncAt)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parse %s: %w", metaLastSyncAt, err)
	}
	return t, nil
}

func (s *Store) setLastSyncAt(t time.Time) error {
	return s.SetMetadata(metaLastSyncAt, t.UTC().Format(time.RFC3339))
}

// Cleanup deletes completed outbox rows and synced business rows older than
// retention, then compacts free space. Tables must follow the local-record
// column convention (sync_status, server_timestamp).
func (s *Store) Cleanup(retention time.Duration, tables ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	_, err := s.db.Exec(`
		DELETE FROM sync_queue WHERE status = 'completed' AND processed_at < ?
	`, cutoff)
	if err != nil {
		return fmt.Errorf("store: sweep completed queue rows: %w", err)
	}

	for _, table := range tables {
		if !tableNamePattern.MatchString(table) {
			return fmt.Errorf("%w: %q", ErrInvalidTable, table)
		}
		_, err := s.db.Exec(fmt.Sprintf(`
			DELETE FROM %s WHERE sync_status = 'synced' AND server_timestamp < ?
		`, table), cutoff)
		if err != nil {
			return fmt.Errorf("store: sweep %s: %w", table, err)
		}
	}

	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("store: vacuum: %w", err)
	}
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
