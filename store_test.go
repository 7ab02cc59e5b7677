package syncbox_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldlog/syncbox"
)

func newTestStore(t *testing.T) *syncbox.Store {
	t.Helper()
	store, err := syncbox.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	store, err := syncbox.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	if store.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", store.Path(), dbPath)
	}
}

func TestNewStore_MigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := syncbox.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	store.Close()

	// Reopening re-runs the migration runner; it must be a no-op.
	store, err = syncbox.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore reopen: %v", err)
	}
	defer store.Close()

	if _, err := store.Counts(); err != nil {
		t.Fatalf("Counts after reopen: %v", err)
	}
}

func TestStore_Metadata(t *testing.T) {
	store := newTestStore(t)

	// Unset key reads as empty
	value, err := store.GetMetadata("missing")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if value != "" {
		t.Errorf("missing key = %q, want empty", value)
	}

	if err := store.SetMetadata("device_label", "van-3"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	value, err = store.GetMetadata("device_label")
	if err != nil {
		t.Fatalf("GetMetadata after set: %v", err)
	}
	if value != "van-3" {
		t.Errorf("value = %q, want %q", value, "van-3")
	}

	// Upsert overwrites
	if err := store.SetMetadata("device_label", "van-7"); err != nil {
		t.Fatalf("SetMetadata overwrite: %v", err)
	}
	value, _ = store.GetMetadata("device_label")
	if value != "van-7" {
		t.Errorf("value after overwrite = %q, want %q", value, "van-7")
	}
}

func TestStore_MetadataPersistedAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := syncbox.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.SetMetadata("k", "v"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	store.Close()

	store, err = syncbox.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore reopen: %v", err)
	}
	defer store.Close()

	value, err := store.GetMetadata("k")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if value != "v" {
		t.Errorf("value = %q, want %q", value, "v")
	}
}

func TestStore_LastSyncAt(t *testing.T) {
	store := newTestStore(t)

	// Zero before any drain
	lastSync, err := store.LastSyncAt()
	if err != nil {
		t.Fatalf("LastSyncAt: %v", err)
	}
	if !lastSync.IsZero() {
		t.Errorf("initial last sync = %v, want zero", lastSync)
	}

	want := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	if err := store.SetMetadata("last_sync_at", want.Format(time.RFC3339)); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	lastSync, err = store.LastSyncAt()
	if err != nil {
		t.Fatalf("LastSyncAt after set: %v", err)
	}
	if !lastSync.Equal(want) {
		t.Errorf("last sync = %v, want %v", lastSync, want)
	}
}

func TestStore_ClosedOperationsFail(t *testing.T) {
	store := newTestStore(t)
	store.Close()

	if _, err := store.GetMetadata("k"); err != syncbox.ErrStoreClosed {
		t.Errorf("GetMetadata error = %v, want ErrStoreClosed", err)
	}
	if _, err := store.PendingItems(0); err != syncbox.ErrStoreClosed {
		t.Errorf("PendingItems error = %v, want ErrStoreClosed", err)
	}
	if _, err := store.Enqueue(syncbox.EnqueueParams{
		Table: "time_entries", Op: syncbox.OpInsert, RecordID: "r1",
	}); err != syncbox.ErrStoreClosed {
		t.Errorf("Enqueue error = %v, want ErrStoreClosed", err)
	}
}

func TestStore_CleanupRejectsBadTableName(t *testing.T) {
	store := newTestStore(t)

	err := store.Cleanup(time.Hour, "time_entries; DROP TABLE sync_queue")
	if err == nil {
		t.Fatal("Cleanup accepted malicious table name")
	}
}
