package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testEnv points the CLI at a temporary database and resets global flag
// state. Returns a cleanup function.
func testEnv(t *testing.T) func() {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	origDBPath := os.Getenv("SYNCBOX_DB_PATH")
	origRemoteURL := os.Getenv("SYNCBOX_REMOTE_URL")
	origAPIKey := os.Getenv("SYNCBOX_API_KEY")

	os.Setenv("SYNCBOX_DB_PATH", dbPath)
	os.Setenv("SYNCBOX_REMOTE_URL", "")
	os.Setenv("SYNCBOX_API_KEY", "")

	cfgDBPath = ""
	cfgRemoteURL = ""
	cfgAPIKey = ""
	outputJSON = false

	return func() {
		os.Setenv("SYNCBOX_DB_PATH", origDBPath)
		os.Setenv("SYNCBOX_REMOTE_URL", origRemoteURL)
		os.Setenv("SYNCBOX_API_KEY", origAPIKey)

		cfgDBPath = ""
		cfgRemoteURL = ""
		cfgAPIKey = ""
		outputJSON = false
	}
}

func TestCLI_Help_ListsAllCommands(t *testing.T) {
	defer testEnv(t)()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"--help"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	for _, cmd := range []string{"status", "sync", "queue", "cleanup", "version"} {
		if !strings.Contains(output, cmd) {
			t.Errorf("--help output should contain %q command", cmd)
		}
	}
}

func TestCLI_Status_JSON(t *testing.T) {
	defer testEnv(t)()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"status", "--json"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("status command failed: %v", err)
	}

	var report statusReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("status --json output is not valid JSON: %v\n%s", err, stdout.String())
	}
	if report.Pending != 0 || report.Failed != 0 {
		t.Errorf("fresh database report = %+v, want zero counts", report)
	}
	if report.LastSyncAt != "" {
		t.Errorf("last sync = %q, want empty before any drain", report.LastSyncAt)
	}
}

func TestCLI_Sync_RequiresRemoteURL(t *testing.T) {
	defer testEnv(t)()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"sync"})

	if err := rootCmd.Execute(); err == nil {
		t.Error("sync without a remote URL should fail")
	}
}

func TestCLI_QueueList_EmptyQueue(t *testing.T) {
	defer testEnv(t)()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"queue", "list", "--json"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("queue list failed: %v", err)
	}
}
