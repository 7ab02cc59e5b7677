package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldlog/syncbox"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show outbox and sync state",
	Long:  `Display queue counts and the time of the last completed drain.`,
	RunE:  runStatus,
}

type statusReport struct {
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	LastSyncAt string `json:"last_sync_at,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	store, err := syncbox.NewStore(cfg.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	counts, err := store.Counts()
	if err != nil {
		return fmt.Errorf("count queue: %w", err)
	}

	lastSync, err := store.LastSyncAt()
	if err != nil {
		return fmt.Errorf("read last sync: %w", err)
	}

	report := statusReport{
		Pending:    counts.Pending,
		Processing: counts.Processing,
		Completed:  counts.Completed,
		Failed:     counts.Failed,
	}
	if !lastSync.IsZero() {
		report.LastSyncAt = lastSync.Format(time.RFC3339)
	}

	if outputJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Outbox")
	printKV(out, "pending", fmt.Sprintf("%d", report.Pending))
	printKV(out, "processing", fmt.Sprintf("%d", report.Processing))
	printKV(out, "completed", fmt.Sprintf("%d", report.Completed))
	printKV(out, "failed", fmt.Sprintf("%d", report.Failed))
	if report.LastSyncAt != "" {
		printKV(out, "last sync", report.LastSyncAt)
	} else {
		printKV(out, "last sync", "never")
	}

	if report.Failed > 0 {
		printStyled(out, iconWarning, warningStyle, "%d item(s) need attention; see 'syncbox queue list --failed'", report.Failed)
	}

	return nil
}
