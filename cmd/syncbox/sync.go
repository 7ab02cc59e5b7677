package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldlog/syncbox"
	"github.com/fieldlog/syncbox/internal/remote"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one drain cycle against the backend",
	Long: `Deliver pending outbox items to the remote backend and wait for the
cycle to finish.

Example:
  syncbox sync --remote-url https://api.example.com --api-key $KEY`,
	RunE: runSync,
}

var syncTimeout time.Duration

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 60*time.Second, "Overall drain timeout")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	url := remoteURL()
	if url == "" {
		return fmt.Errorf("SYNCBOX_REMOTE_URL not configured")
	}

	// CLI runs are explicit "sync now" actions; connectivity was the
	// operator's call, so the monitor is pinned online.
	engine, err := syncbox.New(cfg, syncbox.NewManualMonitor(true))
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	defer engine.Close()

	client := remote.NewClient(url, apiKey(), cfg.SourceID)
	if err := engine.RegisterHandler(syncbox.TimeEntriesTable, client.Handler(syncbox.TimeEntriesTable)); err != nil {
		return fmt.Errorf("register handler: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Draining outbox...")
	start := time.Now()

	result, err := engine.ProcessQueue(ctx)
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("drain did not start: %s", result.Reason)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	if result.Errors == 0 {
		printStyled(out, iconSuccess, successStyle, "Processed %d item(s) in %s", result.Processed, elapsed)
	} else {
		printStyled(out, iconWarning, warningStyle, "Processed %d item(s), %d error(s) in %s", result.Processed, result.Errors, elapsed)
	}

	state, err := engine.State()
	if err == nil {
		printKV(out, "pending", fmt.Sprintf("%d", state.PendingCount))
		printKV(out, "failed", fmt.Sprintf("%d", state.ErrorCount))
	}

	return nil
}
