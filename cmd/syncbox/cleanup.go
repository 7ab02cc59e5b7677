package main

import (
	"fmt"
	"time"

	"github.com/fieldlog/syncbox"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune synced history and compact the database",
	Long: `Delete completed outbox rows and synced records older than the
retention window, then reclaim free space.`,
	RunE: runCleanup,
}

var cleanupDays int

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 1, "Retention window in days")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	retention := time.Duration(cleanupDays) * 24 * time.Hour
	start := time.Now()

	if err := store.Cleanup(retention, syncbox.TimeEntriesTable); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	printStyled(cmd.OutOrStdout(), iconSuccess, successStyle,
		"Cleanup complete (retention %dd, took %s)", cleanupDays, time.Since(start).Round(time.Millisecond))
	return nil
}
