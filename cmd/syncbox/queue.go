package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldlog/syncbox"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage outbox items",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending or failed outbox items",
	RunE:  runQueueList,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <item-id>",
	Short: "Reset a failed item for another delivery attempt",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRetry,
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <item-id>",
	Short: "Discard an unrecoverable outbox item",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRemove,
}

var (
	listFailed bool
	listLimit  int
)

func init() {
	queueListCmd.Flags().BoolVar(&listFailed, "failed", false, "List failed items instead of pending")
	queueListCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum items to list (pending only)")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueRemoveCmd)
}

func openStore() (*syncbox.Store, error) {
	cfg := loadConfig()
	store, err := syncbox.NewStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var items []syncbox.QueueItem
	if listFailed {
		items, err = store.FailedItems()
	} else {
		items, err = store.PendingItems(listLimit)
	}
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}

	if outputJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		return nil
	}

	for _, item := range items {
		fmt.Fprintf(out, "%s  %-6s %-12s %s seq=%d prio=%d retry=%d/%d\n",
			item.ID, item.Operation, item.TableName, item.RecordID,
			item.SequenceNumber, item.Priority, item.RetryCount, item.MaxRetries)
		if item.LastError != "" {
			fmt.Fprintf(out, "    %s\n", mutedRender("last error: "+item.LastError))
		}
		fmt.Fprintf(out, "    %s\n", mutedRender("queued "+item.CreatedAt.Format(time.RFC3339)))
	}

	return nil
}

func mutedRender(s string) string {
	if isTTY() {
		return mutedStyle.Render(s)
	}
	return s
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Retry(args[0]); err != nil {
		return fmt.Errorf("retry %s: %w", args[0], err)
	}

	printStyled(cmd.OutOrStdout(), iconSuccess, successStyle, "Item %s reset to pending", args[0])
	return nil
}

func runQueueRemove(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Remove(args[0]); err != nil {
		return fmt.Errorf("remove %s: %w", args[0], err)
	}

	printStyled(cmd.OutOrStdout(), iconSuccess, successStyle, "Item %s removed", args[0])
	return nil
}
