package main

import (
	"os"

	"github.com/fieldlog/syncbox"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgDBPath    string
	cfgRemoteURL string
	cfgAPIKey    string
	outputJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "syncbox",
	Short: "Syncbox - offline outbox inspection and sync CLI",
	Long: `Syncbox manages the durable outbox of a local-first capture device.

It inspects the pending queue, runs drain cycles against the remote
backend, retries failed deliveries, and prunes synced history.`,
}

func init() {
	// Best-effort .env for local development; real deployments use the
	// environment directly.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db", "", "Path to local database (default: ./data/syncbox.db)")
	rootCmd.PersistentFlags().StringVar(&cfgRemoteURL, "remote-url", "", "Base URL of the sync backend")
	rootCmd.PersistentFlags().StringVar(&cfgAPIKey, "api-key", "", "API key for backend authentication")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Emit machine-readable JSON output")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func loadConfig() syncbox.Config {
	cfg := syncbox.ConfigFromEnv().WithDefaults()

	// Flags override environment
	if cfgDBPath != "" {
		cfg.Path = cfgDBPath
	}

	return cfg
}

func remoteURL() string {
	if cfgRemoteURL != "" {
		return cfgRemoteURL
	}
	return os.Getenv("SYNCBOX_REMOTE_URL")
}

func apiKey() string {
	if cfgAPIKey != "" {
		return cfgAPIKey
	}
	return os.Getenv("SYNCBOX_API_KEY")
}
