package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brackishlabs/burr/internal/config"
	"github.com/brackishlabs/burr/internal/store"
)

var dataDir string

var rootCmd = &cobra.Command{
	Use:   "burr",
	Short: "burr drives job-scoped recursive web crawls",
	Long: `burr runs a single crawl job from a seed URL to completion, persisting
every page it visits to a content-addressed on-disk store, and lets you
inspect, stop, or export jobs afterward.`,
}

// Execute runs the root command, exiting non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override USER_DATA_DIR for the job store root")
}

// openStore loads runtime config, resolves the store root (honoring
// --data-dir over USER_DATA_DIR), opens the sqlite registry index
// alongside it, and returns a ready Store.
func openStore() (*store.Store, *config.RuntimeConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.UserDataDir = dataDir
	}

	root := cfg.StoreRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create store root: %w", err)
	}

	index, err := store.OpenRegistryIndex(root + "/.registry_index.sqlite")
	if err != nil {
		return nil, nil, fmt.Errorf("open registry index: %w", err)
	}

	s, err := store.Open(root, index)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return s, cfg, nil
}
