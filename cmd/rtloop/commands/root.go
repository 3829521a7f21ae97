package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	catalogDir string
	dbPath     string
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rtloop",
		Short: "rtloop - deterministic fixed-period dataflow engine",
		Long: `rtloop executes a workspace of connected plugin instances at a fixed
tick period with deterministic ordering and realtime accounting.

Features:
  - Topologically scheduled plugin graph with priority groups
  - Fixed-period tick loop with latency and jitter tracking
  - Builtin signal generator, DAQ adapter, CSV recorder
  - Starlark expressions and WASM plugins for custom math
  - Run history persisted to SQLite`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVar(&catalogDir, "catalog", "", "plugin catalog directory")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "rtloop.db", "run history database path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPluginsCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
