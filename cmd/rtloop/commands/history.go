package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtloop/rtloop/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newHistoryListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			for _, run := range runs {
				fmt.Printf("%s  %-10s %-12s ticks=%-8d jitter=%.1fus  %s\n",
					run.StartedAt.Format(time.RFC3339),
					run.Status,
					run.Workspace,
					run.Ticks,
					run.JitterUS,
					run.ID,
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its faults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			faults, err := store.ListFaults(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"run":    run,
					"faults": faults,
				})
			}

			fmt.Printf("run %s (%s)\n", run.ID, run.Status)
			fmt.Printf("  workspace:   %s\n", run.Workspace)
			fmt.Printf("  started:     %s\n", run.StartedAt.Format(time.RFC3339))
			if run.StoppedAt != nil {
				fmt.Printf("  stopped:     %s (%s)\n", run.StoppedAt.Format(time.RFC3339), run.StopReason)
			}
			fmt.Printf("  ticks:       %d\n", run.Ticks)
			fmt.Printf("  target:      %.1fus\n", run.TargetUS)
			fmt.Printf("  mean period: %.1fus\n", run.MeanPeriodUS)
			fmt.Printf("  max period:  %.1fus\n", run.MaxPeriodUS)
			fmt.Printf("  jitter:      %.1fus\n", run.JitterUS)
			if run.Error != nil {
				fmt.Printf("  error:       %s\n", *run.Error)
			}
			for _, f := range faults {
				fmt.Printf("  fault tick=%d instance=%d kind=%s: %s\n", f.Tick, f.Instance, f.Kind, f.Message)
			}
			return nil
		},
	}

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs, keeping the newest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.PruneRuns(cmd.Context(), keep)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d runs\n", deleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 50, "number of runs to keep")

	return cmd
}
