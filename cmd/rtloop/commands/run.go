package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rtloop/rtloop/pkg/engine"
	"github.com/rtloop/rtloop/pkg/graph"
	"github.com/rtloop/rtloop/pkg/stores"
	"github.com/rtloop/rtloop/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		ticks         uint64
		duration      time.Duration
		metricsAddr   string
		trace         bool
		noHistory     bool
		budgetUS      float64
		maxViolations int
	)

	cmd := &cobra.Command{
		Use:   "run <workspace.json>",
		Short: "Execute a workspace at its configured tick period",
		Long: `Execute a workspace at its configured tick period until a stop
condition is reached or the process is interrupted.

The run's timing summary is printed at the end and recorded in the run
history database unless --no-history is set.`,
		Example: `  # Run until interrupted
  rtloop run workspace.json

  # Run 10000 ticks with a Prometheus endpoint
  rtloop run --ticks 10000 --metrics-addr :9090 workspace.json

  # Abort after 5 consecutive ticks over a 200us latency budget
  rtloop run --latency-budget-us 200 --max-violations 5 workspace.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := graph.Load(args[0])
			if err != nil {
				return fmt.Errorf("load workspace: %w", err)
			}

			telCfg := telemetry.DefaultConfig()
			telCfg.Metrics.Enabled = metricsAddr != ""
			telCfg.Metrics.ListenAddress = metricsAddr
			telCfg.Tracing.Enabled = trace
			tel, err := telemetry.NewTelemetry(telCfg)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())

			reg, _, err := buildRegistry(tel.Logger.Zerolog())
			if err != nil {
				return err
			}

			policy := engine.DefaultFaultPolicy()
			if maxViolations > 0 {
				policy.MaxConsecutiveViolations = maxViolations
				policy.LatencyBudgetUS = budgetUS
			}

			obs := telemetry.NewEngineObserver(tel, ws.Name, budgetUS)
			eng := engine.New(reg,
				engine.WithLogger(tel.Logger.Zerolog()),
				engine.WithObserver(obs),
				engine.WithFaultPolicy(policy),
			)
			if err := eng.Load(ws); err != nil {
				return err
			}

			if err := tel.Metrics.StartMetricsServer(tel.Logger.Zerolog()); err != nil {
				return err
			}

			tel.Events.Subscribe(func(ev telemetry.Event) {
				if ev.Level == telemetry.EventLevelInfo {
					return
				}
				log.Warn().
					Str("type", ev.Type).
					Uint64("tick", ev.Tick).
					Uint64("instance", ev.Instance).
					Msg(ev.Message)
			})

			log.Info().
				Str("workspace", ws.Name).
				Dur("period", ws.Settings.Period).
				Msg("Starting run")

			runCtx, span := tel.Tracer.StartRunSpan(cmd.Context(), "", ws.Name)
			tel.Metrics.RecordRunStarted()

			report, runErr := eng.Run(runCtx, engine.StopCondition{
				Ticks:    ticks,
				Duration: duration,
			})

			if report != nil {
				span.SetAttributes(
					telemetry.AttrRunID.String(report.RunID),
					telemetry.AttrStopReason.String(string(report.Reason)),
				)
				for _, f := range report.Faults {
					telemetry.AddFaultEvent(span, f.Instance, f.Kind, f.Tick, f.Err)
				}
				tel.Metrics.RecordRunCompleted(string(report.Reason), report.StoppedAt.Sub(report.StartedAt))
			}
			if runErr != nil {
				telemetry.RecordError(span, runErr)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()

			if report != nil && !noHistory {
				targetUS := float64(ws.Settings.Period.Microseconds())
				// The command context is already canceled when the run was
				// interrupted; persistence still has to happen.
				if err := persistRun(context.Background(), report, targetUS); err != nil {
					log.Error().Err(err).Msg("Failed to persist run history")
				}
			}
			if report != nil {
				printReport(report, ws.Settings.PeriodUnit)
			}
			return runErr
		},
	}

	cmd.Flags().Uint64Var(&ticks, "ticks", 0, "stop after this many ticks (0 = unbounded)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this wall time (0 = unbounded)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	cmd.Flags().BoolVar(&trace, "trace", false, "emit trace spans to stdout")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "skip recording the run in the history database")
	cmd.Flags().Float64Var(&budgetUS, "latency-budget-us", 0, "latency budget for violation counting, microseconds")
	cmd.Flags().IntVar(&maxViolations, "max-violations", 0, "abort after this many consecutive budget violations (0 = never)")

	return cmd
}

// persistRun writes a finished run and its faults to the history store.
func persistRun(ctx context.Context, report *engine.Report, targetUS float64) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	run := &stores.Run{
		ID:        report.RunID,
		Workspace: report.Workspace,
		Status:    stores.RunStatusRunning,
		StartedAt: report.StartedAt,
		TargetUS:  targetUS,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return err
	}

	summary := stores.RunSummary{
		Status:       statusFor(report),
		StopReason:   string(report.Reason),
		StoppedAt:    report.StoppedAt,
		Ticks:        report.Ticks,
		MeanPeriodUS: report.Timing.MeanPeriodUS,
		MaxPeriodUS:  report.Timing.MaxPeriodUS,
		JitterUS:     report.Timing.JitterUS,
	}
	if report.Err != nil {
		msg := report.Err.Error()
		summary.Error = &msg
	}
	if err := store.FinishRun(ctx, report.RunID, summary); err != nil {
		return err
	}

	faults := make([]*stores.Fault, 0, len(report.Faults))
	for _, f := range report.Faults {
		faults = append(faults, &stores.Fault{
			RunID:    report.RunID,
			Instance: f.Instance,
			Kind:     f.Kind,
			Tick:     f.Tick,
			Time:     f.Time,
			Message:  f.Message,
		})
	}
	return store.RecordFaults(ctx, faults)
}

func statusFor(report *engine.Report) stores.RunStatus {
	switch report.Reason {
	case engine.StopFatalFault:
		return stores.RunStatusFailed
	case engine.StopRequested:
		return stores.RunStatusCancelled
	default:
		return stores.RunStatusCompleted
	}
}

func printReport(report *engine.Report, unit string) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}
	writeReport(os.Stdout, report, unit)
}

// writeReport writes the final timing summary. Mean and jitter stay in
// microseconds; max period follows the workspace's display unit.
func writeReport(w io.Writer, report *engine.Report, unit string) {
	if unit == "" {
		unit = "us"
	}
	fmt.Fprintf(w, "run %s finished: %s\n", report.RunID, report.Reason)
	fmt.Fprintf(w, "  ticks:       %d\n", report.Ticks)
	fmt.Fprintf(w, "  mean period: %.1fus\n", report.Timing.MeanPeriodUS)
	fmt.Fprintf(w, "  max period:  %.1f%s\n", engine.ConvertUS(report.Timing.MaxPeriodUS, unit), unit)
	fmt.Fprintf(w, "  jitter:      %.1fus\n", report.Timing.JitterUS)
	if len(report.Faults) > 0 {
		fmt.Fprintf(w, "  faults:      %d\n", len(report.Faults))
	}
}
