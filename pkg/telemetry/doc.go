// Package telemetry provides observability for rtloop: structured
// logging (zerolog), Prometheus metrics, OpenTelemetry tracing, and a
// run event bus.
//
// The tick loop imposes an unusual constraint on all four: nothing here
// may block or allocate on the hot path. Metrics updates are plain
// atomic operations, event publishing drops on a full buffer, log
// sampling bounds per-tick warnings, and tracing records span events on
// the run span rather than opening a span per tick.
//
// Typical setup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(ctx)
//
//	obs := telemetry.NewEngineObserver(tel, runID, budgetUS)
//	eng := engine.New(registry,
//		engine.WithLogger(tel.Logger.Zerolog()),
//		engine.WithObserver(obs),
//	)
//
// The EngineObserver implements engine.Observer and translates engine
// callbacks into metrics and events; subscribe to the event bus for
// console status output or persistence.
package telemetry
