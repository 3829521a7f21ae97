package telemetry

import (
	"fmt"

	"github.com/rtloop/rtloop/pkg/engine"
)

// EngineObserver bridges engine callbacks into metrics and events. It
// implements engine.Observer; every method is invoked from the tick-loop
// goroutine, so each does a bounded amount of work and never blocks.
type EngineObserver struct {
	metrics *Metrics
	events  *EventPublisher

	// latencyBudgetUS mirrors the engine's fault policy so the
	// violation counter agrees with the run report.
	latencyBudgetUS float64

	runID string
}

// NewEngineObserver creates an observer feeding the given metrics and
// event publisher. Either may come from a disabled configuration.
func NewEngineObserver(t *Telemetry, runID string, latencyBudgetUS float64) *EngineObserver {
	return &EngineObserver{
		metrics:         t.Metrics,
		events:          t.Events,
		latencyBudgetUS: latencyBudgetUS,
		runID:           runID,
	}
}

// StateChanged implements engine.Observer.
func (o *EngineObserver) StateChanged(state engine.State) {
	o.metrics.SetEngineState(int(state))
	o.events.Publish(Event{
		Type:    EventTypeStateChanged,
		RunID:   o.runID,
		Message: state.String(),
		Level:   EventLevelInfo,
	})
}

// TickObserved implements engine.Observer.
func (o *EngineObserver) TickObserved(snap engine.TimingSnapshot) {
	violation := snap.LatencyUS > o.latencyBudgetUS
	o.metrics.RecordTick(snap.PeriodUS, snap.LatencyUS, snap.JitterUS, snap.MaxPeriodUS, violation)
	if violation {
		o.events.Publish(Event{
			Type:    EventTypeRealtimeViolation,
			RunID:   o.runID,
			Tick:    snap.Ticks,
			Message: fmt.Sprintf("latency %.1fus over budget %.1fus", snap.LatencyUS, o.latencyBudgetUS),
			Level:   EventLevelWarning,
		})
	}
}

// FaultObserved implements engine.Observer.
func (o *EngineObserver) FaultObserved(record engine.FaultRecord) {
	o.metrics.RecordFault(record.Kind)
	o.events.Publish(Event{
		Type:     EventTypePluginFault,
		RunID:    o.runID,
		Instance: record.Instance,
		Tick:     record.Tick,
		Message:  record.Message,
		Level:    EventLevelError,
	})
}
