package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rtloop/rtloop/pkg/graph"
	"github.com/rtloop/rtloop/pkg/plugin"
)

// State is the engine state machine position.
type State int32

const (
	// StateIdle accepts workspace loads and structural edits.
	StateIdle State = iota

	// StateBuilding validates the graph and opens instances.
	StateBuilding

	// StateRunning executes the fixed-period tick loop.
	StateRunning

	// StateStopping lets the in-flight tick finish, then closes every
	// open instance in reverse topological order.
	StateStopping

	// StateError is entered after a fatal fault. Resources are already
	// released; a new Load or Start clears it.
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Observer receives engine lifecycle and timing callbacks. All methods
// are invoked from the tick-loop goroutine and must return quickly.
type Observer interface {
	StateChanged(State)
	TickObserved(TimingSnapshot)
	FaultObserved(FaultRecord)
}

// StopReason explains why a run ended.
type StopReason string

const (
	StopRequested     StopReason = "stop-requested"
	StopTickLimit     StopReason = "tick-limit"
	StopDurationLimit StopReason = "duration-limit"
	StopFatalFault    StopReason = "fatal-fault"
)

// StopCondition bounds a run. Zero values mean unbounded; an explicit
// Stop (or a fatal fault) always ends the run regardless.
type StopCondition struct {
	// Ticks stops the engine after this many ticks.
	Ticks uint64

	// Duration stops the engine after this much wall time.
	Duration time.Duration
}

// Report summarizes a finished run.
type Report struct {
	RunID     string         `json:"run_id"`
	Workspace string         `json:"workspace"`
	StartedAt time.Time      `json:"started_at"`
	StoppedAt time.Time      `json:"stopped_at"`
	Ticks     uint64         `json:"ticks"`
	Timing    TimingSnapshot `json:"timing"`
	Faults    []FaultRecord  `json:"faults,omitempty"`
	Reason    StopReason     `json:"reason"`
	Err       error          `json:"-"`
}

// binding resolves one input port to its source, nil when unconnected.
type binding struct {
	src     *instanceRuntime
	srcPort int
}

// instanceRuntime is the engine-owned runtime state of one plugin
// instance. Owned exclusively by the tick-loop goroutine while Running.
type instanceRuntime struct {
	id       uint64
	kind     string
	priority int
	plug     plugin.Plugin
	state    plugin.State

	manifest plugin.Manifest
	inputs   []plugin.PortSpec
	outputs  []plugin.PortSpec

	// out is the double-buffered output store: out[cur] is written this
	// tick, out[1-cur] holds the previous tick's values that downstream
	// instances read.
	out [2][]plugin.Value

	// hold carries the value of each unconnected or overridden input.
	hold     []plugin.Value
	override []bool

	bindings []binding
	ex       plugin.Exchange

	consecutiveFaults int
}

// Engine is the scheduler: it owns the loaded workspace graph and all
// instance state, and runs the tick loop on a single dedicated goroutine.
// Structural edits require returning to Idle first.
type Engine struct {
	registry     *plugin.Registry
	logger       zerolog.Logger
	clock        Clock
	observer     Observer
	policy       FaultPolicy
	jitterWindow int
	cmdDepth     int

	state atomic.Int32

	// mu serializes the control surface (Load, Start, Stop); the tick
	// loop itself never takes it.
	mu        sync.Mutex
	ws        *graph.Workspace
	instances map[uint64]*instanceRuntime
	order     []uint64

	bridge *Bridge
	stopCh chan struct{}
	doneCh chan struct{}

	reportMu sync.Mutex
	report   *Report
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithObserver registers a lifecycle/timing observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithFaultPolicy sets the fault escalation policy.
func WithFaultPolicy(p FaultPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithJitterWindow sets the number of period samples in the jitter
// window.
func WithJitterWindow(n int) Option {
	return func(e *Engine) { e.jitterWindow = n }
}

// WithCommandQueueDepth bounds the bridge's consumer-to-engine queue.
func WithCommandQueueDepth(n int) Option {
	return func(e *Engine) { e.cmdDepth = n }
}

// New creates an idle engine over the given plugin registry.
func New(registry *plugin.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:     registry,
		logger:       zerolog.Nop(),
		clock:        NewWallClock(),
		policy:       DefaultFaultPolicy(),
		jitterWindow: DefaultJitterWindow,
		cmdDepth:     DefaultCommandQueueDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.bridge = newBridge(e.cmdDepth)
	return e
}

// State returns the current engine state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Bridge returns the state-sync boundary for external consumers.
func (e *Engine) Bridge() *Bridge { return e.bridge }

// Report returns the report of the most recently finished run, nil if
// none has finished yet.
func (e *Engine) Report() *Report {
	e.reportMu.Lock()
	defer e.reportMu.Unlock()
	return e.report
}

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	if old != s {
		e.logger.Info().Stringer("from", old).Stringer("to", s).Msg("engine state changed")
		if e.observer != nil {
			e.observer.StateChanged(s)
		}
	}
}

// Load instantiates and configures every instance of the workspace and
// validates the graph. Only permitted while Idle (or after a fatal
// fault, which it clears). Any failure leaves the engine idle with
// nothing loaded.
func (e *Engine) Load(ws *graph.Workspace) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.State() {
	case StateIdle, StateError:
	default:
		return fmt.Errorf("cannot load workspace while %s", e.State())
	}
	e.setState(StateIdle)

	instances := make(map[uint64]*instanceRuntime, len(ws.Instances))
	for _, cfg := range ws.Instances {
		plug, err := e.registry.New(cfg.Kind)
		if err != nil {
			return newBuildError(err)
		}
		if err := plug.Configure(cfg.Variables); err != nil {
			return newConfigError(cfg.ID, cfg.Kind, err)
		}
		instances[cfg.ID] = &instanceRuntime{
			id:       cfg.ID,
			kind:     cfg.Kind,
			priority: cfg.Priority,
			plug:     plug,
			state:    plugin.StateConfigured,
		}
	}

	order, err := e.validateLocked(ws, instances)
	if err != nil {
		return err
	}

	e.ws = ws
	e.instances = instances
	e.order = order
	e.logger.Info().
		Str("workspace", ws.Name).
		Int("instances", len(instances)).
		Int("connections", len(ws.Connections)).
		Msg("workspace loaded")
	return nil
}

func (e *Engine) validateLocked(ws *graph.Workspace, instances map[uint64]*instanceRuntime) ([]uint64, error) {
	manifests := make(map[uint64]plugin.Manifest, len(instances))
	for id, inst := range instances {
		manifests[id] = inst.plug.Manifest()
	}
	order, err := graph.Validate(ws, manifests)
	if err != nil {
		return nil, newBuildError(err)
	}
	return order, nil
}

// Rescan re-enumerates the ports of one instance. Rejected while the
// engine is not idle: the port list feeds the execution order, which is
// fixed for the lifetime of a run.
func (e *Engine) Rescan(ctx context.Context, id uint64) ([]plugin.PortSpec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s := e.State(); s != StateIdle {
		return nil, fmt.Errorf("rescan rejected while %s", s)
	}
	inst, ok := e.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %d not loaded", id)
	}
	scanner, ok := inst.plug.(plugin.Rescanner)
	if !ok {
		return nil, fmt.Errorf("plugin kind %q does not support rescan", inst.kind)
	}
	ports, err := scanner.Rescan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rescan instance %d: %w", id, err)
	}

	// The port list may have changed; the stored order is recomputed so
	// a following Start sees a consistent graph.
	order, err := e.validateLocked(e.ws, e.instances)
	if err != nil {
		return ports, err
	}
	e.order = order
	return ports, nil
}

// Start builds the loaded workspace and launches the tick loop. It
// returns once the engine is Running (or with the build failure).
func (e *Engine) Start(ctx context.Context, cond StopCondition) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.State() {
	case StateIdle, StateError:
	default:
		return fmt.Errorf("cannot start while %s", e.State())
	}
	if e.ws == nil {
		return fmt.Errorf("no workspace loaded")
	}

	e.setState(StateBuilding)
	run, err := e.build(ctx, cond)
	if err != nil {
		e.setState(StateIdle)
		return err
	}

	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.setState(StateRunning)
	go e.loop(run)
	return nil
}

// Stop requests the loop to stop, waits for the in-flight tick to finish
// and all instances to close, and returns the run report.
func (e *Engine) Stop(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	if doneCh == nil {
		return nil, fmt.Errorf("engine is not running")
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	select {
	case <-doneCh:
		return e.Report(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run starts the engine and blocks until the stop condition, a fatal
// fault, or context cancellation ends it.
func (e *Engine) Run(ctx context.Context, cond StopCondition) (*Report, error) {
	if err := e.Start(ctx, cond); err != nil {
		return nil, err
	}
	e.mu.Lock()
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
		<-doneCh
	}
	rep := e.Report()
	if rep != nil && rep.Err != nil {
		return rep, rep.Err
	}
	return rep, nil
}
