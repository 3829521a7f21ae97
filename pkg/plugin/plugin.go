package plugin

import (
	"context"
	"errors"
	"time"
)

// ErrFatal marks a process fault as unrecoverable regardless of kind
// policy: a hardware disconnect, not a transient bad sample. Plugins wrap
// it: fmt.Errorf("device lost: %w", plugin.ErrFatal).
var ErrFatal = errors.New("fatal plugin fault")

// IsFatal reports whether err carries the fatal marker.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// State is the lifecycle state of a plugin instance.
type State int

const (
	// StateCreated is the initial state after instantiation.
	StateCreated State = iota

	// StateConfigured means variable values were validated and stored.
	StateConfigured

	// StateOpened means buffers are allocated and external resources
	// acquired; the instance is eligible for Process calls.
	StateOpened

	// StateClosed means all resources were released.
	StateClosed

	// StateError marks an unrecoverable fault. The engine excludes the
	// instance from Process calls until it is explicitly reset.
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateOpened:
		return "opened"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Tick carries the timing context of one execution of the graph.
type Tick struct {
	// Seq is the tick sequence number, starting at 0.
	Seq uint64

	// Now is the wall timestamp taken at the start of the iteration.
	Now time.Time

	// Period is the measured wall time since the previous iteration
	// started. On the first tick it equals Target.
	Period time.Duration

	// Target is the configured tick period.
	Target time.Duration
}

// Value is the current content of a port. Scalar ports use Scalar; vector
// ports use Vector, whose backing array is allocated at Open and reused
// every tick.
type Value struct {
	Scalar float64
	Vector []float64
}

// CopyFrom overwrites v with src without allocating, growing Vector only
// if the preallocated capacity is too small (which the engine sizes to
// never happen while running).
func (v *Value) CopyFrom(src Value) {
	v.Scalar = src.Scalar
	if src.Vector == nil {
		v.Vector = v.Vector[:0]
		return
	}
	if cap(v.Vector) < len(src.Vector) {
		v.Vector = make([]float64, len(src.Vector))
	}
	v.Vector = v.Vector[:len(src.Vector)]
	copy(v.Vector, src.Vector)
}

// Exchange is the per-instance I/O surface handed to Process. In holds one
// Value per input port and Out one per output port, both in manifest
// declaration order. The engine owns the slices; plugins read In and write
// Out in place.
type Exchange struct {
	In  []Value
	Out []Value
}

// InputIndex resolves a port name against the manifest's input order.
// Intended for Open-time lookup, not for the hot path.
func InputIndex(m Manifest, name string) int {
	for i, p := range m.Inputs() {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// OutputIndex resolves a port name against the manifest's output order.
func OutputIndex(m Manifest, name string) int {
	for i, p := range m.Outputs() {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Plugin is the capability set every processing unit implements.
//
// Lifecycle: Configure validates and stores variable values, Open
// allocates buffers and acquires external resources, Process runs once
// per tick while open, Close releases everything. Close must be
// idempotent and safe to call after a partially failed Open.
type Plugin interface {
	// Manifest returns the current description of the plugin. For kinds
	// whose ports depend on configuration, the port list reflects the
	// most recent Configure or Rescan.
	Manifest() Manifest

	// Configure validates the supplied variable values against the
	// manifest's constraints and stores them. It returns a *ConfigError
	// on missing or out-of-range values.
	Configure(values Values) error

	// Open allocates all buffers sized from the configuration and
	// acquires any external resource up front.
	Open(ctx context.Context) error

	// Process executes one tick. It must run in bounded time and must
	// not allocate. Inputs are read from ex.In, results written to
	// ex.Out.
	Process(tick Tick, ex *Exchange) error

	// Close releases all resources. Idempotent.
	Close() error
}

// Tunable is implemented by plugins that accept single-variable updates
// while open. The engine applies updates between ticks, never mid-tick.
type Tunable interface {
	SetVariable(name string, value any) error
}

// Rescanner is implemented by plugins that can re-enumerate their
// available ports without a full reconfigure, typically hardware adapters
// rediscovering channels. Rescan is only permitted while the engine is
// not running.
type Rescanner interface {
	Rescan(ctx context.Context) ([]PortSpec, error)
}
