package engine

import (
	"context"
	"time"
)

// Sample is one output port value in a published snapshot.
type Sample struct {
	Instance uint64    `json:"instance"`
	Port     string    `json:"port"`
	Value    float64   `json:"value"`
	Vector   []float64 `json:"vector,omitempty"`
}

// Snapshot is the state published after every tick: the tick's computed
// outputs plus the timing accounting. Snapshots are immutable once
// published; consumers may hold them as long as they like.
type Snapshot struct {
	RunID   string         `json:"run_id"`
	Tick    uint64         `json:"tick"`
	Time    time.Time      `json:"time"`
	Timing  TimingSnapshot `json:"timing"`
	Samples []Sample       `json:"samples"`
}

// Command is a consumer-to-engine request, applied atomically at the
// start of the next tick, never mid-tick.
type Command interface{ isCommand() }

// SetVariable updates one variable value on a running instance. The
// plugin must implement Tunable; otherwise the update is rejected and
// logged.
type SetVariable struct {
	Instance uint64
	Name     string
	Value    any
}

func (SetVariable) isCommand() {}

// OverrideInput pins an input port to a value. The override masks any
// connected source until cleared.
type OverrideInput struct {
	Instance uint64
	Port     string
	Value    float64
}

func (OverrideInput) isCommand() {}

// ClearOverride removes an input override.
type ClearOverride struct {
	Instance uint64
	Port     string
}

func (ClearOverride) isCommand() {}

// ResetInstance returns a degraded instance to service, clearing its
// fault streak.
type ResetInstance struct {
	Instance uint64
}

func (ResetInstance) isCommand() {}

// DefaultCommandQueueDepth bounds the consumer-to-engine queue.
const DefaultCommandQueueDepth = 64

// Bridge is the concurrency boundary between the tick loop and external
// consumers. Engine to consumer is a single-slot channel with
// overwrite-latest semantics: the engine never blocks on a reader, and a
// slow consumer simply observes the newest snapshot. Consumer to engine
// is a bounded command queue drained at the start of each tick.
type Bridge struct {
	snapshots chan *Snapshot
	commands  chan Command
}

func newBridge(queueDepth int) *Bridge {
	if queueDepth <= 0 {
		queueDepth = DefaultCommandQueueDepth
	}
	return &Bridge{
		snapshots: make(chan *Snapshot, 1),
		commands:  make(chan Command, queueDepth),
	}
}

// publish places the snapshot in the slot, displacing an undrained
// predecessor. Never blocks.
func (b *Bridge) publish(s *Snapshot) {
	for {
		select {
		case b.snapshots <- s:
			return
		default:
			select {
			case <-b.snapshots:
			default:
			}
		}
	}
}

// TryLatest returns the most recent unread snapshot, if any.
func (b *Bridge) TryLatest() (*Snapshot, bool) {
	select {
	case s := <-b.snapshots:
		return s, true
	default:
		return nil, false
	}
}

// Await blocks for the next snapshot or context cancellation.
func (b *Bridge) Await(ctx context.Context) (*Snapshot, error) {
	select {
	case s := <-b.snapshots:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send queues a command for the next tick. It reports false when the
// queue is full; the caller decides whether to retry.
func (b *Bridge) Send(cmd Command) bool {
	select {
	case b.commands <- cmd:
		return true
	default:
		return false
	}
}

// drain applies every queued command. Called by the tick loop only.
func (b *Bridge) drain(apply func(Command)) {
	for {
		select {
		case cmd := <-b.commands:
			apply(cmd)
		default:
			return
		}
	}
}
