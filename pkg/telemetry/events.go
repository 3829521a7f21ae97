package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a run lifecycle event. Events are advisory: the tick loop
// publishes them without blocking and an overloaded bus drops rather
// than stalls.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Instance is the associated plugin instance, if applicable.
	Instance uint64 `json:"instance,omitempty"`

	// Tick is the tick sequence the event belongs to, if applicable.
	Tick uint64 `json:"tick,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted        = "run.started"
	EventTypeRunCompleted      = "run.completed"
	EventTypeRunFailed         = "run.failed"
	EventTypeStateChanged      = "engine.state_changed"
	EventTypePluginFault       = "plugin.fault"
	EventTypePluginDegraded    = "plugin.degraded"
	EventTypeRealtimeViolation = "timing.violation"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventPublisher fans run events out to subscribers. Delivery happens on
// a dedicated goroutine so subscribers never run on the tick loop.
type EventPublisher struct {
	config EventsConfig
	buffer chan Event

	mu          sync.RWMutex
	subscribers []EventSubscriber

	dropped uint64
	done    chan struct{}
	closing sync.Once
}

// NewEventPublisher creates a new event publisher with the given
// configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled {
		return ep, nil
	}

	ep.buffer = make(chan Event, cfg.BufferSize)
	ep.done = make(chan struct{})
	go ep.dispatch()
	return ep, nil
}

// Subscribe registers a subscriber for all events.
func (ep *EventPublisher) Subscribe(sub EventSubscriber) {
	ep.mu.Lock()
	ep.subscribers = append(ep.subscribers, sub)
	ep.mu.Unlock()
}

// Publish queues an event for delivery. A missing ID or timestamp is
// filled in. Publish never blocks: if the buffer is full the event is
// counted as dropped instead.
func (ep *EventPublisher) Publish(event Event) {
	if ep.buffer == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case ep.buffer <- event:
	default:
		ep.mu.Lock()
		ep.dropped++
		ep.mu.Unlock()
	}
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (ep *EventPublisher) Dropped() uint64 {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	return ep.dropped
}

func (ep *EventPublisher) dispatch() {
	defer close(ep.done)
	for event := range ep.buffer {
		ep.mu.RLock()
		subs := ep.subscribers
		ep.mu.RUnlock()
		for _, sub := range subs {
			sub(event)
		}
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown() {
	if ep.buffer == nil {
		return
	}
	ep.closing.Do(func() {
		close(ep.buffer)
		<-ep.done
	})
}
