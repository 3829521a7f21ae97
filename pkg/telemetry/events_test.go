package telemetry

import (
	"sync"
	"testing"
)

func TestEventPublisherDelivers(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	var mu sync.Mutex
	var received []Event
	ep.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	ep.Publish(Event{Type: EventTypeRunStarted, RunID: "bench", Message: "run started"})
	ep.Publish(Event{Type: EventTypePluginFault, Instance: 2, Tick: 40, Level: EventLevelWarning})
	ep.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %d events, want 2", len(received))
	}
	if received[0].Type != EventTypeRunStarted || received[0].RunID != "bench" {
		t.Fatalf("first event = %+v", received[0])
	}
	if received[0].ID == "" || received[0].Timestamp.IsZero() {
		t.Fatal("missing ID or timestamp was not filled in")
	}
	if received[1].Instance != 2 || received[1].Tick != 40 {
		t.Fatalf("second event = %+v", received[1])
	}
	if ep.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", ep.Dropped())
	}
}

func TestEventPublisherDropsWhenFull(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 2})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	// A slow subscriber holds the dispatch goroutine until released, so
	// the buffer fills and further publishes must drop, not block.
	release := make(chan struct{})
	var once sync.Once
	ep.Subscribe(func(Event) {
		once.Do(func() { <-release })
	})

	for i := 0; i < 10; i++ {
		ep.Publish(Event{Type: EventTypePluginFault})
	}
	if ep.Dropped() == 0 {
		t.Fatal("a full buffer did not drop any event")
	}
	close(release)
	ep.Shutdown()
}

func TestEventPublisherDisabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}
	ep.Subscribe(func(Event) { t.Fatal("disabled publisher delivered an event") })
	ep.Publish(Event{Type: EventTypeRunStarted})
	ep.Shutdown()
	if ep.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0 when disabled", ep.Dropped())
	}
}

func TestEventPublisherShutdownIdempotent(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 4})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}
	ep.Shutdown()
	ep.Shutdown()
}
