// Package monitor provides an in-process event bus for verification runs.
package monitor

import (
	"sync"
	"time"
)

// Monitor receives loop events and fans them out to subscribers.
type Monitor interface {
	// Emit sends an event to subscribers.
	Emit(event Event)

	// Subscribe returns a channel for receiving events.
	Subscribe() <-chan Event

	// Unsubscribe removes a subscription and closes its channel.
	Unsubscribe(ch <-chan Event)
}

// EventType categorizes monitor events.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStageStarted  EventType = "stage_started"
	EventStagePassed   EventType = "stage_passed"
	EventStageFailed   EventType = "stage_failed"
	EventRunEscalated  EventType = "run_escalated"
	EventRunDone       EventType = "run_done"
	EventRunAborted    EventType = "run_aborted"
	EventRemediation   EventType = "remediation"
	EventRateLimitHit  EventType = "rate_limit_hit"
	EventFilesChanged  EventType = "files_changed"
	EventCircuitOpened EventType = "circuit_opened"
)

// Event represents a monitoring event.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates a new event.
func NewEvent(eventType EventType, runID string) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now(),
		Data:      make(map[string]any),
	}
}

// WithData adds data to the event.
func (e Event) WithData(key string, value any) Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// Bus implements Monitor in memory with bounded history.
type Bus struct {
	mu sync.RWMutex

	subscribers map[<-chan Event]chan Event
	history     []Event
	maxHistory  int
	bufferSize  int
	dropped     int
}

// NewBus creates a bus that keeps the last maxHistory events.
func NewBus(maxHistory int) *Bus {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Bus{
		subscribers: make(map[<-chan Event]chan Event),
		history:     make([]Event, 0),
		maxHistory:  maxHistory,
		bufferSize:  100,
	}
}

// Emit records the event and sends it to subscribers without blocking.
// Slow subscribers miss events rather than stall the loop.
func (b *Bus) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.maxHistory {
		b.history = b.history[1:]
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped++
		}
	}
}

// Subscribe returns a channel for receiving events.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[ch] = ch
	return ch
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sendCh, ok := b.subscribers[ch]; ok {
		close(sendCh)
		delete(b.subscribers, ch)
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, key)
	}
}

// History returns recent events, optionally filtered by run.
func (b *Bus) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.history))
	for _, e := range b.history {
		if runID == "" || e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// Stats summarizes the bus.
type Stats struct {
	Subscribers int            `json:"subscribers"`
	Total       int            `json:"total_events"`
	Dropped     int            `json:"dropped"`
	Counts      map[string]int `json:"event_counts"`
}

// Stats returns counts by event type.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range b.history {
		counts[string(e.Type)]++
	}
	return Stats{
		Subscribers: len(b.subscribers),
		Total:       len(b.history),
		Dropped:     b.dropped,
		Counts:      counts,
	}
}

// NoopMonitor discards events.
type NoopMonitor struct{}

// NewNoopMonitor creates a no-op monitor.
func NewNoopMonitor() *NoopMonitor {
	return &NoopMonitor{}
}

// Emit is a no-op.
func (m *NoopMonitor) Emit(event Event) {}

// Subscribe returns a closed channel.
func (m *NoopMonitor) Subscribe() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Unsubscribe is a no-op.
func (m *NoopMonitor) Unsubscribe(ch <-chan Event) {}
