package attemptgate

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// EventType names one observable limiter transition.
type EventType string

const (
	EventAttemptRecorded EventType = "attempt_recorded"
	EventBlockTriggered  EventType = "block_triggered"
	EventBlockExpired    EventType = "block_expired"
	EventWindowReset     EventType = "window_reset"
	EventKeyCleared      EventType = "key_cleared"
	EventAllCleared      EventType = "all_cleared"
	EventStorageDegraded EventType = "storage_degraded"
)

type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Namespace string    `json:"namespace"`
	Key       string    `json:"key,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Store     string    `json:"store,omitempty"`
}

type EventSink interface {
	Emit(ctx context.Context, event Event)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
