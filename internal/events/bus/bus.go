// Package bus provides the event bus abstraction the Agent Manager
// publishes lifecycle events on, with an in-process backend and a NATS
// backend. The Session hub does not consume it; it receives agent events
// through agent.Sink.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event represents a message on the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new Event with a fresh id and current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler handles one event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the transport-agnostic publish/subscribe interface the Agent
// Manager publishes to.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)
	Close()
	IsConnected() bool
}
