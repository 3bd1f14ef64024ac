// Package pubsub provides a generic publish/subscribe event system.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// StateUpdatedEvent is broadcast after any topology-affecting mutation
	// settles. It carries no meaningful payload; listeners re-fetch state.
	StateUpdatedEvent EventType = "STATE_UPDATED"

	// Command loop bus.
	CommandResultEvent EventType = "command_result"
	CommandLoggedEvent EventType = "command_logged"
	CommandFailedEvent EventType = "command_failed"

	// LogEntryEvent carries one formatted log line.
	LogEntryEvent EventType = "log_entry"
)

// StateUpdate is the STATE_UPDATED payload. Revision grows by one with every
// broadcast, so a client that missed some knows it only needs the latest.
type StateUpdate struct {
	Revision uint64 `json:"revision"`
}

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
