package chat

import "github.com/google/uuid"

// Event represents a generation lifecycle event.
// Minimal and stable: name + conversation id and optional fields.
type Event struct {
	Name           string
	ConversationID uuid.UUID
	Fields         map[string]any
}

// EventPublisher receives events from the service. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
