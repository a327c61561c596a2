package event

import (
	"time"

	"github.com/google/uuid"
)

// Topic is a dotted event name such as "session.saved".
type Topic string

// String returns the topic as a string.
func (t Topic) String() string {
	return string(t)
}

// TopicProvider is implemented by anything that can be published.
type TopicProvider interface {
	EventTopic() Topic
}

// Event represents an event in the system.
// Events are values; payloads that carry pointers are the only way for a
// handler to hand data back to the publisher.
type Event[T any] struct {
	// Topic is the topic the event is published on.
	Topic Topic

	// Payload contains the event-specific data.
	Payload T

	// Metadata contains standard event information.
	Metadata Metadata
}

// Metadata contains standard information attached to every event.
type Metadata struct {
	// ID is a unique identifier for this event instance.
	ID string

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Source identifies the component that published the event.
	Source string
}

// New creates a new event with the given topic and payload.
func New[T any](topic Topic, payload T, source string) Event[T] {
	return Event[T]{
		Topic:   topic,
		Payload: payload,
		Metadata: Metadata{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			Source:    source,
		},
	}
}

// EventTopic implements TopicProvider.
func (e Event[T]) EventTopic() Topic {
	return e.Topic
}
