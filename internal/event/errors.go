package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for the event bus.
var (
	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrUndeclaredTopic is returned when a topic is used before it is declared.
	ErrUndeclaredTopic = errors.New("topic is not declared")

	// ErrInvalidTopic is returned when a topic is empty.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrPayloadMismatch is returned by typed handlers that receive an event
	// of the wrong payload type.
	ErrPayloadMismatch = errors.New("event payload type mismatch")

	// ErrHandlerPanic is matched by PanicError.
	ErrHandlerPanic = errors.New("handler panicked")
)

// TopicError reports a topic-related failure.
type TopicError struct {
	Topic Topic
	Err   error
}

// Error implements the error interface.
func (e *TopicError) Error() string {
	return fmt.Sprintf("%s: %v", e.Topic, e.Err)
}

// Unwrap returns the underlying error.
func (e *TopicError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic value recovered from a handler.
type PanicError struct {
	// SubscriptionID is the ID of the subscription whose handler panicked.
	SubscriptionID string

	// Topic is the topic the handler was subscribed to.
	Topic Topic

	// Value is the value passed to panic().
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic for subscription %s on topic %s: %v", e.SubscriptionID, e.Topic, e.Value)
}

// Is allows errors.Is to match PanicError with ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}
