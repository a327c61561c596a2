package event

import "context"

// Priority determines handler execution order.
// Lower values execute first.
type Priority int

const (
	// PriorityCritical is for handlers that rewrite event payloads.
	PriorityCritical Priority = 0

	// PriorityHigh is for content hooks.
	PriorityHigh Priority = 100

	// PriorityNormal is the default priority.
	PriorityNormal Priority = 200

	// PriorityLow is for metrics and logging handlers that run last.
	PriorityLow Priority = 300
)

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch {
	case p <= PriorityCritical:
		return "critical"
	case p <= PriorityHigh:
		return "high"
	case p <= PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// DeliveryMode specifies how events are delivered to handlers.
type DeliveryMode int

const (
	// DeliverySync executes the handler inside Publish.
	DeliverySync DeliveryMode = iota

	// DeliveryAsync queues the event in the subscription's mailbox.
	DeliveryAsync
)

// String returns a human-readable delivery mode name.
func (m DeliveryMode) String() string {
	switch m {
	case DeliverySync:
		return "sync"
	case DeliveryAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Handler processes a type-erased event. Handlers type-assert to Event[T],
// or use the generic Subscribe helper.
type Handler func(ctx context.Context, event any) error

// Stats contains event bus statistics.
type Stats struct {
	// Published is the total number of events published.
	Published uint64

	// Delivered is the number of handler calls that returned nil.
	Delivered uint64

	// HandlerErrors is the number of handler calls that returned errors.
	HandlerErrors uint64

	// HandlerPanics is the number of handler calls that panicked.
	HandlerPanics uint64

	// Subscribers is the current number of subscriptions.
	Subscribers int

	// Queued is the number of async deliveries not yet handled.
	Queued int
}
