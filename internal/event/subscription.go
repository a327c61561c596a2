package event

import (
	"sync/atomic"
)

// SubscriptionConfig contains configuration for a subscription.
type SubscriptionConfig struct {
	// Priority determines execution order (lower values execute first).
	Priority Priority

	// DeliveryMode specifies sync or async delivery.
	DeliveryMode DeliveryMode

	// Once cancels the subscription after its first successful delivery.
	Once bool
}

// DefaultSubscriptionConfig returns a default subscription configuration.
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		Priority:     PriorityNormal,
		DeliveryMode: DeliveryAsync,
	}
}

// SubscriptionOption is a function that configures a subscription.
type SubscriptionOption func(*SubscriptionConfig)

// WithPriority sets the subscription priority.
func WithPriority(p Priority) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Priority = p
	}
}

// WithDeliveryMode sets the delivery mode.
func WithDeliveryMode(m DeliveryMode) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.DeliveryMode = m
	}
}

// WithOnce sets the subscription to auto-cancel after the first event.
func WithOnce() SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Once = true
	}
}

// Subscription is a handler registered for one topic.
type Subscription struct {
	id      string
	topic   Topic
	handler Handler
	config  SubscriptionConfig
	seq     uint64
	box     *mailbox
	active  atomic.Bool
}

// ID returns the subscription ID.
func (s *Subscription) ID() string {
	return s.id
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() Topic {
	return s.topic
}

// Config returns the subscription configuration.
func (s *Subscription) Config() SubscriptionConfig {
	return s.config
}

// IsActive reports whether the subscription still receives events.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}
