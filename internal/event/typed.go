package event

import (
	"context"
	"fmt"
)

// Subscribe registers a handler for events carrying payload type T.
func Subscribe[T any](b *Bus, t Topic, fn func(ctx context.Context, ev Event[T]) error, opts ...SubscriptionOption) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return b.Subscribe(t, func(ctx context.Context, ev any) error {
		typed, ok := ev.(Event[T])
		if !ok {
			return fmt.Errorf("%w: got %T on %s", ErrPayloadMismatch, ev, t)
		}
		return fn(ctx, typed)
	}, opts...)
}
