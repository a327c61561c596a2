package event

import (
	"context"
	"sync"
)

// Barrier runs a function once each of its topics has been published.
type Barrier struct {
	bus     *Bus
	fn      func()
	mu      sync.Mutex
	waiting map[Topic]bool
	subs    []*Subscription
	done    bool
	ran     bool
}

// WaitAll arms a barrier over topics. fn runs exactly once, synchronously
// inside the Publish call that completes the set. The barrier's
// subscriptions are removed when it fires or is cancelled.
func (b *Bus) WaitAll(topics []Topic, fn func()) (*Barrier, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}

	br := &Barrier{
		bus:     b,
		fn:      fn,
		waiting: make(map[Topic]bool, len(topics)),
	}
	var unique []Topic
	for _, t := range topics {
		if !br.waiting[t] {
			br.waiting[t] = true
			unique = append(unique, t)
		}
	}

	for _, t := range unique {
		sub, err := b.Subscribe(t, br.handler(t), WithDeliveryMode(DeliverySync), WithPriority(PriorityLow))
		if err != nil {
			br.Cancel()
			return nil, err
		}
		br.mu.Lock()
		if br.done {
			br.mu.Unlock()
			b.Unsubscribe(sub)
			continue
		}
		br.subs = append(br.subs, sub)
		br.mu.Unlock()
	}

	if len(unique) == 0 {
		br.done = true
		br.ran = true
		fn()
	}
	return br, nil
}

// Fired reports whether the barrier has run its function.
func (br *Barrier) Fired() bool {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.ran
}

// Remaining returns the number of topics not yet published.
func (br *Barrier) Remaining() int {
	br.mu.Lock()
	defer br.mu.Unlock()
	return len(br.waiting)
}

// Cancel disarms the barrier without running its function.
func (br *Barrier) Cancel() {
	br.mu.Lock()
	subs := br.subs
	br.subs = nil
	br.done = true
	br.mu.Unlock()

	for _, sub := range subs {
		br.bus.Unsubscribe(sub)
	}
}

func (br *Barrier) handler(t Topic) Handler {
	return func(context.Context, any) error {
		br.mu.Lock()
		if br.done {
			br.mu.Unlock()
			return nil
		}
		delete(br.waiting, t)
		if len(br.waiting) > 0 {
			br.mu.Unlock()
			return nil
		}
		br.done = true
		br.ran = true
		subs := br.subs
		br.subs = nil
		br.mu.Unlock()

		for _, sub := range subs {
			br.bus.Unsubscribe(sub)
		}
		br.fn()
		return nil
	}
}
