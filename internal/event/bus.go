package event

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/docsession/internal/logging"
)

// Bus routes published events to the subscriptions of their topic.
type Bus struct {
	mu       sync.RWMutex
	declared map[Topic]struct{}
	subs     map[Topic][]*Subscription
	byID     map[string]*Subscription
	seq      uint64
	closed   bool

	logger *slog.Logger

	// queued counts async deliveries that have not been handled yet.
	queuedMu   sync.Mutex
	queuedCond *sync.Cond
	queued     int
	workers    sync.WaitGroup

	published     atomic.Uint64
	delivered     atomic.Uint64
	handlerErrors atomic.Uint64
	handlerPanics atomic.Uint64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used for handler failures.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates a new event bus with the given options.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		declared: make(map[Topic]struct{}),
		subs:     make(map[Topic][]*Subscription),
		byID:     make(map[string]*Subscription),
		logger:   logging.Discard(),
	}
	b.queuedCond = sync.NewCond(&b.queuedMu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Declare makes topics available for subscription and publishing.
// Declaring a topic twice is harmless.
func (b *Bus) Declare(topics ...Topic) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, t := range topics {
		if t == "" {
			return ErrInvalidTopic
		}
	}
	for _, t := range topics {
		b.declared[t] = struct{}{}
	}
	return nil
}

// IsDeclared reports whether t has been declared.
func (b *Bus) IsDeclared(t Topic) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.declared[t]
	return ok
}

// Topics returns the declared topics in sorted order.
func (b *Bus) Topics() []Topic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Topic, 0, len(b.declared))
	for t := range b.declared {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Subscribe registers h for events on t. The default delivery mode is async.
func (b *Bus) Subscribe(t Topic, h Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if t == "" {
		return nil, ErrInvalidTopic
	}

	config := DefaultSubscriptionConfig()
	for _, opt := range opts {
		opt(&config)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.declared[t]; !ok {
		return nil, &TopicError{Topic: t, Err: ErrUndeclaredTopic}
	}

	b.seq++
	sub := &Subscription{
		id:      uuid.NewString(),
		topic:   t,
		handler: h,
		config:  config,
		seq:     b.seq,
	}
	sub.active.Store(true)

	if config.DeliveryMode == DeliveryAsync {
		sub.box = newMailbox()
		b.workers.Add(1)
		go func() {
			defer b.workers.Done()
			sub.box.run(func(d delivery) {
				defer b.dequeued()
				b.deliver(d.ctx, sub, d.event)
			})
		}()
	}

	subs := append(b.subs[t], sub)
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].config.Priority < subs[j].config.Priority
	})
	b.subs[t] = subs
	b.byID[sub.id] = sub

	return sub, nil
}

// Unsubscribe removes sub. It reports false if sub was not subscribed.
// Deliveries already queued for an async subscription are discarded.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byID[sub.id]; !ok {
		return false
	}
	delete(b.byID, sub.id)

	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}

	sub.active.Store(false)
	if sub.box != nil {
		sub.box.close()
	}
	return true
}

// Publish delivers ev to every active subscription of its topic.
//
// Sync handlers run before Publish returns; async handlers are queued.
// Handler errors and panics are logged and counted but not returned.
func (b *Bus) Publish(ctx context.Context, ev TopicProvider) error {
	if ev == nil {
		return ErrInvalidTopic
	}
	t := ev.EventTopic()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	if _, ok := b.declared[t]; !ok {
		b.mu.RUnlock()
		return &TopicError{Topic: t, Err: ErrUndeclaredTopic}
	}
	subs := make([]*Subscription, len(b.subs[t]))
	copy(subs, b.subs[t])
	b.mu.RUnlock()

	b.published.Add(1)

	for _, sub := range subs {
		if !sub.IsActive() {
			continue
		}
		if sub.config.DeliveryMode == DeliveryAsync {
			b.enqueued()
			if !sub.box.push(delivery{ctx: context.WithoutCancel(ctx), event: ev}) {
				b.dequeued()
			}
			continue
		}
		b.deliver(ctx, sub, ev)
	}
	return nil
}

// Drain waits until every queued async delivery has been handled.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.queuedMu.Lock()
		for b.queued > 0 {
			b.queuedCond.Wait()
		}
		b.queuedMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the bus. Queued async deliveries are handled before the
// mailbox goroutines exit, or until ctx is done.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.closed = true
	for _, sub := range b.byID {
		if sub.box != nil {
			sub.box.close()
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of bus statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subscribers := len(b.byID)
	b.mu.RUnlock()

	b.queuedMu.Lock()
	queued := b.queued
	b.queuedMu.Unlock()

	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerErrors: b.handlerErrors.Load(),
		HandlerPanics: b.handlerPanics.Load(),
		Subscribers:   subscribers,
		Queued:        queued,
	}
}

// deliver runs the subscription's handler, isolating panics.
func (b *Bus) deliver(ctx context.Context, sub *Subscription, ev any) {
	if sub.config.Once {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		defer b.Unsubscribe(sub)
	} else if !sub.IsActive() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.handlerPanics.Add(1)
			err := &PanicError{SubscriptionID: sub.id, Topic: sub.topic, Value: r}
			b.logger.Error("event handler panicked", "topic", sub.topic, "error", err)
		}
	}()

	if err := sub.handler(ctx, ev); err != nil {
		b.handlerErrors.Add(1)
		b.logger.Warn("event handler failed",
			"topic", sub.topic,
			"subscription", sub.id,
			"error", err,
		)
		return
	}
	b.delivered.Add(1)
}

func (b *Bus) enqueued() {
	b.queuedMu.Lock()
	b.queued++
	b.queuedMu.Unlock()
}

func (b *Bus) dequeued() {
	b.queuedMu.Lock()
	b.queued--
	if b.queued == 0 {
		b.queuedCond.Broadcast()
	}
	b.queuedMu.Unlock()
}
