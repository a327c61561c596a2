package event

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// delivery is one queued async event.
type delivery struct {
	ctx   context.Context
	event any
}

// mailbox is an unbounded FIFO drained by a single goroutine, so an async
// subscription sees events in publish order and never blocks the publisher.
type mailbox struct {
	mu     sync.Mutex
	items  *queue.Queue
	wake   chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{
		items: queue.New(),
		wake:  make(chan struct{}, 1),
	}
}

// push queues d. It reports false once the mailbox is closed.
func (m *mailbox) push(d delivery) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items.Add(d)
	m.mu.Unlock()
	m.signal()
	return true
}

// close stops accepting deliveries. Queued deliveries are still handed to run.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

// run hands each delivery to fn until the mailbox is closed and empty.
func (m *mailbox) run(fn func(delivery)) {
	for {
		m.mu.Lock()
		if m.items.Length() > 0 {
			d := m.items.Remove().(delivery)
			m.mu.Unlock()
			fn(d)
			continue
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		<-m.wake
	}
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
