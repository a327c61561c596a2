// Package loop provides the single-threaded scheduler that owns session state.
//
// Work reaches the loop as tasks. A task is posted directly, fired by a
// timer, or delivered as the completion of off-loop work started with Go.
// Tasks run one at a time, in FIFO order, on whichever goroutine is driving
// the loop (Run in production, Settle in tests). Code that runs inside a task
// may therefore touch loop-confined state without locks.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// Errors returned by Loop.
var (
	// ErrClosed is returned when work is submitted to a closed loop.
	ErrClosed = errors.New("loop is closed")

	// ErrRunning is returned when Run is called while the loop is already running.
	ErrRunning = errors.New("loop is already running")
)

// Task is a unit of work executed on the loop goroutine.
type Task func()

// Loop is a cooperative, single-threaded task scheduler.
type Loop struct {
	mu     sync.Mutex
	tasks  *queue.Queue
	closed bool

	wake     chan struct{}
	clock    Clock
	inflight atomic.Int64
	running  atomic.Bool

	onPanic func(recovered any)
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used for timers. Tests use a FakeClock.
func WithClock(c Clock) Option {
	return func(l *Loop) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithPanicHandler sets the function called when a task panics.
// The panic is isolated to the task; the loop keeps running.
func WithPanicHandler(fn func(recovered any)) Option {
	return func(l *Loop) {
		l.onPanic = fn
	}
}

// New creates a loop. The loop does nothing until Run or Settle drives it.
func New(opts ...Option) *Loop {
	l := &Loop{
		tasks: queue.New(),
		wake:  make(chan struct{}, 1),
		clock: RealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Clock returns the clock the loop schedules timers on.
func (l *Loop) Clock() Clock {
	return l.clock
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post queues t to run on the loop. It reports false if the loop is closed.
// Post never blocks and may be called from any goroutine.
func (l *Loop) Post(t Task) bool {
	if t == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks.Add(t)
	l.mu.Unlock()
	l.signal()
	return true
}

// Go runs work on a helper goroutine and posts done back onto the loop when
// work returns. It is the loop's only suspension mechanism for blocking I/O:
// work must not touch loop-confined state, done may.
//
// If work panics, the panic is reported and done is not run.
func (l *Loop) Go(work func(), done Task) {
	l.inflight.Add(1)
	go func() {
		panicked := true
		defer func() {
			if panicked {
				l.reportPanic(recover())
			} else if done != nil {
				l.Post(done)
			}
			l.inflight.Add(-1)
			l.signal()
		}()
		work()
		panicked = false
	}()
}

// Call runs fn on the loop and waits for it to finish.
// It must not be called from a task, which would deadlock.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tasks.Length()
}

// InFlight returns the number of Go calls whose work has not finished.
func (l *Loop) InFlight() int {
	return int(l.inflight.Load())
}

// RunPending runs queued tasks, including tasks they queue, until the queue
// is empty. It returns the number of tasks run.
func (l *Loop) RunPending() int {
	n := 0
	for {
		t, ok := l.next()
		if !ok {
			return n
		}
		l.exec(t)
		n++
	}
}

// Settle drives the loop on the calling goroutine until no task is queued
// and no Go work is outstanding. Timers that have not fired are not waited
// for; advance the clock to fire them.
func (l *Loop) Settle() {
	for {
		l.RunPending()
		if l.inflight.Load() == 0 && l.Pending() == 0 {
			return
		}
		<-l.wake
	}
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)

	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// IsRunning reports whether Run is active.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Close rejects further tasks and drops queued ones.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for l.tasks.Length() > 0 {
		l.tasks.Remove()
	}
}

func (l *Loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tasks.Length() == 0 {
		return nil, false
	}
	return l.tasks.Remove().(Task), true
}

func (l *Loop) exec(t Task) {
	defer func() {
		if r := recover(); r != nil {
			l.reportPanic(r)
		}
	}()
	t()
}

func (l *Loop) reportPanic(r any) {
	if l.onPanic != nil {
		l.onPanic(r)
		return
	}
	panic(fmt.Sprintf("loop: unhandled task panic: %v", r))
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
