package loop

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the time source behind loop timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) ClockTimer
}

// ClockTimer is a timer created by a Clock.
type ClockTimer interface {
	Stop() bool
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) ClockTimer {
	return time.AfterFunc(d, f)
}

// Timer is a cancellable delayed task. Its task runs on the loop.
type Timer struct {
	inner ClockTimer
	done  atomic.Bool
}

// AfterFunc schedules t to run on the loop after d.
//
// Stopping the timer guarantees t does not run, even when the clock has
// already fired and the task is sitting in the loop queue.
func (l *Loop) AfterFunc(d time.Duration, t Task) *Timer {
	tm := &Timer{}
	tm.inner = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if tm.done.Swap(true) {
				return
			}
			t()
		})
	})
	return tm
}

// Stop cancels the timer. It reports whether the call prevented the task
// from running.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	if t.done.Swap(true) {
		return false
	}
	if t.inner != nil {
		t.inner.Stop()
	}
	return true
}

// FakeClock is a manually advanced Clock for deterministic tests.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *FakeClock
	at    time.Time
	seq   uint64
	fn    func()
	done  bool
}

// NewFakeClock creates a FakeClock reading start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to fire once the clock is advanced past d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) ClockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Timer callbacks run on the calling goroutine.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.Slice(c.timers, func(i, j int) bool {
			if c.timers[i].at.Equal(c.timers[j].at) {
				return c.timers[i].seq < c.timers[j].seq
			}
			return c.timers[i].at.Before(c.timers[j].at)
		})
		if len(c.timers) == 0 || c.timers[0].at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		t.done = true
		c.now = t.at
		c.mu.Unlock()

		t.fn()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			break
		}
	}
	return true
}
