package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLoop(t *testing.T) (*Loop, *FakeClock) {
	t.Helper()
	clock := NewFakeClock(time.Unix(0, 0))
	return New(WithClock(clock)), clock
}

func TestLoop_PostRunsInOrder(t *testing.T) {
	l, _ := newTestLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		l.Post(func() { got = append(got, i) })
	}
	if l.Pending() != 5 {
		t.Fatalf("Pending = %d, want 5", l.Pending())
	}

	if n := l.RunPending(); n != 5 {
		t.Errorf("RunPending = %d, want 5", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
}

func TestLoop_NestedPostRunsInSameDrain(t *testing.T) {
	l, _ := newTestLoop(t)

	ran := false
	l.Post(func() {
		l.Post(func() { ran = true })
	})
	l.RunPending()

	if !ran {
		t.Error("task posted from a task should run in the same drain")
	}
}

func TestLoop_GoPostsCompletion(t *testing.T) {
	l, _ := newTestLoop(t)

	var result string
	var doneOnLoop bool
	l.Go(func() {
		result = "read"
	}, func() {
		doneOnLoop = result == "read"
	})
	l.Settle()

	if !doneOnLoop {
		t.Error("done should observe the result of work")
	}
	if l.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0", l.InFlight())
	}
}

func TestLoop_GoPanicSkipsDone(t *testing.T) {
	var recovered atomic.Value
	l := New(WithPanicHandler(func(r any) { recovered.Store(r) }))

	called := false
	l.Go(func() { panic("boom") }, func() { called = true })
	l.Settle()

	if called {
		t.Error("done should not run after work panics")
	}
	if recovered.Load() != "boom" {
		t.Errorf("recovered = %v, want boom", recovered.Load())
	}
}

func TestLoop_TaskPanicIsIsolated(t *testing.T) {
	var panics int
	l := New(WithPanicHandler(func(any) { panics++ }))

	after := false
	l.Post(func() { panic("bad task") })
	l.Post(func() { after = true })
	l.RunPending()

	if panics != 1 {
		t.Errorf("panics = %d, want 1", panics)
	}
	if !after {
		t.Error("tasks after a panicking task should still run")
	}
}

func TestLoop_AfterFunc(t *testing.T) {
	l, clock := newTestLoop(t)

	fired := 0
	l.AfterFunc(time.Second, func() { fired++ })

	clock.Advance(999 * time.Millisecond)
	l.Settle()
	if fired != 0 {
		t.Fatalf("timer fired early")
	}

	clock.Advance(time.Millisecond)
	l.Settle()
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestTimer_StopAfterClockFired(t *testing.T) {
	l, clock := newTestLoop(t)

	fired := false
	tm := l.AfterFunc(time.Second, func() { fired = true })

	// The clock fires and queues the task, but the loop has not run it yet.
	clock.Advance(time.Second)
	if l.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", l.Pending())
	}
	if !tm.Stop() {
		t.Error("Stop should report it prevented the task")
	}
	l.Settle()

	if fired {
		t.Error("stopped timer task must not run")
	}
	if tm.Stop() {
		t.Error("second Stop should report false")
	}
}

func TestLoop_CloseRejectsPosts(t *testing.T) {
	l, _ := newTestLoop(t)
	l.Post(func() {})
	l.Close()

	if l.Pending() != 0 {
		t.Errorf("Pending = %d after Close, want 0", l.Pending())
	}
	if l.Post(func() {}) {
		t.Error("Post should fail after Close")
	}
	if err := l.Call(context.Background(), func() {}); err != ErrClosed {
		t.Errorf("Call err = %v, want ErrClosed", err)
	}
}

func TestLoop_RunAndCall(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	value := 0
	if err := l.Call(ctx, func() { value = 42 }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if value != 42 {
		t.Errorf("value = %d, want 42", value)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFakeClock_FiresInDeadlineOrder(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	var order []string
	clock.AfterFunc(300*time.Millisecond, func() { order = append(order, "c") })
	clock.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	stopped := clock.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })
	stopped.Stop()

	clock.Advance(time.Second)

	if len(order) != 2 || order[0] != "a" || order[1] != "c" {
		t.Errorf("order = %v, want [a c]", order)
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", clock.Pending())
	}
	if got := clock.Now(); !got.Equal(time.Unix(1, 0)) {
		t.Errorf("Now = %v, want 1s after epoch", got)
	}
}
