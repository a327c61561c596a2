package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/dshills/docsession/internal/docstore"
	"github.com/dshills/docsession/internal/editor"
	"github.com/dshills/docsession/internal/event"
	"github.com/dshills/docsession/internal/event/events"
	"github.com/dshills/docsession/internal/loop"
	"github.com/dshills/docsession/internal/state"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type writeRecord struct {
	path    string
	content string
	at      time.Duration
}

// countingStore wraps an in-memory store with call counters, failure
// injection and an optional gate that holds writes until it is closed.
type countingStore struct {
	*docstore.FSStore
	clock *loop.FakeClock

	mu        sync.Mutex
	reads     int
	writes    []writeRecord
	readErr   error
	writeErr  error
	gate      chan struct{}
	active    int
	maxActive int
}

func (s *countingStore) Read(ctx context.Context, p string) (docstore.Document, error) {
	s.mu.Lock()
	s.reads++
	err := s.readErr
	s.mu.Unlock()
	if err != nil {
		return docstore.Document{}, err
	}
	return s.FSStore.Read(ctx, p)
}

func (s *countingStore) Write(ctx context.Context, p, content string) error {
	s.mu.Lock()
	s.writes = append(s.writes, writeRecord{path: p, content: content, at: s.clock.Now().Sub(epoch)})
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	gate := s.gate
	err := s.writeErr
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	return s.FSStore.Write(ctx, p, content)
}

func (s *countingStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *countingStore) written() []writeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]writeRecord(nil), s.writes...)
}

func (s *countingStore) setWriteErr(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *countingStore) setReadErr(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

type countingState struct {
	*state.Store
	mu      sync.Mutex
	flushes int
	err     error
}

func (s *countingState) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.flushes++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Flush(ctx)
}

func (s *countingState) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *countingState) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

type fakeBlocker struct {
	mu      sync.Mutex
	blocked bool
	message string
	blocks  int
}

func (b *fakeBlocker) Block(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked = true
	b.message = msg
	b.blocks++
}

func (b *fakeBlocker) Unblock() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked = false
}

func (b *fakeBlocker) state() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blocked, b.message
}

// recorder captures every session event in publish order.
type recorder struct {
	mu     sync.Mutex
	kinds  []events.Kind
	events []any
}

func (r *recorder) count(k events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.kinds {
		if got == k {
			n++
		}
	}
	return n
}

func (r *recorder) all(k events.Kind) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for i, got := range r.kinds {
		if got == k {
			out = append(out, r.events[i])
		}
	}
	return out
}

func (r *recorder) activityMessages(k events.Kind) []string {
	var out []string
	for _, ev := range r.all(k) {
		out = append(out, ev.(event.Event[events.ActivityPayload]).Payload.Message)
	}
	return out
}

type harnessOptions struct {
	panes     int
	stateJSON string
	config    func(*Config)
}

type harness struct {
	t       *testing.T
	clock   *loop.FakeClock
	loop    *loop.Loop
	store   *countingStore
	engine  *editor.Engine
	state   *countingState
	bus     *event.Bus
	blocker *fakeBlocker
	rec     *recorder
	m       *Manager
}

func newHarness(t *testing.T, files map[string]string) *harness {
	t.Helper()
	return newHarnessWith(t, files, harnessOptions{})
}

func newHarnessWith(t *testing.T, files map[string]string, opts harnessOptions) *harness {
	t.Helper()

	clock := loop.NewFakeClock(epoch)
	l := loop.New(
		loop.WithClock(clock),
		loop.WithPanicHandler(func(r any) { t.Errorf("task panic: %v", r) }),
	)

	mem := docstore.NewMemory()
	for p, content := range files {
		if err := afero.WriteFile(mem.Fs(), p, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile(%s): %v", p, err)
		}
	}
	store := &countingStore{FSStore: mem, clock: clock}

	stateFs := afero.NewMemMapFs()
	const statePath = "/.docsession/state.json"
	if opts.stateJSON != "" {
		if err := afero.WriteFile(stateFs, statePath, []byte(opts.stateJSON), 0o644); err != nil {
			t.Fatalf("WriteFile(state): %v", err)
		}
	}
	st, err := state.New(stateFs, statePath)
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("state.Load: %v", err)
	}

	bus := event.NewBus()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bus.Close(ctx)
	})

	panes := opts.panes
	if panes == 0 {
		panes = 1
	}
	engine := editor.NewEngine(panes)

	cfg := DefaultConfig()
	cfg.StartDocument = ""
	if opts.config != nil {
		opts.config(&cfg)
	}

	h := &harness{
		t:       t,
		clock:   clock,
		loop:    l,
		store:   store,
		engine:  engine,
		state:   &countingState{Store: st},
		bus:     bus,
		blocker: &fakeBlocker{},
		rec:     &recorder{},
	}
	h.m, err = NewManager(Deps{
		Loop:    l,
		Store:   store,
		Engine:  engine,
		State:   h.state,
		Bus:     bus,
		Blocker: h.blocker,
	}, cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	for _, k := range events.All() {
		k := k
		_, err := bus.Subscribe(k.Topic(), func(_ context.Context, ev any) error {
			h.rec.mu.Lock()
			h.rec.kinds = append(h.rec.kinds, k)
			h.rec.events = append(h.rec.events, ev)
			h.rec.mu.Unlock()
			return nil
		}, event.WithDeliveryMode(event.DeliverySync))
		if err != nil {
			t.Fatalf("Subscribe(%s): %v", k, err)
		}
	}
	return h
}

// open runs a Go request to completion.
func (h *harness) open(raw string, opts ...GoOption) (*Session, error) {
	h.t.Helper()
	var (
		s    *Session
		err  error
		done bool
	)
	opts = append(opts, OnDone(func(got *Session, gotErr error) {
		s, err, done = got, gotErr, true
	}))
	h.m.Go(raw, opts...)
	h.loop.Settle()
	if !done {
		h.t.Fatalf("request %q did not finish", raw)
	}
	return s, err
}

func (h *harness) mustOpen(raw string, opts ...GoOption) *Session {
	h.t.Helper()
	s, err := h.open(raw, opts...)
	if err != nil {
		h.t.Fatalf("open %q: %v", raw, err)
	}
	if s == nil {
		h.t.Fatalf("open %q: no session", raw)
	}
	return s
}

// advance moves the fake clock and runs everything it triggered.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.loop.Settle()
}
