package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dshills/docsession/internal/docstore"
	"github.com/dshills/docsession/internal/editor"
	"github.com/dshills/docsession/internal/event"
	"github.com/dshills/docsession/internal/event/events"
	"github.com/dshills/docsession/internal/logging"
	"github.com/dshills/docsession/internal/loop"
)

// Engine is the editor engine the manager displays sessions in.
type Engine interface {
	CreateBuffer(path, content string) *editor.Buffer
	Switch(b *editor.Buffer, pane int) error
	ActivePane() int
	Panes() int
	CaptureViewState(b *editor.Buffer) (json.RawMessage, error)
	RestoreViewState(b *editor.Buffer, raw json.RawMessage) error
	Jump(b *editor.Buffer, loc string) error
}

// StateStore is the persistent key/value state the snapshotter writes.
type StateStore interface {
	Get(key string) (json.RawMessage, bool)
	Set(key string, value any) error
	Serialize() ([]byte, error)
	Flush(ctx context.Context) error
}

// Blocker blocks user interaction with a message until Unblock.
type Blocker interface {
	Block(message string)
	Unblock()
}

// Messages shown through the Blocker.
const (
	LoadingMessage      = "Loading project and file list. One moment please..."
	DisconnectedMessage = "Disconnected, hang on... If this message doesn't disappear within a few seconds: close this window and restart the editor."
)

// State store keys written by the snapshotter.
const (
	KeyCurrent = "session.current"
	KeyOpen    = "session.open"
)

// Config holds the manager's tunables.
type Config struct {
	// SaveDelay is the debounce delay between the last edit and the write.
	SaveDelay time.Duration

	// SnapshotInterval is the period of the state snapshot.
	SnapshotInterval time.Duration

	// MaxRestored caps the sessions recorded in a snapshot.
	MaxRestored int

	// RestoreConcurrency bounds parallel reads during restore.
	RestoreConcurrency int

	// StartDocument is opened first during restore. Empty disables it.
	StartDocument string
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		SaveDelay:          time.Second,
		SnapshotInterval:   2500 * time.Millisecond,
		MaxRestored:        25,
		RestoreConcurrency: 8,
		StartDocument:      DefaultStartDocument,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SaveDelay <= 0 {
		c.SaveDelay = d.SaveDelay
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.MaxRestored <= 0 {
		c.MaxRestored = d.MaxRestored
	}
	if c.RestoreConcurrency <= 0 {
		c.RestoreConcurrency = d.RestoreConcurrency
	}
	return c
}

// Deps are the manager's collaborators. Blocker and Logger are optional.
type Deps struct {
	Loop    *loop.Loop
	Store   docstore.Store
	Engine  Engine
	State   StateStore
	Bus     *event.Bus
	Blocker Blocker
	Logger  *slog.Logger
}

// Manager runs the session lifecycle on a loop.
type Manager struct {
	loop    *loop.Loop
	store   docstore.Store
	engine  Engine
	state   StateStore
	bus     *event.Bus
	blocker Blocker
	logger  *slog.Logger
	cfg     Config
	ctx     context.Context

	registry *Registry
	specials map[string]SpecialDoc
	shown    []*Session

	started      atomic.Bool
	restored     bool
	stopped      bool
	snapTimer    *loop.Timer
	lastSnapshot []byte
	flushing     bool
	flushQueued  bool

	io          int
	idleWaiters []func()
}

// NewManager creates a manager and declares the session topics on the bus.
func NewManager(deps Deps, cfg Config) (*Manager, error) {
	switch {
	case deps.Loop == nil:
		return nil, fmt.Errorf("%w: loop", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: document store", ErrMissingDependency)
	case deps.Engine == nil:
		return nil, fmt.Errorf("%w: editor engine", ErrMissingDependency)
	case deps.State == nil:
		return nil, fmt.Errorf("%w: state store", ErrMissingDependency)
	case deps.Bus == nil:
		return nil, fmt.Errorf("%w: event bus", ErrMissingDependency)
	}
	if err := events.Declare(deps.Bus); err != nil {
		return nil, fmt.Errorf("declare session topics: %w", err)
	}

	m := &Manager{
		loop:     deps.Loop,
		store:    deps.Store,
		engine:   deps.Engine,
		state:    deps.State,
		bus:      deps.Bus,
		blocker:  deps.Blocker,
		logger:   deps.Logger,
		cfg:      cfg.withDefaults(),
		ctx:      context.Background(),
		registry: NewRegistry(),
		specials: make(map[string]SpecialDoc),
		shown:    make([]*Session, deps.Engine.Panes()),
	}
	if m.blocker == nil {
		m.blocker = nopBlocker{}
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Registry returns the session registry. Loop-confined.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Lookup returns the registered session for path. Loop-confined.
func (m *Manager) Lookup(path string) (*Session, bool) {
	return m.registry.Lookup(path)
}

// Displayed returns the session shown in each pane, nil for empty panes.
// Loop-confined.
func (m *Manager) Displayed() []*Session {
	out := make([]*Session, len(m.shown))
	copy(out, m.shown)
	return out
}

// Active returns the session in the engine's active pane. Loop-confined.
func (m *Manager) Active() *Session {
	pane := m.engine.ActivePane()
	if pane < 0 || pane >= len(m.shown) {
		return nil
	}
	return m.shown[pane]
}

// Stop cancels the snapshot ticker, writes every session with a pending
// save, takes a final snapshot and calls done once all store I/O started by
// the manager has settled. done runs on the loop.
func (m *Manager) Stop(done func()) {
	m.loop.Post(func() {
		m.stop()
		m.whenIdle(func() {
			if done != nil {
				done()
			}
		})
	})
}

// Shutdown is the blocking form of Stop. The loop must be running.
func (m *Manager) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})
	if !m.loop.Post(func() {
		m.stop()
		m.whenIdle(func() { close(finished) })
	}) {
		return loop.ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) stop() {
	if m.stopped {
		return
	}
	m.stopped = true
	m.snapTimer.Stop()
	m.snapTimer = nil

	for _, s := range m.registry.Sessions() {
		if s.saveTimer.Stop() {
			s.saveTimer = nil
			m.save(s)
		}
	}
	if m.restored {
		m.snapshot()
	}
}

// publish sends a session event. Publishing happens on the loop; sync
// subscribers run before publish returns.
func publish[T any](m *Manager, k events.Kind, payload T) {
	if err := events.Publish(m.ctx, m.bus, k, payload); err != nil {
		m.logger.Warn("publish failed", "event", k.String(), "error", err)
	}
}

func (m *Manager) activity(k events.Kind, s *Session, msg string, err error) {
	publish(m, k, events.ActivityPayload{Subject: s.subject(), Message: msg, Err: err})
}

// ioStarted and ioDone bracket every store write and state flush so Stop can
// wait for them.
func (m *Manager) ioStarted() {
	m.io++
}

func (m *Manager) ioDone() {
	m.io--
	if m.io > 0 {
		return
	}
	waiters := m.idleWaiters
	m.idleWaiters = nil
	for _, fn := range waiters {
		fn()
	}
}

func (m *Manager) whenIdle(fn func()) {
	if m.io == 0 {
		fn()
		return
	}
	m.idleWaiters = append(m.idleWaiters, fn)
}

type nopBlocker struct{}

func (nopBlocker) Block(string) {}
func (nopBlocker) Unblock()     {}
