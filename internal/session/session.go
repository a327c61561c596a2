package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/dshills/docsession/internal/docstore"
	"github.com/dshills/docsession/internal/editor"
	"github.com/dshills/docsession/internal/event/events"
	"github.com/dshills/docsession/internal/loop"
)

// State is the lifecycle state of a session.
type State int

const (
	// Editable is the normal state. Edits are saved after the debounce delay.
	Editable State = iota

	// Reconciling is held while the buffer is replaced with store content.
	// Change notifications raised in this state are ignored.
	Reconciling

	// Orphaned marks a session whose document was deleted from the store.
	// It is no longer registered, watched or saved.
	Orphaned
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Editable:
		return "editable"
	case Reconciling:
		return "reconciling"
	case Orphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Session binds one document path to one editor buffer.
//
// All fields are confined to the Manager's loop. The accessors may be used
// from loop tasks and from tests that drive the loop with Settle.
type Session struct {
	id       string
	path     string
	buf      *editor.Buffer
	readOnly bool
	special  bool
	lastUse  time.Time
	state    State

	watch    docstore.WatchHandle
	watching bool

	saveTimer  *loop.Timer
	writing    bool
	saveQueued bool

	// disk is the content this session last wrote or reconciled from the
	// store. A change notification that re-reads it is the echo of a write.
	disk      string
	diskKnown bool
}

func newSession(p string, buf *editor.Buffer, readOnly bool) *Session {
	if readOnly {
		buf.MarkReadOnly()
	}
	return &Session{
		id:       uuid.NewString(),
		path:     p,
		buf:      buf,
		readOnly: readOnly,
	}
}

// ID returns the session's random identifier.
func (s *Session) ID() string { return s.id }

// Path returns the canonical document path.
func (s *Session) Path() string { return s.path }

// Buffer returns the editor buffer.
func (s *Session) Buffer() *editor.Buffer { return s.buf }

// ReadOnly reports whether the session rejects edits and saves.
func (s *Session) ReadOnly() bool { return s.readOnly }

// Special reports whether the session shows a virtual document.
func (s *Session) Special() bool { return s.special }

// LastUse returns when the session was last displayed.
func (s *Session) LastUse() time.Time { return s.lastUse }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Watching reports whether the session holds a store watch.
func (s *Session) Watching() bool { return s.watching }

// SavePending reports whether a debounced save is armed.
func (s *Session) SavePending() bool { return s.saveTimer != nil }

func (s *Session) subject() events.Subject {
	if s == nil {
		return events.Subject{}
	}
	return events.Subject{SessionID: s.id, Path: s.path}
}
