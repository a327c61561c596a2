package session

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/dshills/docsession/internal/docstore"
	"github.com/dshills/docsession/internal/editor"
	"github.com/dshills/docsession/internal/event"
	"github.com/dshills/docsession/internal/event/events"
)

// external replaces a document behind the manager's back and reports it.
func (h *harness) external(p, content string) {
	h.t.Helper()
	if err := afero.WriteFile(h.store.Fs(), p, []byte(content), 0o644); err != nil {
		h.t.Fatalf("WriteFile(%s): %v", p, err)
	}
	h.store.Notify(p, docstore.Changed)
	h.loop.Settle()
}

func TestWatch_ChangedPreservesCursor(t *testing.T) {
	h := newHarness(t, map[string]string{"/a.txt": "0123456789abcdefghij"})
	s := h.mustOpen("a.txt")
	s.Buffer().SetCursor(10)

	h.external("/a.txt", "0123456789ABCDEFGHIJKLMNOP")
	if s.Buffer().Value() != "0123456789ABCDEFGHIJKLMNOP" {
		t.Errorf("buffer = %q, want reloaded content", s.Buffer().Value())
	}
	if s.Buffer().Cursor() != 10 {
		t.Errorf("Cursor = %d, want 10", s.Buffer().Cursor())
	}
	if s.State() != Editable {
		t.Errorf("State = %v, want editable", s.State())
	}
	if h.rec.count(events.ContentChanged) != 0 {
		t.Error("reconciliation must not report a user edit")
	}
	if s.SavePending() || len(h.store.written()) != 0 {
		t.Error("reconciliation must not schedule a save")
	}

	h.external("/a.txt", "short")
	if s.Buffer().Cursor() != 5 {
		t.Errorf("Cursor = %d, want clamped to 5", s.Buffer().Cursor())
	}
}

func TestWatch_ChangedReadFailureKeepsBuffer(t *testing.T) {
	h := newHarness(t, map[string]string{"/a.txt": "good"})
	s := h.mustOpen("a.txt")
	h.store.setReadErr(errors.New("io timeout"))

	h.external("/a.txt", "newer")
	if s.Buffer().Value() != "good" {
		t.Errorf("buffer = %q, want last known good content", s.Buffer().Value())
	}
}

func TestWatch_ChangedIdenticalIsNoop(t *testing.T) {
	h := newHarness(t, map[string]string{"/a.txt": "same"})
	s := h.mustOpen("a.txt")
	calls := 0
	s.Buffer().OnChange(func(editor.Delta) { calls++ })

	h.external("/a.txt", "same")
	if calls != 0 {
		t.Errorf("buffer changed %d times, want 0", calls)
	}
}

func TestWatch_EchoOfOwnWriteKeepsNewerEdits(t *testing.T) {
	h := newHarness(t, map[string]string{"/a.txt": ""})
	s := h.mustOpen("a.txt")

	if err := s.Buffer().Insert(0, "abc"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	h.advance(time.Second)
	if w := h.store.written(); len(w) != 1 || w[0].content != "abc" {
		t.Fatalf("writes = %+v, want one write of abc", w)
	}

	if err := s.Buffer().Insert(3, "d"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	h.store.Notify("/a.txt", docstore.Changed)
	h.loop.Settle()

	if got := s.Buffer().Value(); got != "abcd" {
		t.Errorf("buffer = %q, want abcd kept after the write echo", got)
	}
	if !s.SavePending() {
		t.Error("the edit made after the save should still be pending")
	}

	h.advance(time.Second)
	w := h.store.written()
	if last := w[len(w)-1]; last.content != "abcd" {
		t.Errorf("last write = %q, want abcd", last.content)
	}

	h.external("/a.txt", "from elsewhere")
	if got := s.Buffer().Value(); got != "from elsewhere" {
		t.Errorf("buffer = %q, want external change applied", got)
	}
}

func TestWatch_DeletedOrphansSession(t *testing.T) {
	h := newHarness(t, map[string]string{"/a.txt": "doomed"})
	s := h.mustOpen("a.txt")
	if err := s.Buffer().Insert(0, "edit "); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !s.SavePending() {
		t.Fatal("edit should arm a save")
	}

	h.store.Notify("/a.txt", docstore.Deleted)
	h.loop.Settle()

	if _, ok := h.m.Lookup("/a.txt"); ok {
		t.Error("deleted session must be unregistered")
	}
	if s.State() != Orphaned || s.Watching() || s.SavePending() {
		t.Errorf("state=%v watching=%v pending=%v", s.State(), s.Watching(), s.SavePending())
	}
	if h.store.Watching("/a.txt") != 0 {
		t.Error("store watch should be released")
	}

	deleted := h.rec.all(events.FileDeleted)
	if len(deleted) != 1 {
		t.Fatalf("file deleted events = %d, want 1", len(deleted))
	}
	if p := deleted[0].(event.Event[events.FileDeletedPayload]).Payload; !p.Displayed || p.Path != "/a.txt" {
		t.Errorf("payload = %+v", p)
	}

	if err := s.Buffer().Insert(0, "more "); err != nil {
		t.Fatalf("Insert into orphan: %v", err)
	}
	h.advance(5 * time.Second)
	if n := len(h.store.written()); n != 0 {
		t.Errorf("writes = %d, want 0 after delete", n)
	}
	if s.Buffer().Value() != "more edit doomed" {
		t.Errorf("orphaned buffer = %q, want kept", s.Buffer().Value())
	}
}

func TestWatch_DeletedThenReopenReads(t *testing.T) {
	h := newHarness(t, map[string]string{"/a.txt": "a"})
	old := h.mustOpen("a.txt")
	h.store.Notify("/a.txt", docstore.Deleted)
	h.loop.Settle()

	fresh := h.mustOpen("a.txt")
	if fresh == old {
		t.Error("reopening a deleted path must create a new session")
	}
	if h.store.readCount() != 2 {
		t.Errorf("reads = %d, want 2", h.store.readCount())
	}
}

func TestWatch_DisconnectBlocksUntilResolved(t *testing.T) {
	h := newHarness(t, map[string]string{"/a.txt": "a"})
	h.mustOpen("a.txt")

	h.store.Notify("/a.txt", docstore.Disconnected)
	h.loop.Settle()

	blocked, msg := h.blocker.state()
	if !blocked || msg != DisconnectedMessage {
		t.Errorf("blocker = %v %q, want blocked with disconnect message", blocked, msg)
	}
	if h.rec.count(events.WatchDisconnected) != 1 {
		t.Errorf("watch disconnected events = %d, want 1", h.rec.count(events.WatchDisconnected))
	}

	h.external("/a.txt", "a")
	if blocked, _ := h.blocker.state(); blocked {
		t.Error("a later notification should unblock")
	}
}
