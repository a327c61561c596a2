package session

import (
	"github.com/dshills/docsession/internal/editor"
	"github.com/dshills/docsession/internal/event/events"
)

// onChange is the buffer change listener of every store-backed session.
// Buffers are edited on the loop, so it runs there too.
func (m *Manager) onChange(s *Session, d editor.Delta) {
	if s.state == Reconciling {
		return
	}
	publish(m, events.ContentChanged, events.ContentChangedPayload{
		Subject:  s.subject(),
		Offset:   d.Offset,
		Removed:  d.Removed,
		Inserted: d.Inserted,
	})
	if s.readOnly || s.special || s.state == Orphaned {
		return
	}
	m.scheduleSave(s)
}

func (m *Manager) scheduleSave(s *Session) {
	s.saveTimer.Stop()
	s.saveTimer = m.loop.AfterFunc(m.cfg.SaveDelay, func() {
		s.saveTimer = nil
		m.save(s)
	})
}

// save writes the buffer of s. A save that arrives while a write is in
// flight is queued and issued when that write settles.
func (m *Manager) save(s *Session) {
	if s.state == Orphaned || s.readOnly || s.special {
		return
	}
	if s.writing {
		s.saveQueued = true
		return
	}

	m.activity(events.ActivityStarted, s, "Saving", nil)

	content := s.buf.Value()
	publish(m, events.BeforeSave, events.BeforeSavePayload{Subject: s.subject(), Content: &content})
	if content != s.buf.Value() {
		m.apply(s, content)
	}

	m.write(s, content, func(err error) {
		if err != nil {
			m.logger.Warn("save failed", "path", s.path, "error", err)
			m.activity(events.ActivityFailed, s, "Failed to save", err)
			return
		}
		m.activity(events.ActivityCompleted, s, "Saving", nil)
		publish(m, events.Saved, events.SavedPayload{Subject: s.subject(), Bytes: len(content)})
	})
}

// write issues a store write for s off the loop and calls done on the loop
// when it settles. Writes for one session never overlap.
func (m *Manager) write(s *Session, content string, done func(error)) {
	s.writing = true
	s.disk, s.diskKnown = content, true
	m.ioStarted()

	var err error
	m.loop.Go(func() {
		err = m.store.Write(m.ctx, s.path, content)
	}, func() {
		defer m.ioDone()
		s.writing = false
		if err != nil {
			s.diskKnown = false
		}
		done(err)
		if s.saveQueued {
			s.saveQueued = false
			m.save(s)
		}
	})
}

// apply replaces the buffer text of s without feeding the change back into
// the save scheduler. The cursor keeps its offset, clamped to the new text.
func (m *Manager) apply(s *Session, content string) {
	if s.buf.Value() == content {
		return
	}
	cursor := s.buf.Cursor()
	prev := s.state
	s.state = Reconciling
	s.buf.SetValue(content)
	s.buf.SetCursor(cursor)
	s.state = prev
}
