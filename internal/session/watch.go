package session

import (
	"github.com/dshills/docsession/internal/docstore"
	"github.com/dshills/docsession/internal/event/events"
)

// attachWatch registers the store watch of s unless it already holds one.
func (m *Manager) attachWatch(s *Session) {
	if s.watching {
		return
	}
	handle, err := m.store.Watch(s.path, func(_ string, kind docstore.Kind) {
		m.loop.Post(func() { m.onWatch(s, kind) })
	})
	if err != nil {
		m.logger.Warn("watch failed", "path", s.path, "error", err)
		return
	}
	s.watch = handle
	s.watching = true
}

// releaseWatch removes the store watch of s, if any.
func (m *Manager) releaseWatch(s *Session) {
	if !s.watching {
		return
	}
	s.watching = false
	if err := m.store.Unwatch(s.path, s.watch); err != nil {
		m.logger.Debug("unwatch failed", "path", s.path, "error", err)
	}
}

// onWatch handles one store notification for s.
func (m *Manager) onWatch(s *Session, kind docstore.Kind) {
	m.blocker.Unblock()

	switch kind {
	case docstore.Changed:
		if cur, ok := m.registry.Lookup(s.path); ok {
			m.reconcile(cur)
		}
	case docstore.Deleted:
		if cur, ok := m.registry.Lookup(s.path); ok {
			m.orphan(cur)
		}
	default:
		m.logger.Warn("document store disconnected", "path", s.path, "kind", kind.String())
		m.blocker.Block(DisconnectedMessage)
		publish(m, events.WatchDisconnected, s.subject())
	}
}

// reconcile re-reads s from the store and replaces its buffer. A failed read
// leaves the buffer untouched, and so does reading back what s itself wrote:
// the buffer may already hold newer edits.
func (m *Manager) reconcile(s *Session) {
	var (
		doc docstore.Document
		err error
	)
	m.loop.Go(func() {
		doc, err = m.store.Read(m.ctx, s.path)
	}, func() {
		if err != nil {
			m.logger.Warn("reload failed", "path", s.path, "error", err)
			return
		}
		if cur, ok := m.registry.Lookup(s.path); !ok || cur != s {
			return
		}
		if s.diskKnown && doc.Content == s.disk {
			m.logger.Debug("ignoring echo of own write", "path", s.path)
			return
		}
		s.disk, s.diskKnown = doc.Content, true
		m.apply(s, doc.Content)
	})
}

// orphan detaches s after its document was deleted. The buffer stays
// available to whoever still displays it.
func (m *Manager) orphan(s *Session) {
	m.registry.Unregister(s.path)
	s.saveTimer.Stop()
	s.saveTimer = nil
	s.saveQueued = false
	m.releaseWatch(s)
	s.state = Orphaned

	m.logger.Info("document deleted", "path", s.path)
	publish(m, events.FileDeleted, events.FileDeletedPayload{
		Subject:   s.subject(),
		Displayed: m.paneOf(s) >= 0,
	})
}
