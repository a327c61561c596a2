package session

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/dshills/docsession/internal/event/events"
)

// Snapshot records the current arrangement in the state store and flushes it
// when it differs from the last flushed snapshot. It runs on the loop.
func (m *Manager) Snapshot() {
	m.loop.Post(m.snapshot)
}

func (m *Manager) armSnapshot() {
	if m.stopped {
		return
	}
	m.snapTimer = m.loop.AfterFunc(m.cfg.SnapshotInterval, func() {
		m.snapTimer = nil
		m.snapshot()
		m.armSnapshot()
	})
}

func (m *Manager) snapshot() {
	if m.flushing {
		m.flushQueued = true
		return
	}

	current := make([]string, len(m.shown))
	for i, s := range m.shown {
		if s != nil && s.state != Orphaned {
			current[i] = s.path
		}
	}

	open := make(map[string]json.RawMessage)
	for _, s := range m.recent(m.cfg.MaxRestored) {
		vs, err := m.engine.CaptureViewState(s.buf)
		if err != nil {
			m.logger.Debug("capture view state failed", "path", s.path, "error", err)
			vs = json.RawMessage("{}")
		}
		open[s.path] = vs
	}

	if err := m.state.Set(KeyCurrent, current); err != nil {
		m.logger.Warn("snapshot failed", "key", KeyCurrent, "error", err)
		return
	}
	if err := m.state.Set(KeyOpen, open); err != nil {
		m.logger.Warn("snapshot failed", "key", KeyOpen, "error", err)
		return
	}

	blob, err := m.state.Serialize()
	if err != nil {
		m.logger.Warn("snapshot failed", "error", err)
		return
	}
	if bytes.Equal(blob, m.lastSnapshot) {
		return
	}
	m.lastSnapshot = blob

	m.flushing = true
	m.ioStarted()
	var flushErr error
	m.loop.Go(func() {
		flushErr = m.state.Flush(m.ctx)
	}, func() {
		defer m.ioDone()
		m.flushing = false
		if flushErr != nil {
			m.lastSnapshot = nil
			m.logger.Warn("state flush failed", "error", flushErr)
		} else {
			publish(m, events.StateFlushed, events.StateFlushedPayload{Bytes: len(blob)})
		}
		if m.flushQueued {
			m.flushQueued = false
			m.snapshot()
		}
	})
}

// recent returns up to n registered sessions, most recently used first.
func (m *Manager) recent(n int) []*Session {
	sessions := m.registry.Sessions()
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.lastUse.Equal(b.lastUse) {
			return a.lastUse.After(b.lastUse)
		}
		return a.path < b.path
	})
	if len(sessions) > n {
		sessions = sessions[:n]
	}
	return sessions
}
