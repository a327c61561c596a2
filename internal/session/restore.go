package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/dshills/docsession/internal/docstore"
	"github.com/dshills/docsession/internal/event"
	"github.com/dshills/docsession/internal/event/events"
)

// Start blocks the UI and arms startup restore. Restore runs on the loop
// once both the file list and the persisted state have been announced on
// the bus. Start must be called before either announcement.
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	m.blocker.Block(LoadingMessage)

	_, err := m.bus.WaitAll([]event.Topic{
		events.FileListLoaded.Topic(),
		events.StateLoaded.Topic(),
	}, func() {
		m.loop.Post(m.restore)
	})
	if err != nil {
		m.blocker.Unblock()
		return fmt.Errorf("arm restore barrier: %w", err)
	}
	return nil
}

type restoredDoc struct {
	path string
	doc  docstore.Document
	err  error
}

func (m *Manager) restore() {
	m.blocker.Unblock()
	if m.cfg.StartDocument != "" {
		m.Go(m.cfg.StartDocument, InPane(0))
	}

	var current []string
	if raw, ok := m.state.Get(KeyCurrent); ok {
		if err := json.Unmarshal(raw, &current); err != nil {
			m.logger.Warn("ignoring unreadable snapshot key", "key", KeyCurrent, "error", err)
			current = nil
		}
	}
	var open map[string]json.RawMessage
	if raw, ok := m.state.Get(KeyOpen); ok {
		if err := json.Unmarshal(raw, &open); err != nil {
			m.logger.Warn("ignoring unreadable snapshot key", "key", KeyOpen, "error", err)
			open = nil
		}
	}

	paths := make([]string, 0, len(open))
	for p := range open {
		if !strings.HasPrefix(p, "/") {
			continue
		}
		if _, ok := m.registry.Lookup(p); ok {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var results []restoredDoc
	m.loop.Go(func() {
		p := pool.NewWithResults[restoredDoc]().WithMaxGoroutines(m.cfg.RestoreConcurrency)
		for _, path := range paths {
			p.Go(func() restoredDoc {
				doc, err := m.store.Read(m.ctx, path)
				return restoredDoc{path: path, doc: doc, err: err}
			})
		}
		results = p.Wait()
	}, func() {
		m.finishRestore(results, open, current)
	})
}

func (m *Manager) finishRestore(results []restoredDoc, open map[string]json.RawMessage, current []string) {
	restored, dropped := 0, 0
	for _, r := range results {
		if r.err != nil {
			m.logger.Debug("dropping unrestorable session", "path", r.path, "error", r.err)
			dropped++
			continue
		}
		if _, ok := m.registry.Lookup(r.path); ok {
			continue
		}
		s := m.newDocument(r.path, r.doc.Content, r.doc.Options.ReadOnly)
		m.registry.Register(r.path, s)
		if err := m.engine.RestoreViewState(s.buf, open[r.path]); err != nil {
			m.logger.Debug("view state not restored", "path", r.path, "error", err)
		}
		restored++
	}

	// Only sessions restored above and special documents are shown again;
	// a displayed path that could not be read must not be created as empty.
	for pane, p := range current {
		if p == "" || pane >= len(m.shown) {
			continue
		}
		_, registered := m.registry.Lookup(p)
		_, special := m.specials[p]
		if !registered && !special {
			m.logger.Debug("not redisplaying unrestored path", "path", p, "pane", pane)
			continue
		}
		m.Go(p, InPane(pane))
	}

	m.restored = true
	m.logger.Info("sessions restored", "restored", restored, "dropped", dropped)
	publish(m, events.AllRestored, events.AllRestoredPayload{Restored: restored, Dropped: dropped})
	m.armSnapshot()
}
