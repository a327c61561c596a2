package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/docsession/internal/docstore"
	"github.com/dshills/docsession/internal/editor"
	"github.com/dshills/docsession/internal/event/events"
)

// GoOption configures a Go request.
type GoOption func(*openRequest)

// InPane displays the session in pane instead of the active pane.
func InPane(pane int) GoOption {
	return func(r *openRequest) {
		r.pane = pane
		r.paneSet = true
	}
}

// From names the session activity events are reported on. By default it is
// the session currently shown in the target pane.
func From(prev *Session) GoOption {
	return func(r *openRequest) {
		r.from = prev
		r.fromSet = true
	}
}

// OnDone registers fn to run on the loop when the request finishes.
// The session is nil when the request failed or was empty.
func OnDone(fn func(*Session, error)) GoOption {
	return func(r *openRequest) {
		r.onDone = fn
	}
}

type openRequest struct {
	raw     string
	pane    int
	paneSet bool
	from    *Session
	fromSet bool
	onDone  func(*Session, error)
}

func (r *openRequest) finish(s *Session, err error) {
	if r.onDone != nil {
		r.onDone(s, err)
	}
}

// Go resolves raw, a request of the form "PATH[:LINE[:COL]]" or the name of
// a special document, and displays the resulting session. Resolution runs
// on the loop; Go returns immediately.
func (m *Manager) Go(raw string, opts ...GoOption) {
	r := &openRequest{raw: raw}
	for _, opt := range opts {
		opt(r)
	}
	if !m.loop.Post(func() { m.resolve(r) }) {
		r.finish(nil, fmt.Errorf("open %q: loop closed", raw))
	}
}

// Open is the blocking form of Go. It must not be called from the loop.
func (m *Manager) Open(ctx context.Context, raw string, opts ...GoOption) (*Session, error) {
	type result struct {
		s   *Session
		err error
	}
	ch := make(chan result, 1)
	opts = append(opts, OnDone(func(s *Session, err error) {
		ch <- result{s, err}
	}))
	m.Go(raw, opts...)

	select {
	case res := <-ch:
		return res.s, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) resolve(r *openRequest) {
	if !r.paneSet {
		r.pane = m.engine.ActivePane()
	}
	if r.pane < 0 || r.pane >= len(m.shown) {
		r.finish(nil, fmt.Errorf("%w: %d", ErrInvalidPane, r.pane))
		return
	}
	prev := m.shown[r.pane]
	if r.fromSet {
		prev = r.from
	}

	if doc, ok := m.specials[r.raw]; ok {
		s := m.newSpecial(r.raw, doc)
		if err := m.show(s, r.pane, ""); err != nil {
			r.finish(nil, err)
			return
		}
		r.finish(s, nil)
		return
	}

	req, err := ParseRequest(r.raw)
	if err != nil {
		msg := err.Error()
		var ve *ValidationError
		if errors.As(err, &ve) {
			msg = ve.Message
		}
		m.activity(events.ActivityFailed, prev, msg, err)
		r.finish(nil, err)
		return
	}
	if req.Path == "" {
		r.finish(nil, nil)
		return
	}

	if s, ok := m.registry.Lookup(req.Path); ok {
		if err := m.show(s, r.pane, req.Jump); err != nil {
			r.finish(nil, err)
			return
		}
		r.finish(s, nil)
		return
	}

	m.activity(events.ActivityStarted, prev, "Loading...", nil)
	var (
		doc     docstore.Document
		readErr error
	)
	m.loop.Go(func() {
		doc, readErr = m.store.Read(m.ctx, req.Path)
	}, func() {
		m.loaded(r, prev, req, doc, readErr)
	})
}

func (m *Manager) loaded(r *openRequest, prev *Session, req Request, doc docstore.Document, err error) {
	m.activity(events.ActivityCompleted, prev, "Loading...", nil)

	// A concurrent request for the same path may have won.
	if s, ok := m.registry.Lookup(req.Path); ok {
		m.logger.Debug("discarding superseded load", "path", req.Path)
		if showErr := m.show(s, r.pane, req.Jump); showErr != nil {
			r.finish(nil, showErr)
			return
		}
		r.finish(s, nil)
		return
	}

	switch {
	case err == nil:
		s := m.newDocument(req.Path, doc.Content, doc.Options.ReadOnly)
		m.registry.Register(req.Path, s)
		if showErr := m.show(s, r.pane, req.Jump); showErr != nil {
			r.finish(s, showErr)
			return
		}
		publish(m, events.NewSession, events.NewSessionPayload{Subject: s.subject(), ReadOnly: s.readOnly})
		r.finish(s, nil)

	case docstore.IsNotFound(err):
		s := m.newDocument(req.Path, "", false)
		m.registry.Register(req.Path, s)
		if showErr := m.show(s, r.pane, req.Jump); showErr != nil {
			r.finish(s, showErr)
			return
		}
		publish(m, events.FileCreated, events.FileCreatedPayload{Subject: s.subject()})
		m.write(s, "", func(werr error) {
			if werr != nil {
				m.logger.Warn("create file failed", "path", s.path, "error", werr)
				m.activity(events.ActivityFailed, s, "Could not create file", werr)
			}
		})
		r.finish(s, nil)

	default:
		m.logger.Warn("load failed", "path", req.Path, "error", err)
		m.activity(events.ActivityFailed, prev, "Could not load file", err)
		r.finish(nil, err)
	}
}

// newDocument creates a session backed by the store and wires its buffer to
// the save scheduler.
func (m *Manager) newDocument(p, content string, readOnly bool) *Session {
	s := newSession(p, m.engine.CreateBuffer(p, content), readOnly)
	s.buf.OnChange(func(d editor.Delta) { m.onChange(s, d) })
	return s
}

// show makes s the session displayed in pane.
func (m *Manager) show(s *Session, pane int, jump string) error {
	prev := m.shown[pane]
	if err := m.engine.Switch(s.buf, pane); err != nil {
		return err
	}
	s.lastUse = m.loop.Now()
	m.shown[pane] = s

	if prev != nil && prev != s && m.paneOf(prev) < 0 {
		m.releaseWatch(prev)
	}
	if !s.special && s.state != Orphaned {
		m.attachWatch(s)
	}

	publish(m, events.SessionSwitched, events.SwitchedPayload{
		Subject: s.subject(),
		Pane:    pane,
		Special: s.special,
	})

	if jump != "" {
		m.loop.Post(func() {
			if err := m.engine.Jump(s.buf, jump); err != nil {
				m.logger.Debug("jump failed", "path", s.path, "target", jump, "error", err)
			}
		})
	}
	return nil
}

// paneOf returns the first pane showing s, or -1.
func (m *Manager) paneOf(s *Session) int {
	for i, shown := range m.shown {
		if shown == s {
			return i
		}
	}
	return -1
}
