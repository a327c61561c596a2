package editor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ViewState is the part of a buffer's state worth restoring across runs.
type ViewState struct {
	Cursor int    `json:"cursor"`
	Scroll int    `json:"scroll"`
	Mode   string `json:"mode,omitempty"`
}

// Engine arranges buffers in a fixed number of panes.
type Engine struct {
	mu     sync.Mutex
	panes  []*Buffer
	active int
}

// NewEngine creates an engine with the given number of panes (at least one).
func NewEngine(panes int) *Engine {
	if panes < 1 {
		panes = 1
	}
	return &Engine{panes: make([]*Buffer, panes)}
}

// CreateBuffer creates a buffer for path holding content. The buffer is not
// displayed until Switch.
func (e *Engine) CreateBuffer(path, content string) *Buffer {
	return newBuffer(path, content)
}

// Switch displays b in pane and makes that pane active.
func (e *Engine) Switch(b *Buffer, pane int) error {
	if b == nil {
		return ErrNilBuffer
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if pane < 0 || pane >= len(e.panes) {
		return fmt.Errorf("%w: %d", ErrNoSuchPane, pane)
	}
	e.panes[pane] = b
	e.active = pane
	return nil
}

// ActivePane returns the index of the focused pane.
func (e *Engine) ActivePane() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Focus makes pane the active pane.
func (e *Engine) Focus(pane int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pane < 0 || pane >= len(e.panes) {
		return fmt.Errorf("%w: %d", ErrNoSuchPane, pane)
	}
	e.active = pane
	return nil
}

// Panes returns the number of panes.
func (e *Engine) Panes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.panes)
}

// Displayed returns the buffer in each pane, nil for empty panes.
func (e *Engine) Displayed() []*Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Buffer, len(e.panes))
	copy(out, e.panes)
	return out
}

// BufferIn returns the buffer displayed in pane, or nil.
func (e *Engine) BufferIn(pane int) *Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pane < 0 || pane >= len(e.panes) {
		return nil
	}
	return e.panes[pane]
}

// CaptureViewState serializes b's cursor, scroll and mode.
func (e *Engine) CaptureViewState(b *Buffer) (json.RawMessage, error) {
	if b == nil {
		return nil, ErrNilBuffer
	}
	return json.Marshal(ViewState{
		Cursor: b.Cursor(),
		Scroll: b.Scroll(),
		Mode:   b.Mode(),
	})
}

// RestoreViewState applies a value produced by CaptureViewState.
// The cursor is clamped to the current text.
func (e *Engine) RestoreViewState(b *Buffer, raw json.RawMessage) error {
	if b == nil {
		return ErrNilBuffer
	}
	if len(raw) == 0 {
		return nil
	}
	var vs ViewState
	if err := json.Unmarshal(raw, &vs); err != nil {
		return fmt.Errorf("restore view state: %w", err)
	}
	b.SetCursor(vs.Cursor)
	b.SetScroll(vs.Scroll)
	if vs.Mode != "" {
		b.SetMode(vs.Mode)
	}
	return nil
}

// Jump moves b's cursor to loc, written "LINE" or "LINE:COL" (1-based).
// Positions past the end of a line or the text are clamped.
func (e *Engine) Jump(b *Buffer, loc string) error {
	if b == nil {
		return ErrNilBuffer
	}
	line, col, err := ParseLocation(loc)
	if err != nil {
		return err
	}
	b.SetCursor(b.Offset(line-1, col-1))
	scroll := line - 1
	if scroll < 0 {
		scroll = 0
	}
	b.SetScroll(scroll)
	return nil
}

// ParseLocation parses "LINE" or "LINE:COL". Missing columns are 1.
func ParseLocation(loc string) (line, col int, err error) {
	loc = strings.TrimSpace(loc)
	lineStr, colStr, hasCol := strings.Cut(loc, ":")

	line, err = strconv.Atoi(lineStr)
	if err != nil || line < 1 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadLocation, loc)
	}
	col = 1
	if hasCol {
		col, err = strconv.Atoi(colStr)
		if err != nil || col < 1 {
			return 0, 0, fmt.Errorf("%w: %q", ErrBadLocation, loc)
		}
	}
	return line, col, nil
}
