// Package editor is a minimal in-memory Editor Engine: text buffers with a
// cursor, scroll position, mode and read-only flag, arranged in panes.
package editor

import (
	"errors"
	"path"
	"strings"
	"sync"
)

// Errors returned by editor operations.
var (
	// ErrOffsetOutOfRange indicates an offset is outside the buffer.
	ErrOffsetOutOfRange = errors.New("offset out of range")

	// ErrReadOnly indicates an edit was attempted on a read-only buffer.
	ErrReadOnly = errors.New("buffer is read-only")

	// ErrNoSuchPane indicates a pane index is outside the layout.
	ErrNoSuchPane = errors.New("no such pane")

	// ErrBadLocation indicates a jump target could not be parsed.
	ErrBadLocation = errors.New("bad jump location")

	// ErrNilBuffer indicates an operation was given a nil buffer.
	ErrNilBuffer = errors.New("buffer is nil")
)

// Delta describes one change to a buffer's text.
type Delta struct {
	Offset   int
	Removed  int
	Inserted string
}

// Buffer holds the text of one document plus its view state.
// It is safe for concurrent use; change listeners run after the lock is
// released, on the goroutine that made the change.
type Buffer struct {
	mu       sync.Mutex
	path     string
	text     string
	cursor   int
	scroll   int
	mode     string
	readOnly bool

	listeners []func(Delta)
}

func newBuffer(p, content string) *Buffer {
	return &Buffer{
		path: p,
		text: content,
		mode: ModeForPath(p),
	}
}

// Path returns the document path the buffer was created for.
func (b *Buffer) Path() string {
	return b.path
}

// Value returns the buffer text.
func (b *Buffer) Value() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// Len returns the text length in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.text)
}

// SetValue replaces the whole text. The cursor is clamped to the new length.
// Setting identical text is a no-op and notifies nobody.
func (b *Buffer) SetValue(v string) {
	b.mu.Lock()
	if v == b.text {
		b.mu.Unlock()
		return
	}
	d := Delta{Offset: 0, Removed: len(b.text), Inserted: v}
	b.text = v
	b.cursor = clamp(b.cursor, 0, len(v))
	listeners := b.listenersLocked()
	b.mu.Unlock()

	notify(listeners, d)
}

// Insert inserts s at offset.
func (b *Buffer) Insert(offset int, s string) error {
	if s == "" {
		return nil
	}

	b.mu.Lock()
	if b.readOnly {
		b.mu.Unlock()
		return ErrReadOnly
	}
	if offset < 0 || offset > len(b.text) {
		b.mu.Unlock()
		return ErrOffsetOutOfRange
	}
	b.text = b.text[:offset] + s + b.text[offset:]
	if b.cursor >= offset {
		b.cursor += len(s)
	}
	listeners := b.listenersLocked()
	b.mu.Unlock()

	notify(listeners, Delta{Offset: offset, Inserted: s})
	return nil
}

// Delete removes n bytes starting at offset.
func (b *Buffer) Delete(offset, n int) error {
	if n == 0 {
		return nil
	}

	b.mu.Lock()
	if b.readOnly {
		b.mu.Unlock()
		return ErrReadOnly
	}
	if offset < 0 || n < 0 || offset+n > len(b.text) {
		b.mu.Unlock()
		return ErrOffsetOutOfRange
	}
	b.text = b.text[:offset] + b.text[offset+n:]
	switch {
	case b.cursor >= offset+n:
		b.cursor -= n
	case b.cursor > offset:
		b.cursor = offset
	}
	listeners := b.listenersLocked()
	b.mu.Unlock()

	notify(listeners, Delta{Offset: offset, Removed: n})
	return nil
}

// Cursor returns the cursor byte offset.
func (b *Buffer) Cursor() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// SetCursor moves the cursor, clamped to [0, Len()].
func (b *Buffer) SetCursor(offset int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = clamp(offset, 0, len(b.text))
}

// Scroll returns the first visible line, zero-based.
func (b *Buffer) Scroll() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scroll
}

// SetScroll sets the first visible line.
func (b *Buffer) SetScroll(line int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if line < 0 {
		line = 0
	}
	b.scroll = line
}

// Mode returns the editing mode name.
func (b *Buffer) Mode() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// SetMode sets the editing mode name.
func (b *Buffer) SetMode(mode string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = mode
}

// ReadOnly reports whether edits are rejected.
func (b *Buffer) ReadOnly() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readOnly
}

// MarkReadOnly makes the buffer read-only. There is no way back.
func (b *Buffer) MarkReadOnly() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readOnly = true
}

// OnChange registers fn to be called after every text change.
func (b *Buffer) OnChange(fn func(Delta)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Position converts a byte offset to a zero-based line and column.
func (b *Buffer) Position(offset int) (line, col int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	offset = clamp(offset, 0, len(b.text))
	before := b.text[:offset]
	line = strings.Count(before, "\n")
	col = offset - (strings.LastIndexByte(before, '\n') + 1)
	return line, col
}

// Offset converts a zero-based line and column to a byte offset, clamping
// both to the text.
func (b *Buffer) Offset(line, col int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	for i := 0; i < line; i++ {
		next := strings.IndexByte(b.text[start:], '\n')
		if next < 0 {
			break
		}
		start += next + 1
	}
	end := len(b.text)
	if nl := strings.IndexByte(b.text[start:], '\n'); nl >= 0 {
		end = start + nl
	}
	return clamp(start+col, start, end)
}

func (b *Buffer) listenersLocked() []func(Delta) {
	if len(b.listeners) == 0 {
		return nil
	}
	out := make([]func(Delta), len(b.listeners))
	copy(out, b.listeners)
	return out
}

func notify(listeners []func(Delta), d Delta) {
	for _, fn := range listeners {
		fn(d)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var modesByExt = map[string]string{
	".go":   "go",
	".md":   "markdown",
	".js":   "javascript",
	".ts":   "typescript",
	".json": "json",
	".toml": "toml",
	".yaml": "yaml",
	".yml":  "yaml",
	".lua":  "lua",
	".py":   "python",
	".sh":   "shell",
	".html": "html",
	".css":  "css",
}

// ModeForPath guesses an editing mode from a file extension.
func ModeForPath(p string) string {
	if mode, ok := modesByExt[strings.ToLower(path.Ext(p))]; ok {
		return mode
	}
	return "text"
}
