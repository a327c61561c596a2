package app

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// StatusLine is the UI blocker of the headless front end. Blocking prints
// the message once and holds it until Unblock; nested blocks replace the
// message.
type StatusLine struct {
	mu      sync.Mutex
	out     io.Writer
	logger  *slog.Logger
	blocked bool
	message string
}

// NewStatusLine creates a status line that prints to out. A nil out only logs.
func NewStatusLine(out io.Writer, logger *slog.Logger) *StatusLine {
	return &StatusLine{out: out, logger: logger}
}

// Block shows msg and marks the UI unavailable.
func (s *StatusLine) Block(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocked && s.message == msg {
		return
	}
	s.blocked = true
	s.message = msg
	s.logger.Debug("ui blocked", slog.String("message", msg))
	if s.out != nil {
		fmt.Fprintf(s.out, "[blocked] %s\n", msg)
	}
}

// Unblock clears the message.
func (s *StatusLine) Unblock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.blocked {
		return
	}
	s.blocked = false
	s.logger.Debug("ui unblocked")
	if s.out != nil {
		fmt.Fprintln(s.out, "[ready]")
	}
}

// Blocked reports the current state and message.
func (s *StatusLine) Blocked() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked, s.message
}

// lockedWriter serializes writes to an underlying writer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
