// Package hook runs user Lua scripts that rewrite documents before they are
// saved.
//
// A script defines a global function
//
//	function before_save(path, content)
//	  return content:gsub("%s+\n", "\n")
//	end
//
// Returning a string replaces the content to be written. Returning nil
// leaves it unchanged. Scripts run in a sandbox with only the base, table,
// string and math libraries; nothing can touch the filesystem or the process.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/docsession/internal/event"
	"github.com/dshills/docsession/internal/event/events"
	"github.com/dshills/docsession/internal/logging"
)

// EntryPoint is the global function every script must define.
const EntryPoint = "before_save"

// DefaultTimeout bounds a single Transform call. Attached hooks run inside
// the publisher of the before-save event, so the deadline is also how long
// the publisher can stall.
const DefaultTimeout = 250 * time.Millisecond

// Errors for hook operations.
var (
	// ErrNoEntryPoint is returned when a script does not define before_save.
	ErrNoEntryPoint = errors.New("hook: script does not define " + EntryPoint)

	// ErrBadResult is returned when before_save returns neither a string nor nil.
	ErrBadResult = errors.New("hook: " + EntryPoint + " must return a string or nil")

	// ErrTimeout is returned when a script runs past its deadline.
	ErrTimeout = errors.New("hook: execution timeout")

	// ErrClosed is returned when using a closed hook.
	ErrClosed = errors.New("hook: closed")
)

// Option configures a Hook.
type Option func(*Hook)

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(h *Hook) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the logger that receives script print output and failures.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hook) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// sandboxed are base functions removed from every state.
var sandboxed = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

// Hook is a loaded before-save script. It is safe for concurrent use; calls
// are serialized on the single Lua state.
type Hook struct {
	mu      sync.Mutex
	name    string
	L       *lua.LState
	fn      *lua.LFunction
	timeout time.Duration
	logger  *slog.Logger
	closed  bool
}

// LoadFile reads and loads the script at path from fsys.
func LoadFile(fsys afero.Fs, path string, opts ...Option) (*Hook, error) {
	code, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("hook: read %s: %w", path, err)
	}
	return LoadString(path, string(code), opts...)
}

// LoadString compiles and runs code, then looks up before_save.
func LoadString(name, code string, opts ...Option) (*Hook, error) {
	h := &Hook{
		name:    name,
		timeout: DefaultTimeout,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.WithComponent(h.logger, "hook").With(slog.String("script", name))

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, fn := range sandboxed {
		L.SetGlobal(fn, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(h.print))
	h.L = L

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.protect(ctx, func() error { return L.DoString(code) }); err != nil {
		L.Close()
		return nil, fmt.Errorf("hook: load %s: %w", name, err)
	}

	fn, ok := L.GetGlobal(EntryPoint).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("%w (%s)", ErrNoEntryPoint, name)
	}
	h.fn = fn
	return h, nil
}

// Name returns the script name, normally its path.
func (h *Hook) Name() string { return h.name }

// Transform calls before_save(path, content) and returns the content to write.
// changed reports whether the script returned a different string.
func (h *Hook) Transform(ctx context.Context, path, content string) (out string, changed bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return content, false, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	top := h.L.GetTop()
	err = h.protect(ctx, func() error {
		return h.L.CallByParam(lua.P{Fn: h.fn, NRet: 1, Protect: true}, lua.LString(path), lua.LString(content))
	})
	if err != nil {
		h.L.SetTop(top)
		return content, false, err
	}

	ret := h.L.Get(-1)
	h.L.SetTop(top)

	switch v := ret.(type) {
	case lua.LString:
		return string(v), string(v) != content, nil
	default:
		if ret == lua.LNil {
			return content, false, nil
		}
		return content, false, fmt.Errorf("%w, got %s", ErrBadResult, ret.Type())
	}
}

// protect runs fn with ctx installed on the state and converts panics and
// deadline expiry into errors.
func (h *Hook) protect(ctx context.Context, fn func() error) (err error) {
	h.L.SetContext(ctx)
	defer h.L.RemoveContext()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w after %v: %v", ErrTimeout, h.timeout, err)
		}
	}()
	return fn()
}

func (h *Hook) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	h.logger.Info(strings.Join(parts, "\t"))
	return 0
}

// Attach subscribes the hook to before-save events on bus. The handler runs
// synchronously ahead of normal-priority subscribers and rewrites the
// payload content in place, holding the publisher for at most the hook
// timeout. A failing or timed-out script leaves the content unchanged.
func (h *Hook) Attach(bus *event.Bus) (*event.Subscription, error) {
	return events.Subscribe(bus, events.BeforeSave, func(ctx context.Context, ev event.Event[events.BeforeSavePayload]) error {
		p := ev.Payload
		if p.Content == nil {
			return nil
		}
		out, changed, err := h.Transform(ctx, p.Path, *p.Content)
		if err != nil {
			h.logger.Warn("before-save hook failed", slog.String("path", p.Path), slog.Any("error", err))
			return nil
		}
		if changed {
			*p.Content = out
		}
		return nil
	}, event.WithDeliveryMode(event.DeliverySync), event.WithPriority(event.PriorityHigh))
}

// Close releases the Lua state.
func (h *Hook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.L.Close()
	return nil
}
