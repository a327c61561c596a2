// Package app wires the docsession components together and manages the
// application lifecycle: configuration, the loop, the document store, the
// state store, the session manager, hooks, metrics and the console.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/dshills/docsession/internal/config"
	"github.com/dshills/docsession/internal/docstore"
	"github.com/dshills/docsession/internal/editor"
	"github.com/dshills/docsession/internal/event"
	"github.com/dshills/docsession/internal/event/events"
	"github.com/dshills/docsession/internal/hook"
	"github.com/dshills/docsession/internal/loop"
	"github.com/dshills/docsession/internal/session"
	"github.com/dshills/docsession/internal/state"
)

// ShutdownTimeout bounds Run's shutdown once its context is cancelled.
const ShutdownTimeout = 5 * time.Second

// Application is the central coordinator for all docsession components.
type Application struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	loop     *loop.Loop
	bus      *event.Bus
	store    *docstore.FSStore
	state    *state.Store
	engine   *editor.Engine
	sessions *session.Manager
	hook     *hook.Hook
	metrics  *Metrics
	server   *metricsServer
	status   *StatusLine
	out      io.Writer

	running  atomic.Bool
	stopLoop context.CancelFunc
	loopDone chan struct{}
	closeMu  sync.Mutex
}

// Options configures the application.
type Options struct {
	// Files are opened after the previous session has been restored.
	Files []string

	// FS replaces the on-disk workspace. Documents and the state file are
	// then read from it and no change feed is started.
	FS afero.Fs

	// Clock drives the loop timers. Defaults to the real clock.
	Clock loop.Clock

	// Output receives status-line messages and console output. Nil
	// discards them.
	Output io.Writer

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// New creates an Application from cfg. Components are initialized in
// dependency order; a failure releases what was already created.
func New(cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	app := &Application{cfg: cfg, opts: opts}
	if err := newBootstrapper(app).bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Start runs the loop and begins restoring the previous session. The UI is
// blocked until the file list and the state file have both been loaded.
func (app *Application) Start(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	app.stopLoop = cancel
	app.loopDone = make(chan struct{})
	go func() {
		defer close(app.loopDone)
		if err := app.loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error("loop stopped", slog.Any("error", err))
		}
	}()

	if err := app.sessions.Start(); err != nil {
		return NewComponentError("session", "start", err)
	}

	go app.loadFileList(ctx)
	go app.loadState(ctx)
	return nil
}

func (app *Application) loadFileList(ctx context.Context) {
	paths, err := app.store.List(ctx)
	if err != nil {
		app.logger.Warn("file list unavailable", slog.Any("error", err))
	}
	app.logger.Debug("file list loaded", slog.Int("count", len(paths)))
	publish(ctx, app, events.FileListLoaded, events.FileListLoadedPayload{Count: len(paths)})
}

func (app *Application) loadState(ctx context.Context) {
	err := app.state.Load(ctx)
	if err != nil {
		app.logger.Warn("state file unusable, starting empty", slog.String("path", app.state.Path()), slog.Any("error", err))
	}
	publish(ctx, app, events.StateLoaded, events.StateLoadedPayload{Err: err})
}

func publish[T any](ctx context.Context, app *Application, k events.Kind, payload T) {
	if err := events.Publish(ctx, app.bus, k, payload); err != nil {
		app.logger.Warn("publish failed", slog.String("event", k.String()), slog.Any("error", err))
	}
}

// Run starts the application and blocks until ctx is cancelled, then shuts
// down within ShutdownTimeout.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return app.Shutdown(shutdownCtx)
}

// Shutdown flushes pending saves and the session state, stops the loop and
// releases every component.
func (app *Application) Shutdown(ctx context.Context) error {
	if !app.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}

	var errs []error
	if err := app.sessions.Shutdown(ctx); err != nil {
		errs = append(errs, NewComponentError("session", "shutdown", err))
	}

	app.stopLoop()
	select {
	case <-app.loopDone:
	case <-ctx.Done():
		errs = append(errs, NewComponentError("loop", "stop", ctx.Err()))
	}
	app.loop.Close()

	if err := app.close(ctx); err != nil {
		errs = append(errs, err)
	}
	app.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// close releases components in reverse dependency order.
func (app *Application) close(ctx context.Context) error {
	app.closeMu.Lock()
	defer app.closeMu.Unlock()

	var errs []error
	if app.server != nil {
		if err := app.server.shutdown(ctx); err != nil {
			errs = append(errs, NewComponentError("metrics", "shutdown", err))
		}
		app.server = nil
	}
	if app.metrics != nil {
		app.metrics.Detach(app.bus)
	}
	if app.hook != nil {
		if err := app.hook.Close(); err != nil {
			errs = append(errs, NewComponentError("hook", "close", err))
		}
		app.hook = nil
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			errs = append(errs, NewComponentError("store", "close", err))
		}
	}
	if app.bus != nil {
		if err := app.bus.Close(ctx); err != nil {
			errs = append(errs, NewComponentError("event bus", "close", err))
		}
	}
	return errors.Join(errs...)
}

// IsRunning reports whether Start has been called without Shutdown.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Config returns the application configuration.
func (app *Application) Config() *config.Config { return app.cfg }

// Sessions returns the session manager.
func (app *Application) Sessions() *session.Manager { return app.sessions }

// Bus returns the event bus.
func (app *Application) Bus() *event.Bus { return app.bus }

// Loop returns the loop every session operation runs on.
func (app *Application) Loop() *loop.Loop { return app.loop }

// Store returns the document store.
func (app *Application) Store() *docstore.FSStore { return app.store }

// Metrics returns the Prometheus collectors.
func (app *Application) Metrics() *Metrics { return app.metrics }

// Status returns the status line used as the UI blocker.
func (app *Application) Status() *StatusLine { return app.status }

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (app *Application) MetricsAddr() string {
	if app.server == nil {
		return ""
	}
	return app.server.Addr()
}

// Console returns a console bound to app that prints to Options.Output,
// sharing it with the status line.
func (app *Application) Console() *Console {
	return NewConsole(app, app.out)
}

// onLoop runs fn on the loop and waits for it.
func (app *Application) onLoop(ctx context.Context, fn func()) error {
	if !app.running.Load() {
		return ErrNotRunning
	}
	return app.loop.Call(ctx, fn)
}

// withActive runs fn on the loop with the session in the focused pane.
func (app *Application) withActive(ctx context.Context, fn func(*session.Session) error) error {
	var fnErr error
	err := app.onLoop(ctx, func() {
		s := app.sessions.Active()
		if s == nil {
			fnErr = ErrNoActiveSession
			return
		}
		fnErr = fn(s)
	})
	if err != nil {
		return err
	}
	return fnErr
}
