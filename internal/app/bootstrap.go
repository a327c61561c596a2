package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/dshills/docsession/internal/docstore"
	"github.com/dshills/docsession/internal/editor"
	"github.com/dshills/docsession/internal/event"
	"github.com/dshills/docsession/internal/event/events"
	"github.com/dshills/docsession/internal/hook"
	"github.com/dshills/docsession/internal/logging"
	"github.com/dshills/docsession/internal/loop"
	"github.com/dshills/docsession/internal/session"
	"github.com/dshills/docsession/internal/state"
)

// startDocument is the content of the built-in start page.
const startDocument = `# docsession

Open a document with "open PATH[:LINE[:COL]] [PANE]".
Edits are saved automatically one second after you stop typing.
Type "help" for every command.
`

// bootstrapper initializes application components in dependency order.
type bootstrapper struct {
	app       *Application
	initOrder []string
}

func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{
		app:       app,
		initOrder: make([]string, 0, 8),
	}
}

// bootstrap runs every init step. On failure it cleans up the components
// already initialized.
func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"logger", b.initLogger},
		{"event bus", b.initEventBus},
		{"loop", b.initLoop},
		{"store", b.initStore},
		{"state", b.initState},
		{"sessions", b.initSessions},
		{"hook", b.initHook},
		{"metrics", b.initMetrics},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			b.cleanup()
			return &InitError{Component: step.name, Err: err}
		}
		b.initOrder = append(b.initOrder, step.name)
	}
	return nil
}

func (b *bootstrapper) initLogger() error {
	b.app.logger = b.app.opts.Logger
	if b.app.logger == nil {
		b.app.logger = logging.Discard()
	}
	b.app.out = syncWriter(b.app.opts.Output)
	b.app.status = NewStatusLine(b.app.out, logging.WithComponent(b.app.logger, "status"))
	return nil
}

func (b *bootstrapper) initEventBus() error {
	b.app.bus = event.NewBus(event.WithLogger(logging.WithComponent(b.app.logger, "event")))
	return events.Declare(b.app.bus)
}

func (b *bootstrapper) initLoop() error {
	opts := []loop.Option{
		loop.WithPanicHandler(func(r any) {
			b.app.logger.Error("task panic", slog.Any("panic", r))
		}),
	}
	if b.app.opts.Clock != nil {
		opts = append(opts, loop.WithClock(b.app.opts.Clock))
	}
	b.app.loop = loop.New(opts...)
	return nil
}

func (b *bootstrapper) initStore() error {
	cfg := b.app.cfg
	opts := []docstore.Option{
		docstore.WithMaxFileSize(cfg.Workspace.MaxFileSize),
		docstore.WithLogger(logging.WithComponent(b.app.logger, "docstore")),
	}
	if len(cfg.Workspace.Ignore) > 0 {
		opts = append(opts, docstore.WithIgnore(cfg.Workspace.Ignore...))
	}

	if b.app.opts.FS != nil {
		b.app.store = docstore.New(b.app.opts.FS, opts...)
		return nil
	}

	if cfg.Watch.Enabled {
		opts = append(opts, docstore.WithFSNotify(cfg.Watch.Debounce.Std()))
	}
	store, err := docstore.NewOS(cfg.Workspace.Root, opts...)
	if err != nil {
		return err
	}
	b.app.store = store
	return nil
}

func (b *bootstrapper) initState() error {
	fs, file := b.stateLocation()
	st, err := state.New(fs, file, state.WithLogger(logging.WithComponent(b.app.logger, "state")))
	if err != nil {
		return err
	}
	b.app.state = st
	return nil
}

// stateLocation returns the filesystem and path of the state file.
func (b *bootstrapper) stateLocation() (afero.Fs, string) {
	cfg := b.app.cfg
	if b.app.opts.FS != nil {
		if filepath.IsAbs(cfg.State.File) {
			return b.app.opts.FS, cfg.State.File
		}
		return b.app.opts.FS, path.Join("/", filepath.ToSlash(cfg.State.File))
	}
	return afero.NewOsFs(), cfg.StatePath()
}

func (b *bootstrapper) initSessions() error {
	cfg := b.app.cfg
	b.app.engine = editor.NewEngine(cfg.Session.Panes)

	m, err := session.NewManager(session.Deps{
		Loop:    b.app.loop,
		Store:   b.app.store,
		Engine:  b.app.engine,
		State:   b.app.state,
		Bus:     b.app.bus,
		Blocker: b.app.status,
		Logger:  logging.WithComponent(b.app.logger, "session"),
	}, session.Config{
		SaveDelay:          cfg.Session.SaveDelay.Std(),
		SnapshotInterval:   cfg.Session.SnapshotInterval.Std(),
		MaxRestored:        cfg.Session.MaxRestored,
		RestoreConcurrency: cfg.Session.RestoreConcurrency,
		StartDocument:      cfg.Session.StartDocument,
	})
	if err != nil {
		return err
	}
	b.app.sessions = m

	if cfg.Session.StartDocument != "" {
		m.RegisterSpecial(cfg.Session.StartDocument, session.SpecialDoc{Content: startDocument, Mode: "markdown"})
	}

	if files := b.app.opts.Files; len(files) > 0 {
		panes := cfg.Session.Panes
		_, err := events.Subscribe(b.app.bus, events.AllRestored, func(context.Context, event.Event[events.AllRestoredPayload]) error {
			for i, f := range files {
				var opts []session.GoOption
				if i < panes {
					opts = append(opts, session.InPane(i))
				}
				m.Go(f, opts...)
			}
			return nil
		}, event.WithDeliveryMode(event.DeliverySync), event.WithOnce())
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *bootstrapper) initHook() error {
	cfg := b.app.cfg
	if cfg.Hooks.BeforeSave == "" {
		return nil
	}

	fs, p := b.hookLocation()
	h, err := hook.LoadFile(fs, p,
		hook.WithTimeout(cfg.Hooks.Timeout.Std()),
		hook.WithLogger(b.app.logger),
	)
	if err != nil {
		return err
	}
	if _, err := h.Attach(b.app.bus); err != nil {
		h.Close()
		return err
	}
	b.app.hook = h
	b.app.logger.Info("before-save hook loaded", slog.String("script", p))
	return nil
}

// hookLocation resolves the hook script against the workspace root.
func (b *bootstrapper) hookLocation() (afero.Fs, string) {
	p := b.app.cfg.Hooks.BeforeSave
	if b.app.opts.FS != nil {
		return b.app.opts.FS, path.Join("/", filepath.ToSlash(p))
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(b.app.cfg.Workspace.Root, p)
	}
	return afero.NewOsFs(), p
}

func (b *bootstrapper) initMetrics() error {
	b.app.metrics = NewMetrics(b.app.loop.Now)
	if err := b.app.metrics.Attach(b.app.bus); err != nil {
		return err
	}
	if addr := b.app.cfg.Metrics.Addr; addr != "" {
		srv, err := startMetricsServer(addr, b.app.metrics, logging.WithComponent(b.app.logger, "metrics"))
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		b.app.server = srv
	}
	return nil
}

// cleanup releases components after a failed bootstrap.
func (b *bootstrapper) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if b.app.loop != nil {
		b.app.loop.Close()
	}
	if err := b.app.close(ctx); err != nil {
		b.app.logger.Warn("cleanup after failed start", slog.Any("error", err), slog.Any("initialized", b.initOrder))
	}
}

// syncWriter serializes writes to w, which may be shared by the status line
// and the console. A nil w stays nil.
func syncWriter(w io.Writer) io.Writer {
	if w == nil {
		return nil
	}
	if lw, ok := w.(*lockedWriter); ok {
		return lw
	}
	return &lockedWriter{w: w}
}
