package docstore

import (
	"context"
	"errors"
	iofs "io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/dshills/docsession/internal/logging"
)

// DefaultMaxFileSize is the largest document Read accepts.
const DefaultMaxFileSize = 10 * 1024 * 1024

// FSStore is a Store backed by an afero filesystem.
// It is safe for concurrent use.
type FSStore struct {
	fs          afero.Fs
	maxFileSize int64
	ignore      *Ignore
	logger      *slog.Logger

	mu      sync.Mutex
	watches map[string]map[WatchHandle]Handler
	next    WatchHandle
	closed  bool

	// watchDelay enables the fsnotify bridge in NewOS when positive.
	watchDelay time.Duration
	bridge     *osBridge

	// written holds the stamp of the last Write per path while the bridge
	// is running, so the bridge can drop the echo of the store's own writes.
	written map[string]fileStamp
}

// fileStamp identifies one version of a file on disk.
type fileStamp struct {
	size    int64
	modTime time.Time
}

func stampOf(info iofs.FileInfo) fileStamp {
	return fileStamp{size: info.Size(), modTime: info.ModTime()}
}

// Option configures an FSStore.
type Option func(*FSStore)

// WithMaxFileSize sets the maximum document size. Zero means unlimited.
func WithMaxFileSize(size int64) Option {
	return func(s *FSStore) {
		s.maxFileSize = size
	}
}

// WithIgnore replaces the patterns List skips.
func WithIgnore(patterns ...string) Option {
	return func(s *FSStore) {
		s.ignore = NewIgnore(patterns...)
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FSStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFSNotify makes NewOS report on-disk changes to watchers, coalescing
// bursts of filesystem events per path over delay.
func WithFSNotify(delay time.Duration) Option {
	return func(s *FSStore) {
		if delay <= 0 {
			delay = 100 * time.Millisecond
		}
		s.watchDelay = delay
	}
}

// New creates a store over fsys.
func New(fsys afero.Fs, opts ...Option) *FSStore {
	s := &FSStore{
		fs:          fsys,
		maxFileSize: DefaultMaxFileSize,
		ignore:      NewIgnore(DefaultIgnorePatterns...),
		logger:      logging.Discard(),
		watches:     make(map[string]map[WatchHandle]Handler),
		written:     make(map[string]fileStamp),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemory creates a store over an empty in-memory filesystem.
func NewMemory(opts ...Option) *FSStore {
	return New(afero.NewMemMapFs(), opts...)
}

// NewOS creates a store rooted at the directory root on disk.
func NewOS(root string, opts ...Option) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &PathError{Op: "open", Path: root, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &PathError{Op: "open", Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &PathError{Op: "open", Path: root, Err: errors.New("not a directory")}
	}

	s := New(afero.NewBasePathFs(afero.NewOsFs(), abs), opts...)
	if s.watchDelay > 0 {
		b, err := newOSBridge(abs, s.watchDelay, s.Notify, s.ownWrite, s.logger)
		if err != nil {
			return nil, &PathError{Op: "watch", Path: root, Err: err}
		}
		s.bridge = b
	}
	return s, nil
}

// Fs returns the underlying filesystem.
func (s *FSStore) Fs() afero.Fs {
	return s.fs
}

// Read returns the document at p.
func (s *FSStore) Read(ctx context.Context, p string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, &PathError{Op: "read", Path: p, Err: err}
	}
	name := cleanPath(p)

	info, err := s.fs.Stat(name)
	if err != nil {
		return Document{}, &PathError{Op: "read", Path: p, Err: translate(err)}
	}
	if info.IsDir() {
		return Document{}, &PathError{Op: "read", Path: p, Err: ErrIsDirectory}
	}
	if s.maxFileSize > 0 && info.Size() > s.maxFileSize {
		return Document{}, &PathError{Op: "read", Path: p, Err: ErrFileTooLarge}
	}

	data, err := afero.ReadFile(s.fs, name)
	if err != nil {
		return Document{}, &PathError{Op: "read", Path: p, Err: translate(err)}
	}
	content, _, err := Decode(data)
	if err != nil {
		return Document{}, &PathError{Op: "read", Path: p, Err: err}
	}

	return Document{
		Content: content,
		Options: Options{ReadOnly: info.Mode().Perm()&0o200 == 0},
		ModTime: info.ModTime(),
	}, nil
}

// Write replaces the document at p with content, creating parent
// directories as needed. Content is written as UTF-8.
func (s *FSStore) Write(ctx context.Context, p, content string) error {
	if err := ctx.Err(); err != nil {
		return &PathError{Op: "write", Path: p, Err: err}
	}
	name := cleanPath(p)

	if info, err := s.fs.Stat(name); err == nil && info.IsDir() {
		return &PathError{Op: "write", Path: p, Err: ErrIsDirectory}
	}
	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return &PathError{Op: "write", Path: p, Err: err}
	}
	if err := afero.WriteFile(s.fs, name, []byte(content), 0o644); err != nil {
		return &PathError{Op: "write", Path: p, Err: translate(err)}
	}
	if s.bridge != nil {
		s.recordWrite(name)
	}
	return nil
}

// recordWrite remembers the stamp of the file name as left by Write.
func (s *FSStore) recordWrite(name string) {
	info, err := s.fs.Stat(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		delete(s.written, name)
		return
	}
	s.written[name] = stampOf(info)
}

// ownWrite reports whether info describes the file exactly as the last
// Write to name left it.
func (s *FSStore) ownWrite(name string, info iofs.FileInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.written[name]
	return ok && st.size == info.Size() && st.modTime.Equal(info.ModTime())
}

// Watch registers h for notifications about p.
func (s *FSStore) Watch(p string, h Handler) (WatchHandle, error) {
	if h == nil {
		return 0, &PathError{Op: "watch", Path: p, Err: ErrNilHandler}
	}
	name := cleanPath(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, &PathError{Op: "watch", Path: p, Err: ErrClosed}
	}

	handlers := s.watches[name]
	if handlers == nil {
		if s.bridge != nil {
			if err := s.bridge.add(name); err != nil {
				return 0, &PathError{Op: "watch", Path: p, Err: err}
			}
		}
		handlers = make(map[WatchHandle]Handler)
		s.watches[name] = handlers
	}

	s.next++
	handlers[s.next] = h
	return s.next, nil
}

// Unwatch removes a registration made by Watch.
func (s *FSStore) Unwatch(p string, handle WatchHandle) error {
	name := cleanPath(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	handlers := s.watches[name]
	if _, ok := handlers[handle]; !ok {
		return &PathError{Op: "unwatch", Path: p, Err: ErrNotWatching}
	}
	delete(handlers, handle)
	if len(handlers) == 0 {
		delete(s.watches, name)
		if s.bridge != nil {
			s.bridge.remove(name)
		}
	}
	return nil
}

// Watching returns the number of handlers registered for p.
func (s *FSStore) Watching(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches[cleanPath(p)])
}

// Notify delivers a notification to the handlers of p. An empty path
// delivers it to every watched path. Handlers run on the calling goroutine.
func (s *FSStore) Notify(p string, kind Kind) {
	type target struct {
		path string
		h    Handler
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var targets []target
	if p == "" {
		for name, handlers := range s.watches {
			for _, h := range handlers {
				targets = append(targets, target{name, h})
			}
		}
	} else {
		name := cleanPath(p)
		for _, h := range s.watches[name] {
			targets = append(targets, target{name, h})
		}
	}
	s.mu.Unlock()

	sort.SliceStable(targets, func(i, j int) bool { return targets[i].path < targets[j].path })
	for _, t := range targets {
		t.h(t.path, kind)
	}
}

// List returns every document path, skipping ignored files and directories.
func (s *FSStore) List(ctx context.Context) ([]string, error) {
	var paths []string
	err := afero.Walk(s.fs, "/", func(name string, info iofs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.logger.Debug("list: skipping unreadable path", "path", name, "error", err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name = filepath.ToSlash(name)
		if name == "/" {
			return nil
		}
		if s.ignore.Match(name) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			paths = append(paths, cleanPath(name))
		}
		return nil
	})
	if err != nil {
		return nil, &PathError{Op: "list", Path: "/", Err: err}
	}
	sort.Strings(paths)
	return paths, nil
}

// Close stops change notifications. Further watches fail with ErrClosed.
func (s *FSStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.watches = make(map[string]map[WatchHandle]Handler)
	bridge := s.bridge
	s.mu.Unlock()

	if bridge != nil {
		return bridge.close()
	}
	return nil
}

func cleanPath(p string) string {
	return path.Clean("/" + filepath.ToSlash(p))
}

func translate(err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
