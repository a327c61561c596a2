package docstore

import (
	"errors"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// osBridge turns fsnotify directory events into per-document notifications.
// fsnotify watches directories, so each watched document holds a reference on
// its parent directory.
type osBridge struct {
	root    string
	delay   time.Duration
	notify  func(path string, kind Kind)
	own     func(path string, info iofs.FileInfo) bool
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	dirs    map[string]int
	files   map[string]bool
	pending map[string]*time.Timer
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// newOSBridge starts the fsnotify watcher. own reports whether a settled file
// is exactly what the store itself last wrote; such events are dropped.
func newOSBridge(root string, delay time.Duration, notify func(string, Kind), own func(string, iofs.FileInfo) bool, logger *slog.Logger) (*osBridge, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	b := &osBridge{
		root:    root,
		delay:   delay,
		notify:  notify,
		own:     own,
		logger:  logger,
		watcher: w,
		dirs:    make(map[string]int),
		files:   make(map[string]bool),
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.processLoop()
	return b, nil
}

// add starts reporting events for the document at storePath.
func (b *osBridge) add(storePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.files[storePath] {
		return nil
	}

	dir := filepath.Dir(b.realPath(storePath))
	if b.dirs[dir] == 0 {
		if err := b.watcher.Add(dir); err != nil {
			return err
		}
	}
	b.dirs[dir]++
	b.files[storePath] = true
	return nil
}

// remove stops reporting events for storePath.
func (b *osBridge) remove(storePath string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.files[storePath] {
		return
	}
	delete(b.files, storePath)
	if t, ok := b.pending[storePath]; ok {
		t.Stop()
		delete(b.pending, storePath)
	}

	dir := filepath.Dir(b.realPath(storePath))
	b.dirs[dir]--
	if b.dirs[dir] <= 0 {
		delete(b.dirs, dir)
		if err := b.watcher.Remove(dir); err != nil {
			b.logger.Debug("fsnotify remove failed", "dir", dir, "error", err)
		}
	}
}

func (b *osBridge) close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	for p, t := range b.pending {
		t.Stop()
		delete(b.pending, p)
	}
	b.mu.Unlock()

	err := b.watcher.Close()
	b.wg.Wait()
	return err
}

func (b *osBridge) processLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return

		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			b.handleEvent(ev)

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("file watcher error", "error", err)
			b.notify("", Disconnected)
		}
	}
}

func (b *osBridge) handleEvent(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	storePath, ok := b.storePath(ev.Name)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || !b.files[storePath] {
		return
	}
	if t, ok := b.pending[storePath]; ok {
		t.Reset(b.delay)
		return
	}
	b.pending[storePath] = time.AfterFunc(b.delay, func() {
		b.fire(storePath)
	})
}

// fire classifies the settled state of storePath and notifies.
func (b *osBridge) fire(storePath string) {
	b.mu.Lock()
	if _, ok := b.pending[storePath]; !ok || b.closed {
		b.mu.Unlock()
		return
	}
	delete(b.pending, storePath)
	b.mu.Unlock()

	kind := Changed
	info, err := os.Stat(b.realPath(storePath))
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		kind = Deleted
	case err != nil:
		b.logger.Warn("stat after file event failed", "path", storePath, "error", err)
		kind = Disconnected
	case b.own != nil && b.own(storePath, info):
		b.logger.Debug("ignoring own write", "path", storePath)
		return
	}
	b.notify(storePath, kind)
}

func (b *osBridge) realPath(storePath string) string {
	return filepath.Join(b.root, filepath.FromSlash(storePath))
}

func (b *osBridge) storePath(name string) (string, bool) {
	rel, err := filepath.Rel(b.root, name)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return cleanPath(rel), true
}
