package docstore

import (
	"context"
	"time"
)

// Kind classifies a watch notification.
type Kind int

const (
	// Changed reports that the document may have new content.
	Changed Kind = iota

	// Deleted reports that the document was removed.
	Deleted

	// Disconnected reports that the store lost its change feed.
	Disconnected
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Handler receives watch notifications. It may be called from any goroutine.
type Handler func(path string, kind Kind)

// WatchHandle identifies one watch registration.
type WatchHandle uint64

// Options are per-document attributes reported by the store.
type Options struct {
	// ReadOnly is true when the store will not accept writes to the document.
	ReadOnly bool
}

// Document is the result of a read.
type Document struct {
	Content string
	Options Options
	ModTime time.Time
}

// Store is the Document Store contract consumed by the session core.
type Store interface {
	// Read returns the document at path. A missing document yields an error
	// matching ErrNotFound.
	Read(ctx context.Context, path string) (Document, error)

	// Write replaces the document at path, creating it if necessary.
	Write(ctx context.Context, path, content string) error

	// Watch registers h for notifications about path.
	Watch(path string, h Handler) (WatchHandle, error)

	// Unwatch removes a registration made by Watch.
	Unwatch(path string, handle WatchHandle) error

	// List returns every document path in the store, sorted.
	List(ctx context.Context) ([]string, error)
}
