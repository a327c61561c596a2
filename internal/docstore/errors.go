package docstore

import (
	"errors"
	"fmt"
)

// Standard errors returned by the docstore package.
var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIsDirectory indicates the path is a directory, not a document.
	ErrIsDirectory = errors.New("path is a directory")

	// ErrFileTooLarge indicates the document exceeds the maximum size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNotWatching indicates the watch handle is not registered for the path.
	ErrNotWatching = errors.New("not watching")

	// ErrNilHandler indicates a watch was requested without a handler.
	ErrNilHandler = errors.New("watch handler cannot be nil")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// PathError represents an error associated with a document path.
type PathError struct {
	Op   string // Operation that failed (read, write, watch, unwatch, list)
	Path string // Document path
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PathError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a document was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
