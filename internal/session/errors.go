package session

import (
	"errors"
	"fmt"
)

// Errors returned by the session manager.
var (
	// ErrDirectoryPath indicates a request named a directory.
	ErrDirectoryPath = errors.New("path denotes a directory")

	// ErrInvalidPane indicates a pane index outside the editor layout.
	ErrInvalidPane = errors.New("invalid pane")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session manager already started")

	// ErrMissingDependency indicates a required collaborator was not supplied.
	ErrMissingDependency = errors.New("missing dependency")
)

// ValidationError reports a path request rejected before any I/O.
type ValidationError struct {
	Request string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request %q: %s", e.Request, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
