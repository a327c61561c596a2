package events

// Subject identifies the session an event is about.
// Both fields are empty when no session was displayed.
type Subject struct {
	SessionID string
	Path      string
}

// NewSessionPayload is published after a loaded document becomes a session.
type NewSessionPayload struct {
	Subject
	ReadOnly bool
}

// FileCreatedPayload is published when a request for a missing path
// produced a new empty session.
type FileCreatedPayload struct {
	Subject
}

// FileDeletedPayload is published when the store reports a session's file
// deleted. Displayed is true when the orphaned buffer is still in a pane.
type FileDeletedPayload struct {
	Subject
	Displayed bool
}

// ContentChangedPayload describes one user edit.
type ContentChangedPayload struct {
	Subject
	Offset   int
	Removed  int
	Inserted string
}

// BeforeSavePayload is published synchronously before a write.
// Handlers may replace *Content; the replacement is written and applied
// back to the buffer.
type BeforeSavePayload struct {
	Subject
	Content *string
}

// SavedPayload is published after a successful write.
type SavedPayload struct {
	Subject
	Bytes int
}

// ActivityPayload reports progress of a user-visible operation.
// Err is set only for ActivityFailed.
type ActivityPayload struct {
	Subject
	Message string
	Err     error
}

// SwitchedPayload is published when a session becomes displayed.
type SwitchedPayload struct {
	Subject
	Pane    int
	Special bool
}

// AllRestoredPayload is published once startup restore has finished.
type AllRestoredPayload struct {
	Restored int
	Dropped  int
}

// StateFlushedPayload is published after the state store was flushed.
type StateFlushedPayload struct {
	Bytes int
}

// FileListLoadedPayload signals that the project file list is available.
type FileListLoadedPayload struct {
	Count int
}

// StateLoadedPayload signals that persisted state has been loaded.
// A non-nil Err means the store fell back to an empty document.
type StateLoadedPayload struct {
	Err error
}
