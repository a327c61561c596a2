// Package docstore provides the Document Store used by sessions: reading and
// writing named documents and watching them for external changes.
//
// Paths are slash-separated and absolute within the store ("/notes.txt").
// FSStore implements the store over an afero filesystem, so the same code
// serves a project directory on disk (NewOS) and an in-memory tree (NewMemory).
//
// Watch handlers receive one of three kinds:
//
//	Changed       the document content may differ from what was last read
//	Deleted       the document no longer exists
//	Disconnected  the store can no longer report changes reliably
//
// On disk, notifications come from fsnotify. Directory events are debounced
// per path and classified by a stat of the file when the timer fires.
package docstore
