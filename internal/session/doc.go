// Package session maps user-visible open files to live editor buffers.
//
// A Manager owns the set of open sessions and everything that happens to
// them after they are opened:
//
//   - Go resolves a path request to a session, reading the document from the
//     store when it is not open yet, and displays it in a pane.
//   - Every edit re-arms a per-session debounce timer; when it fires the
//     buffer is written back to the store.
//   - The store's change feed keeps the displayed session in step with the
//     document on disk, and orphans sessions whose document was deleted.
//   - A periodic snapshot records the displayed arrangement and the most
//     recently used sessions, and Start replays that snapshot after a restart.
//
// All Manager state is confined to a loop.Loop. Exported methods that mutate
// state post their work to the loop; accessors documented as loop-confined
// must only be called from a loop task.
package session
