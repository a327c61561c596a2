// Package events defines the session event kinds, their topics and their
// payload types.
//
// Each Kind maps to exactly one topic and one payload type:
//
//	NewSession          session.new                  NewSessionPayload
//	FileCreated         session.file.created         FileCreatedPayload
//	FileDeleted         session.file.deleted         FileDeletedPayload
//	ContentChanged      session.content.changed      ContentChangedPayload
//	BeforeSave          session.save.before          BeforeSavePayload
//	Saved               session.saved                SavedPayload
//	ActivityStarted     session.activity.started     ActivityPayload
//	ActivityCompleted   session.activity.completed   ActivityPayload
//	ActivityFailed      session.activity.failed      ActivityPayload
//	SessionSwitched     session.switched             SwitchedPayload
//	AllRestored         session.restored.all         AllRestoredPayload
//	StateFlushed        session.state.flushed        StateFlushedPayload
//	WatchDisconnected   session.watch.disconnected   Subject
//	FileListLoaded      project.filelist.loaded      FileListLoadedPayload
//	StateLoaded         project.state.loaded         StateLoadedPayload
package events
