package events

import (
	"context"

	"github.com/dshills/docsession/internal/event"
)

// Source is the metadata source stamped on session events.
const Source = "session"

// Kind enumerates the events the session core publishes or waits for.
type Kind int

// Event kinds.
const (
	NewSession Kind = iota
	FileCreated
	FileDeleted
	ContentChanged
	BeforeSave
	Saved
	ActivityStarted
	ActivityCompleted
	ActivityFailed
	SessionSwitched
	AllRestored
	StateFlushed
	WatchDisconnected
	FileListLoaded
	StateLoaded

	kindCount
)

// Topics for each kind.
const (
	TopicNewSession        event.Topic = "session.new"
	TopicFileCreated       event.Topic = "session.file.created"
	TopicFileDeleted       event.Topic = "session.file.deleted"
	TopicContentChanged    event.Topic = "session.content.changed"
	TopicBeforeSave        event.Topic = "session.save.before"
	TopicSaved             event.Topic = "session.saved"
	TopicActivityStarted   event.Topic = "session.activity.started"
	TopicActivityCompleted event.Topic = "session.activity.completed"
	TopicActivityFailed    event.Topic = "session.activity.failed"
	TopicSessionSwitched   event.Topic = "session.switched"
	TopicAllRestored       event.Topic = "session.restored.all"
	TopicStateFlushed      event.Topic = "session.state.flushed"
	TopicWatchDisconnected event.Topic = "session.watch.disconnected"
	TopicFileListLoaded    event.Topic = "project.filelist.loaded"
	TopicStateLoaded       event.Topic = "project.state.loaded"
)

var kindTopics = [kindCount]event.Topic{
	NewSession:        TopicNewSession,
	FileCreated:       TopicFileCreated,
	FileDeleted:       TopicFileDeleted,
	ContentChanged:    TopicContentChanged,
	BeforeSave:        TopicBeforeSave,
	Saved:             TopicSaved,
	ActivityStarted:   TopicActivityStarted,
	ActivityCompleted: TopicActivityCompleted,
	ActivityFailed:    TopicActivityFailed,
	SessionSwitched:   TopicSessionSwitched,
	AllRestored:       TopicAllRestored,
	StateFlushed:      TopicStateFlushed,
	WatchDisconnected: TopicWatchDisconnected,
	FileListLoaded:    TopicFileListLoaded,
	StateLoaded:       TopicStateLoaded,
}

var kindNames = [kindCount]string{
	NewSession:        "new-session",
	FileCreated:       "file-created",
	FileDeleted:       "file-deleted",
	ContentChanged:    "content-changed",
	BeforeSave:        "before-save",
	Saved:             "saved",
	ActivityStarted:   "activity-started",
	ActivityCompleted: "activity-completed",
	ActivityFailed:    "activity-failed",
	SessionSwitched:   "session-switched",
	AllRestored:       "all-restored",
	StateFlushed:      "state-flushed",
	WatchDisconnected: "watch-disconnected",
	FileListLoaded:    "file-list-loaded",
	StateLoaded:       "state-loaded",
}

// Topic returns the bus topic for k.
func (k Kind) Topic() event.Topic {
	if k < 0 || k >= kindCount {
		return ""
	}
	return kindTopics[k]
}

// String returns a short name for k.
func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

// All returns every kind in declaration order.
func All() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Declare declares the topic of every kind on bus.
func Declare(bus *event.Bus) error {
	topics := make([]event.Topic, 0, kindCount)
	for _, k := range All() {
		topics = append(topics, k.Topic())
	}
	return bus.Declare(topics...)
}

// New creates an event of kind k.
func New[T any](k Kind, payload T) event.Event[T] {
	return event.New(k.Topic(), payload, Source)
}

// Publish creates an event of kind k and publishes it on bus.
func Publish[T any](ctx context.Context, bus *event.Bus, k Kind, payload T) error {
	return bus.Publish(ctx, New(k, payload))
}

// Subscribe registers fn for events of kind k.
func Subscribe[T any](bus *event.Bus, k Kind, fn func(ctx context.Context, ev event.Event[T]) error, opts ...event.SubscriptionOption) (*event.Subscription, error) {
	return event.Subscribe(bus, k.Topic(), fn, opts...)
}
