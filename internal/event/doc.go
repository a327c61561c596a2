// Package event provides the typed publish/subscribe bus used by the
// session core.
//
// Topics are plain dotted strings (for example "session.saved") and must be
// declared on the bus before anything can subscribe to or publish on them.
// Each topic carries exactly one payload type, wrapped in Event[T].
//
// # Delivery
//
// Subscriptions choose a delivery mode:
//
//	DeliverySync   handler runs inside Publish, on the publisher's goroutine
//	DeliveryAsync  event is queued in the subscription's mailbox and handled
//	               on a per-subscription goroutine, in publish order
//
// Sync handlers run in priority order (lower first) before Publish returns.
// Handlers that need to mutate the event, such as before-save transforms,
// must subscribe synchronously.
//
// # Barriers
//
// WaitAll runs a function once every one of a set of topics has been
// published at least once. The session core uses it to hold startup restore
// until the file list and persisted state are both ready.
//
// # Thread Safety
//
// Bus methods are safe for concurrent use. Handler panics are recovered,
// counted and logged; they never reach the publisher.
package event
