package core

// Subscriber abstracts a system messaging transport endpoint.
// Owned by the adapter; the adapter must Close() it.
// TrySend must never block: it either enqueues the event on a bounded
// outbound queue or fails immediately.
type Subscriber interface {
	TrySend(Event) error
	Close()
}
