package presence

import "context"

// Store is the shared, expiring per-user presence record store. It is
// external (visible to every gateway instance) and handles its own
// concurrent access; callers treat it as an atomic request/response
// service.
type Store interface {
	// MarkOnline writes or refreshes the user's record with the store's
	// fixed TTL. Called on connect and on every heartbeat.
	MarkOnline(ctx context.Context, rec Record) error

	// MarkOffline deletes the record explicitly. Used for clean
	// departures; TTL expiry remains the safety net for ungraceful ones.
	MarkOffline(ctx context.Context, userID string) error

	// GetStatus reads one user's record. A missing record yields an
	// offline Record, not an error.
	GetStatus(ctx context.Context, userID string) (Record, error)

	// ListOnline returns every unexpired record.
	ListOnline(ctx context.Context) ([]Record, error)
}

// TypingStore holds short-lived per-(room,user) typing markers. Start and
// stop are both idempotent; a marker that is never stopped simply expires.
type TypingStore interface {
	StartTyping(ctx context.Context, roomID, userID, displayName string) error
	StopTyping(ctx context.Context, roomID, userID string) error

	// ActiveTypists returns the unexpired markers for a room.
	ActiveTypists(ctx context.Context, roomID string) ([]TypingMarker, error)
}

// Bus is the publish/subscribe medium connecting gateway instances. An
// envelope published by any instance is delivered to every instance's
// subscriber loop, including the publisher's own. Delivery is best-effort
// with per-publisher ordering only.
type Bus interface {
	Publish(ctx context.Context, env *Envelope) error

	// Subscribe blocks, invoking handler for every received envelope,
	// until ctx is cancelled or the bus closes. Each instance runs
	// exactly one subscriber loop.
	Subscribe(ctx context.Context, handler func(context.Context, *Envelope)) error

	Close() error
}

// ServiceDependencies bundles the external collaborators a gateway
// instance needs. Built in cmd from config; faked for local runs.
type ServiceDependencies struct {
	Presence Store
	Typing   TypingStore
	Bus      Bus
}
