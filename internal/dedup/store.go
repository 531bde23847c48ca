package dedup

import (
	"context"
	"time"
)

// Store is the deduplication store collaborator: an atomic
// check-and-set-with-expiry primitive keyed by an opaque string.
type Store interface {
	// SetIfAbsent atomically records key with the given TTL. It returns
	// true when the key was newly set, false when it already existed.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Delete removes key, reopening the window for a later delivery.
	Delete(ctx context.Context, key string) error

	// Ping checks if the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
