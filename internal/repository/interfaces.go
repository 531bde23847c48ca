package repository

import (
	"context"
	"time"

	"github.com/pagepulse/ingestion-service/internal/domain"
)

// EventRepository defines the interface for the analytics store collaborator
type EventRepository interface {
	// InsertBatch inserts a batch of events into the storage
	InsertBatch(ctx context.Context, events []*domain.Event) (int, error)

	// FindLatestByIdentity returns the most recent event carrying the
	// given identity hash for a site within the lookback window, ordered
	// descending by timestamp. Returns nil when no such event exists.
	FindLatestByIdentity(ctx context.Context, siteID, identity string, window time.Duration) (*domain.Event, error)

	// InitSchema initializes the database schema (creates tables if they don't exist)
	InitSchema(ctx context.Context) error

	// Ping checks if the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the repository and releases resources
	Close() error
}
