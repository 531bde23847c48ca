package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/domain"
)

// Repository implements repository.EventRepository for ClickHouse
type Repository struct {
	client *Client
	log    *zap.Logger
}

// NewRepository creates a new ClickHouse repository
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		log:    log,
	}
}

// InitSchema initializes the ClickHouse schema with ReplacingMergeTree engine
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		event_id String,
		site_id String,
		kind LowCardinality(String),
		visitor_id String,
		session_id String,
		timestamp Int64,
		url String,
		referrer String,
		utm_source LowCardinality(String),
		utm_medium LowCardinality(String),
		utm_campaign LowCardinality(String),
		device LowCardinality(String),
		browser LowCardinality(String),
		os LowCardinality(String),
		country LowCardinality(String),
		revenue Decimal(18, 4),
		has_revenue UInt8,
		goal_name LowCardinality(String),
		identity String,
		processed_at DateTime64(3) DEFAULT now64(3),
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	PRIMARY KEY (event_id)
	ORDER BY (event_id, timestamp)
	PARTITION BY toYYYYMM(toDateTime(timestamp))
	SETTINGS index_granularity = 8192
	`

	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	r.log.Info("ClickHouse schema initialized successfully")
	return nil
}

// InsertBatch inserts a batch of events into ClickHouse
func (r *Repository) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO events")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	insertedCount := 0
	for _, event := range events {
		if event.Version == 0 {
			event.Version = uint64(time.Now().UnixNano())
		}

		hasRevenue := uint8(0)
		if event.HasRevenue {
			hasRevenue = 1
		}

		err := batch.Append(
			event.EventID,
			event.SiteID,
			event.Kind,
			event.VisitorID,
			event.SessionID,
			event.Timestamp,
			event.URL,
			event.Referrer,
			event.UTMSource,
			event.UTMMedium,
			event.UTMCampaign,
			event.Device,
			event.Browser,
			event.OS,
			event.Country,
			event.Revenue,
			hasRevenue,
			event.GoalName,
			event.Identity,
			event.ProcessedAt,
			event.Version,
		)

		if err != nil {
			return 0, fmt.Errorf("failed to append event to batch: %w", err)
		}
		insertedCount++
	}

	if insertedCount == 0 {
		return 0, fmt.Errorf("no events could be appended to batch")
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	return insertedCount, nil
}

// FindLatestByIdentity returns the most recent event carrying the given
// identity hash for a site within the lookback window.
func (r *Repository) FindLatestByIdentity(ctx context.Context, siteID, identity string, window time.Duration) (*domain.Event, error) {
	query := `
	SELECT event_id, site_id, kind, visitor_id, session_id, timestamp,
	       url, referrer, utm_source, utm_medium, utm_campaign,
	       device, browser, os, country, goal_name, identity
	FROM events
	WHERE site_id = ? AND identity = ? AND timestamp >= ?
	ORDER BY timestamp DESC
	LIMIT 1
	`

	cutoff := time.Now().Add(-window).Unix()

	rows, err := r.client.Conn().Query(ctx, query, siteID, identity, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by identity: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	var event domain.Event
	if err := rows.Scan(
		&event.EventID,
		&event.SiteID,
		&event.Kind,
		&event.VisitorID,
		&event.SessionID,
		&event.Timestamp,
		&event.URL,
		&event.Referrer,
		&event.UTMSource,
		&event.UTMMedium,
		&event.UTMCampaign,
		&event.Device,
		&event.Browser,
		&event.OS,
		&event.Country,
		&event.GoalName,
		&event.Identity,
	); err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	return &event, nil
}

// Ping checks if the database connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the underlying client connection
func (r *Repository) Close() error {
	return r.client.Close()
}
