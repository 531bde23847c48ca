package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/domain"
)

// Config tunes duplicate suppression. The window only needs to absorb
// client-side retry storms, not deduplicate genuinely repeated actions.
type Config struct {
	Window    time.Duration
	KeyBucket time.Duration
	FailOpen  bool
}

// Deduplicator suppresses repeat deliveries of the same logical event
// via an atomic check-and-set against the shared store.
type Deduplicator struct {
	store  Store
	config Config
	log    *zap.Logger
}

func New(store Store, config Config, log *zap.Logger) *Deduplicator {
	if config.KeyBucket <= 0 {
		config.KeyBucket = 10 * time.Second
	} else if config.KeyBucket < time.Second {
		// Timestamps are whole seconds, so the bucket cannot be finer.
		config.KeyBucket = time.Second
	}
	return &Deduplicator{
		store:  store,
		config: config,
		log:    log,
	}
}

// Key derives the deduplication key for an event. When the caller has an
// external idempotency key (a webhook delivery id) it replaces the
// payload-derived portion, so redeliveries collapse regardless of
// timestamp drift.
func (d *Deduplicator) Key(event *domain.Event, idempotencyKey string) string {
	var data string
	if idempotencyKey != "" {
		data = fmt.Sprintf("%s|%s|%s", event.SiteID, event.Kind, idempotencyKey)
	} else {
		bucket := int64(d.config.KeyBucket / time.Second)
		rounded := event.Timestamp - event.Timestamp%bucket
		data = fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d",
			event.SiteID,
			event.VisitorID,
			event.Kind,
			event.URL,
			event.GoalName,
			event.Revenue.String(),
			rounded,
		)
	}

	hash := sha256.Sum256([]byte(data))
	return "dedup:" + hex.EncodeToString(hash[:])
}

// Check reports whether the event should proceed. It returns false when
// an identical delivery was already accepted inside the suppression
// window. On store errors the configured fail-open policy decides:
// accept (availability) or suppress (exactness).
func (d *Deduplicator) Check(ctx context.Context, event *domain.Event, idempotencyKey string) (bool, error) {
	key := d.Key(event, idempotencyKey)

	accepted, err := d.store.SetIfAbsent(ctx, key, d.config.Window)
	if err != nil {
		d.log.Warn("Dedup store unavailable",
			zap.String("event_id", event.EventID),
			zap.Bool("fail_open", d.config.FailOpen),
			zap.Error(err))
		if d.config.FailOpen {
			return true, nil
		}
		return false, fmt.Errorf("dedup check failed: %w", err)
	}

	if !accepted {
		d.log.Debug("Duplicate event suppressed",
			zap.String("event_id", event.EventID),
			zap.String("site_id", event.SiteID),
			zap.String("kind", event.Kind))
	}

	return accepted, nil
}

// Release undoes an earlier Check that claimed the key for an event
// that could not be accepted after all, so the sender's retry is not
// misreported as a duplicate of a delivery that never reached the
// buffer. A release failure only shortens the retry to the window TTL.
func (d *Deduplicator) Release(ctx context.Context, event *domain.Event, idempotencyKey string) {
	key := d.Key(event, idempotencyKey)
	if err := d.store.Delete(ctx, key); err != nil {
		d.log.Warn("Failed to release dedup key",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}
