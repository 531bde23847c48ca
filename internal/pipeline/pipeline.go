package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/dedup"
	"github.com/pagepulse/ingestion-service/internal/domain"
	"github.com/pagepulse/ingestion-service/internal/dto"
	"github.com/pagepulse/ingestion-service/internal/enricher"
	"github.com/pagepulse/ingestion-service/internal/validator"
)

// Status is the ingestion outcome reported to the caller.
type Status string

const (
	StatusAccepted    Status = "accepted"
	StatusDuplicate   Status = "duplicate"
	StatusRejected    Status = "rejected"
	StatusUnavailable Status = "unavailable"
)

// Result carries the ingestion outcome and the opaque event id assigned
// on acceptance.
type Result struct {
	Status  Status
	EventID string
	Err     error
}

// Writer is the buffered intake the pipeline hands accepted events to.
type Writer interface {
	Enqueue(event *domain.Event) error
}

// Pipeline runs Validator, Enricher and Deduplicator synchronously and
// hands accepted events to the batching writer. The caller gets its
// acknowledgment before the batch is durably flushed.
type Pipeline struct {
	validator *validator.Validator
	enricher  *enricher.Enricher
	dedup     *dedup.Deduplicator
	writer    Writer
	log       *zap.Logger
}

func New(v *validator.Validator, e *enricher.Enricher, d *dedup.Deduplicator, w Writer, log *zap.Logger) *Pipeline {
	return &Pipeline{
		validator: v,
		enricher:  e,
		dedup:     d,
		writer:    w,
		log:       log,
	}
}

// Ingest processes one event candidate. idempotencyKey is optional and,
// when present, takes over the payload-derived portion of the dedup key
// (webhook delivery ids).
func (p *Pipeline) Ingest(ctx context.Context, req *dto.TrackEventRequest, meta enricher.RequestMeta, idempotencyKey string) Result {
	candidate, verr := p.validator.Validate(req)
	if verr != nil {
		p.log.Debug("Event rejected",
			zap.String("site_id", req.SiteID),
			zap.String("field", verr.Field),
			zap.String("reason", verr.Reason))
		return Result{Status: StatusRejected, Err: verr}
	}

	event := p.enricher.Enrich(ctx, candidate, meta)

	accepted, err := p.dedup.Check(ctx, event, idempotencyKey)
	if err != nil {
		// Fail-closed dedup store policy: the event is not ingested,
		// and the sender must be told to retry rather than acked.
		return Result{Status: StatusUnavailable, EventID: event.EventID, Err: err}
	}
	if !accepted {
		return Result{Status: StatusDuplicate, EventID: event.EventID}
	}

	if err := p.writer.Enqueue(event); err != nil {
		// The dedup key was claimed but the event never reached the
		// buffer. Release it so the sender's retry is not suppressed
		// as a duplicate of a delivery that was dropped.
		p.dedup.Release(ctx, event, idempotencyKey)
		p.log.Warn("Event rejected, intake buffer full",
			zap.String("event_id", event.EventID),
			zap.String("site_id", event.SiteID))
		return Result{Status: StatusRejected, Err: err}
	}

	p.log.Debug("Event accepted",
		zap.String("event_id", event.EventID),
		zap.String("site_id", event.SiteID),
		zap.String("kind", event.Kind))

	return Result{Status: StatusAccepted, EventID: event.EventID}
}
