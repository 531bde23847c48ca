package attribution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/domain"
	"github.com/pagepulse/ingestion-service/internal/dto"
	"github.com/pagepulse/ingestion-service/internal/enricher"
	"github.com/pagepulse/ingestion-service/internal/pipeline"
	"github.com/pagepulse/ingestion-service/internal/repository"
)

// State of a purchase notification as it moves through the resolver.
type State string

const (
	StateReceived     State = "received"
	StateResolving    State = "resolving"
	StateAttributed   State = "attributed"
	StateUnattributed State = "unattributed"
	StateSubmitted    State = "submitted"
	StateFailed       State = "failed"
)

// Config tunes the attribution join.
type Config struct {
	// LookbackWindow bounds how far back browsing history is searched.
	LookbackWindow time.Duration
	// RetryDelay is the staleness allowance before the single lookup
	// retry: the triggering purchase's own history may not be flushed yet.
	RetryDelay time.Duration
}

// Submitter feeds the derived purchase event into the ingestion
// pipeline, so webhook redeliveries dedupe like any other event.
type Submitter interface {
	Ingest(ctx context.Context, req *dto.TrackEventRequest, meta enricher.RequestMeta, idempotencyKey string) pipeline.Result
}

// Outcome reports how a purchase notification was handled.
type Outcome struct {
	State      State
	EventID    string
	Attributed bool
	Duplicate  bool
}

// Resolver correlates purchase notifications with earlier browsing
// activity and emits a purchase event, attributed when a matching
// visitor is found and unattributed otherwise. The purchase is never
// dropped on a missed join.
type Resolver struct {
	repository repository.EventRepository
	submitter  Submitter
	config     Config
	log        *zap.Logger
}

func NewResolver(repo repository.EventRepository, submitter Submitter, config Config, log *zap.Logger) *Resolver {
	if config.LookbackWindow <= 0 {
		config.LookbackWindow = 30 * 24 * time.Hour
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 2 * time.Second
	}
	return &Resolver{
		repository: repo,
		submitter:  submitter,
		config:     config,
		log:        log,
	}
}

// Resolve processes one purchase notification end to end:
// received, resolving, attributed or unattributed, then submitted or failed.
func (r *Resolver) Resolve(ctx context.Context, notification *dto.PurchaseWebhookRequest) (Outcome, error) {
	identity := enricher.HashIdentity(notification.Email)
	if identity == "" {
		return Outcome{State: StateFailed}, fmt.Errorf("purchase notification carries no identity hint")
	}

	r.log.Info("Purchase notification received",
		zap.String("site_id", notification.SiteID),
		zap.String("identity", identity),
		zap.String("event_ref", notification.EventRef))

	match := r.lookup(ctx, notification.SiteID, identity)

	event := r.buildPurchaseEvent(notification, identity, match)

	result := r.submitter.Ingest(ctx, event, enricher.RequestMeta{}, notification.EventRef)

	outcome := Outcome{
		EventID:    result.EventID,
		Attributed: match != nil,
	}

	switch result.Status {
	case pipeline.StatusAccepted:
		outcome.State = StateSubmitted
	case pipeline.StatusDuplicate:
		// Redelivered webhook: already recorded once, which is the point.
		outcome.State = StateSubmitted
		outcome.Duplicate = true
	default:
		outcome.State = StateFailed
		return outcome, fmt.Errorf("failed to submit purchase event: %w", result.Err)
	}

	r.log.Info("Purchase event submitted",
		zap.String("event_id", outcome.EventID),
		zap.Bool("attributed", outcome.Attributed),
		zap.Bool("duplicate", outcome.Duplicate))

	return outcome, nil
}

// lookup finds the most recent event for the identity inside the
// lookback window. It retries exactly once after a short delay: the
// purchase's own browsing history may still sit in an unflushed batch.
// Lookup failure is non-fatal and yields an unattributed purchase.
func (r *Resolver) lookup(ctx context.Context, siteID, identity string) *domain.Event {
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.config.RetryDelay):
			}
		}

		match, err := r.repository.FindLatestByIdentity(ctx, siteID, identity, r.config.LookbackWindow)
		if err != nil {
			r.log.Warn("Attribution lookup failed",
				zap.String("site_id", siteID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		if match != nil {
			return match
		}
	}

	r.log.Info("No matching visitor within lookback window, recording unattributed",
		zap.String("site_id", siteID),
		zap.Duration("lookback_window", r.config.LookbackWindow))

	return nil
}

// buildPurchaseEvent derives the purchase event submitted through the
// standard pipeline. With a match it carries the resolved visitor,
// session and UTM set; without one, visitor and session ids are
// synthesized from the identity hash and UTM fields stay unset.
func (r *Resolver) buildPurchaseEvent(notification *dto.PurchaseWebhookRequest, identity string, match *domain.Event) *dto.TrackEventRequest {
	timestamp := notification.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	event := &dto.TrackEventRequest{
		SiteID:    notification.SiteID,
		Kind:      domain.KindPurchase,
		Timestamp: timestamp,
		Revenue:   notification.Revenue,
		Identity:  notification.Email,
	}

	if match != nil {
		event.VisitorID = match.VisitorID
		event.SessionID = match.SessionID
		event.UTMSource = match.UTMSource
		event.UTMMedium = match.UTMMedium
		event.UTMCampaign = match.UTMCampaign
		return event
	}

	event.VisitorID = "cust_" + identity[:16]
	event.SessionID = "ses_" + identity[:16]
	return event
}
