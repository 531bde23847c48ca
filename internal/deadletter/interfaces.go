package deadletter

import (
	"context"

	"github.com/pagepulse/ingestion-service/internal/domain"
)

// Sink receives batches that exhausted their storage retries. Failed
// batches are never silently discarded.
type Sink interface {
	Publish(ctx context.Context, events []*domain.Event) error
}
