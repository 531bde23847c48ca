package deadletter

import (
	"context"

	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/domain"
)

// LogSink records failed batches in the log. Fallback when no
// dead-letter queue is configured.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

// Publish logs every event of the failed batch.
func (s *LogSink) Publish(ctx context.Context, events []*domain.Event) error {
	for _, event := range events {
		s.log.Error("Dead-lettered event",
			zap.String("event_id", event.EventID),
			zap.String("site_id", event.SiteID),
			zap.String("kind", event.Kind),
			zap.Int64("timestamp", event.Timestamp))
	}
	s.log.Error("Batch dead-lettered after exhausting retries",
		zap.Int("event_count", len(events)))
	return nil
}
