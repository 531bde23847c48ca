package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/deadletter"
	"github.com/pagepulse/ingestion-service/internal/domain"
	"github.com/pagepulse/ingestion-service/internal/repository"
)

// ErrBufferFull is returned by Enqueue when the intake buffer hit its
// memory ceiling. Callers reject new intake instead of blocking.
var ErrBufferFull = errors.New("batch writer intake buffer is full")

// BatchWriterConfig configures the batch writer
type BatchWriterConfig struct {
	MaxBatchSize   int
	MaxBatchAge    time.Duration
	IntakeCapacity int
	MaxRetries     int
	RetryBase      time.Duration
	RetryCap       time.Duration
	DrainTimeout   time.Duration
}

func (c *BatchWriterConfig) applyDefaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1000
	}
	if c.MaxBatchAge <= 0 {
		c.MaxBatchAge = time.Second
	}
	if c.IntakeCapacity <= 0 {
		c.IntakeCapacity = 10000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 100 * time.Millisecond
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 5 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
}

// BatchWriter accumulates accepted events and flushes them in bulk to
// the analytics store. Acceptance precedes the durable flush: a crash
// between the two loses at most one buffer's worth of events, the
// documented trade-off for fast acknowledgment.
type BatchWriter struct {
	repository repository.EventRepository
	deadletter deadletter.Sink
	config     BatchWriterConfig
	log        *zap.Logger
	intake     chan *domain.Event
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(repo repository.EventRepository, sink deadletter.Sink, config BatchWriterConfig, log *zap.Logger) *BatchWriter {
	config.applyDefaults()
	return &BatchWriter{
		repository: repo,
		deadletter: sink,
		config:     config,
		log:        log,
		intake:     make(chan *domain.Event, config.IntakeCapacity),
	}
}

// Enqueue hands an accepted event to the writer without blocking. It
// returns ErrBufferFull when the intake buffer is at capacity.
func (w *BatchWriter) Enqueue(event *domain.Event) error {
	select {
	case w.intake <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run consumes the intake buffer, batching and flushing until ctx is
// cancelled. Exactly one flush is in flight at a time. On shutdown the
// remaining buffer gets one final flush under a short deadline.
func (w *BatchWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.MaxBatchAge)
	defer ticker.Stop()

	batch := make([]*domain.Event, 0, w.config.MaxBatchSize)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Batch writer shutting down")
			w.drain(batch)
			return

		case event := <-w.intake:
			batch = append(batch, event)

			if len(batch) >= w.config.MaxBatchSize {
				w.flush(ctx, batch)
				batch = make([]*domain.Event, 0, w.config.MaxBatchSize)
				ticker.Reset(w.config.MaxBatchAge)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = make([]*domain.Event, 0, w.config.MaxBatchSize)
			}
		}
	}
}

// drain performs the final flush on shutdown: whatever already sits in
// the intake buffer joins the current batch, bounded by the drain
// deadline. Events still in the network-receive stage are accepted losses.
func (w *BatchWriter) drain(batch []*domain.Event) {
	for {
		select {
		case event := <-w.intake:
			batch = append(batch, event)
			if len(batch) >= w.config.MaxBatchSize {
				ctx, cancel := context.WithTimeout(context.Background(), w.config.DrainTimeout)
				w.flush(ctx, batch)
				cancel()
				batch = make([]*domain.Event, 0, w.config.MaxBatchSize)
			}
			continue
		default:
		}
		break
	}

	if len(batch) == 0 {
		return
	}

	w.log.Info("Flushing final batch", zap.Int("event_count", len(batch)))
	ctx, cancel := context.WithTimeout(context.Background(), w.config.DrainTimeout)
	defer cancel()
	w.flush(ctx, batch)
}

// flush writes one batch with bounded exponential backoff. A batch that
// exhausts its retries goes to the dead-letter sink, never silently
// discarded. Flush failures never abort other accumulating batches.
func (w *BatchWriter) flush(ctx context.Context, events []*domain.Event) {
	if len(events) == 0 {
		return
	}

	delay := w.config.RetryBase
	var lastErr error

	for attempt := 1; attempt <= w.config.MaxRetries; attempt++ {
		insertedCount, err := w.repository.InsertBatch(ctx, events)
		if err == nil && insertedCount == len(events) {
			w.log.Info("Successfully inserted events",
				zap.Int("count", insertedCount),
				zap.Int("attempt", attempt))
			return
		}

		if err == nil {
			lastErr = errors.New("partial batch insert")
			w.log.Warn("Partial insert success",
				zap.Int("inserted", insertedCount),
				zap.Int("expected", len(events)))
		} else {
			lastErr = err
			w.log.Error("Failed to insert batch",
				zap.Error(err),
				zap.Int("event_count", len(events)),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", w.config.MaxRetries))
		}

		if attempt == w.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			w.log.Warn("Flush retry abandoned, context cancelled")
			w.publishDeadLetter(events, lastErr)
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > w.config.RetryCap {
			delay = w.config.RetryCap
		}
	}

	w.publishDeadLetter(events, lastErr)
}

func (w *BatchWriter) publishDeadLetter(events []*domain.Event, cause error) {
	w.log.Error("Batch failed after exhausting retries",
		zap.Int("event_count", len(events)),
		zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.Background(), w.config.DrainTimeout)
	defer cancel()

	if err := w.deadletter.Publish(ctx, events); err != nil {
		w.log.Error("Failed to publish batch to dead-letter sink", zap.Error(err))
	}
}
