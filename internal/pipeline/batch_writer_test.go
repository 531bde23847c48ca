package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/domain"
)

const testTimestamp int64 = 1766702551

// MockEventRepository is a mock implementation of repository.EventRepository
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Error(1)
}

func (m *MockEventRepository) FindLatestByIdentity(ctx context.Context, siteID, identity string, window time.Duration) (*domain.Event, error) {
	args := m.Called(ctx, siteID, identity, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}

func (m *MockEventRepository) InitSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEventRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEventRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockSink is a mock implementation of deadletter.Sink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Publish(ctx context.Context, events []*domain.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func writerTestEvent(eventID string) *domain.Event {
	return &domain.Event{
		EventID:   eventID,
		SiteID:    "site_7f3a",
		Kind:      domain.KindPageview,
		VisitorID: "vst_9c1d2e",
		Timestamp: testTimestamp,
	}
}

func TestBatchWriter_BatchSizeThreshold(t *testing.T) {
	mockRepo := new(MockEventRepository)
	sink := new(MockSink)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 3,
		MaxBatchAge:  10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, sink, config, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 3
	})).Return(3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go writer.Run(ctx)

	assert.NoError(t, writer.Enqueue(writerTestEvent("1")))
	assert.NoError(t, writer.Enqueue(writerTestEvent("2")))
	assert.NoError(t, writer.Enqueue(writerTestEvent("3")))

	// Give time for processing
	time.Sleep(100 * time.Millisecond)

	mockRepo.AssertExpectations(t)
}

func TestBatchWriter_AgeFlush(t *testing.T) {
	mockRepo := new(MockEventRepository)
	sink := new(MockSink)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 10,
		MaxBatchAge:  50 * time.Millisecond,
	}

	writer := NewBatchWriter(mockRepo, sink, config, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 2
	})).Return(2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go writer.Run(ctx)

	assert.NoError(t, writer.Enqueue(writerTestEvent("1")))
	assert.NoError(t, writer.Enqueue(writerTestEvent("2")))

	// Well under the batch size, so only the age trigger can flush.
	time.Sleep(200 * time.Millisecond)

	mockRepo.AssertExpectations(t)
}

// recordingRepo records flushed batch sizes and always succeeds.
type recordingRepo struct {
	mu    sync.Mutex
	sizes []int
}

func (r *recordingRepo) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, len(events))
	return len(events), nil
}

func (r *recordingRepo) FindLatestByIdentity(ctx context.Context, siteID, identity string, window time.Duration) (*domain.Event, error) {
	return nil, nil
}

func (r *recordingRepo) InitSchema(ctx context.Context) error { return nil }
func (r *recordingRepo) Ping(ctx context.Context) error       { return nil }
func (r *recordingRepo) Close() error                         { return nil }

func TestBatchWriter_NoBatchExceedsMaxSize(t *testing.T) {
	repo := &recordingRepo{}
	sink := new(MockSink)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 5,
		MaxBatchAge:  20 * time.Millisecond,
	}

	writer := NewBatchWriter(repo, sink, config, log)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		writer.Run(ctx)
		close(done)
	}()

	for i := 0; i < 23; i++ {
		assert.NoError(t, writer.Enqueue(writerTestEvent("e")))
	}

	time.Sleep(300 * time.Millisecond)
	cancel()
	<-done

	repo.mu.Lock()
	defer repo.mu.Unlock()
	total := 0
	for _, size := range repo.sizes {
		assert.LessOrEqual(t, size, 5)
		total += size
	}
	assert.Equal(t, 23, total)
}

func TestBatchWriter_RetryThenSuccess(t *testing.T) {
	mockRepo := new(MockEventRepository)
	sink := new(MockSink)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 2,
		MaxBatchAge:  10 * time.Second,
		MaxRetries:   3,
		RetryBase:    5 * time.Millisecond,
	}

	writer := NewBatchWriter(mockRepo, sink, config, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(0, assert.AnError).Once()
	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(2, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go writer.Run(ctx)

	assert.NoError(t, writer.Enqueue(writerTestEvent("1")))
	assert.NoError(t, writer.Enqueue(writerTestEvent("2")))

	time.Sleep(200 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	sink.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestBatchWriter_ExhaustedRetriesDeadLetter(t *testing.T) {
	mockRepo := new(MockEventRepository)
	sink := new(MockSink)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 2,
		MaxBatchAge:  10 * time.Second,
		MaxRetries:   3,
		RetryBase:    time.Millisecond,
	}

	writer := NewBatchWriter(mockRepo, sink, config, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(0, assert.AnError).Times(3)
	sink.On("Publish", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 2
	})).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go writer.Run(ctx)

	assert.NoError(t, writer.Enqueue(writerTestEvent("1")))
	assert.NoError(t, writer.Enqueue(writerTestEvent("2")))

	time.Sleep(300 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	sink.AssertExpectations(t)
}

func TestBatchWriter_PartialInsertRetries(t *testing.T) {
	mockRepo := new(MockEventRepository)
	sink := new(MockSink)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 2,
		MaxBatchAge:  10 * time.Second,
		MaxRetries:   2,
		RetryBase:    time.Millisecond,
	}

	writer := NewBatchWriter(mockRepo, sink, config, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(1, nil).Once()
	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(2, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go writer.Run(ctx)

	assert.NoError(t, writer.Enqueue(writerTestEvent("1")))
	assert.NoError(t, writer.Enqueue(writerTestEvent("2")))

	time.Sleep(200 * time.Millisecond)

	mockRepo.AssertExpectations(t)
}

func TestBatchWriter_ShutdownDrainsRemainingBuffer(t *testing.T) {
	mockRepo := new(MockEventRepository)
	sink := new(MockSink)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 100,
		MaxBatchAge:  10 * time.Second,
		DrainTimeout: time.Second,
	}

	writer := NewBatchWriter(mockRepo, sink, config, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 4
	})).Return(4, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		writer.Run(ctx)
		close(done)
	}()

	for i := 0; i < 4; i++ {
		assert.NoError(t, writer.Enqueue(writerTestEvent("e")))
	}

	// Events sit in the intake buffer; neither trigger has fired yet.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not shut down")
	}

	mockRepo.AssertExpectations(t)
}

func TestBatchWriter_EnqueueBackpressure(t *testing.T) {
	mockRepo := new(MockEventRepository)
	sink := new(MockSink)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize:   100,
		MaxBatchAge:    10 * time.Second,
		IntakeCapacity: 2,
	}

	// Run is intentionally not started: the buffer fills and stays full.
	writer := NewBatchWriter(mockRepo, sink, config, log)

	assert.NoError(t, writer.Enqueue(writerTestEvent("1")))
	assert.NoError(t, writer.Enqueue(writerTestEvent("2")))
	assert.ErrorIs(t, writer.Enqueue(writerTestEvent("3")), ErrBufferFull)
}
