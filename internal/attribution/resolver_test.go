package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/domain"
	"github.com/pagepulse/ingestion-service/internal/dto"
	"github.com/pagepulse/ingestion-service/internal/enricher"
	"github.com/pagepulse/ingestion-service/internal/pipeline"
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

// MockSubmitter is a mock implementation of Submitter
type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Ingest(ctx context.Context, req *dto.TrackEventRequest, meta enricher.RequestMeta, idempotencyKey string) pipeline.Result {
	args := m.Called(ctx, req, meta, idempotencyKey)
	return args.Get(0).(pipeline.Result)
}

func testConfig() Config {
	return Config{
		LookbackWindow: 30 * 24 * time.Hour,
		RetryDelay:     time.Millisecond,
	}
}

func purchaseNotification() *dto.PurchaseWebhookRequest {
	return &dto.PurchaseWebhookRequest{
		SiteID:    "site_7f3a",
		Email:     "jane@example.com",
		Revenue:   "49.00",
		Timestamp: testTimestamp,
		EventRef:  "evt_stripe_1JYx8a",
	}
}

func priorPageview() *domain.Event {
	return &domain.Event{
		EventID:     "prior-event",
		SiteID:      "site_7f3a",
		Kind:        domain.KindPageview,
		VisitorID:   "vst_9c1d2e",
		SessionID:   "ses_4b8f",
		Timestamp:   testTimestamp - 3600,
		URL:         "https://example.com/pricing",
		UTMSource:   "google",
		UTMMedium:   "cpc",
		UTMCampaign: "spring_launch",
		Identity:    enricher.HashIdentity("jane@example.com"),
	}
}

func TestResolver_AttributedPurchase(t *testing.T) {
	mockRepo := new(MockEventRepository)
	submitter := new(MockSubmitter)

	identity := enricher.HashIdentity("jane@example.com")

	mockRepo.On("FindLatestByIdentity", mock.Anything, "site_7f3a", identity, 30*24*time.Hour).
		Return(priorPageview(), nil)

	submitter.On("Ingest", mock.Anything, mock.MatchedBy(func(req *dto.TrackEventRequest) bool {
		return req.Kind == domain.KindPurchase &&
			req.VisitorID == "vst_9c1d2e" &&
			req.SessionID == "ses_4b8f" &&
			req.UTMSource == "google" &&
			req.UTMMedium == "cpc" &&
			req.Revenue == "49.00"
	}), mock.Anything, "evt_stripe_1JYx8a").
		Return(pipeline.Result{Status: pipeline.StatusAccepted, EventID: "new-event"})

	r := NewResolver(mockRepo, submitter, testConfig(), zap.NewNop())

	outcome, err := r.Resolve(context.Background(), purchaseNotification())

	assert.NoError(t, err)
	assert.Equal(t, StateSubmitted, outcome.State)
	assert.True(t, outcome.Attributed)
	assert.Equal(t, "new-event", outcome.EventID)
	mockRepo.AssertExpectations(t)
	submitter.AssertExpectations(t)
}

func TestResolver_UnattributedOutsideLookbackWindow(t *testing.T) {
	mockRepo := new(MockEventRepository)
	submitter := new(MockSubmitter)

	// No event inside the window: the purchase is still recorded, with
	// revenue and without UTM fields.
	mockRepo.On("FindLatestByIdentity", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, nil)

	submitter.On("Ingest", mock.Anything, mock.MatchedBy(func(req *dto.TrackEventRequest) bool {
		return req.Kind == domain.KindPurchase &&
			req.Revenue == "49.00" &&
			req.UTMSource == "" &&
			req.UTMMedium == "" &&
			req.UTMCampaign == "" &&
			req.VisitorID != "" &&
			req.SessionID != ""
	}), mock.Anything, "evt_stripe_1JYx8a").
		Return(pipeline.Result{Status: pipeline.StatusAccepted, EventID: "new-event"})

	r := NewResolver(mockRepo, submitter, testConfig(), zap.NewNop())

	outcome, err := r.Resolve(context.Background(), purchaseNotification())

	assert.NoError(t, err)
	assert.Equal(t, StateSubmitted, outcome.State)
	assert.False(t, outcome.Attributed)
	// Lookup retries once before concluding unattributed.
	mockRepo.AssertNumberOfCalls(t, "FindLatestByIdentity", 2)
}

func TestResolver_StaleReadRetrySucceeds(t *testing.T) {
	mockRepo := new(MockEventRepository)
	submitter := new(MockSubmitter)

	// First lookup misses (history not flushed yet), the retry after the
	// staleness delay finds it.
	mockRepo.On("FindLatestByIdentity", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, nil).Once()
	mockRepo.On("FindLatestByIdentity", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(priorPageview(), nil).Once()

	submitter.On("Ingest", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(pipeline.Result{Status: pipeline.StatusAccepted, EventID: "new-event"})

	r := NewResolver(mockRepo, submitter, testConfig(), zap.NewNop())

	outcome, err := r.Resolve(context.Background(), purchaseNotification())

	assert.NoError(t, err)
	assert.True(t, outcome.Attributed)
	mockRepo.AssertExpectations(t)
}

func TestResolver_LookupFailureRecordsUnattributed(t *testing.T) {
	mockRepo := new(MockEventRepository)
	submitter := new(MockSubmitter)

	mockRepo.On("FindLatestByIdentity", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	submitter.On("Ingest", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(pipeline.Result{Status: pipeline.StatusAccepted, EventID: "new-event"})

	r := NewResolver(mockRepo, submitter, testConfig(), zap.NewNop())

	outcome, err := r.Resolve(context.Background(), purchaseNotification())

	assert.NoError(t, err)
	assert.Equal(t, StateSubmitted, outcome.State)
	assert.False(t, outcome.Attributed)
}

func TestResolver_RedeliveredWebhookIsIdempotent(t *testing.T) {
	mockRepo := new(MockEventRepository)
	submitter := new(MockSubmitter)

	mockRepo.On("FindLatestByIdentity", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(priorPageview(), nil)

	submitter.On("Ingest", mock.Anything, mock.Anything, mock.Anything, "evt_stripe_1JYx8a").
		Return(pipeline.Result{Status: pipeline.StatusDuplicate, EventID: "first-event"})

	r := NewResolver(mockRepo, submitter, testConfig(), zap.NewNop())

	outcome, err := r.Resolve(context.Background(), purchaseNotification())

	assert.NoError(t, err)
	assert.Equal(t, StateSubmitted, outcome.State)
	assert.True(t, outcome.Duplicate)
}

func TestResolver_SubmitFailure(t *testing.T) {
	mockRepo := new(MockEventRepository)
	submitter := new(MockSubmitter)

	mockRepo.On("FindLatestByIdentity", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(priorPageview(), nil)

	submitter.On("Ingest", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(pipeline.Result{Status: pipeline.StatusRejected, Err: pipeline.ErrBufferFull})

	r := NewResolver(mockRepo, submitter, testConfig(), zap.NewNop())

	outcome, err := r.Resolve(context.Background(), purchaseNotification())

	assert.Error(t, err)
	assert.Equal(t, StateFailed, outcome.State)
}

func TestResolver_MissingTimestampDefaultsToNow(t *testing.T) {
	mockRepo := new(MockEventRepository)
	submitter := new(MockSubmitter)

	mockRepo.On("FindLatestByIdentity", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(priorPageview(), nil)

	before := time.Now().Unix()
	submitter.On("Ingest", mock.Anything, mock.MatchedBy(func(req *dto.TrackEventRequest) bool {
		return req.Timestamp >= before
	}), mock.Anything, mock.Anything).
		Return(pipeline.Result{Status: pipeline.StatusAccepted, EventID: "new-event"})

	r := NewResolver(mockRepo, submitter, testConfig(), zap.NewNop())

	n := purchaseNotification()
	n.Timestamp = 0
	_, err := r.Resolve(context.Background(), n)

	assert.NoError(t, err)
	submitter.AssertExpectations(t)
}
