package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/attribution"
	"github.com/pagepulse/ingestion-service/internal/dto"
	"github.com/pagepulse/ingestion-service/internal/enricher"
	"github.com/pagepulse/ingestion-service/internal/pipeline"
)

// EventIngester runs one event candidate through the ingestion pipeline.
type EventIngester interface {
	Ingest(ctx context.Context, req *dto.TrackEventRequest, meta enricher.RequestMeta, idempotencyKey string) pipeline.Result
}

// PurchaseResolver handles purchase notifications from the payment
// webhook collaborator.
type PurchaseResolver interface {
	Resolve(ctx context.Context, notification *dto.PurchaseWebhookRequest) (attribution.Outcome, error)
}

// Pinger is a health-checkable collaborator.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	ingester EventIngester
	resolver PurchaseResolver
	storage  Pinger
	dedup    Pinger
	router   *gin.Engine
	log      *zap.Logger
}

func NewHandler(ingester EventIngester, resolver PurchaseResolver, storage, dedup Pinger, log *zap.Logger) *Handler {
	h := &Handler{
		ingester: ingester,
		resolver: resolver,
		storage:  storage,
		dedup:    dedup,
		router:   gin.Default(),
		log:      log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.POST("/api/event", h.trackEvent)
	h.router.POST("/api/webhooks/purchase", h.purchaseWebhook)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	if h.storage != nil {
		if err := h.storage.Ping(c.Request.Context()); err != nil {
			h.log.Warn("Storage health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "storage unavailable"})
			return
		}
	}
	if h.dedup != nil {
		if err := h.dedup.Ping(c.Request.Context()); err != nil {
			h.log.Warn("Dedup store health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "dedup store unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// trackEvent handles POST /api/event. The caller is acknowledged before
// the batch flush completes (fire-and-forget ingestion).
func (h *Handler) trackEvent(c *gin.Context) {
	var req dto.TrackEventRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid event request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	meta := enricher.RequestMeta{
		UserAgent: c.Request.UserAgent(),
		RemoteIP:  c.ClientIP(),
	}

	result := h.ingester.Ingest(c.Request.Context(), &req, meta, "")

	switch result.Status {
	case pipeline.StatusAccepted:
		c.JSON(http.StatusAccepted, dto.TrackEventResponse{
			EventID: result.EventID,
			Status:  string(pipeline.StatusAccepted),
		})

	case pipeline.StatusDuplicate:
		// Idempotent ack: the first delivery already counted.
		c.JSON(http.StatusAccepted, dto.TrackEventResponse{
			EventID: result.EventID,
			Status:  string(pipeline.StatusDuplicate),
		})

	case pipeline.StatusUnavailable:
		// Dedup store outage under fail-closed policy: the event was
		// not ingested, so the sender must retry, not be acked.
		h.log.Warn("Event not ingested, dedup store unavailable",
			zap.String("site_id", req.SiteID), zap.Error(result.Err))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "unavailable",
			Message: "dedup store unavailable, retry later",
		})

	default:
		if errors.Is(result.Err, pipeline.ErrBufferFull) {
			h.log.Warn("Event rejected, backpressure", zap.String("site_id", req.SiteID))
			c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
				Error:   "overloaded",
				Message: "ingestion buffer is full, retry later",
			})
			return
		}
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: result.Err.Error(),
		})
	}
}

// purchaseWebhook handles POST /api/webhooks/purchase. Redeliveries are
// suppressed by the standard dedup path on the derived event, so the
// endpoint is idempotent.
func (h *Handler) purchaseWebhook(c *gin.Context) {
	var req dto.PurchaseWebhookRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid purchase webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	outcome, err := h.resolver.Resolve(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to process purchase notification",
			zap.String("site_id", req.SiteID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	status := string(attribution.StateUnattributed)
	if outcome.Attributed {
		status = string(attribution.StateAttributed)
	}

	c.JSON(http.StatusAccepted, dto.PurchaseWebhookResponse{
		EventID: outcome.EventID,
		Status:  status,
	})
}
