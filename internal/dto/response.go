package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message,omitempty" example:"site_id is required"`
}

// TrackEventResponse represents an event ingestion response
type TrackEventResponse struct {
	EventID string `json:"event_id,omitempty" example:"8f14e45f-ceea-4672-9b5c-2c6d1a1f3b7e"`
	Status  string `json:"status" example:"accepted"`
}

// PurchaseWebhookResponse represents a purchase notification response
type PurchaseWebhookResponse struct {
	EventID string `json:"event_id,omitempty" example:"8f14e45f-ceea-4672-9b5c-2c6d1a1f3b7e"`
	Status  string `json:"status" example:"attributed"`
}
