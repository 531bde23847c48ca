package dto

// TrackEventRequest represents an inbound tracking event payload
type TrackEventRequest struct {
	SiteID      string `json:"site_id" binding:"required" example:"site_7f3a"`
	Kind        string `json:"kind" binding:"required" example:"pageview"`
	VisitorID   string `json:"visitor_id" binding:"required" example:"vst_9c1d2e"`
	SessionID   string `json:"session_id" binding:"required" example:"ses_4b8f"`
	Timestamp   int64  `json:"timestamp" binding:"required" example:"1723475612"`
	URL         string `json:"url" binding:"required" example:"https://example.com/pricing"`
	Referrer    string `json:"referrer" example:"https://google.com"`
	UTMSource   string `json:"utm_source" example:"google"`
	UTMMedium   string `json:"utm_medium" example:"cpc"`
	UTMCampaign string `json:"utm_campaign" example:"spring_launch"`
	Revenue     string `json:"revenue" example:"49.00"`
	GoalName    string `json:"goal_name" example:"signup"`
	Identity    string `json:"identity" example:"jane@example.com"`
}

// PurchaseWebhookRequest represents a purchase notification from the
// payment-processor webhook collaborator
type PurchaseWebhookRequest struct {
	SiteID    string `json:"site_id" binding:"required" example:"site_7f3a"`
	Email     string `json:"email" binding:"required" example:"jane@example.com"`
	Revenue   string `json:"revenue" binding:"required" example:"49.00"`
	Timestamp int64  `json:"timestamp" example:"1723475612"`
	EventRef  string `json:"event_ref" example:"evt_stripe_1JYx8a"`
}
