package validator

import (
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/pagepulse/ingestion-service/internal/domain"
	"github.com/pagepulse/ingestion-service/internal/dto"
)

// Field length bounds for inbound payloads.
const (
	MaxIDLen       = 64
	MaxURLLen      = 2048
	MaxUTMLen      = 255
	MaxGoalNameLen = 120
)

// ValidationError names the first offending field of a rejected payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// Candidate is a validated event payload ready for enrichment. Revenue
// is parsed exactly once here so downstream stages never re-parse strings.
type Candidate struct {
	SiteID      string
	Kind        string
	VisitorID   string
	SessionID   string
	Timestamp   int64
	URL         string
	Referrer    string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	Revenue     decimal.Decimal
	HasRevenue  bool
	GoalName    string
	Identity    string
}

// Validator checks inbound payload shape and bounds. It has no side
// effects; rejected payloads are dropped by the caller, never retried.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate returns a typed candidate or a *ValidationError naming the
// offending field.
func (v *Validator) Validate(req *dto.TrackEventRequest) (*Candidate, *ValidationError) {
	if req.SiteID == "" {
		return nil, &ValidationError{Field: "site_id", Reason: "required"}
	}
	if len(req.SiteID) > MaxIDLen {
		return nil, &ValidationError{Field: "site_id", Reason: "too long"}
	}
	if !domain.ValidKind(req.Kind) {
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("must be one of %s, %s, %s", domain.KindPageview, domain.KindGoal, domain.KindPurchase)}
	}
	if req.VisitorID == "" {
		return nil, &ValidationError{Field: "visitor_id", Reason: "required"}
	}
	if len(req.VisitorID) > MaxIDLen {
		return nil, &ValidationError{Field: "visitor_id", Reason: "too long"}
	}
	if req.SessionID == "" {
		return nil, &ValidationError{Field: "session_id", Reason: "required"}
	}
	if len(req.SessionID) > MaxIDLen {
		return nil, &ValidationError{Field: "session_id", Reason: "too long"}
	}
	if req.Timestamp <= 0 {
		return nil, &ValidationError{Field: "timestamp", Reason: "must be a positive unix timestamp"}
	}
	// Webhook-derived purchase events carry no page URL; only pageviews
	// require one.
	if verr := validateURL("url", req.URL, req.Kind == domain.KindPageview); verr != nil {
		return nil, verr
	}
	if verr := validateURL("referrer", req.Referrer, false); verr != nil {
		return nil, verr
	}
	for _, f := range []struct{ name, value string }{
		{"utm_source", req.UTMSource},
		{"utm_medium", req.UTMMedium},
		{"utm_campaign", req.UTMCampaign},
	} {
		if len(f.value) > MaxUTMLen {
			return nil, &ValidationError{Field: f.name, Reason: "too long"}
		}
	}
	if len(req.GoalName) > MaxGoalNameLen {
		return nil, &ValidationError{Field: "goal_name", Reason: "too long"}
	}
	if req.Kind == domain.KindGoal && req.GoalName == "" {
		return nil, &ValidationError{Field: "goal_name", Reason: "required for goal events"}
	}

	c := &Candidate{
		SiteID:      req.SiteID,
		Kind:        req.Kind,
		VisitorID:   req.VisitorID,
		SessionID:   req.SessionID,
		Timestamp:   req.Timestamp,
		URL:         req.URL,
		Referrer:    req.Referrer,
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		GoalName:    req.GoalName,
		Identity:    req.Identity,
	}

	if req.Revenue != "" {
		amount, err := decimal.NewFromString(req.Revenue)
		if err != nil {
			return nil, &ValidationError{Field: "revenue", Reason: "not a decimal amount"}
		}
		if amount.IsNegative() {
			return nil, &ValidationError{Field: "revenue", Reason: "must be non-negative"}
		}
		c.Revenue = amount
		c.HasRevenue = true
	}
	if req.Kind == domain.KindPurchase && !c.HasRevenue {
		return nil, &ValidationError{Field: "revenue", Reason: "required for purchase events"}
	}

	return c, nil
}

func validateURL(field, raw string, required bool) *ValidationError {
	if raw == "" {
		if required {
			return &ValidationError{Field: field, Reason: "required"}
		}
		return nil
	}
	if len(raw) > MaxURLLen {
		return &ValidationError{Field: field, Reason: "too long"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: field, Reason: "not a valid URL"}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: field, Reason: "must be an absolute http(s) URL"}
	}
	return nil
}
