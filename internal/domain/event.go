package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event kinds accepted by the ingestion pipeline.
const (
	KindPageview = "pageview"
	KindGoal     = "goal"
	KindPurchase = "purchase"
)

// Device classes derived from the user-agent string.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// CountryUnknown is the sentinel stored when IP-to-country resolution fails.
const CountryUnknown = "unknown"

// Event represents a tracked occurrence stored in ClickHouse. Immutable
// once persisted; retention is handled outside this service.
type Event struct {
	EventID     string          `ch:"event_id"`
	SiteID      string          `ch:"site_id"`
	Kind        string          `ch:"kind"`
	VisitorID   string          `ch:"visitor_id"`
	SessionID   string          `ch:"session_id"`
	Timestamp   int64           `ch:"timestamp"`
	URL         string          `ch:"url"`
	Referrer    string          `ch:"referrer"`
	UTMSource   string          `ch:"utm_source"`
	UTMMedium   string          `ch:"utm_medium"`
	UTMCampaign string          `ch:"utm_campaign"`
	Device      string          `ch:"device"`
	Browser     string          `ch:"browser"`
	OS          string          `ch:"os"`
	Country     string          `ch:"country"`
	Revenue     decimal.Decimal `ch:"revenue"`
	HasRevenue  bool            `ch:"has_revenue"`
	GoalName    string          `ch:"goal_name"`
	Identity    string          `ch:"identity"`
	ProcessedAt time.Time       `ch:"processed_at"`
	Version     uint64          `ch:"version"`
}

// ValidKind reports whether k is one of the accepted event kinds.
func ValidKind(k string) bool {
	switch k {
	case KindPageview, KindGoal, KindPurchase:
		return true
	}
	return false
}
