package enricher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/domain"
	"github.com/pagepulse/ingestion-service/internal/validator"
)

const (
	deviceUnknown = domain.DeviceUnknown
	deviceBot     = domain.DeviceBot
	deviceMobile  = domain.DeviceMobile
	deviceTablet  = domain.DeviceTablet
	deviceDesktop = domain.DeviceDesktop
	agentUnknown  = "unknown"
)

// CountryResolver resolves an IP address to a two-letter country code.
// Implementations may fail; the enricher substitutes the unknown sentinel.
type CountryResolver interface {
	Country(ctx context.Context, ip string) (string, error)
}

// RequestMeta carries ambient request metadata for enrichment. The raw
// IP is used for country lookup only and never reaches storage.
type RequestMeta struct {
	UserAgent string
	RemoteIP  string
}

// Enricher derives device, browser, OS and country from request metadata
// and turns a validated candidate into a fully populated event.
type Enricher struct {
	countries CountryResolver
	log       *zap.Logger
}

func New(countries CountryResolver, log *zap.Logger) *Enricher {
	return &Enricher{
		countries: countries,
		log:       log,
	}
}

// Enrich returns a fully populated event. Enrichment never fails the
// event: degraded lookups fall back to unknown sentinels.
func (e *Enricher) Enrich(ctx context.Context, c *validator.Candidate, meta RequestMeta) *domain.Event {
	ua := ParseUserAgent(meta.UserAgent)

	event := &domain.Event{
		EventID:     uuid.NewString(),
		SiteID:      c.SiteID,
		Kind:        c.Kind,
		VisitorID:   c.VisitorID,
		SessionID:   c.SessionID,
		Timestamp:   c.Timestamp,
		URL:         c.URL,
		Referrer:    c.Referrer,
		UTMSource:   c.UTMSource,
		UTMMedium:   c.UTMMedium,
		UTMCampaign: c.UTMCampaign,
		Device:      ua.Device,
		Browser:     ua.Browser,
		OS:          ua.OS,
		Country:     e.resolveCountry(ctx, meta.RemoteIP),
		Revenue:     c.Revenue,
		HasRevenue:  c.HasRevenue,
		GoalName:    c.GoalName,
		Identity:    HashIdentity(c.Identity),
		ProcessedAt: time.Now(),
		Version:     uint64(time.Now().UnixNano()),
	}

	return event
}

func (e *Enricher) resolveCountry(ctx context.Context, remoteIP string) string {
	if e.countries == nil || remoteIP == "" {
		return domain.CountryUnknown
	}

	anonymized := AnonymizeIP(remoteIP)
	if anonymized == "" {
		return domain.CountryUnknown
	}

	country, err := e.countries.Country(ctx, anonymized)
	if err != nil {
		e.log.Warn("Country resolution degraded",
			zap.String("ip", anonymized),
			zap.Error(err))
		return domain.CountryUnknown
	}
	if len(country) != 2 {
		return domain.CountryUnknown
	}
	return strings.ToUpper(country)
}

// AnonymizeIP truncates an IP address before any further use: the last
// octet of an IPv4 address is zeroed, an IPv6 address is cut to its /48
// prefix. Returns "" for unparseable input.
func AnonymizeIP(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String()
	}
	masked := ip.Mask(net.CIDRMask(48, 128))
	return masked.String()
}

// HashIdentity normalizes and hashes an identity hint (an email address)
// so only a stable pseudonymous join key is persisted. Empty input stays
// empty.
func HashIdentity(identity string) string {
	normalized := strings.ToLower(strings.TrimSpace(identity))
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
