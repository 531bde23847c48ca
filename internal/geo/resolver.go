package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// HTTPResolver resolves IP addresses to country codes through an
// external GeoIP HTTP provider. The provider endpoint is expected to
// answer GET <endpoint>/<ip> with a JSON body containing a countryCode
// field.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

func NewHTTPResolver(endpoint string, timeout time.Duration, log *zap.Logger) *HTTPResolver {
	return &HTTPResolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Country looks up the two-letter country code for ip.
func (r *HTTPResolver) Country(ctx context.Context, ip string) (string, error) {
	lookupURL := fmt.Sprintf("%s/%s", r.endpoint, url.PathEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build geo lookup request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("geo lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geo provider returned status %d", resp.StatusCode)
	}

	var body struct {
		CountryCode string `json:"countryCode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode geo response: %w", err)
	}
	if body.CountryCode == "" {
		return "", fmt.Errorf("geo provider returned no country for %s", ip)
	}

	return body.CountryCode, nil
}
