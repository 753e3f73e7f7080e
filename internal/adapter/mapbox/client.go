package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
)

const (
	placesURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

	// DefaultRequestsPerSecond keeps well under the Mapbox free-tier limit.
	DefaultRequestsPerSecond = 5

	forwardTypes = "place,locality,neighborhood,address"
	reverseTypes = "place,locality"
	maxErrorBody = 1024
)

// StatusError is returned when Mapbox answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mapbox status %d: %s", e.Code, e.Body)
}

// Client looks up observer places and names map positions through the Mapbox
// places endpoint. It is rate limited and reports every lookup to metrics.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient returns a client authenticating with token.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token:   token,
		baseURL: placesURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), 1),
		metrics: metrics,
		logger:  logger,
	}
}

// lookup is one places query. Mapbox takes escaped free text and "lon,lat" in
// the same path segment.
type lookup struct {
	kind    string
	segment string
	types   string
}

// ForwardGeocode resolves a place name, optionally qualified by a region.
func (c *Client) ForwardGeocode(ctx context.Context, name, region string) (domain.GeocodingResult, error) {
	q := name
	if region != "" {
		q += ", " + region
	}
	return c.run(ctx, lookup{kind: "forward", segment: url.PathEscape(q), types: forwardTypes})
}

// ReverseGeocode names the place containing lat/lon.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	coord := fmt.Sprintf("%.6f,%.6f", lon, lat)
	return c.run(ctx, lookup{kind: "reverse", segment: coord, types: reverseTypes})
}

func (c *Client) run(ctx context.Context, l lookup) (domain.GeocodingResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.metrics.GeocodeRequests.WithLabelValues(l.kind, "error").Inc()
			return domain.GeocodingResult{}, fmt.Errorf("%s lookup: rate limit: %w", l.kind, err)
		}
	}

	result, found, err := c.get(ctx, l)
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
		c.logger.Warn("mapbox lookup failed", "kind", l.kind, "segment", l.segment, "error", err)
	case !found:
		outcome = "empty"
	}
	c.metrics.GeocodeRequests.WithLabelValues(l.kind, outcome).Inc()
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("%s lookup: %w", l.kind, err)
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, l lookup) (domain.GeocodingResult, bool, error) {
	u, err := url.Parse(c.baseURL + "/" + l.segment + ".json")
	if err != nil {
		return domain.GeocodingResult{}, false, fmt.Errorf("build url: %w", err)
	}
	u.RawQuery = url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {l.types},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.GeocodingResult{}, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.GeocodingResult{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.GeocodingResult{}, false, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var page placesPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return domain.GeocodingResult{}, false, fmt.Errorf("decode places: %w", err)
	}
	result, found := page.best()
	return result, found, nil
}

// placesPage is the subset of the places response the overlay reads.
type placesPage struct {
	Features []place `json:"features"`
}

type place struct {
	Center    []float64 `json:"center"` // lon, lat
	PlaceName string    `json:"place_name"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
}

// best returns the top-ranked place. Mapbox orders features by relevance.
func (p placesPage) best() (domain.GeocodingResult, bool) {
	if len(p.Features) == 0 {
		return domain.GeocodingResult{}, false
	}
	top := p.Features[0]
	r := domain.GeocodingResult{
		FormattedAddress: top.PlaceName,
		PlaceName:        top.Text,
		Confidence:       top.Relevance,
	}
	if len(top.Center) == 2 {
		r.Lon, r.Lat = top.Center[0], top.Center[1]
	}
	return r, true
}
