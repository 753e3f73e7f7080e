// Package sferic talks to the Earth Networks Sferic APIs: the pulse lightning
// websocket feed and the PulseRad radar overlay.
package sferic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
)

const (
	// RadarLayerID is the PulseRad overlay product.
	RadarLayerID = "pulserad"

	DefaultBaseURL  = "https://earthnetworks.azure-api.net"
	DefaultFeedHost = "lx.sferic.earthnetworks.com"
)

// ErrNoTimeSlot is returned when the metadata response carries neither a
// preferred nor a latest slot.
var ErrNoTimeSlot = errors.New("radar metadata has no time slot")

// FeedURL builds the pulse lightning websocket URL for host and key.
func FeedURL(host, key string) string {
	q := url.Values{}
	q.Set("p", key)
	q.Set("f", "json")
	q.Set("t", "pulse")
	q.Set("l", "all")
	q.Set("k", "on")
	return (&url.URL{Scheme: "wss", Host: host, Path: "/ws/", RawQuery: q.Encode()}).String()
}

// Client fetches radar overlay metadata and builds tile templates.
// It implements overlay.RadarSource.
type Client struct {
	subscriptionKey string
	httpClient      *http.Client
	baseURL         string
}

// NewClient creates a radar client against baseURL.
func NewClient(baseURL, subscriptionKey string, timeout time.Duration) *Client {
	return &Client{
		subscriptionKey: subscriptionKey,
		httpClient:      &http.Client{Timeout: timeout},
		baseURL:         baseURL,
	}
}

// LatestSlot returns the preferred radar time slot, falling back to the latest one.
func (c *Client) LatestSlot(ctx context.Context) (domain.RadarTimeSlot, error) {
	params := url.Values{
		"lid":              {RadarLayerID},
		"subscription-key": {c.subscriptionKey},
	}
	u := c.baseURL + "/maps/overlays/v2/metadata?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("radar metadata request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("radar metadata: status %d: %s", resp.StatusCode, body)
	}

	var meta metadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("decode radar metadata: %w", err)
	}

	switch {
	case meta.Result.PreferredSlot != "":
		return domain.RadarTimeSlot(meta.Result.PreferredSlot), nil
	case meta.Result.LatestSlot != "":
		return domain.RadarTimeSlot(meta.Result.LatestSlot), nil
	default:
		return "", fmt.Errorf("code %s: %w", meta.Code, ErrNoTimeSlot)
	}
}

// TileURL returns the XYZ raster template for slot. The {x}, {y} and {z}
// placeholders are left for the map engine.
func (c *Client) TileURL(slot domain.RadarTimeSlot) string {
	return fmt.Sprintf("%s/maps/overlays/tile?x={x}&y={y}&z={z}&t=%s&lid=%s&epsg=3857&subscription-key=%s",
		c.baseURL, url.QueryEscape(string(slot)), RadarLayerID, url.QueryEscape(c.subscriptionKey))
}

type metadataResponse struct {
	Code   domain.FlexString `json:"Code"`
	Result struct {
		PreferredSlot domain.FlexString `json:"PreferredSlot"`
		LatestSlot    domain.FlexString `json:"LatestSlot"`
	} `json:"Result"`
}
