// Package backend fetches storm polygons from the weather REST backend.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
)

const polygonsPath = "/api/v1/weather/get-polygons"

// Client implements overlay.PolygonSource.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a backend client. An empty token sends no Authorization header.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// StormPolygons returns the current storm polygon list.
func (c *Client) StormPolygons(ctx context.Context) ([]domain.StormPolygon, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+polygonsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storm polygons request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("storm polygons: status %d: %s", resp.StatusCode, body)
	}

	var polys []domain.StormPolygon
	if err := json.NewDecoder(resp.Body).Decode(&polys); err != nil {
		return nil, fmt.Errorf("decode storm polygons: %w", err)
	}
	return polys, nil
}
