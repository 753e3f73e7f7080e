//go:build mapbox

package mapbox

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
)

// Live Mapbox checks. Needs MAPBOX_TOKEN:
//
//	MAPBOX_TOKEN=... go test -tags=mapbox ./internal/adapter/mapbox/ -count=1

func liveGeocoder(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Skip("MAPBOX_TOKEN not set")
	}
	return NewClient(token, 10*time.Second, observability.NewMetricsForTesting(), discardLogger())
}

func TestLive_ObserverPlaces(t *testing.T) {
	c := liveGeocoder(t)
	loc := func(place, region string) *Locator {
		return NewLocator(NewCachedGeocoder(c, 10, observability.NewMetricsForTesting()), place, region, discardLogger())
	}

	tests := []struct {
		place, region string
		want          domain.Coordinate
	}{
		{"Tbilisi", "Georgia", domain.Coordinate{Lat: 41.69, Lng: 44.80}},
		{"Batumi", "Georgia", domain.Coordinate{Lat: 41.64, Lng: 41.63}},
		{"Kutaisi", "", domain.Coordinate{Lat: 42.27, Lng: 42.70}},
	}
	for _, tt := range tests {
		t.Run(tt.place, func(t *testing.T) {
			got, err := loc(tt.place, tt.region).Locate(context.Background())
			require.NoError(t, err)
			assert.InDelta(t, tt.want.Lat, got.Lat, 0.2)
			assert.InDelta(t, tt.want.Lng, got.Lng, 0.2)
		})
	}
}

func TestLive_DescribeObserver(t *testing.T) {
	c := liveGeocoder(t)
	name, err := Describe(context.Background(), c, domain.Coordinate{Lat: 41.6938, Lng: 44.8015})
	require.NoError(t, err)
	assert.Contains(t, name, "Tbilisi")
}
