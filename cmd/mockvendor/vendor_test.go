package main

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	backendadapter "github.com/couchcryptid/storm-overlay-service/internal/adapter/backend"
	"github.com/couchcryptid/storm-overlay-service/internal/adapter/sferic"
	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/feed"
	"github.com/couchcryptid/storm-overlay-service/internal/simulate"
)

var tbilisi = domain.Coordinate{Lat: 41.6938, Lng: 44.8015}

func newVendorServer(t *testing.T, clock clockwork.Clock) *httptest.Server {
	t.Helper()
	v := &vendor{origin: tbilisi, clock: clock, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	srv := httptest.NewServer(v.routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestVendor_RadarMetadata(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 14, 18, 7, 30, 0, time.UTC))
	srv := newVendorServer(t, clock)

	slot, err := sferic.NewClient(srv.URL, "dev", time.Second).LatestSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RadarTimeSlot("20250614T180500Z"), slot)
}

func TestVendor_Polygons(t *testing.T) {
	srv := newVendorServer(t, clockwork.NewFakeClock())

	polys, err := backendadapter.NewClient(srv.URL, "", time.Second).StormPolygons(context.Background())
	require.NoError(t, err)
	require.Len(t, polys, 2)
	for _, p := range polys {
		assert.True(t, p.HasTrack(), p.Identifier)
		require.NotEmpty(t, p.Polygon)
		for _, c := range p.Polygon {
			_, outcome := domain.NormalizeCoordinate(c)
			assert.Equal(t, domain.CoordinateValid, outcome)
		}
	}
	assert.NotEmpty(t, polys[1].CellPolygon)
}

func TestVendor_FeedStreamsStrikes(t *testing.T) {
	srv := newVendorServer(t, clockwork.NewRealClock())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/"

	conn, err := feed.WebsocketDialer{}.Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	events := domain.ParseStrikeMessage(data)
	require.Len(t, events, 1)
	assert.LessOrEqual(t, domain.HaversineKm(tbilisi.Lat, tbilisi.Lng, events[0].Latitude, events[0].Longitude), simulate.MaxDistanceKm+0.5)
}
