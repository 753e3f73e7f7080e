package overlay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
	"github.com/couchcryptid/storm-overlay-service/internal/scene"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func strikeAt(c domain.Coordinate) domain.LightningEvent {
	return domain.LightningEvent{Latitude: c.Lat, Longitude: c.Lng}
}

func blockUntil(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

func newScene() *scene.Scene {
	return scene.New("streets")
}

// stubRadar returns a fixed slot sequence.
type stubRadar struct {
	mu    sync.Mutex
	slots []domain.RadarTimeSlot
	err   error
	calls int
}

func (s *stubRadar) LatestSlot(context.Context) (domain.RadarTimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	slot := s.slots[0]
	if len(s.slots) > 1 {
		s.slots = s.slots[1:]
	}
	return slot, nil
}

func (s *stubRadar) TileURL(slot domain.RadarTimeSlot) string {
	return "https://tiles.test/tile?x={x}&y={y}&z={z}&t=" + string(slot)
}

func (s *stubRadar) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubPolygons returns a fixed polygon list.
type stubPolygons struct {
	mu    sync.Mutex
	polys []domain.StormPolygon
	err   error
	calls int
}

func (s *stubPolygons) StormPolygons(context.Context) ([]domain.StormPolygon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.polys, s.err
}

func (s *stubPolygons) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func ptr[T any](v T) *T { return &v }
