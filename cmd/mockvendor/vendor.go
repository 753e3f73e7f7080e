package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
	"github.com/couchcryptid/storm-overlay-service/internal/simulate"
)

const radarSlotStep = 5 * time.Minute

type vendor struct {
	origin domain.Coordinate
	clock  clockwork.Clock
	logger *slog.Logger
}

func (v *vendor) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/", v.handleFeed)
	mux.HandleFunc("GET /maps/overlays/v2/metadata", v.handleRadarMetadata)
	mux.HandleFunc("GET /api/v1/weather/get-polygons", v.handlePolygons)
	return mux
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// handleFeed streams simulated strikes over a websocket until the client leaves.
func (v *vendor) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		v.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// Drain control frames; a read error means the client went away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	events := make(chan domain.LightningEvent, 16)
	gen := simulate.New(func() domain.Coordinate { return v.origin }, v.clock, v.logger, observability.NewMetricsForTesting())
	gen.Start(ctx, func(ev domain.LightningEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	defer gen.Stop()

	v.logger.Info("feed client connected", "remote", r.RemoteAddr)
	keepAlive := v.clock.NewTicker(30 * time.Second)
	defer keepAlive.Stop()
	for {
		var msg any
		select {
		case <-ctx.Done():
			v.logger.Info("feed client disconnected", "remote", r.RemoteAddr)
			return
		case <-keepAlive.Chan():
			msg = map[string]string{"type": "keepalive"}
		case ev := <-events:
			msg = map[string]any{"lat": ev.Latitude, "lon": ev.Longitude, "time": ev.ReceivedAt.UnixMilli()}
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (v *vendor) handleRadarMetadata(w http.ResponseWriter, _ *http.Request) {
	now := v.clock.Now().UTC()
	slot := now.Truncate(radarSlotStep).Format("20060102T150405Z")
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{
		"Code": 200,
		"Result": map[string]string{
			"PreferredSlot": slot,
			"LatestSlot":    slot,
		},
	})
}

func (v *vendor) handlePolygons(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(mockPolygons(v.origin, v.clock.Now()))
}

// mockPolygons places one severe and one moderate storm near origin. The
// moderate storm carries a cell outline; both move.
func mockPolygons(origin domain.Coordinate, now time.Time) []domain.StormPolygon {
	severeCenter := domain.Offset(origin, 315, 20)
	moderateCenter := domain.Offset(origin, 135, 30)
	severeDir, moderateDir := 225.0, 270.0
	severeSpeed, moderateSpeed := domain.NewSpeed(25), domain.NewSpeed(15)
	expires := now.Add(time.Hour).UTC().Format(time.RFC3339)

	return []domain.StormPolygon{
		{
			Identifier:     "MOCK-SEVERE-1",
			Severity:       "Severe",
			LightningLevel: "4",
			Headline:       "Severe thunderstorm warning",
			Description:    "Frequent lightning and hail up to 2 cm.",
			Expires:        expires,
			Polygon:        ring(severeCenter, 12),
			Direction:      &severeDir,
			Speed:          &severeSpeed,
		},
		{
			Identifier:     "MOCK-MODERATE-1",
			Severity:       "Moderate",
			LightningLevel: "2",
			Headline:       "Thunderstorm advisory",
			Description:    "Occasional lightning.",
			Expires:        expires,
			Polygon:        ring(moderateCenter, 18),
			CellPolygon:    ring(domain.Offset(moderateCenter, 90, 4), 6),
			Direction:      &moderateDir,
			Speed:          &moderateSpeed,
		},
	}
}

func ring(center domain.Coordinate, radiusKm float64) []domain.Coordinate {
	pts := domain.CirclePolygon(center, radiusKm, 8)
	out := make([]domain.Coordinate, len(pts))
	for i, p := range pts {
		out[i] = domain.Coordinate{Lat: p[1], Lng: p[0]}
	}
	return out
}
