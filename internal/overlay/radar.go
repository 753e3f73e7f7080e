package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
	"github.com/couchcryptid/storm-overlay-service/internal/scene"
)

// DefaultRadarInterval is the radar metadata poll cadence.
const DefaultRadarInterval = 300 * time.Second

const (
	radarSource = "radar"
	radarLayer  = "radar-layer"

	contourBrightnessMin = 0.3
	contourContrast      = 0.6
)

// RadarSource reports the newest radar snapshot and its tile template.
type RadarSource interface {
	LatestSlot(ctx context.Context) (domain.RadarTimeSlot, error)
	TileURL(slot domain.RadarTimeSlot) string
}

// RadarLayer keeps the radar raster layer on the current time slot.
type RadarLayer struct {
	engine  MapEngine
	source  RadarSource
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	slot    domain.RadarTimeSlot
	opacity float64
	contour bool
}

// NewRadarLayer creates a radar layer with the given initial paint state.
func NewRadarLayer(engine MapEngine, source RadarSource, cfg domain.LayerConfig, logger *slog.Logger, metrics *observability.Metrics) *RadarLayer {
	return &RadarLayer{
		engine:  engine,
		source:  source,
		logger:  logger,
		metrics: metrics,
		opacity: cfg.RadarOpacity,
		contour: cfg.RadarContour,
	}
}

// Refresh fetches the newest slot and rebuilds the raster layer. Failures leave the
// existing layer in place.
func (r *RadarLayer) Refresh(ctx context.Context) error {
	start := time.Now()
	defer func() {
		r.metrics.PollDuration.WithLabelValues("radar").Observe(time.Since(start).Seconds())
	}()

	slot, err := r.source.LatestSlot(ctx)
	if err != nil {
		r.metrics.PollRequests.WithLabelValues("radar", "error").Inc()
		return fmt.Errorf("fetch radar slot: %w", err)
	}
	r.metrics.PollRequests.WithLabelValues("radar", "success").Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	if slot != r.slot {
		r.logger.Debug("radar slot changed", "from", string(r.slot), "to", string(slot))
	}
	r.slot = slot
	return ReplaceGroup(r.engine, r.groupLocked())
}

func (r *RadarLayer) groupLocked() LayerGroup {
	return LayerGroup{
		SourceID: radarSource,
		Source: scene.Source{
			Type:        scene.SourceRaster,
			Tiles:       []string{r.source.TileURL(r.slot)},
			TileSize:    256,
			Attribution: "Earth Networks",
		},
		Layers: []scene.Layer{{
			ID:    radarLayer,
			Type:  scene.LayerRaster,
			Paint: r.paintLocked(),
		}},
	}
}

func (r *RadarLayer) paintLocked() map[string]any {
	paint := map[string]any{
		"raster-opacity":        r.opacity,
		"raster-brightness-min": 0.0,
		"raster-contrast":       0.0,
	}
	if r.contour {
		paint["raster-brightness-min"] = contourBrightnessMin
		paint["raster-contrast"] = contourContrast
	}
	return paint
}

// Apply updates opacity and contour and repaints the current layer, if any.
func (r *RadarLayer) Apply(cfg domain.LayerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opacity = cfg.RadarOpacity
	r.contour = cfg.RadarContour
	if !r.engine.HasLayer(radarLayer) {
		return
	}
	for name, value := range r.paintLocked() {
		_ = r.engine.SetPaintProperty(radarLayer, name, value)
	}
}

// Slot returns the slot currently drawn.
func (r *RadarLayer) Slot() domain.RadarTimeSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot
}

// Remove takes the radar layer off the map.
func (r *RadarLayer) Remove() error {
	return RemoveGroup(r.engine, radarSource, radarLayer)
}
