package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
	"github.com/couchcryptid/storm-overlay-service/internal/scene"
)

// DefaultPolygonInterval is the storm-polygon poll cadence.
const DefaultPolygonInterval = 120 * time.Second

const (
	// TrackMinutes is how far ahead storm tracks are projected.
	TrackMinutes = 60
	// ArrowSizeKm is the length of the arrowhead sides.
	ArrowSizeKm = 4.0
	// arrowSpread is the angle between the travel bearing and each arrowhead side.
	arrowSpread = 150.0
)

// Layer groups rebuilt on every polygon tick.
const (
	alertSource     = "storm-alerts"
	alertFillLayer  = "storm-alerts-fill"
	alertLineLayer  = "storm-alerts-line"
	cellSource      = "storm-cells"
	cellFillLayer   = "storm-cells-fill"
	cellLineLayer   = "storm-cells-line"
	trackSource     = "storm-tracks"
	cellTrackSource = "storm-cell-tracks"
	labelSource     = "storm-labels"
	labelLayer      = "storm-labels-text"
)

// SeverityColor is the paint of one severity class.
type SeverityColor struct {
	Fill string
	Line string
}

// SeverityColors maps vendor severity to paint. Anything not listed uses DefaultSeverityColor.
var SeverityColors = map[string]SeverityColor{
	"Severe":   {Fill: "#dc2626", Line: "#991b1b"},
	"Moderate": {Fill: "#f97316", Line: "#c2410c"},
}

// DefaultSeverityColor covers Unknown and unset severities.
var DefaultSeverityColor = SeverityColor{Fill: "#facc15", Line: "#a16207"}

// Track colors keep primary and cell projections apart.
const (
	primaryTrackColor = "#2563eb"
	cellTrackColor    = "#9333ea"
)

// ColorForSeverity looks up the paint for a severity.
func ColorForSeverity(severity string) SeverityColor {
	if c, ok := SeverityColors[severity]; ok {
		return c
	}
	return DefaultSeverityColor
}

// PolygonSource lists the current storm polygons.
type PolygonSource interface {
	StormPolygons(ctx context.Context) ([]domain.StormPolygon, error)
}

// PolygonLayers renders storm polygons, their cells, projected tracks and labels.
type PolygonLayers struct {
	engine  MapEngine
	source  PolygonSource
	logger  *slog.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	count      int
	showPolys  bool
	showLabels bool
}

// NewPolygonLayers creates the polygon syncer.
func NewPolygonLayers(engine MapEngine, source PolygonSource, cfg domain.LayerConfig, logger *slog.Logger, metrics *observability.Metrics) *PolygonLayers {
	return &PolygonLayers{
		engine:     engine,
		source:     source,
		logger:     logger,
		metrics:    metrics,
		showPolys:  cfg.ShowPolygons,
		showLabels: cfg.ShowLabels,
	}
}

// Bind registers click popups and hover cursors on the fill layers. Bindings
// survive every rebuild.
func (p *PolygonLayers) Bind() {
	for _, id := range []string{alertFillLayer, cellFillLayer} {
		layerID := id
		p.engine.OnClick(layerID, func(f *geojson.Feature) { p.showPopup(layerID, f) })
		p.engine.OnHover(layerID, "pointer")
	}
}

// Refresh fetches the polygon list and rebuilds every polygon layer group.
func (p *PolygonLayers) Refresh(ctx context.Context) error {
	start := time.Now()
	defer func() {
		p.metrics.PollDuration.WithLabelValues("polygons").Observe(time.Since(start).Seconds())
	}()

	polys, err := p.source.StormPolygons(ctx)
	if err != nil {
		p.metrics.PollRequests.WithLabelValues("polygons", "error").Inc()
		return fmt.Errorf("fetch storm polygons: %w", err)
	}
	p.metrics.PollRequests.WithLabelValues("polygons", "success").Inc()
	return p.Rebuild(polys)
}

// Rebuild replaces the polygon layer groups with ones built from polys.
func (p *PolygonLayers) Rebuild(polys []domain.StormPolygon) error {
	alerts := geojson.NewFeatureCollection()
	cells := geojson.NewFeatureCollection()
	tracks := geojson.NewFeatureCollection()
	cellTracks := geojson.NewFeatureCollection()
	labels := geojson.NewFeatureCollection()

	drawn := 0
	for _, poly := range polys {
		color := ColorForSeverity(poly.Severity)

		// The alert outline and the storm cell are drawn independently.
		if outline := p.normalize(poly.Identifier, "polygon", poly.Polygon); len(outline) >= 3 {
			drawn++
			alerts.AddFeature(polygonFeature(poly, outline, color))
			if c, ok := domain.PolygonCentroid(outline); ok {
				label := geojson.NewPointFeature(c.Position())
				label.SetProperty("label", labelText(poly))
				labels.AddFeature(label)
			}
			if poly.HasTrack() {
				addTrack(tracks, outline, *poly.Direction, *poly.Speed, primaryTrackColor, poly.Identifier)
			}
		} else {
			p.logger.Warn("skipping storm polygon with too few vertices",
				"identifier", poly.Identifier, "vertices", len(outline))
		}

		if len(poly.CellPolygon) == 0 {
			continue
		}
		cell := p.normalize(poly.Identifier, "cellPolygon", poly.CellPolygon)
		if len(cell) < 3 {
			p.logger.Warn("skipping storm cell with too few vertices",
				"identifier", poly.Identifier, "vertices", len(cell))
			continue
		}
		cells.AddFeature(polygonFeature(poly, cell, color))
		if poly.HasTrack() {
			addTrack(cellTracks, cell, *poly.Direction, *poly.Speed, cellTrackColor, poly.Identifier)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	groups := []LayerGroup{
		outlineGroup(alertSource, alertFillLayer, alertLineLayer, alerts, 0.25, p.showPolys),
		outlineGroup(cellSource, cellFillLayer, cellLineLayer, cells, 0.4, p.showPolys),
		trackGroup(trackSource, tracks, p.showPolys),
		trackGroup(cellTrackSource, cellTracks, p.showPolys),
		labelGroup(labels, p.showLabels),
	}
	for _, g := range groups {
		if err := ReplaceGroup(p.engine, g); err != nil {
			return err
		}
	}
	p.count = drawn
	return nil
}

// Apply toggles polygon and label visibility.
func (p *PolygonLayers) Apply(cfg domain.LayerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.showPolys = cfg.ShowPolygons
	p.showLabels = cfg.ShowLabels
	setVisibility(p.engine, p.showPolys, p.polygonLayerIDs()...)
	setVisibility(p.engine, p.showLabels, labelLayer)
}

// Count returns how many storm polygons the last rebuild drew.
func (p *PolygonLayers) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *PolygonLayers) polygonLayerIDs() []string {
	ids := []string{alertFillLayer, alertLineLayer, cellFillLayer, cellLineLayer}
	ids = append(ids, trackLayerIDs(trackSource)...)
	return append(ids, trackLayerIDs(cellTrackSource)...)
}

// normalize corrects axis-swapped vertices and returns a closed GeoJSON ring.
// Pairs that cannot be corrected are logged and kept as they are.
func (p *PolygonLayers) normalize(identifier, field string, coords []domain.Coordinate) []domain.Coordinate {
	out := make([]domain.Coordinate, 0, len(coords)+1)
	for i, c := range coords {
		fixed, outcome := domain.NormalizeCoordinate(c)
		switch outcome {
		case domain.CoordinateSwapped:
			p.metrics.CoordinateCorrections.WithLabelValues("swapped").Inc()
			p.logger.Debug("corrected swapped coordinate",
				"identifier", identifier, "field", field, "index", i, "lat", c.Lat, "lng", c.Lng)
		case domain.CoordinateInvalid:
			p.metrics.CoordinateCorrections.WithLabelValues("invalid").Inc()
			p.logger.Warn("invalid coordinate passed through",
				"identifier", identifier, "field", field, "index", i, "lat", c.Lat, "lng", c.Lng)
		}
		out = append(out, fixed)
	}
	return out
}

func (p *PolygonLayers) showPopup(layerID string, f *geojson.Feature) {
	str := func(key string) string { return f.PropertyMustString(key, "") }
	popup := scene.Popup{
		LayerID: layerID,
		Title:   str("identifier"),
		Fields: []scene.PopupField{
			{Label: "Severity", Value: str("severity")},
			{Label: "Headline", Value: str("headline")},
			{Label: "Description", Value: str("description")},
			{Label: "Expires", Value: str("expires")},
		},
	}
	if f.Geometry != nil && f.Geometry.IsPolygon() && len(f.Geometry.Polygon) > 0 {
		ring := f.Geometry.Polygon[0]
		if len(ring) > 1 && slices.Equal(ring[0], ring[len(ring)-1]) {
			ring = ring[:len(ring)-1]
		}
		vertices := make([]domain.Coordinate, 0, len(ring))
		for _, pos := range ring {
			vertices = append(vertices, domain.Coordinate{Lat: pos[1], Lng: pos[0]})
		}
		if c, ok := domain.PolygonCentroid(vertices); ok {
			popup.Position = c
		}
	}
	p.engine.ShowPopup(popup)
}

func labelText(poly domain.StormPolygon) string {
	if poly.Severity == "" {
		return poly.Identifier
	}
	return poly.Identifier + " · " + poly.Severity
}

func polygonFeature(poly domain.StormPolygon, ring []domain.Coordinate, color SeverityColor) *geojson.Feature {
	f := geojson.NewPolygonFeature([][][]float64{closeRing(ring)})
	f.SetProperty("identifier", poly.Identifier)
	f.SetProperty("severity", poly.Severity)
	f.SetProperty("lightningLevel", string(poly.LightningLevel))
	f.SetProperty("headline", poly.Headline)
	f.SetProperty("description", poly.Description)
	f.SetProperty("expires", poly.Expires)
	f.SetProperty("fillColor", color.Fill)
	f.SetProperty("lineColor", color.Line)
	return f
}

// closeRing converts vertices to positions and repeats the first vertex at the end
// when the input is open.
func closeRing(ring []domain.Coordinate) [][]float64 {
	out := make([][]float64, 0, len(ring)+1)
	for _, c := range ring {
		out = append(out, c.Position())
	}
	if first, last := ring[0], ring[len(ring)-1]; first != last {
		out = append(out, first.Position())
	}
	return out
}

// addTrack appends the centroid, the projected path and the arrowhead for one outline.
func addTrack(fc *geojson.FeatureCollection, outline []domain.Coordinate, direction float64, speed domain.Speed, color, identifier string) {
	centroid, ok := domain.PolygonCentroid(outline)
	if !ok {
		return
	}
	head := domain.DestinationPoint(centroid, direction, speed, TrackMinutes)
	bearing := domain.TravelBearing(direction)
	left := domain.Offset(head, bearing+arrowSpread, ArrowSizeKm)
	right := domain.Offset(head, bearing-arrowSpread, ArrowSizeKm)

	point := geojson.NewPointFeature(centroid.Position())
	path := geojson.NewLineStringFeature([][]float64{centroid.Position(), head.Position()})
	arrow := geojson.NewPolygonFeature([][][]float64{{
		head.Position(), left.Position(), right.Position(), head.Position(),
	}})
	for kind, f := range map[string]*geojson.Feature{"centroid": point, "path": path, "arrow": arrow} {
		f.SetProperty("kind", kind)
		f.SetProperty("color", color)
		f.SetProperty("identifier", identifier)
		f.SetProperty("speedKmh", speed.KMH())
	}
	fc.AddFeature(point)
	fc.AddFeature(path)
	fc.AddFeature(arrow)
}

func outlineGroup(source, fillID, lineID string, fc *geojson.FeatureCollection, opacity float64, visible bool) LayerGroup {
	layout := func() map[string]any { return map[string]any{"visibility": visibility(visible)} }
	return LayerGroup{
		SourceID: source,
		Source:   scene.Source{Type: scene.SourceGeoJSON, Data: fc},
		Layers: []scene.Layer{
			{
				ID:     fillID,
				Type:   scene.LayerFill,
				Paint:  map[string]any{"fill-color": []any{"get", "fillColor"}, "fill-opacity": opacity},
				Layout: layout(),
			},
			{
				ID:     lineID,
				Type:   scene.LayerLine,
				Paint:  map[string]any{"line-color": []any{"get", "lineColor"}, "line-width": 2},
				Layout: layout(),
			},
		},
	}
}

func trackLayerIDs(source string) []string {
	return []string{source + "-path", source + "-arrow", source + "-centroid"}
}

func trackGroup(source string, fc *geojson.FeatureCollection, visible bool) LayerGroup {
	ids := trackLayerIDs(source)
	kind := func(k string) []any { return []any{"==", []any{"get", "kind"}, k} }
	layout := func() map[string]any { return map[string]any{"visibility": visibility(visible)} }
	return LayerGroup{
		SourceID: source,
		Source:   scene.Source{Type: scene.SourceGeoJSON, Data: fc},
		Layers: []scene.Layer{
			{
				ID:     ids[0],
				Type:   scene.LayerLine,
				Filter: kind("path"),
				Paint:  map[string]any{"line-color": []any{"get", "color"}, "line-width": 2, "line-dasharray": []float64{2, 2}},
				Layout: layout(),
			},
			{
				ID:     ids[1],
				Type:   scene.LayerFill,
				Filter: kind("arrow"),
				Paint:  map[string]any{"fill-color": []any{"get", "color"}, "fill-opacity": 0.9},
				Layout: layout(),
			},
			{
				ID:     ids[2],
				Type:   scene.LayerCircle,
				Filter: kind("centroid"),
				Paint:  map[string]any{"circle-color": []any{"get", "color"}, "circle-radius": 4},
				Layout: layout(),
			},
		},
	}
}

func labelGroup(fc *geojson.FeatureCollection, visible bool) LayerGroup {
	return LayerGroup{
		SourceID: labelSource,
		Source:   scene.Source{Type: scene.SourceGeoJSON, Data: fc},
		Layers: []scene.Layer{{
			ID:   labelLayer,
			Type: scene.LayerSymbol,
			Layout: map[string]any{
				"text-field": []any{"get", "label"},
				"text-size":  12,
				"visibility": visibility(visible),
			},
			Paint: map[string]any{"text-color": "#111827", "text-halo-color": "#ffffff", "text-halo-width": 1},
		}},
	}
}
