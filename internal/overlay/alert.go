package overlay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	geojson "github.com/paulmach/go.geojson"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
	"github.com/couchcryptid/storm-overlay-service/internal/scene"
)

const (
	// AlertRadiusKm is the distance from the observer within which strikes raise the alert.
	AlertRadiusKm = 10.0
	// AlertWindow is both the escalation window and the decay delay.
	AlertWindow = 5 * time.Minute
	// CounterResetInterval resets the last-minute strike counter.
	CounterResetInterval = 60 * time.Second

	observerSource     = "observer-radius"
	observerFillLayer  = "observer-radius-fill"
	observerLineLayer  = "observer-radius-line"
	observerPointLayer = "observer-point"
)

// AlertColor is the paint of the observer radius at one alert level.
type AlertColor struct {
	Fill   string
	Stroke string
}

// AlertColors is the fixed color table for the observer radius.
var AlertColors = map[domain.AlertLevel]AlertColor{
	domain.AlertNormal:  {Fill: "#22c55e", Stroke: "#15803d"},
	domain.AlertWarning: {Fill: "#f59e0b", Stroke: "#b45309"},
	domain.AlertDanger:  {Fill: "#ef4444", Stroke: "#b91c1c"},
}

// AlertStats is a snapshot of the alert engine.
type AlertStats struct {
	Level        domain.AlertLevel `json:"level"`
	Total        int               `json:"total"`
	LastMinute   int               `json:"lastMinute"`
	InRadius     int               `json:"inRadius"`
	LastInRadius *time.Time        `json:"lastInRadius,omitempty"`
}

// AlertEngine tracks strikes near the observer and maintains the alert level.
type AlertEngine struct {
	engine  MapEngine
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	mu           sync.Mutex
	observer     *domain.Coordinate
	level        domain.AlertLevel
	lastInRadius time.Time
	decay        clockwork.Timer
	decaySeq     uint64
	total        int
	lastMinute   int
	inRadius     int
	onChange     func(domain.AlertChange)
}

// NewAlertEngine creates an engine at the normal level with no observer.
func NewAlertEngine(engine MapEngine, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *AlertEngine {
	return &AlertEngine{
		engine:  engine,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// OnChange registers fn to receive level transitions, including decay resets.
func (a *AlertEngine) OnChange(fn func(domain.AlertChange)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// SetObserver records the observer and draws the alert radius around it.
func (a *AlertEngine) SetObserver(c domain.Coordinate) error {
	a.mu.Lock()
	a.observer = &c
	color := AlertColors[a.level]
	a.mu.Unlock()

	fc := geojson.NewFeatureCollection()
	circle := geojson.NewPolygonFeature([][][]float64{domain.CirclePolygon(c, AlertRadiusKm, 64)})
	circle.SetProperty("kind", "radius")
	fc.AddFeature(circle)
	point := geojson.NewPointFeature(c.Position())
	point.SetProperty("kind", "observer")
	fc.AddFeature(point)

	return ReplaceGroup(a.engine, LayerGroup{
		SourceID: observerSource,
		Source:   scene.Source{Type: scene.SourceGeoJSON, Data: fc},
		Layers: []scene.Layer{
			{
				ID:     observerFillLayer,
				Type:   scene.LayerFill,
				Filter: []any{"==", []any{"get", "kind"}, "radius"},
				Paint:  map[string]any{"fill-color": color.Fill, "fill-opacity": 0.15},
			},
			{
				ID:     observerLineLayer,
				Type:   scene.LayerLine,
				Filter: []any{"==", []any{"get", "kind"}, "radius"},
				Paint:  map[string]any{"line-color": color.Stroke, "line-width": 2},
			},
			{
				ID:     observerPointLayer,
				Type:   scene.LayerCircle,
				Filter: []any{"==", []any{"get", "kind"}, "observer"},
				Paint:  map[string]any{"circle-radius": 6, "circle-color": "#2563eb"},
			},
		},
	})
}

// Observer returns the observer position, if known.
func (a *AlertEngine) Observer() (domain.Coordinate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.observer == nil {
		return domain.Coordinate{}, false
	}
	return *a.observer, true
}

// Observe counts ev and, when it falls within AlertRadiusKm of the observer,
// advances the alert level and restarts the decay timer.
func (a *AlertEngine) Observe(ev domain.LightningEvent) {
	a.mu.Lock()
	a.total++
	a.lastMinute++
	if a.observer == nil {
		a.mu.Unlock()
		return
	}
	obs := *a.observer
	distance := domain.HaversineKm(obs.Lat, obs.Lng, ev.Latitude, ev.Longitude)
	if distance > AlertRadiusKm {
		a.mu.Unlock()
		return
	}

	now := a.clock.Now()
	from := a.level
	to := domain.AlertWarning
	if from != domain.AlertNormal && now.Sub(a.lastInRadius) <= AlertWindow {
		to = domain.AlertDanger
	}
	a.inRadius++
	a.lastInRadius = now
	a.level = to
	a.scheduleDecayLocked()
	fn := a.onChange
	a.mu.Unlock()

	if from == to {
		return
	}
	a.logger.Info("alert level changed", "from", from.String(), "to", to.String(), "distance_km", distance)
	a.applyLevel(to)
	if fn != nil {
		fn(domain.AlertChange{From: from, To: to, Observer: obs, DistanceKm: distance, At: now})
	}
}

// scheduleDecayLocked replaces the decay timer. Only the newest timer may reset the level.
func (a *AlertEngine) scheduleDecayLocked() {
	if a.decay != nil {
		a.decay.Stop()
	}
	a.decaySeq++
	seq := a.decaySeq
	a.decay = a.clock.AfterFunc(AlertWindow, func() { a.expire(seq) })
}

func (a *AlertEngine) expire(seq uint64) {
	a.mu.Lock()
	if seq != a.decaySeq || a.level == domain.AlertNormal {
		a.mu.Unlock()
		return
	}
	from := a.level
	a.level = domain.AlertNormal
	a.decay = nil
	var obs domain.Coordinate
	if a.observer != nil {
		obs = *a.observer
	}
	fn := a.onChange
	a.mu.Unlock()

	a.logger.Info("alert level reset", "from", from.String())
	a.applyLevel(domain.AlertNormal)
	if fn != nil {
		fn(domain.AlertChange{From: from, To: domain.AlertNormal, Observer: obs, At: a.clock.Now()})
	}
}

func (a *AlertEngine) applyLevel(level domain.AlertLevel) {
	a.metrics.AlertLevel.Set(float64(level))
	color := AlertColors[level]
	if a.engine.HasLayer(observerFillLayer) {
		_ = a.engine.SetPaintProperty(observerFillLayer, "fill-color", color.Fill)
	}
	if a.engine.HasLayer(observerLineLayer) {
		_ = a.engine.SetPaintProperty(observerLineLayer, "line-color", color.Stroke)
	}
}

// ResetLastMinute zeroes the last-minute counter.
func (a *AlertEngine) ResetLastMinute() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastMinute = 0
}

// Run resets the last-minute counter every CounterResetInterval until ctx is cancelled.
func (a *AlertEngine) Run(ctx context.Context) {
	ticker := a.clock.NewTicker(CounterResetInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			a.ResetLastMinute()
		}
	}
}

// Stop cancels the decay timer and drops back to the normal level, repainting
// the observer circle. Counters are kept.
func (a *AlertEngine) Stop() {
	a.mu.Lock()
	if a.decay != nil {
		a.decay.Stop()
		a.decay = nil
	}
	a.decaySeq++
	a.level = domain.AlertNormal
	a.mu.Unlock()

	a.applyLevel(domain.AlertNormal)
}

// Stats returns the current counters and level.
func (a *AlertEngine) Stats() AlertStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := AlertStats{
		Level:      a.level,
		Total:      a.total,
		LastMinute: a.lastMinute,
		InRadius:   a.inRadius,
	}
	if !a.lastInRadius.IsZero() {
		t := a.lastInRadius
		s.LastInRadius = &t
	}
	return s
}
