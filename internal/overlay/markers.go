package overlay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
	"github.com/couchcryptid/storm-overlay-service/internal/scene"
)

const (
	// MarkerTTL is how long a strike marker stays on the map.
	MarkerTTL = 10 * time.Second
	// SweepInterval is the cadence of the stale-marker sweep.
	SweepInterval = 60 * time.Second
	// MaxMarkerAge is the age past which the sweep removes a marker whose own timer leaked.
	MaxMarkerAge = 5 * time.Minute
)

type trackedMarker struct {
	createdAt time.Time
	timer     clockwork.Timer
}

// Markers owns the transient strike markers on the map.
type Markers struct {
	engine  MapEngine
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	active map[string]*trackedMarker
}

// NewMarkers creates an empty marker set.
func NewMarkers(engine MapEngine, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Markers {
	return &Markers{
		engine:  engine,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		active:  make(map[string]*trackedMarker),
	}
}

// Add places a marker for ev and schedules its removal after MarkerTTL.
func (m *Markers) Add(ev domain.LightningEvent) (string, error) {
	id := uuid.NewString()
	now := m.clock.Now()
	kind := "strike"
	if ev.Simulated {
		kind = "simulated"
	}

	if err := m.engine.AddMarker(scene.Marker{
		ID:        id,
		Position:  ev.Coordinate(),
		Kind:      kind,
		CreatedAt: now,
	}); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = &trackedMarker{
		createdAt: now,
		timer:     m.clock.AfterFunc(MarkerTTL, func() { m.Remove(id) }),
	}
	m.metrics.MarkersActive.Set(float64(len(m.active)))
	return id, nil
}

// Remove takes a marker off the map. Removing an unknown or already-removed
// marker is a no-op.
func (m *Markers) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

func (m *Markers) removeLocked(id string) {
	tm, ok := m.active[id]
	if !ok {
		return
	}
	tm.timer.Stop()
	delete(m.active, id)
	if err := m.engine.RemoveMarker(id); err != nil && !errors.Is(err, scene.ErrNotFound) {
		m.logger.Warn("remove marker failed", "marker", id, "error", err)
	}
	m.metrics.MarkersActive.Set(float64(len(m.active)))
}

// Sweep removes markers older than MaxMarkerAge and returns how many it removed.
func (m *Markers) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, tm := range m.active {
		if now.Sub(tm.createdAt) >= MaxMarkerAge {
			m.removeLocked(id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("swept stale markers", "removed", removed)
	}
	return removed
}

// Run sweeps on every SweepInterval until ctx is cancelled.
func (m *Markers) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Sweep(m.clock.Now())
		}
	}
}

// Clear cancels every pending removal and removes all markers.
func (m *Markers) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.active {
		m.removeLocked(id)
	}
}

// Len returns the number of markers on the map.
func (m *Markers) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
