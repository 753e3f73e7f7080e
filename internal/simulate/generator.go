// Package simulate produces synthetic lightning events when the live feed is
// unavailable or for demos.
package simulate

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-overlay-service/internal/audio"
	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
)

// Timing and placement of synthetic strikes.
const (
	BurstSize        = 3
	BurstSpacing     = 800 * time.Millisecond
	MinDelay         = 3 * time.Second
	MaxDelay         = 6 * time.Second
	ClusterChance    = 0.3
	ClusterSpacing   = 300 * time.Millisecond
	MaxDistanceKm    = 50.0
	defaultIntensity = 0.8
)

// Generator emits synthetic strikes around an origin until stopped. It satisfies the
// same Start/Stop contract as the live feed manager.
type Generator struct {
	clock   clockwork.Clock
	origin  func() domain.Coordinate
	sounder audio.Sounder
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	rng     *rand.Rand
	running bool
	gen     uint64
	nextID  uint64
	timers  map[uint64]clockwork.Timer
	emit    func(domain.LightningEvent)
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand sets the random source.
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) { g.rng = rng }
}

// WithSounder sets the thunder cue player. It is called inline on every emission,
// so anything that can stall should be wrapped in an audio.Player.
func WithSounder(s audio.Sounder) Option {
	return func(g *Generator) { g.sounder = s }
}

// New creates a stopped Generator. origin is consulted for every event and should
// return the observer location, or the map center when the observer is unknown.
func New(origin func() domain.Coordinate, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Generator {
	g := &Generator{
		clock:   clock,
		origin:  origin,
		sounder: audio.Nop{},
		logger:  logger,
		metrics: metrics,
		timers:  make(map[uint64]clockwork.Timer),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return g
}

// Start emits the opening burst and begins the self-rescheduling chain. Calling
// Start on a running generator is a no-op.
func (g *Generator) Start(_ context.Context, emit func(domain.LightningEvent)) {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return
	}
	g.running = true
	g.gen++
	g.emit = emit
	gen := g.gen
	for i := 1; i < BurstSize; i++ {
		last := i == BurstSize-1
		g.scheduleLocked(gen, time.Duration(i)*BurstSpacing, func() {
			g.fire(gen)
			if last {
				g.scheduleNext(gen)
			}
		})
	}
	g.mu.Unlock()

	g.logger.Info("simulation started")
	g.fire(gen)
}

// Stop cancels every pending emission.
func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return
	}
	g.running = false
	g.gen++
	for id, t := range g.timers {
		t.Stop()
		delete(g.timers, id)
	}
	g.emit = nil
	g.logger.Info("simulation stopped")
}

// Running reports whether the generator is active.
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Pending returns the number of scheduled emissions.
func (g *Generator) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

func (g *Generator) scheduleNext(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.live(gen) {
		return
	}
	delay := MinDelay + time.Duration(g.rng.Float64()*float64(MaxDelay-MinDelay))
	cluster := g.rng.Float64() < ClusterChance
	g.scheduleLocked(gen, delay, func() {
		g.fire(gen)
		g.scheduleNext(gen)
	})
	if cluster {
		g.scheduleLocked(gen, delay+ClusterSpacing, func() { g.fire(gen) })
	}
}

func (g *Generator) scheduleLocked(gen uint64, d time.Duration, fn func()) {
	g.nextID++
	id := g.nextID
	g.timers[id] = g.clock.AfterFunc(d, func() {
		g.mu.Lock()
		delete(g.timers, id)
		ok := g.live(gen)
		g.mu.Unlock()
		if ok {
			fn()
		}
	})
}

func (g *Generator) live(gen uint64) bool {
	return g.running && g.gen == gen
}

// fire emits one event if the generation is still live.
func (g *Generator) fire(gen uint64) {
	g.mu.Lock()
	if !g.live(gen) {
		g.mu.Unlock()
		return
	}
	emit := g.emit
	ev := g.eventLocked()
	g.mu.Unlock()

	g.metrics.StrikesReceived.WithLabelValues("simulated").Inc()
	emit(ev)
	audio.SafePlay(g.sounder, defaultIntensity, g.logger)
}

func (g *Generator) eventLocked() domain.LightningEvent {
	bearing := g.rng.Float64() * 360
	distance := g.rng.Float64() * MaxDistanceKm
	pos := domain.Offset(g.origin(), bearing, distance)

	raw, _ := json.Marshal(map[string]any{
		"lat":       pos.Lat,
		"lon":       pos.Lng,
		"simulated": true,
	})
	return domain.LightningEvent{
		Latitude:   pos.Lat,
		Longitude:  pos.Lng,
		ReceivedAt: g.clock.Now(),
		Simulated:  true,
		Raw:        raw,
	}
}
