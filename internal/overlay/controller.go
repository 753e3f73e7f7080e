package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/feed"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
	"github.com/couchcryptid/storm-overlay-service/internal/scene"
)

var (
	// ErrAlreadyStarted is returned by Start on a running controller.
	ErrAlreadyStarted = errors.New("overlay already started")
	// ErrInvalidLayerConfig wraps layer config validation failures.
	ErrInvalidLayerConfig = errors.New("invalid layer config")
)

// LocateTimeout bounds the one-shot observer lookup.
const LocateTimeout = 10 * time.Second

// ObserverZoom is the camera zoom used once the observer is known.
const ObserverZoom = 9.0

// GeolocationUnavailable is the status shown when the observer could not be located.
const GeolocationUnavailable = "location unavailable, showing default view"

// DefaultBounds is shown when the observer cannot be located.
var DefaultBounds = scene.Bounds{West: 40.0, South: 41.0, East: 46.7, North: 43.6}

// LiveFeed is the real lightning feed: an EventSource that can give up.
type LiveFeed interface {
	EventSource
	OnExhausted(fn func())
	MarkSimulating() bool
	Status() feed.Status
}

// Deps are the collaborators of a Controller. Nil Live, Simulator, Radar,
// Polygons, Locator and Publisher disable the corresponding feature.
type Deps struct {
	Engine    MapEngine
	Live      LiveFeed
	Simulator EventSource
	Radar     RadarSource
	Polygons  PolygonSource
	Locator   Locator
	Publisher Publisher

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Options tune a Controller.
type Options struct {
	// FallbackSimulation starts the simulator once the live feed gives up, or
	// immediately when there is no live feed.
	FallbackSimulation bool
	RadarInterval      time.Duration
	PolygonInterval    time.Duration
	// CloudTileURL enables the cloud layer when set.
	CloudTileURL  string
	DefaultBounds *scene.Bounds
	LayerConfig   *domain.LayerConfig
}

// Status is the overlay state shown to clients.
type Status struct {
	Running          bool                 `json:"running"`
	Feed             *feed.Status         `json:"feed,omitempty"`
	Simulating       bool                 `json:"simulating"`
	GeolocationError string               `json:"geolocationError,omitempty"`
	Observer         *domain.Coordinate   `json:"observer,omitempty"`
	Alert            AlertStats           `json:"alert"`
	Markers          int                  `json:"markers"`
	RadarSlot        domain.RadarTimeSlot `json:"radarSlot,omitempty"`
	Polygons         int                  `json:"polygons"`
	Config           domain.LayerConfig   `json:"config"`
}

// Controller owns the overlay lifecycle: it starts the event source, the timer
// loops and the vendor pollers, and tears all of them down on Stop.
type Controller struct {
	deps    Deps
	opts    Options
	bounds  scene.Bounds
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	markers  *Markers
	alert    *AlertEngine
	radar    *RadarLayer
	polygons *PolygonLayers

	// mu serializes Start and Stop.
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	alive      atomic.Bool
	simulating atomic.Bool

	stateMu   sync.Mutex
	runCtx    context.Context
	cfg       domain.LayerConfig
	geoStatus string
}

// NewController wires the overlay components around deps.Engine.
func NewController(deps Deps, opts Options) *Controller {
	if opts.RadarInterval <= 0 {
		opts.RadarInterval = DefaultRadarInterval
	}
	if opts.PolygonInterval <= 0 {
		opts.PolygonInterval = DefaultPolygonInterval
	}
	cfg := domain.DefaultLayerConfig()
	if opts.LayerConfig != nil {
		cfg = *opts.LayerConfig
	}
	bounds := DefaultBounds
	if opts.DefaultBounds != nil {
		bounds = *opts.DefaultBounds
	}

	c := &Controller{
		deps:    deps,
		opts:    opts,
		bounds:  bounds,
		clock:   deps.Clock,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		cfg:     cfg,
		markers: NewMarkers(deps.Engine, deps.Clock, deps.Logger, deps.Metrics),
		alert:   NewAlertEngine(deps.Engine, deps.Clock, deps.Logger, deps.Metrics),
	}
	if deps.Radar != nil {
		c.radar = NewRadarLayer(deps.Engine, deps.Radar, cfg, deps.Logger, deps.Metrics)
	}
	if deps.Polygons != nil {
		c.polygons = NewPolygonLayers(deps.Engine, deps.Polygons, cfg, deps.Logger, deps.Metrics)
	}
	c.alert.OnChange(c.publishAlert)
	return c
}

// Start brings the overlay up. A second Start before Stop returns ErrAlreadyStarted
// and leaves the map untouched.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stateMu.Lock()
	c.runCtx = runCtx
	c.stateMu.Unlock()
	c.alive.Store(true)
	c.metrics.OverlayRunning.Set(1)

	cfg := c.LayerConfig()
	c.deps.Engine.SetStyle(cfg.MapStyle)
	if c.opts.CloudTileURL != "" {
		if err := ReplaceGroup(c.deps.Engine, cloudGroup(c.opts.CloudTileURL, cfg.CloudOpacity)); err != nil {
			c.logger.Warn("add cloud layer failed", "error", err)
		}
	}

	c.spawn(func() { c.locate(runCtx) })
	c.spawn(func() { c.markers.Run(runCtx) })
	c.spawn(func() { c.alert.Run(runCtx) })
	if c.radar != nil {
		c.spawn(func() {
			every(runCtx, c.clock, c.opts.RadarInterval, func(ctx context.Context) {
				if !c.alive.Load() {
					return
				}
				if err := c.radar.Refresh(ctx); err != nil {
					c.logger.Warn("radar refresh failed", "error", err)
				}
			})
		})
	}
	if c.polygons != nil {
		c.polygons.Bind()
		c.spawn(func() {
			every(runCtx, c.clock, c.opts.PolygonInterval, func(ctx context.Context) {
				if !c.alive.Load() {
					return
				}
				if err := c.polygons.Refresh(ctx); err != nil {
					c.logger.Warn("storm polygon refresh failed", "error", err)
				}
			})
		})
	}

	switch {
	case c.deps.Live != nil:
		c.deps.Live.OnExhausted(c.fallback)
		c.deps.Live.Start(runCtx, c.HandleEvent)
	case c.opts.FallbackSimulation && c.deps.Simulator != nil:
		c.startSimulation()
	default:
		c.logger.Warn("no lightning source configured")
	}

	c.logger.Info("overlay started",
		"live_feed", c.deps.Live != nil,
		"radar", c.radar != nil,
		"polygons", c.polygons != nil,
		"clouds", c.opts.CloudTileURL != "",
	)
	return nil
}

// Stop closes the socket, stops the simulator and every timer loop, and removes
// all markers. It is safe to call on a stopped controller.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.alive.Store(false)
	c.cancel()

	// The live feed goes first: its exhaustion callback may start the simulator.
	if c.deps.Live != nil {
		c.deps.Live.Stop()
	}
	if c.deps.Simulator != nil {
		c.deps.Simulator.Stop()
	}
	c.wg.Wait()

	c.markers.Clear()
	c.alert.Stop()
	c.simulating.Store(false)
	c.started = false
	c.metrics.OverlayRunning.Set(0)
	c.logger.Info("overlay stopped")
}

// Running reports whether the controller is started.
func (c *Controller) Running() bool {
	return c.alive.Load()
}

// CheckReadiness reports whether the overlay is up and has an event source.
func (c *Controller) CheckReadiness(_ context.Context) error {
	if !c.alive.Load() {
		return errors.New("overlay not started")
	}
	if c.simulating.Load() || c.deps.Live == nil {
		return nil
	}
	if st := c.deps.Live.Status(); st.State == feed.StateExhausted {
		return errors.New(st.Error)
	}
	return nil
}

// HandleEvent fans one strike out to the markers, the alert engine and the publisher.
func (c *Controller) HandleEvent(ev domain.LightningEvent) {
	if !c.alive.Load() {
		return
	}
	if _, err := c.markers.Add(ev); err != nil {
		c.logger.Warn("add strike marker failed", "error", err)
	}
	c.alert.Observe(ev)

	if c.deps.Publisher != nil {
		if err := c.deps.Publisher.PublishStrike(c.runContext(), ev); err != nil {
			c.logger.Warn("publish strike failed", "error", err)
		}
	}
}

// Origin is where simulated strikes are placed: the observer when known,
// otherwise the map center.
func (c *Controller) Origin() domain.Coordinate {
	if obs, ok := c.alert.Observer(); ok {
		return obs
	}
	return c.deps.Engine.Center()
}

// LayerConfig returns the current layer settings.
func (c *Controller) LayerConfig() domain.LayerConfig {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.cfg
}

// ApplyLayerConfig validates cfg and applies it to every affected layer.
func (c *Controller) ApplyLayerConfig(cfg domain.LayerConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLayerConfig, err)
	}
	c.stateMu.Lock()
	c.cfg = cfg
	c.stateMu.Unlock()

	c.deps.Engine.SetStyle(cfg.MapStyle)
	if c.radar != nil {
		c.radar.Apply(cfg)
	}
	if c.polygons != nil {
		c.polygons.Apply(cfg)
	}
	if c.deps.Engine.HasLayer(cloudLayer) {
		_ = c.deps.Engine.SetPaintProperty(cloudLayer, "raster-opacity", cfg.CloudOpacity)
	}
	c.logger.Debug("layer config applied", "config", cfg)
	return nil
}

// Status returns a snapshot of the overlay.
func (c *Controller) Status() Status {
	c.stateMu.Lock()
	st := Status{
		Running:          c.alive.Load(),
		Simulating:       c.simulating.Load(),
		GeolocationError: c.geoStatus,
		Config:           c.cfg,
	}
	c.stateMu.Unlock()

	if c.deps.Live != nil {
		fs := c.deps.Live.Status()
		st.Feed = &fs
	}
	if obs, ok := c.alert.Observer(); ok {
		st.Observer = &obs
	}
	st.Alert = c.alert.Stats()
	st.Markers = c.markers.Len()
	if c.radar != nil {
		st.RadarSlot = c.radar.Slot()
	}
	if c.polygons != nil {
		st.Polygons = c.polygons.Count()
	}
	return st
}

func (c *Controller) runContext() context.Context {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.runCtx
}

func (c *Controller) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Controller) locate(ctx context.Context) {
	if c.deps.Locator == nil {
		c.locateFailed(errors.New("no locator configured"))
		return
	}
	lctx, cancel := context.WithTimeout(ctx, LocateTimeout)
	defer cancel()

	pos, err := c.deps.Locator.Locate(lctx)
	if !c.alive.Load() {
		return
	}
	if err == nil && !(domain.ValidLatitude(pos.Lat) && domain.ValidLongitude(pos.Lng)) {
		err = fmt.Errorf("observer out of range: %v", pos)
	}
	if err != nil {
		c.locateFailed(err)
		return
	}

	if err := c.alert.SetObserver(pos); err != nil {
		c.logger.Warn("draw observer radius failed", "error", err)
	}
	c.deps.Engine.FlyTo(pos, ObserverZoom)
	c.logger.Info("observer located", "lat", pos.Lat, "lng", pos.Lng)
}

func (c *Controller) locateFailed(err error) {
	c.deps.Engine.FitBounds(c.bounds)
	c.stateMu.Lock()
	c.geoStatus = GeolocationUnavailable
	c.stateMu.Unlock()
	c.logger.Warn("observer location unavailable", "error", err)
}

// fallback runs on the feed goroutine once the live feed gives up.
func (c *Controller) fallback() {
	if !c.alive.Load() {
		return
	}
	if !c.opts.FallbackSimulation || c.deps.Simulator == nil {
		c.logger.Warn("lightning feed unavailable and simulation disabled")
		return
	}
	c.logger.Info("falling back to simulated lightning")
	c.startSimulation()
}

func (c *Controller) startSimulation() {
	if c.deps.Live != nil {
		c.deps.Live.MarkSimulating()
	}
	c.simulating.Store(true)
	c.deps.Simulator.Start(c.runContext(), c.HandleEvent)
}

func (c *Controller) publishAlert(change domain.AlertChange) {
	if c.deps.Publisher == nil || !c.alive.Load() {
		return
	}
	if err := c.deps.Publisher.PublishAlert(c.runContext(), change); err != nil {
		c.logger.Warn("publish alert failed", "error", err)
	}
}
