package overlay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/feed"
	"github.com/couchcryptid/storm-overlay-service/internal/scene"
)

type fakeSource struct {
	mu      sync.Mutex
	starts  int
	stops   int
	emit    func(domain.LightningEvent)
	simMark int
	exhaust func()
	state   feed.State
}

func (f *fakeSource) Start(_ context.Context, emit func(domain.LightningEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.emit = emit
	f.state = feed.StateConnected
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = feed.StateDisconnected
}

func (f *fakeSource) OnExhausted(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exhaust = fn
}

func (f *fakeSource) MarkSimulating() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simMark++
	f.state = feed.StateSimulating
	return true
}

func (f *fakeSource) Status() feed.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return feed.Status{State: f.state}
}

func (f *fakeSource) giveUp() {
	f.mu.Lock()
	fn := f.exhaust
	f.state = feed.StateExhausted
	f.mu.Unlock()
	fn()
}

func (f *fakeSource) send(ev domain.LightningEvent) {
	f.mu.Lock()
	emit := f.emit
	f.mu.Unlock()
	emit(ev)
}

func (f *fakeSource) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type recordingPublisher struct {
	mu      sync.Mutex
	strikes []domain.LightningEvent
	alerts  []domain.AlertChange
}

func (p *recordingPublisher) PublishStrike(_ context.Context, ev domain.LightningEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strikes = append(p.strikes, ev)
	return nil
}

func (p *recordingPublisher) PublishAlert(_ context.Context, c domain.AlertChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, c)
	return nil
}

type harness struct {
	clock     *clockwork.FakeClock
	scene     *scene.Scene
	live      *fakeSource
	sim       *fakeSource
	radar     *stubRadar
	polygons  *stubPolygons
	publisher *recordingPublisher
	ctrl      *Controller
}

func newHarness(t *testing.T, locator Locator, opts Options) *harness {
	t.Helper()
	h := &harness{
		clock:     clockwork.NewFakeClock(),
		scene:     newScene(),
		live:      &fakeSource{},
		sim:       &fakeSource{},
		radar:     &stubRadar{slots: []domain.RadarTimeSlot{"slot-1"}},
		polygons:  &stubPolygons{polys: samplePolygons()},
		publisher: &recordingPublisher{},
	}
	h.ctrl = NewController(Deps{
		Engine:    h.scene,
		Live:      h.live,
		Simulator: h.sim,
		Radar:     h.radar,
		Polygons:  h.polygons,
		Locator:   locator,
		Publisher: h.publisher,
		Clock:     h.clock,
		Logger:    discardLogger(),
		Metrics:   testMetrics(),
	}, opts)
	t.Cleanup(h.ctrl.Stop)
	return h
}

func (h *harness) ready(t *testing.T) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return h.scene.HasLayer(radarLayer) && h.scene.HasLayer(labelLayer) && h.ctrl.Status().Observer != nil
	}, time.Second, 5*time.Millisecond)
}

func TestController_StartTwice(t *testing.T) {
	h := newHarness(t, FixedLocator(observer), Options{FallbackSimulation: true})
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ready(t)
	before := h.scene.Snapshot()

	err := h.ctrl.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyStarted)

	starts, _ := h.live.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, before.Layers, h.scene.Snapshot().Layers)
}

func TestController_LocatesObserver(t *testing.T) {
	h := newHarness(t, FixedLocator(observer), Options{})
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ready(t)

	st := h.ctrl.Status()
	assert.Equal(t, observer, *st.Observer)
	assert.Empty(t, st.GeolocationError)
	assert.Equal(t, observer, h.scene.Center())
	assert.True(t, h.scene.HasLayer(observerFillLayer))
	assert.Equal(t, observer, h.ctrl.Origin())
}

func TestController_LocateFailureFallsBackToDefaultView(t *testing.T) {
	failing := LocatorFunc(func(context.Context) (domain.Coordinate, error) {
		return domain.Coordinate{}, errors.New("permission denied")
	})
	h := newHarness(t, failing, Options{})
	require.NoError(t, h.ctrl.Start(context.Background()))

	assert.Eventually(t, func() bool { return h.ctrl.Status().GeolocationError != "" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, GeolocationUnavailable, h.ctrl.Status().GeolocationError)
	snap := h.scene.Snapshot()
	require.NotNil(t, snap.Camera.Bounds)
	assert.Equal(t, DefaultBounds, *snap.Camera.Bounds)
	assert.Nil(t, h.ctrl.Status().Observer)
	assert.Equal(t, h.scene.Center(), h.ctrl.Origin())
}

func TestController_FanOut(t *testing.T) {
	h := newHarness(t, FixedLocator(observer), Options{})
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ready(t)

	h.live.send(strikeAt(domain.Offset(observer, 45, 3)))
	h.live.send(strikeAt(domain.Offset(observer, 45, 80)))

	st := h.ctrl.Status()
	assert.Equal(t, 2, st.Markers)
	assert.Equal(t, 2, st.Alert.Total)
	assert.Equal(t, 1, st.Alert.InRadius)
	assert.Equal(t, domain.AlertWarning, st.Alert.Level)

	h.publisher.mu.Lock()
	defer h.publisher.mu.Unlock()
	assert.Len(t, h.publisher.strikes, 2)
	require.Len(t, h.publisher.alerts, 1)
	assert.Equal(t, domain.AlertWarning, h.publisher.alerts[0].To)
}

func TestController_ExhaustionStartsSimulationOnce(t *testing.T) {
	h := newHarness(t, FixedLocator(observer), Options{FallbackSimulation: true})
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ready(t)

	h.live.giveUp()

	simStarts, _ := h.sim.counts()
	assert.Equal(t, 1, simStarts)
	assert.True(t, h.ctrl.Status().Simulating)
	assert.Equal(t, feed.StateSimulating, h.ctrl.Status().Feed.State)
	require.NoError(t, h.ctrl.CheckReadiness(context.Background()))

	h.sim.send(domain.LightningEvent{Latitude: 41.1, Longitude: 44.1, Simulated: true})
	assert.Equal(t, 1, h.ctrl.Status().Markers)
}

func TestController_ExhaustionWithoutFallback(t *testing.T) {
	h := newHarness(t, FixedLocator(observer), Options{FallbackSimulation: false})
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ready(t)

	h.live.giveUp()
	simStarts, _ := h.sim.counts()
	assert.Zero(t, simStarts)
	assert.False(t, h.ctrl.Status().Simulating)
}

func TestController_NoLiveFeedSimulatesImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sim := &fakeSource{}
	ctrl := NewController(Deps{
		Engine:    newScene(),
		Simulator: sim,
		Clock:     clock,
		Logger:    discardLogger(),
		Metrics:   testMetrics(),
	}, Options{FallbackSimulation: true})
	require.NoError(t, ctrl.Start(context.Background()))
	defer ctrl.Stop()

	starts, _ := sim.counts()
	assert.Equal(t, 1, starts)
	assert.True(t, ctrl.Status().Simulating)
	assert.Nil(t, ctrl.Status().Feed)
}

func TestController_PollLoops(t *testing.T) {
	h := newHarness(t, FixedLocator(observer), Options{})
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ready(t)

	// Marker sweep, counter reset, radar and polygon tickers.
	blockUntil(t, h.clock, 4)

	h.clock.Advance(DefaultPolygonInterval)
	assert.Eventually(t, func() bool { return h.polygons.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.radar.Calls())

	h.clock.Advance(DefaultRadarInterval - DefaultPolygonInterval)
	assert.Eventually(t, func() bool { return h.radar.Calls() >= 2 && h.polygons.Calls() >= 3 },
		time.Second, 5*time.Millisecond)

	st := h.ctrl.Status()
	assert.Equal(t, domain.RadarTimeSlot("slot-1"), st.RadarSlot)
	assert.Equal(t, 3, st.Polygons)
}

func TestController_StopTearsDown(t *testing.T) {
	h := newHarness(t, FixedLocator(observer), Options{FallbackSimulation: true})
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ready(t)

	h.live.send(strikeAt(observer))
	require.Equal(t, 1, h.ctrl.Status().Markers)

	h.ctrl.Stop()
	_, liveStops := h.live.counts()
	_, simStops := h.sim.counts()
	assert.Equal(t, 1, liveStops)
	assert.Equal(t, 1, simStops)
	assert.Empty(t, h.scene.Markers())
	assert.False(t, h.ctrl.Running())
	require.Error(t, h.ctrl.CheckReadiness(context.Background()))

	// Late events after teardown are dropped.
	h.live.send(strikeAt(observer))
	assert.Zero(t, h.ctrl.Status().Markers)

	// Timers no longer fire into the map.
	calls := h.polygons.Calls()
	h.clock.Advance(10 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, h.polygons.Calls())

	// A stopped controller can be started again.
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ctrl.Stop()
	h.ctrl.Stop()
}

func TestController_ApplyLayerConfig(t *testing.T) {
	h := newHarness(t, FixedLocator(observer), Options{CloudTileURL: CloudTileURL("key")})
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ready(t)
	assert.Eventually(t, func() bool { return h.scene.HasLayer(radarLayer) }, time.Second, 5*time.Millisecond)

	bad := domain.DefaultLayerConfig()
	bad.CloudOpacity = 2
	require.ErrorIs(t, h.ctrl.ApplyLayerConfig(bad), ErrInvalidLayerConfig)
	assert.Equal(t, domain.DefaultLayerConfig(), h.ctrl.LayerConfig())

	cfg := domain.DefaultLayerConfig()
	cfg.MapStyle = "dark"
	cfg.CloudOpacity = 0.2
	cfg.RadarOpacity = 0.9
	cfg.ShowPolygons = false
	require.NoError(t, h.ctrl.ApplyLayerConfig(cfg))

	snap := h.scene.Snapshot()
	assert.Equal(t, "dark", snap.Style)
	clouds, _ := h.scene.Layer(cloudLayer)
	assert.InDelta(t, 0.2, clouds.Paint["raster-opacity"], 1e-9)
	radar, _ := h.scene.Layer(radarLayer)
	assert.InDelta(t, 0.9, radar.Paint["raster-opacity"], 1e-9)
	alerts, _ := h.scene.Layer(alertFillLayer)
	assert.Equal(t, "none", alerts.Layout["visibility"])
	assert.Equal(t, cfg, h.ctrl.Status().Config)
}
