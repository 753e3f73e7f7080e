package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	backendadapter "github.com/couchcryptid/storm-overlay-service/internal/adapter/backend"
	httpadapter "github.com/couchcryptid/storm-overlay-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/storm-overlay-service/internal/adapter/kafka"
	"github.com/couchcryptid/storm-overlay-service/internal/adapter/mapbox"
	"github.com/couchcryptid/storm-overlay-service/internal/adapter/sferic"
	"github.com/couchcryptid/storm-overlay-service/internal/audio"
	"github.com/couchcryptid/storm-overlay-service/internal/config"
	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/feed"
	"github.com/couchcryptid/storm-overlay-service/internal/observability"
	"github.com/couchcryptid/storm-overlay-service/internal/overlay"
	"github.com/couchcryptid/storm-overlay-service/internal/scene"
	"github.com/couchcryptid/storm-overlay-service/internal/simulate"
)

const (
	vendorTimeout     = 15 * time.Second
	audioWriteTimeout = 2 * time.Second
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	layerCfg := domain.DefaultLayerConfig()
	mapScene := scene.New(layerCfg.MapStyle)

	var ctrl *overlay.Controller
	deps := overlay.Deps{
		Engine:  mapScene,
		Clock:   clock,
		Logger:  logger,
		Metrics: metrics,
	}

	if cfg.LiveFeedEnabled() {
		feedURL := cfg.SfericFeedURL
		if feedURL == "" {
			feedURL = sferic.FeedURL(cfg.SfericFeedHost, cfg.SfericFeedKey)
		}
		deps.Live = feed.NewManager(feed.WebsocketDialer{}, feed.Options{URL: feedURL}, clock, logger, metrics)
		logger.Info("lightning feed enabled", "host", cfg.SfericFeedHost, "override", cfg.SfericFeedURL != "")
	} else {
		logger.Info("lightning feed disabled")
	}

	var simOpts []simulate.Option
	if cfg.AudioOutput != "" {
		sink := audio.NewFileSink(cfg.AudioOutput, audioWriteTimeout)
		defer sink.Close()
		player := audio.NewPlayer(audio.NewPCMSounder(sink, nil), logger)
		defer player.Close()
		simOpts = append(simOpts, simulate.WithSounder(player))
		logger.Info("thunder cues enabled", "path", cfg.AudioOutput, "sample_rate", audio.SampleRate)
	}
	if cfg.FallbackSimulation {
		origin := func() domain.Coordinate { return ctrl.Origin() }
		deps.Simulator = simulate.New(origin, clock, logger, metrics, simOpts...)
	}

	if cfg.RadarEnabled() {
		deps.Radar = sferic.NewClient(cfg.SfericAPIBaseURL, cfg.SfericSubscriptionKey, vendorTimeout)
	} else {
		logger.Info("radar overlay disabled")
	}
	deps.Polygons = backendadapter.NewClient(cfg.BackendBaseURL, cfg.BackendToken, vendorTimeout)

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	}

	switch {
	case cfg.ObserverLat != nil:
		observer := domain.Coordinate{Lat: *cfg.ObserverLat, Lng: *cfg.ObserverLng}
		deps.Locator = overlay.FixedLocator(observer)
		if geocoder != nil {
			go describeObserver(geocoder, observer, logger)
		}
	case cfg.ObserverPlace != "":
		deps.Locator = mapbox.NewLocator(geocoder, cfg.ObserverPlace, "", logger)
	default:
		logger.Info("no observer configured, proximity alerts disabled")
	}

	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled() {
		publisher = kafkaadapter.NewPublisher(cfg, logger, metrics)
		deps.Publisher = publisher
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic)
	}

	opts := overlay.Options{
		FallbackSimulation: cfg.FallbackSimulation,
		RadarInterval:      cfg.RadarPollInterval,
		PolygonInterval:    cfg.PolygonPollInterval,
		LayerConfig:        &layerCfg,
	}
	if cfg.OpenWeatherAPIKey != "" {
		opts.CloudTileURL = overlay.CloudTileURL(cfg.OpenWeatherAPIKey)
	}
	ctrl = overlay.NewController(deps, opts)

	api := httpadapter.NewAPI(ctrl, mapScene, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, ctrl, api, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := ctrl.Start(ctx); err != nil {
		logger.Error("overlay start failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	ctrl.Stop()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func describeObserver(geocoder domain.Geocoder, observer domain.Coordinate, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), overlay.LocateTimeout)
	defer cancel()
	place, err := mapbox.Describe(ctx, geocoder, observer)
	if err != nil {
		logger.Warn("observer reverse geocode failed", "error", err)
		return
	}
	logger.Info("observer position", "lat", observer.Lat, "lng", observer.Lng, "place", place)
}
