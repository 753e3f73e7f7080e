package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Sferic lightning feed and radar overlay.
	SfericFeedHost        string
	SfericFeedKey         string
	SfericFeedURL         string // overrides the URL built from host and key
	SfericAPIBaseURL      string
	SfericSubscriptionKey string
	FallbackSimulation    bool
	RadarPollInterval     time.Duration

	// Storm polygon backend.
	BackendBaseURL      string
	BackendToken        string
	PolygonPollInterval time.Duration

	OpenWeatherAPIKey string

	// Observer location: a fixed position, or a place resolved through Mapbox.
	ObserverLat   *float64
	ObserverLng   *float64
	ObserverPlace string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Kafka publishing is enabled when brokers are set.
	KafkaBrokers []string
	KafkaTopic   string

	AudioOutput string
}

// LiveFeedEnabled reports whether a lightning feed key or URL is configured.
func (c *Config) LiveFeedEnabled() bool { return c.SfericFeedKey != "" || c.SfericFeedURL != "" }

// RadarEnabled reports whether a radar subscription key is configured.
func (c *Config) RadarEnabled() bool { return c.SfericSubscriptionKey != "" }

// KafkaEnabled reports whether strikes should be published.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	radarInterval, err := parsePositiveDuration("RADAR_POLL_INTERVAL", "300s")
	if err != nil {
		return nil, err
	}
	polygonInterval, err := parsePositiveDuration("POLYGON_POLL_INTERVAL", "120s")
	if err != nil {
		return nil, err
	}

	fallback, err := strconv.ParseBool(sharedcfg.EnvOrDefault("FALLBACK_SIMULATION", "true"))
	if err != nil {
		return nil, errors.New("invalid FALLBACK_SIMULATION: must be a boolean")
	}

	observerLat, err := parseOptionalFloat("OBSERVER_LAT", -90, 90)
	if err != nil {
		return nil, err
	}
	observerLng, err := parseOptionalFloat("OBSERVER_LNG", -180, 180)
	if err != nil {
		return nil, err
	}
	if (observerLat == nil) != (observerLng == nil) {
		return nil, errors.New("OBSERVER_LAT and OBSERVER_LNG must be set together")
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		SfericFeedHost:        sharedcfg.EnvOrDefault("SFERIC_FEED_HOST", "lx.sferic.earthnetworks.com"),
		SfericFeedKey:         os.Getenv("SFERIC_FEED_KEY"),
		SfericFeedURL:         os.Getenv("SFERIC_FEED_URL"),
		SfericAPIBaseURL:      sharedcfg.EnvOrDefault("SFERIC_API_BASE_URL", "https://earthnetworks.azure-api.net"),
		SfericSubscriptionKey: os.Getenv("SFERIC_SUBSCRIPTION_KEY"),
		FallbackSimulation:    fallback,
		RadarPollInterval:     radarInterval,

		BackendBaseURL:      sharedcfg.EnvOrDefault("BACKEND_BASE_URL", "http://localhost:3000"),
		BackendToken:        os.Getenv("BACKEND_TOKEN"),
		PolygonPollInterval: polygonInterval,

		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),

		ObserverLat:   observerLat,
		ObserverLng:   observerLng,
		ObserverPlace: os.Getenv("OBSERVER_PLACE"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		KafkaBrokers: sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "lightning-strikes"),

		AudioOutput: os.Getenv("AUDIO_OUTPUT"),
	}

	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.ObserverPlace != "" && !cfg.MapboxEnabled {
		return nil, errors.New("OBSERVER_PLACE requires MAPBOX_TOKEN")
	}

	return cfg, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseOptionalFloat(key string, lo, hi float64) (*float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < lo || v > hi {
		return nil, fmt.Errorf("invalid %s: must be a number in [%g, %g]", key, lo, hi)
	}
	return &v, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
