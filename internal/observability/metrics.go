package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storm_overlay"

// Metrics holds the Prometheus counters, histograms, and gauges for the overlay service.
type Metrics struct {
	StrikesReceived      *prometheus.CounterVec // labels: source={live,simulated}
	FeedState            prometheus.Gauge
	FeedReconnects       prometheus.Counter
	FeedRetriesExhausted prometheus.Counter

	MarkersActive  prometheus.Gauge
	AlertLevel     prometheus.Gauge
	OverlayRunning prometheus.Gauge

	// Vendor polling metrics.
	PollRequests          *prometheus.CounterVec   // labels: feed={radar,polygons}, outcome={success,error}
	PollDuration          *prometheus.HistogramVec // labels: feed={radar,polygons}
	CoordinateCorrections *prometheus.CounterVec   // labels: outcome={swapped,invalid}

	// Publishing metrics.
	MessagesPublished *prometheus.CounterVec // labels: kind={strike,alert}
	PublishErrors     prometheus.Counter

	// Geocoding metrics.
	GeocodeRequests *prometheus.CounterVec // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec // labels: method={forward,reverse}, result={hit,miss}
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		StrikesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strikes_received_total",
			Help:      help("Lightning events received, by source."),
		}, []string{"source"}),
		FeedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_state",
			Help:      help("Lightning feed state: 0 disconnected, 1 connecting, 2 connected, 3 exhausted, 4 simulating."),
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      help("Scheduled reconnect attempts to the lightning feed."),
		}),
		FeedRetriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_retries_exhausted_total",
			Help:      help("Times the lightning feed gave up after the retry ceiling."),
		}),
		MarkersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "markers_active",
			Help:      help("Strike markers currently on the map."),
		}),
		AlertLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_level",
			Help:      help("Proximity alert level: 0 normal, 1 warning, 2 danger."),
		}),
		OverlayRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overlay_running",
			Help:      help("1 while the overlay controller is started, 0 otherwise."),
		}),
		PollRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_requests_total",
			Help:      help("Vendor metadata polls by feed and outcome."),
		}, []string{"feed", "outcome"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      help("Duration of one poll-and-rebuild cycle."),
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"feed"}),
		CoordinateCorrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordinate_corrections_total",
			Help:      help("Out-of-range vendor coordinates by outcome."),
		}, []string{"outcome"}),
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      help("Messages handed to the Kafka publisher, by kind."),
		}, []string{"kind"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      help("Kafka publish failures."),
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      help("Geocoding API requests by method and outcome."),
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      help("Geocoding cache lookups by method and result."),
		}, []string{"method", "result"}),
	}
}

// NewMetrics creates and registers all overlay metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.StrikesReceived,
		m.FeedState,
		m.FeedReconnects,
		m.FeedRetriesExhausted,
		m.MarkersActive,
		m.AlertLevel,
		m.OverlayRunning,
		m.PollRequests,
		m.PollDuration,
		m.CoordinateCorrections,
		m.MessagesPublished,
		m.PublishErrors,
		m.GeocodeRequests,
		m.GeocodeCache,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}
