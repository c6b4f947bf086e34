package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orbee"

// Metrics holds the Prometheus counters, histograms, and gauges for the NDVI service.
type Metrics struct {
	// Backend REST client metrics.
	BackendRequests *prometheus.CounterVec   // labels: endpoint, outcome={success,error}
	BackendDuration *prometheus.HistogramVec // labels: endpoint

	// Resolution chain metrics.
	Resolutions  *prometheus.CounterVec // labels: operation, source={dataset,cached,live,synthetic}
	TierFailures *prometheus.CounterVec // labels: operation, tier={live,cache}
	CacheLookups *prometheus.CounterVec // labels: operation, result={hit,stale,miss}

	// AOI search metrics.
	SearchRequests  prometheus.Counter
	SearchDiscarded prometheus.Counter
	SelectDiscarded prometheus.Counter

	// Map viewer metrics.
	OverlayFailures *prometheus.CounterVec // labels: overlay={raster,critical_points}

	// Region monitor metrics.
	MonitorRunning    prometheus.Gauge
	ReadingsPublished prometheus.Counter
	PublishErrors     prometheus.Counter
	MonitorCycle      prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.BackendRequests,
		m.BackendDuration,
		m.Resolutions,
		m.TierFailures,
		m.CacheLookups,
		m.SearchRequests,
		m.SearchDiscarded,
		m.SelectDiscarded,
		m.OverlayFailures,
		m.MonitorRunning,
		m.ReadingsPublished,
		m.PublishErrors,
		m.MonitorCycle,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend REST requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Backend REST request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ndvi_resolutions_total",
			Help:      "Resolved NDVI queries by operation and answering tier.",
		}, []string{"operation", "source"}),
		TierFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ndvi_tier_failures_total",
			Help:      "Failed resolution tiers that fell through to the next one.",
		}, []string{"operation", "tier"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ndvi_cache_lookups_total",
			Help:      "NDVI cache lookups by operation and result.",
		}, []string{"operation", "result"}),
		SearchRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aoi_search_requests_total",
			Help:      "Municipality searches issued after the debounce window.",
		}),
		SearchDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aoi_search_discarded_total",
			Help:      "Search responses dropped because a newer query superseded them.",
		}),
		SelectDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aoi_select_discarded_total",
			Help:      "AOI selections dropped because a newer selection superseded them.",
		}),
		OverlayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_overlay_failures_total",
			Help:      "Optional map overlays that could not be attached.",
		}, []string{"overlay"}),
		MonitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_running",
			Help:      "1 when the region monitor is active, 0 when shut down.",
		}),
		ReadingsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_readings_published_total",
			Help:      "Region readings written to the readings topic.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_publish_errors_total",
			Help:      "Failed attempts to publish a batch of readings.",
		}),
		MonitorCycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_cycle_duration_seconds",
			Help:      "Duration of a complete resolve-and-publish monitor cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}
