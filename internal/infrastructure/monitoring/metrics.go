package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Invocation metrics
	InvocationsTotal    *prometheus.CounterVec
	InvocationDuration  *prometheus.HistogramVec
	InvocationsInFlight prometheus.Gauge
	ModuleSize          prometheus.Histogram

	// Compiled-module cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	registry *prometheus.Registry

	// Last engine-reported cache totals, for delta accounting
	cacheMu         sync.Mutex
	lastCacheHits   uint64
	lastCacheMisses uint64
}

// NewMetrics creates a metrics collector on its own registry, so multiple
// daemons (and tests) can coexist in one process
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		startTime: time.Now(),
		registry:  registry,

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Invocation metrics
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_invocations_total",
				Help: "Total number of sandbox invocations",
			},
			[]string{"engine", "status", "error_kind"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_invocation_duration_seconds",
				Help:    "Sandbox invocation duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
			},
			[]string{"engine"},
		),
		InvocationsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_invocations_in_flight",
				Help: "Number of invocations currently executing",
			},
		),
		ModuleSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_module_size_bytes",
				Help:    "Size of submitted modules in bytes",
				Buckets: []float64{1024, 16384, 131072, 1048576, 4194304, 16777216},
			},
		),

		// Cache metrics
		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_module_cache_hits_total",
				Help: "Compiled-module cache hits",
			},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_module_cache_misses_total",
				Help: "Compiled-module cache misses",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// Registry exposes the backing registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}
