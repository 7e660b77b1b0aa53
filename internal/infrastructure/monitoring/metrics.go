package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the runtime. Each Metrics value
// owns its own registry so independent instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Policy metrics
	PermissionChecks  *prometheus.CounterVec
	PolicyApplies     *prometheus.CounterVec
	PermissionDenials prometheus.Counter

	// Sandbox metrics
	SandboxesActive prometheus.Gauge
	SandboxesTotal  prometheus.Counter

	// Bridge metrics
	BridgeConnections      prometheus.Gauge
	BridgeConnectionsTotal prometheus.Counter
	BridgeDispatchDuration *prometheus.HistogramVec
	BridgeHandlerFaults    *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSEvents      *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketplace_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		PermissionChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_permission_checks_total",
				Help: "Total number of permission checks by outcome",
			},
			[]string{"outcome"},
		),
		PolicyApplies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_policy_applies_total",
				Help: "Total number of policy applications by status",
			},
			[]string{"status"},
		),
		PermissionDenials: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "marketplace_permission_denials_total",
				Help: "Total number of structured permission denials returned to apps",
			},
		),

		SandboxesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketplace_sandboxes_active",
				Help: "Number of running sandboxes",
			},
		),
		SandboxesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "marketplace_sandboxes_total",
				Help: "Total number of sandboxes ever spawned",
			},
		),

		BridgeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketplace_bridge_connections",
				Help: "Number of live bridge connections",
			},
		),
		BridgeConnectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "marketplace_bridge_connections_total",
				Help: "Total number of bridge connections ever accepted",
			},
		),
		BridgeDispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketplace_bridge_dispatch_duration_seconds",
				Help:    "Bridge message dispatch duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"protocol"},
		),
		BridgeHandlerFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_bridge_handler_faults_total",
				Help: "Total number of protocol handler faults",
			},
			[]string{"protocol", "kind"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketplace_ws_connections",
				Help: "Number of active WebSocket event streams",
			},
		),
		WSEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_ws_events_total",
				Help: "Total number of WebSocket events pushed",
			},
			[]string{"type"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketplace_uptime_seconds",
				Help: "Runtime uptime in seconds",
			},
		),
	}

	return m
}

// Handler returns an HTTP handler serving this collector's registry in
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request observation.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPermissionCheck records a policy registry decision.
func (m *Metrics) RecordPermissionCheck(allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.PermissionChecks.WithLabelValues(outcome).Inc()
	if !allowed {
		m.PermissionDenials.Inc()
	}
}

// RecordDispatch records a bridge dispatch observation.
func (m *Metrics) RecordDispatch(protocol string, duration time.Duration) {
	m.BridgeDispatchDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}

// UpdateUptime refreshes the uptime gauge. Callers poll this; there is no
// background goroutine to leak in tests.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
