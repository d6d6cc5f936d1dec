package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the runtime service
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  *prometheus.GaugeVec
	SessionsStarted *prometheus.CounterVec
	BootDuration    *prometheus.HistogramVec
	BootTimeouts    *prometheus.CounterVec
	RunTimeouts     *prometheus.CounterVec
	SessionErrors   *prometheus.CounterVec

	// Admission metrics
	SlotsActive      *prometheus.GaugeVec
	AdmissionDenials *prometheus.CounterVec

	// Bridge metrics
	BridgeInbound   *prometheus.CounterVec
	BridgeOutbound  *prometheus.CounterVec
	BridgeDropped   *prometheus.CounterVec
	PolicyViolation *prometheus.CounterVec

	// Telemetry metrics
	TelemetryEmitted prometheus.Counter
	TelemetryDropped prometheus.Counter

	registry  *prometheus.Registry
	startTime time.Time
}

// NewMetrics creates a new metrics collector on its own registry.
// One registry per Metrics instance keeps tests isolated from each other.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtime_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runtime_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		SessionsActive: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "runtime_sessions_active",
				Help: "Number of live runtime sessions per surface",
			},
			[]string{"surface"},
		),
		SessionsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtime_sessions_started_total",
				Help: "Total session start attempts per surface",
			},
			[]string{"surface", "runtime_type"},
		),
		BootDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runtime_boot_duration_seconds",
				Help:    "Time from start to the sandbox ready handshake",
				Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
			},
			[]string{"surface", "runtime_type"},
		),
		BootTimeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtime_boot_timeouts_total",
				Help: "Sessions terminated for exceeding the boot budget",
			},
			[]string{"surface"},
		),
		RunTimeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtime_run_timeouts_total",
				Help: "Sessions terminated for exceeding the run budget",
			},
			[]string{"surface"},
		),
		SessionErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtime_session_errors_total",
				Help: "Sessions that transitioned to error, by cause",
			},
			[]string{"surface", "cause"},
		),

		SlotsActive: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "runtime_admission_slots_active",
				Help: "Currently held admission slots per surface",
			},
			[]string{"surface"},
		),
		AdmissionDenials: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtime_admission_denials_total",
				Help: "Reservations denied because the surface was at capacity",
			},
			[]string{"surface"},
		),

		BridgeInbound: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtime_bridge_inbound_total",
				Help: "Accepted inbound bridge messages by type",
			},
			[]string{"type"},
		),
		BridgeOutbound: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtime_bridge_outbound_total",
				Help: "Outbound control messages by type",
			},
			[]string{"type"},
		),
		BridgeDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtime_bridge_dropped_total",
				Help: "Inbound messages dropped, by reason",
			},
			[]string{"reason"},
		),
		PolicyViolation: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtime_policy_violations_total",
				Help: "Policy violations reported by sandboxed bundles",
			},
			[]string{"surface", "code"},
		),

		TelemetryEmitted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "runtime_telemetry_emitted_total",
				Help: "Telemetry envelopes delivered to subscribers",
			},
		),
		TelemetryDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "runtime_telemetry_dropped_total",
				Help: "Telemetry envelopes dropped after the per-session cap",
			},
		),
	}
}

// Registry exposes the underlying registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Uptime returns time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
