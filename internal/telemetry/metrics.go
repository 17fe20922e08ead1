// Package telemetry provides observability primitives for the worker:
// Prometheus metrics, OpenTelemetry tracing setup, and the periodic
// SYSTEM_STATS pusher (see pusher.go).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the dispatcher and the
// optional cloud-provider passthrough behind internal/llm/remote.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec // labels: cmd, status
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	ActiveStreams    prometheus.Gauge
	RateLimitRejects *prometheus.CounterVec // labels: cmd
	GuardDenials     *prometheus.CounterVec // labels: cmd
	StreamDuration   *prometheus.HistogramVec
	StreamEvents     *prometheus.CounterVec // labels: cmd, event

	TokensProcessed       *prometheus.CounterVec // labels: model, type
	CircuitBreakerState   *prometheus.GaugeVec   // labels: provider
	CircuitBreakerRejects *prometheus.CounterVec // labels: provider
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "horizon_worker",
			Name:      "requests_total",
			Help:      "Total number of dispatched IPC requests.",
		}, []string{"cmd", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "horizon_worker",
			Name:                            "request_duration_seconds",
			Help:                            "Non-streaming request handler duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"cmd"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "horizon_worker",
			Name:      "active_requests",
			Help:      "Number of requests currently being dispatched.",
		}),

		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "horizon_worker",
			Name:      "active_streams",
			Help:      "Number of streaming commands currently in flight.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "horizon_worker",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections by command.",
		}, []string{"cmd"}),

		GuardDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "horizon_worker",
			Name:      "guard_denials_total",
			Help:      "Total permission-guard denials by command.",
		}, []string{"cmd"}),

		StreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "horizon_worker",
			Name:                            "stream_duration_seconds",
			Help:                            "Duration of a streaming command from start to terminal event.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"cmd"}),

		StreamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "horizon_worker",
			Name:      "stream_events_total",
			Help:      "Total stream events emitted, by command and event kind.",
		}, []string{"cmd", "event"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "horizon_worker",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed by the cloud-passthrough remote surface.",
		}, []string{"model", "type"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "horizon_worker",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per cloud provider (0=closed, 1=open, 2=half_open).",
		}, []string{"provider"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "horizon_worker",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total cloud-provider requests rejected by circuit breaker.",
		}, []string{"provider"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.ActiveStreams,
		m.RateLimitRejects,
		m.GuardDenials,
		m.StreamDuration,
		m.StreamEvents,
		m.TokensProcessed,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
	)

	return m
}
