package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.ActiveRequests == nil {
		t.Error("ActiveRequests is nil")
	}
	if m.ActiveStreams == nil {
		t.Error("ActiveStreams is nil")
	}
	if m.RateLimitRejects == nil {
		t.Error("RateLimitRejects is nil")
	}
	if m.GuardDenials == nil {
		t.Error("GuardDenials is nil")
	}
	if m.StreamDuration == nil {
		t.Error("StreamDuration is nil")
	}
	if m.StreamEvents == nil {
		t.Error("StreamEvents is nil")
	}
	if m.TokensProcessed == nil {
		t.Error("TokensProcessed is nil")
	}
	if m.CircuitBreakerState == nil {
		t.Error("CircuitBreakerState is nil")
	}
	if m.CircuitBreakerRejects == nil {
		t.Error("CircuitBreakerRejects is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("chat", "ok").Inc()
	m.ActiveRequests.Set(5)
	m.ActiveStreams.Set(1)
	m.RateLimitRejects.WithLabelValues("chat").Inc()
	m.GuardDenials.WithLabelValues("analyze_repository").Inc()
	m.RequestDuration.WithLabelValues("chat").Observe(0.123)
	m.StreamDuration.WithLabelValues("chat").Observe(2.5)
	m.StreamEvents.WithLabelValues("chat", "token").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"horizon_worker_requests_total",
		"horizon_worker_active_requests",
		"horizon_worker_active_streams",
		"horizon_worker_ratelimit_rejects_total",
		"horizon_worker_guard_denials_total",
		"horizon_worker_request_duration_seconds",
		"horizon_worker_stream_duration_seconds",
		"horizon_worker_stream_events_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
