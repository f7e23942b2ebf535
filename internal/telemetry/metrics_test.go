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
	if m.TokensTotal == nil {
		t.Error("TokensTotal is nil")
	}
	if m.RoutingDecisionsTotal == nil {
		t.Error("RoutingDecisionsTotal is nil")
	}
	if m.UsagePercent == nil {
		t.Error("UsagePercent is nil")
	}
	if m.LedgerWriteErrorsTotal == nil {
		t.Error("LedgerWriteErrorsTotal is nil")
	}

	// Verify metrics can be gathered without error.
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

	m.RequestsTotal.WithLabelValues("POST", "/v1/messages", "200").Inc()
	m.TokensTotal.WithLabelValues("claude-sonnet-4-6", "input").Add(10)
	m.RoutingDecisionsTotal.WithLabelValues("usage_percent >= switch_to_haiku").Inc()
	m.UsagePercent.WithLabelValues("claude-sonnet-4-6").Set(72.5)
	m.LedgerWriteErrorsTotal.Inc()
	m.ActiveRequests.Set(5)
	m.RequestDuration.WithLabelValues("POST", "/v1/messages").Observe(0.123)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"cruise_requests_total",
		"cruise_tokens_total",
		"cruise_routing_decisions_total",
		"cruise_usage_percent",
		"cruise_ledger_write_errors_total",
		"cruise_active_requests",
		"cruise_request_duration_seconds",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
