package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	// Registering twice must fail.
	if err := m.Register(reg); err == nil {
		t.Error("second Register() succeeded, want duplicate error")
	}

	m.IncRateLimitRequests("/api/logs", "user")
	m.IncRateLimitBlocked("/api/logs", "ip")
	m.IncRateLimitRedisErrors()

	for _, name := range []string{MetricRateLimitRequests, MetricRateLimitBlocked, MetricRateLimitRedisErrors, MetricHTTPRequestsInFlight} {
		if findFamily(t, reg, name) == nil {
			t.Errorf("metric %s not found in registry", name)
		}
	}
}

func TestMetrics_RateLimitCounters(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	m.IncRateLimitRequests("/api/logs", "user")
	m.IncRateLimitRequests("/api/logs", "user")
	m.IncRateLimitRequests("/api/logs/export", "ip")
	m.IncRateLimitBlocked("/api/logs/export", "ip")

	requests := findFamily(t, reg, MetricRateLimitRequests)
	if requests == nil {
		t.Fatal("rate_limit_requests_total metric not found")
	}
	if len(requests.GetMetric()) != 2 {
		t.Errorf("expected 2 label sets, got %d", len(requests.GetMetric()))
	}
	if got := counterValue(t, m.rateLimitRequests.WithLabelValues("/api/logs", "user")); got != 2 {
		t.Errorf("requests{/api/logs,user} = %v, want 2", got)
	}
	if got := counterValue(t, m.rateLimitBlocked.WithLabelValues("/api/logs/export", "ip")); got != 1 {
		t.Errorf("blocked{/api/logs/export,ip} = %v, want 1", got)
	}
}

func TestMetrics_Collectors(t *testing.T) {
	if got := len(NewMetrics().Collectors()); got != 8 {
		t.Errorf("expected 8 collectors, got %d", got)
	}
}
