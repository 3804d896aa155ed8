package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResetHTTPMetricsAllowsReRegistration(t *testing.T) {
	t.Cleanup(ResetHTTPMetricsForTest)

	ResetHTTPMetricsForTest()
	first := NewHTTPMetrics(Config{ServiceName: "voltgrid", Environment: "test"})
	first.requests.WithLabelValues("GET", "/healthz", "200").Inc()

	ResetHTTPMetricsForTest()
	second := NewHTTPMetrics(Config{ServiceName: "voltgrid", Environment: "test"})
	if second == first {
		t.Fatal("expected a fresh metrics instance after reset")
	}

	second.requests.WithLabelValues("GET", "/healthz", "200").Inc()
	got := testutil.ToFloat64(second.requests.WithLabelValues("GET", "/healthz", "200"))
	if got != 1 {
		t.Fatalf("expected request count 1 after reset, got %v", got)
	}
}
