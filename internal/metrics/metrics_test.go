package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCounterMetricsConcurrentIncrements(t *testing.T) {
	recorder := NewCounterMetrics()
	var group sync.WaitGroup
	for index := 0; index < 50; index++ {
		group.Add(1)
		go func() {
			defer group.Done()
			recorder.Increment("gateway.request")
		}()
	}
	group.Wait()

	if recorder.Count("gateway.request") != 50 {
		t.Fatalf("expected 50, got %d", recorder.Count("gateway.request"))
	}
	snapshot := recorder.Snapshot()
	snapshot["gateway.request"] = 0
	if recorder.Count("gateway.request") != 50 {
		t.Fatalf("snapshot must not alias internal counters")
	}
}

func TestPrometheusMetricsExposesEvents(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder, err := NewPrometheusMetrics(registry, "sandbox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recorder.Increment("auth.refresh.success")
	recorder.Increment("auth.refresh.success")

	response := httptest.NewRecorder()
	Handler(registry).ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	if !strings.Contains(response.Body.String(), `sandbox_events_total{event="auth.refresh.success"} 2`) {
		t.Fatalf("expected counter in exposition, got %s", response.Body.String())
	}

	if _, err := NewPrometheusMetrics(registry, "sandbox"); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
