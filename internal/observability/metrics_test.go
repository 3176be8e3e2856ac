package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type stubCounter struct{ requests, denials int }

func (s stubCounter) RequestCount(time.Duration) int { return s.requests }
func (s stubCounter) DenialCount(time.Duration) int  { return s.denials }

// TestMetrics_Usable verifies that label dimensions match their use in the http package.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/").Observe(0.01)
	HTTPRequestsInFlight.Inc()
	HTTPRequestsInFlight.Dec()
	RootRequestsTotal.Inc()
	RateLimitDeniedTotal.Inc()
	PanicsRecoveredTotal.Inc()
}

func TestSetHealthStatus_OneHot(t *testing.T) {
	SetHealthStatus("degraded")

	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body := w.Body.String()

	for _, s := range HealthStatuses {
		want := `healthStatus{status="` + s + `"} 0`
		if s == "degraded" {
			want = `healthStatus{status="degraded"} 1`
		}
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

// TestRegisterWindowGauges_SwapsSource verifies that a second registration
// replaces the source instead of panicking on duplicate registration.
func TestRegisterWindowGauges_SwapsSource(t *testing.T) {
	RegisterWindowGauges(stubCounter{requests: 3, denials: 1}, time.Minute)
	RegisterWindowGauges(stubCounter{requests: 7, denials: 2}, time.Minute)

	if got := readWindow(WindowCounter.RequestCount); got != 7 {
		t.Errorf("requests gauge = %v, want 7", got)
	}
	if got := readWindow(WindowCounter.DenialCount); got != 2 {
		t.Errorf("rejects gauge = %v, want 2", got)
	}
}

func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	RootRequestsTotal.Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "rootRequestsTotal") {
		t.Error("MetricsHandler response should contain rootRequestsTotal")
	}
}

func TestFlushTelemetry(t *testing.T) {
	if err := FlushTelemetry(context.Background(), nil); err != nil {
		t.Errorf("FlushTelemetry(nil logger) error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := FlushTelemetry(ctx, nil); err == nil {
		t.Error("FlushTelemetry() with cancelled ctx should fail")
	}
}
