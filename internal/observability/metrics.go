package observability

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceName labels logs and the health payload.
const ServiceName = "pipeline-live-service"

// HealthStatuses lists every value the health endpoint can report.
var HealthStatuses = []string{"healthy", "idle", "degraded", "overloaded", "shutting-down"}

// WindowCounter is the subset of the traffic tracker the window gauges read.
type WindowCounter interface {
	RequestCount(window time.Duration) int
	DenialCount(window time.Duration) int
}

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p99 increases on a static route mean host trouble.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, slow drains at shutdown.
	HTTPRequestsInFlight prometheus.Gauge

	// Root route hits; the liveness marker traffic.
	RootRequestsTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Handler panics turned into 500s.
	PanicsRecoveredTotal prometheus.Counter

	// One-hot gauge of the last computed health status.
	HealthStatus *prometheus.GaugeVec

	windowSource     atomic.Pointer[windowSourceHolder]
	windowGaugesOnce sync.Once
)

type windowSourceHolder struct {
	counter WindowCounter
	window  time.Duration
}

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	RootRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rootRequestsTotal",
			Help: "Total number of requests answered with the liveness marker",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	PanicsRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "panicsRecoveredTotal",
			Help: "Total number of handler panics recovered into 500 responses",
		},
	)
	HealthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healthStatus",
			Help: "1 for the most recently reported health status, 0 for the others",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		RootRequestsTotal, RateLimitDeniedTotal, PanicsRecoveredTotal,
		HealthStatus,
	)
}

// RegisterWindowGauges exposes request and denial counts over window, read from counter.
// The gauges are registered once; later calls only swap the source they read.
func RegisterWindowGauges(counter WindowCounter, window time.Duration) {
	windowSource.Store(&windowSourceHolder{counter: counter, window: window})
	windowGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests seen in the overload sliding window; load/capacity planning",
				},
				func() float64 { return readWindow(WindowCounter.RequestCount) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in the overload sliding window; are we rejecting requests",
				},
				func() float64 { return readWindow(WindowCounter.DenialCount) },
			),
		)
	})
}

func readWindow(f func(WindowCounter, time.Duration) int) float64 {
	h := windowSource.Load()
	if h == nil || h.counter == nil {
		return 0
	}
	return float64(f(h.counter, h.window))
}

// SetHealthStatus marks status as current on the HealthStatus gauge.
func SetHealthStatus(status string) {
	for _, s := range HealthStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		HealthStatus.WithLabelValues(s).Set(v)
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
