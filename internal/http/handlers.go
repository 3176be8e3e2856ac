package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/pipeline-live-service/internal/health"
	"github.com/kjstillabower/pipeline-live-service/internal/lifecycle"
	"github.com/kjstillabower/pipeline-live-service/internal/observability"
	"github.com/kjstillabower/pipeline-live-service/internal/traffic"
)

// Options configures a Handler.
type Options struct {
	// Marker is written verbatim by GetRoot.
	Marker  string
	Version string

	Health      health.Config
	Traffic     *traffic.Tracker
	Lifecycle   *lifecycle.State
	RateLimiter *rate.Limiter // nil when rate limiting is disabled
	Logger      *zap.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	marker      string
	version     string
	healthCfg   health.Config
	evaluator   *health.Evaluator
	traffic     *traffic.Tracker
	lifecycle   *lifecycle.State
	rateLimiter *rate.Limiter
	logger      *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. Missing tracker, state and logger are replaced with fresh defaults.
func NewHandler(opts Options) *Handler {
	if opts.Traffic == nil {
		opts.Traffic = traffic.NewTracker(0)
	}
	if opts.Lifecycle == nil {
		opts.Lifecycle = lifecycle.New(time.Now())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		marker:      opts.Marker,
		version:     opts.Version,
		healthCfg:   opts.Health,
		evaluator:   health.NewEvaluator(opts.Health, opts.Traffic, opts.Lifecycle),
		traffic:     opts.Traffic,
		lifecycle:   opts.Lifecycle,
		rateLimiter: opts.RateLimiter,
		logger:      opts.Logger,
	}
}

// GetRoot handles GET /. The body is the liveness marker and nothing else.
func (h *Handler) GetRoot(w http.ResponseWriter, r *http.Request) {
	observability.RootRequestsTotal.Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.marker))
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.evaluator.Evaluate()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.Status {
		observability.LoggerFrom(r.Context(), h.logger).Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.Status),
			zap.String("reason", result.Reason))
	}
	h.healthStatusPrev = result.Status
	h.healthStatusMu.Unlock()
	observability.SetHealthStatus(result.Status)

	now := time.Now()
	checks := map[string]string{
		"lifecycle": h.lifecycle.Phase().String(),
		"traffic":   "healthy",
	}
	if result.Status == health.StatusDegraded || result.Status == health.StatusOverloaded {
		checks["traffic"] = "unhealthy"
	}
	writeJSON(w, result.StatusCode, map[string]interface{}{
		"status":        result.Status,
		"service":       observability.ServiceName,
		"version":       h.version,
		"checks":        checks,
		"uptimeSeconds": int64(h.lifecycle.Uptime(now).Seconds()),
		"timestamp":     now.UTC().Format(time.RFC3339),
	})
}

// NotFound answers unmatched routes with the standard error body.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no route for "+r.URL.Path)
}

// MethodNotAllowed answers a known path requested with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" not allowed on "+r.URL.Path)
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{code,message,requestId}}; requestId is the correlation ID if one is set.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
