package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/pipeline-live-service/internal/lifecycle"
	"github.com/kjstillabower/pipeline-live-service/internal/observability"
	"github.com/kjstillabower/pipeline-live-service/internal/traffic"
)

// GetTestStatus handles GET /test. Returns traffic counters in the health windows and the thresholds.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	cfg := h.healthCfg
	errors, total := h.traffic.ErrorRate(cfg.DegradedWindow)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_requests_in_window":  h.traffic.RequestCount(cfg.OverloadWindow),
		"denied_requests_in_window": h.traffic.DenialCount(cfg.OverloadWindow),
		"errors_in_window":          errors,
		"outcomes_in_window":        total,
		"window_length":             cfg.OverloadWindow.String(),
		"phase":                     h.lifecycle.Phase().String(),
		"config": map[string]interface{}{
			"rate_limit_rps":          cfg.RateLimitRPS,
			"overload_threshold":      h.evaluator.OverloadThreshold(),
			"overload_window_seconds": cfg.OverloadWindow.Seconds(),
			"degraded_error_pct":      cfg.DegradedErrorPct,
			"idle_threshold_per_min":  cfg.IdleThresholdReqPerMin,
		},
	})
}

// PostTestAction handles POST /test/{action} for load, error, reset and shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "load":
		h.postTestLoad(w, r)
	case "error":
		h.postTestError(w, r)
	case "reset":
		h.postTestReset(w, r)
	case "shutdown":
		h.postTestShutdown(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

// MaxTestCount bounds the synthetic outcomes one test action may record.
const MaxTestCount = 10000

// decodeCount reads {"count": n} from the body, returning def for a missing,
// malformed or non-positive count. ok is false when n exceeds MaxTestCount.
func decodeCount(r *http.Request, def int) (n int, ok bool) {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		return def, true
	}
	if body.Count > MaxTestCount {
		return 0, false
	}
	return body.Count, true
}

func writeCountTooLarge(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusBadRequest, "INVALID_COUNT",
		"count must not exceed "+strconv.Itoa(MaxTestCount))
}

// postTestLoad pushes synthetic requests through the rate limiter and records
// each accepted or denied one as traffic.
func (h *Handler) postTestLoad(w http.ResponseWriter, r *http.Request) {
	count, ok := decodeCount(r, 10)
	if !ok {
		writeCountTooLarge(w, r)
		return
	}
	var accepted, denied int
	if h.rateLimiter == nil {
		accepted = count
	} else {
		for i := 0; i < count; i++ {
			if h.rateLimiter.Allow() {
				accepted++
			} else {
				denied++
			}
		}
	}
	h.traffic.RecordN(traffic.Success, accepted)
	h.traffic.RecordN(traffic.Denied, denied)
	observability.RateLimitDeniedTotal.Add(float64(denied))

	msg := "Recorded " + strconv.Itoa(accepted) + " accepted"
	if denied > 0 {
		msg += ", " + strconv.Itoa(denied) + " denied"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"action":   "load",
		"message":  msg,
		"state":    h.evaluator.Evaluate().Status,
		"accepted": accepted,
		"denied":   denied,
	})
}

func (h *Handler) postTestError(w http.ResponseWriter, r *http.Request) {
	count, ok := decodeCount(r, 1)
	if !ok {
		writeCountTooLarge(w, r)
		return
	}
	h.traffic.RecordN(traffic.Error, count)
	errors, total := h.traffic.ErrorRate(h.healthCfg.DegradedWindow)
	pct := 0
	if total > 0 {
		pct = errors * 100 / total
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"action":         "error",
		"message":        "Recorded " + strconv.Itoa(count) + " errors",
		"state":          h.evaluator.Evaluate().Status,
		"error_rate_pct": pct,
	})
}

// postTestReset clears recorded traffic and returns the process to serving.
func (h *Handler) postTestReset(w http.ResponseWriter, r *http.Request) {
	h.traffic.Reset()
	h.lifecycle.SetPhase(lifecycle.Serving)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "reset",
		"message": "All simulated state cleared",
	})
}

// postTestShutdown flips the phase to shutting-down without stopping the server.
func (h *Handler) postTestShutdown(w http.ResponseWriter, r *http.Request) {
	h.lifecycle.SetPhase(lifecycle.ShuttingDown)
	observability.LoggerFrom(r.Context(), h.logger).Warn("shutting-down phase set via test endpoint",
		zap.String("phase", h.lifecycle.Phase().String()))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "shutdown",
		"message": "Shutting-down flag set",
	})
}
