// Package health derives the service status reported by GET /health from
// recent traffic outcomes and the process lifecycle phase.
package health

import (
	"net/http"
	"time"
)

const (
	StatusHealthy      = "healthy"
	StatusIdle         = "idle"
	StatusDegraded     = "degraded"
	StatusOverloaded   = "overloaded"
	StatusShuttingDown = "shutting-down"
)

// Traffic is the view of the traffic tracker the evaluator needs.
type Traffic interface {
	RequestCount(window time.Duration) int
	ErrorRate(window time.Duration) (errors, total int)
}

// Lifecycle is the view of the process state the evaluator needs.
type Lifecycle interface {
	IsShuttingDown() bool
	Uptime(now time.Time) time.Duration
}

// Config holds the lifecycle thresholds. Zero windows disable the matching check.
type Config struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	// RateLimitRPS is the capacity the overload threshold is a percentage of. 0 disables the overload check.
	RateLimitRPS int

	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int
}

// Result is one evaluation.
type Result struct {
	Status     string
	StatusCode int
	Reason     string
}

// Evaluator computes Results. Safe for concurrent use when Traffic and Lifecycle are.
type Evaluator struct {
	cfg       Config
	traffic   Traffic
	lifecycle Lifecycle
	now       func() time.Time
}

func NewEvaluator(cfg Config, traffic Traffic, lifecycle Lifecycle) *Evaluator {
	return &Evaluator{cfg: cfg, traffic: traffic, lifecycle: lifecycle, now: time.Now}
}

// OverloadThreshold is the request count in OverloadWindow above which the service reports overloaded.
func (e *Evaluator) OverloadThreshold() int {
	if e.cfg.RateLimitRPS <= 0 {
		return 0
	}
	return int(float64(e.cfg.RateLimitRPS) * e.cfg.OverloadWindow.Seconds() * float64(e.cfg.OverloadThresholdPct) / 100)
}

// Evaluate checks conditions in priority order:
// shutting-down > overloaded > idle > degraded > healthy.
func (e *Evaluator) Evaluate() Result {
	if e.lifecycle.IsShuttingDown() {
		return Result{StatusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}

	if e.cfg.RateLimitRPS > 0 && e.cfg.OverloadWindow > 0 {
		if e.traffic.RequestCount(e.cfg.OverloadWindow) > e.OverloadThreshold() {
			return Result{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold"}
		}
	}

	// Idle only counts once the instance has lived long enough to have seen traffic.
	if e.cfg.IdleWindow > 0 && e.cfg.MinimumLifespan > 0 && e.lifecycle.Uptime(e.now()) >= e.cfg.MinimumLifespan {
		perMin := float64(e.traffic.RequestCount(e.cfg.IdleWindow)) / e.cfg.IdleWindow.Minutes()
		if perMin < float64(e.cfg.IdleThresholdReqPerMin) {
			return Result{StatusIdle, http.StatusOK, "low_traffic"}
		}
	}

	if e.cfg.DegradedWindow > 0 && e.cfg.DegradedErrorPct > 0 {
		errors, total := e.traffic.ErrorRate(e.cfg.DegradedWindow)
		if total > 0 && float64(errors)*100/float64(total) >= float64(e.cfg.DegradedErrorPct) {
			return Result{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}

	return Result{StatusHealthy, http.StatusOK, ""}
}
