package health

import (
	"net/http"
	"testing"
	"time"
)

type fakeTraffic struct {
	requests int
	errors   int
	total    int
}

func (f *fakeTraffic) RequestCount(time.Duration) int     { return f.requests }
func (f *fakeTraffic) ErrorRate(time.Duration) (int, int) { return f.errors, f.total }

type fakeLifecycle struct {
	shuttingDown bool
	uptime       time.Duration
}

func (f *fakeLifecycle) IsShuttingDown() bool           { return f.shuttingDown }
func (f *fakeLifecycle) Uptime(time.Time) time.Duration { return f.uptime }

func baseConfig() Config {
	return Config{
		OverloadWindow:         60 * time.Second,
		OverloadThresholdPct:   80,
		RateLimitRPS:           10,
		IdleWindow:             time.Minute,
		IdleThresholdReqPerMin: 5,
		MinimumLifespan:        5 * time.Minute,
		DegradedWindow:         60 * time.Second,
		DegradedErrorPct:       5,
	}
}

func TestOverloadThreshold(t *testing.T) {
	e := NewEvaluator(baseConfig(), &fakeTraffic{}, &fakeLifecycle{})
	// 10 rps * 60s * 80% = 480
	if got := e.OverloadThreshold(); got != 480 {
		t.Errorf("OverloadThreshold() = %d, want 480", got)
	}

	cfg := baseConfig()
	cfg.RateLimitRPS = 0
	if got := NewEvaluator(cfg, &fakeTraffic{}, &fakeLifecycle{}).OverloadThreshold(); got != 0 {
		t.Errorf("OverloadThreshold() with limiter disabled = %d, want 0", got)
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		traffic   fakeTraffic
		lifecycle fakeLifecycle
		want      Result
	}{
		{
			name: "fresh instance is healthy",
			want: Result{StatusHealthy, http.StatusOK, ""},
		},
		{
			name:      "shutting down wins over everything",
			traffic:   fakeTraffic{requests: 10000, errors: 10, total: 10},
			lifecycle: fakeLifecycle{shuttingDown: true, uptime: time.Hour},
			want:      Result{StatusShuttingDown, http.StatusServiceUnavailable, "signal"},
		},
		{
			name:    "overloaded above threshold",
			traffic: fakeTraffic{requests: 481},
			want:    Result{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold"},
		},
		{
			name:    "at threshold is not overloaded",
			traffic: fakeTraffic{requests: 480, total: 480},
			want:    Result{StatusHealthy, http.StatusOK, ""},
		},
		{
			name:    "overload check disabled without limiter",
			mutate:  func(c *Config) { c.RateLimitRPS = 0 },
			traffic: fakeTraffic{requests: 100000, total: 100000},
			want:    Result{StatusHealthy, http.StatusOK, ""},
		},
		{
			name:      "idle after minimum lifespan",
			traffic:   fakeTraffic{requests: 2, total: 2},
			lifecycle: fakeLifecycle{uptime: 10 * time.Minute},
			want:      Result{StatusIdle, http.StatusOK, "low_traffic"},
		},
		{
			name:      "not idle before minimum lifespan",
			traffic:   fakeTraffic{requests: 0},
			lifecycle: fakeLifecycle{uptime: time.Minute},
			want:      Result{StatusHealthy, http.StatusOK, ""},
		},
		{
			name:      "idle outranks degraded",
			traffic:   fakeTraffic{requests: 1, errors: 1, total: 1},
			lifecycle: fakeLifecycle{uptime: time.Hour},
			want:      Result{StatusIdle, http.StatusOK, "low_traffic"},
		},
		{
			name:    "degraded at error threshold",
			traffic: fakeTraffic{requests: 20, errors: 1, total: 20},
			want:    Result{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"},
		},
		{
			name:    "below error threshold stays healthy",
			traffic: fakeTraffic{requests: 21, errors: 1, total: 21},
			want:    Result{StatusHealthy, http.StatusOK, ""},
		},
		{
			name:    "degraded check disabled by zero window",
			mutate:  func(c *Config) { c.DegradedWindow = 0 },
			traffic: fakeTraffic{requests: 5, errors: 5, total: 5},
			want:    Result{StatusHealthy, http.StatusOK, ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			traffic := tt.traffic
			lifecycle := tt.lifecycle
			got := NewEvaluator(cfg, &traffic, &lifecycle).Evaluate()
			if got != tt.want {
				t.Errorf("Evaluate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
