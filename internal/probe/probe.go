// Package probe checks a running instance from the outside: GET / must
// answer 2xx with the liveness marker somewhere in the body.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrMarkerMissing    = errors.New("marker missing from response body")
)

// maxBodyBytes caps how much of the response is searched for the marker.
const maxBodyBytes = 1 << 20

// Config describes one probe run.
type Config struct {
	BaseURL string
	Marker  string
	Timeout time.Duration
	// Attempts is the total number of tries; values below 1 mean a single try.
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Result describes the successful attempt.
type Result struct {
	StatusCode    int
	Attempts      int
	Duration      time.Duration
	CorrelationID string
}

type Prober struct {
	cfg    Config
	target string
	client *http.Client
	logger *zap.Logger
}

// New validates cfg and returns a Prober for the root route of cfg.BaseURL.
func New(cfg Config, logger *zap.Logger) (*Prober, error) {
	if cfg.Marker == "" {
		return nil, fmt.Errorf("probe: marker is required")
	}
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("probe: invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("probe: base URL must be http or https, got %q", cfg.BaseURL)
	}
	u.Path = "/"
	u.RawQuery = ""
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		cfg:    cfg,
		target: u.String(),
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// Target returns the URL that will be requested.
func (p *Prober) Target() string {
	return p.target
}

// Run probes until one attempt passes, attempts run out, or ctx is done.
// A missing marker is never retried: a live server answering the wrong body will not fix itself.
func (p *Prober) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		if attempt > 1 {
			delay := p.backoff(attempt)
			p.logger.Debug("probe retry", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		corrID := uuid.New().String()
		status, err := p.once(ctx, corrID)
		if err == nil {
			return Result{StatusCode: status, Attempts: attempt, Duration: time.Since(start), CorrelationID: corrID}, nil
		}
		lastErr = err
		if errors.Is(err, ErrMarkerMissing) {
			return Result{}, err
		}
	}
	if p.cfg.Attempts > 1 {
		return Result{}, fmt.Errorf("exhausted %d attempts: %w", p.cfg.Attempts, lastErr)
	}
	return Result{}, lastErr
}

func (p *Prober) once(ctx context.Context, corrID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("X-Correlation-ID", corrID)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if !bytes.Contains(body, []byte(p.cfg.Marker)) {
		return resp.StatusCode, fmt.Errorf("%w: want %q", ErrMarkerMissing, p.cfg.Marker)
	}
	return resp.StatusCode, nil
}

func (p *Prober) backoff(attempt int) time.Duration {
	delay := float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempt-2))
	if delay > float64(p.cfg.MaxDelay) {
		delay = float64(p.cfg.MaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}
