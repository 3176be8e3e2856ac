package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a served request.
type Outcome int

const (
	// Success is any response below 500 that was not rate limited.
	Success Outcome = iota
	// Error is a 5xx response or a recovered panic.
	Error
	// Denied is a 429 issued by the rate limiter.
	Denied
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Error:
		return "error"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// DefaultRetention bounds how far back a Tracker keeps events.
const DefaultRetention = 30 * time.Minute

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker keeps a sliding window of request outcomes. It is the single source
// for overload (RequestCount, DenialCount), idle (RequestCount) and degraded (ErrorRate) checks.
type Tracker struct {
	mu        sync.Mutex
	events    []event
	retention time.Duration
	now       func() time.Time
}

// NewTracker returns a Tracker that forgets events older than retention.
// A non-positive retention uses DefaultRetention.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

// Record stores one outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.RecordN(o, 1)
}

// RecordN stores n outcomes at the current time. Used for synthetic load in testing mode.
func (t *Tracker) RecordN(o Outcome, n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for i := 0; i < n; i++ {
		t.events = append(t.events, event{at: now, outcome: o})
	}
	t.pruneLocked(now)
}

// RequestCount returns all outcomes (success + error + denied) within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	s, e, d := t.counts(window)
	return s + e + d
}

// DenialCount returns the rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	_, _, d := t.counts(window)
	return d
}

// ErrorRate returns (errors, total) within the window. Denials are excluded from total.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	s, e, _ := t.counts(window)
	return e, s + e
}

// Reset drops every recorded outcome.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

func (t *Tracker) counts(window time.Duration) (success, errors, denied int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneLocked(now)
	cutoff := now.Add(-window)
	for _, ev := range t.events {
		if ev.at.Before(cutoff) {
			continue
		}
		switch ev.outcome {
		case Success:
			success++
		case Error:
			errors++
		case Denied:
			denied++
		}
	}
	return success, errors, denied
}

// pruneLocked drops events older than the retention. Events are appended in
// time order so the stale ones form a prefix. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
