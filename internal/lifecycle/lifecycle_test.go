package lifecycle

import (
	"testing"
	"time"
)

func TestNew_StartsInStartingPhase(t *testing.T) {
	s := New(time.Now())
	if got := s.Phase(); got != Starting {
		t.Errorf("Phase() = %v, want %v", got, Starting)
	}
	if s.IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false on a fresh state")
	}
}

func TestSetPhase_ShuttingDown(t *testing.T) {
	s := New(time.Now())
	s.SetPhase(Serving)
	s.SetPhase(ShuttingDown)
	if !s.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetPhase(ShuttingDown), want true")
	}
	s.SetPhase(Serving)
	if s.IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetPhase(Serving), want false")
	}
}

func TestUptime(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := New(start)
	if got := s.Uptime(start.Add(90 * time.Second)); got != 90*time.Second {
		t.Errorf("Uptime() = %v, want 90s", got)
	}
}

func TestPhase_String(t *testing.T) {
	tests := map[Phase]string{
		Starting:     "starting",
		Serving:      "serving",
		ShuttingDown: "shutting-down",
		Phase(9):     "unknown",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", p, got, want)
		}
	}
}
