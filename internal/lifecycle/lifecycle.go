package lifecycle

import (
	"sync/atomic"
	"time"
)

// Phase is the process lifecycle stage reported by the health endpoint.
type Phase int32

const (
	Starting Phase = iota
	Serving
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Serving:
		return "serving"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// State holds the phase and start time of one server instance.
// Zero value is not usable; call New.
type State struct {
	phase     atomic.Int32
	startTime time.Time
}

// New returns a State in the Starting phase, started at now.
func New(now time.Time) *State {
	s := &State{startTime: now}
	s.phase.Store(int32(Starting))
	return s
}

// SetPhase moves the process to p. Health returns 503 shutting-down once p is ShuttingDown.
func (s *State) SetPhase(p Phase) {
	s.phase.Store(int32(p))
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	return Phase(s.phase.Load())
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func (s *State) IsShuttingDown() bool {
	return s.Phase() == ShuttingDown
}

// Uptime returns the time elapsed since New, measured against now.
func (s *State) Uptime(now time.Time) time.Duration {
	return now.Sub(s.startTime)
}
