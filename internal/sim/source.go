package sim

import (
	"errors"
	"sync"

	"shuttle-sim/internal/shuttle"
)

// PositionSource yields the vehicle's next position. The simulated Trip is
// one; a telemetry feed can be another without changing the session or
// the register.
type PositionSource interface {
	NextPosition() shuttle.Coordinate
}

// TraceSource replays a recorded sequence of positions, one per call, and
// keeps returning the last one once exhausted. Construct with
// NewTraceSource.
type TraceSource struct {
	mu    sync.Mutex
	trace []shuttle.Coordinate
	next  int
}

// ErrEmptyTrace is returned for a trace with no positions to replay.
var ErrEmptyTrace = errors.New("trace has no positions")

func NewTraceSource(trace []shuttle.Coordinate) (*TraceSource, error) {
	if len(trace) == 0 {
		return nil, ErrEmptyTrace
	}
	return &TraceSource{trace: trace}, nil
}

// Len is the number of recorded positions.
func (s *TraceSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trace)
}

func (s *TraceSource) NextPosition() shuttle.Coordinate {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.trace[s.next]
	if s.next < len(s.trace)-1 {
		s.next++
	}
	return p
}
