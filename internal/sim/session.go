package sim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"shuttle-sim/internal/location"
	"shuttle-sim/internal/logging"
	mmetrics "shuttle-sim/internal/metrics"
	"shuttle-sim/internal/shuttle"
)

// DefaultTickInterval is the simulated vehicle's step period.
const DefaultTickInterval = 200 * time.Millisecond

var (
	ErrNoRouteData    = errors.New("no route data")
	ErrTripInProgress = errors.New("trip already in progress")
	ErrNoActiveTrip   = errors.New("no active trip")
)

// Sink receives every record a session publishes, including the final
// inactive one. Errors are logged; they never stop a trip.
type Sink interface {
	PublishLocation(rec location.Record) error
}

type SessionConfig struct {
	Route    shuttle.Route
	Vehicle  shuttle.Vehicle
	Source   PositionSource // nil drives the vehicle by simulation
	Register *location.Register
	Sinks    []Sink
	Interval time.Duration
	Metrics  *mmetrics.Collector
	Logger   *slog.Logger
	Now      func() time.Time
}

// Session is one driver navigation run over a route. Each step advances
// the position, detects arrival and publishes, all under one lock, so a
// reader never pairs a position with a stop index from another step.
type Session struct {
	route    shuttle.Route
	vehicle  shuttle.Vehicle
	trip     *Trip
	source   PositionSource
	register *location.Register
	sinks    []Sink
	interval time.Duration
	metrics  *mmetrics.Collector
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	boarded   map[int]struct{}
	startedAt time.Time
	begun     bool
	completed bool
	summary   Summary
}

type Status struct {
	RouteID          int                 `json:"route_id"`
	VehicleID        int                 `json:"vehicle_id"`
	CoordinateIndex  int                 `json:"coordinate_index"`
	TotalCoordinates int                 `json:"total_coordinates"`
	CurrentStopIndex int                 `json:"current_stop_index"`
	TotalStops       int                 `json:"total_stops"`
	Position         shuttle.Coordinate  `json:"position"`
	NextStop         *shuttle.Coordinate `json:"next_stop,omitempty"`
	Progress         float64             `json:"progress"`
	ETAMinutes       int                 `json:"eta_min"`
	Boarded          int                 `json:"boarded"`
	StartedAt        time.Time           `json:"started_at"`
	Completed        bool                `json:"completed"`
}

// NewSession validates the route and prepares, but does not start, a run.
// A route without coordinates yields ErrNoRouteData.
func NewSession(cfg SessionConfig) (*Session, error) {
	if !cfg.Route.HasRouteData() {
		return nil, ErrNoRouteData
	}
	if cfg.Register == nil {
		return nil, errors.New("session: register is required")
	}
	// an empty trace has no fix to follow
	if ts, ok := cfg.Source.(*TraceSource); ok && (ts == nil || ts.Len() == 0) {
		return nil, ErrEmptyTrace
	}
	s := &Session{
		route:    cfg.Route,
		vehicle:  cfg.Vehicle,
		trip:     NewTrip(cfg.Route.Coordinates, cfg.Route.ScheduledStops()),
		source:   cfg.Source,
		register: cfg.Register,
		sinks:    cfg.Sinks,
		interval: cfg.Interval,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
		boarded:  make(map[int]struct{}),
	}
	if s.source == nil {
		s.source = s.trip
	}
	if s.interval <= 0 {
		s.interval = DefaultTickInterval
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run publishes the starting position, then steps on every tick until the
// trip completes or ctx is cancelled. The ticker is released on return.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	if s.Begin() {
		return s.Summary(), nil
	}

	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		case <-tick.C:
			if s.Step() {
				return s.Summary(), nil
			}
		}
	}
}

// Begin records the start time and publishes the initial position. It
// reports whether the trip is already complete, which happens on a one
// point route. Calling it again is a no-op.
func (s *Session) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.begun {
		return s.completed
	}
	s.begun = true
	s.startedAt = s.now()
	s.trip.CheckArrival()
	return s.settleLocked()
}

// Step performs one tick and reports whether the trip has completed.
func (s *Session) Step() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begun {
		s.begun = true
		s.startedAt = s.now()
	}
	if s.completed {
		return true
	}
	start := time.Now()

	pos := s.source.NextPosition()
	if s.source != PositionSource(s.trip) {
		s.trip.Follow(pos)
	}
	arrived := s.trip.CheckArrival()
	if arrived {
		s.logger.Info("stop_arrival",
			slog.Int("route_id", s.route.ClusterID),
			slog.Int("stop_index", s.trip.CurrentStopIndex()-1),
			slog.Int("coordinate_index", s.trip.CoordinateIndex()))
	}
	done := s.settleLocked()

	if s.metrics != nil {
		s.metrics.Ticks.Inc()
		if arrived {
			s.metrics.StopArrivals.Inc()
		}
		s.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
	return done
}

// settleLocked publishes the current state, completing the trip if the
// vehicle is at the end of the route.
func (s *Session) settleLocked() bool {
	if !s.trip.AtEnd() {
		s.fanOut(s.register.Publish(s.updateLocked(true)))
		return false
	}

	s.completed = true
	// The final inactive record goes out to sinks before the slot is emptied.
	s.fanOut(s.register.Publish(s.updateLocked(false)))
	s.register.Clear()

	s.summary = Summary{
		RouteID:         s.route.ClusterID,
		VehicleID:       s.vehicle.ID,
		DriverName:      s.vehicle.DriverName,
		Boarded:         len(s.boarded),
		TotalPassengers: s.route.EmployeeCount,
		TotalStops:      s.trip.TotalStops(),
		DistanceKm:      s.route.DistanceKm,
		DurationMin:     s.route.DurationMin,
		BoardingRate:    BoardingRate(len(s.boarded), s.route.EmployeeCount),
		StartedAt:       s.startedAt,
		CompletedAt:     s.now(),
	}
	return true
}

func (s *Session) updateLocked(active bool) location.Update {
	p := s.trip.Position()
	return location.Update{
		Latitude:         p.Lat,
		Longitude:        p.Lon,
		CurrentStopIndex: s.trip.CurrentStopIndex(),
		TotalStops:       s.trip.TotalStops(),
		TripActive:       active,
		RouteID:          s.route.ClusterID,
	}
}

func (s *Session) fanOut(rec location.Record) {
	for _, sink := range s.sinks {
		if err := sink.PublishLocation(rec); err != nil {
			logging.LogError(s.logger, "location sink publish failed", err, slog.Int("route_id", rec.RouteID))
		}
	}
}

// MarkBoarded records that an employee got on. It reports false if the
// employee was already counted; a completed trip returns ErrNoActiveTrip.
func (s *Session) MarkBoarded(employeeID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return false, ErrNoActiveTrip
	}
	if _, ok := s.boarded[employeeID]; ok {
		return false, nil
	}
	s.boarded[employeeID] = struct{}{}
	return true, nil
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress := s.trip.Progress()
	st := Status{
		RouteID:          s.route.ClusterID,
		VehicleID:        s.vehicle.ID,
		CoordinateIndex:  s.trip.CoordinateIndex(),
		TotalCoordinates: len(s.route.Coordinates),
		CurrentStopIndex: s.trip.CurrentStopIndex(),
		TotalStops:       s.trip.TotalStops(),
		Position:         s.trip.Position(),
		Progress:         progress,
		ETAMinutes:       ETAMinutes(progress, s.route.DurationMin),
		Boarded:          len(s.boarded),
		StartedAt:        s.startedAt,
		Completed:        s.completed,
	}
	if stops := s.route.ScheduledStops(); len(stops) > 0 {
		next := stops[st.CurrentStopIndex]
		st.NextStop = &next
	}
	return st
}

// Summary returns the completed trip's summary; it is zero until then.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

func (s *Session) Route() shuttle.Route { return s.route }
