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

// SummaryStore archives completed trips.
type SummaryStore interface {
	SaveTripSummary(ctx context.Context, s Summary) error
}

// Manager runs at most one trip at a time for the driver using this
// process, mirroring the single live-location slot it publishes to.
type Manager struct {
	register *location.Register
	sinks    []Sink
	interval time.Duration
	store    SummaryStore
	metrics  *mmetrics.Collector
	logger   *slog.Logger

	mu   sync.Mutex
	run  *tripRun
	last *Summary
	wg   sync.WaitGroup
}

// tripRun tracks one running session. err is written by the run goroutine
// before done closes.
type tripRun struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	ending  bool
}

type ManagerConfig struct {
	Register *location.Register
	Sinks    []Sink
	Interval time.Duration
	Store    SummaryStore // optional
	Metrics  *mmetrics.Collector
	Logger   *slog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		register: cfg.Register,
		sinks:    cfg.Sinks,
		interval: cfg.Interval,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// StartTrip begins navigating route with vehicle. source may be nil to
// simulate the vehicle. It fails with ErrTripInProgress while another trip
// runs and ErrNoRouteData for a route without coordinates.
func (m *Manager) StartTrip(parent context.Context, route shuttle.Route, vehicle shuttle.Vehicle, source PositionSource) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != nil {
		return nil, ErrTripInProgress
	}

	s, err := NewSession(SessionConfig{
		Route:    route,
		Vehicle:  vehicle,
		Source:   source,
		Register: m.register,
		Sinks:    m.sinks,
		Interval: m.interval,
		Metrics:  m.metrics,
		Logger:   m.logger,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	run := &tripRun{session: s, cancel: cancel, done: make(chan struct{})}
	m.run = run
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.TripsStarted.Inc()
		m.metrics.ActiveTrip.Set(1)
	}

	logging.LogOperation(m.logger, "trip_started",
		slog.Int("route_id", route.ClusterID),
		slog.Int("vehicle_id", vehicle.ID),
		slog.Int("coordinates", len(route.Coordinates)),
		slog.Int("stops", len(route.ScheduledStops())))

	go m.watch(ctx, run)
	return s, nil
}

// watch runs the session to its end. A run that did not complete leaves
// no live location behind, whether it was ended or its parent cancelled.
func (m *Manager) watch(ctx context.Context, run *tripRun) {
	defer m.wg.Done()
	summary, err := run.session.Run(ctx)
	route := run.session.Route()
	if err != nil {
		m.register.Clear()
		if !errors.Is(err, context.Canceled) {
			logging.LogError(m.logger, "trip error", err, slog.Int("route_id", route.ClusterID))
		}
	}

	m.mu.Lock()
	run.err = err
	if m.run == run {
		m.run = nil
	}
	if err == nil {
		m.last = &summary
	}
	m.mu.Unlock()
	run.cancel()
	if m.metrics != nil {
		m.metrics.ActiveTrip.Set(0)
	}
	close(run.done)

	if err != nil {
		return
	}
	if m.metrics != nil {
		m.metrics.TripsCompleted.Inc()
	}
	logging.LogOperation(m.logger, "trip_completed",
		slog.Int("route_id", summary.RouteID),
		slog.Int("boarded", summary.Boarded),
		slog.Int("boarding_rate", summary.BoardingRate),
		slog.Duration("duration", summary.CompletedAt.Sub(summary.StartedAt)))
	m.archive(summary)
}

func (m *Manager) archive(summary Summary) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.store.SaveTripSummary(ctx, summary)
	if m.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.metrics.HistoryWrites.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		logging.LogError(m.logger, "archive trip summary", err, slog.Int("route_id", summary.RouteID))
	}
}

// EndTrip stops the running trip, as on driver logout, and waits until the
// live location is cleared. No summary is archived for an unfinished trip.
// A trip that completed on its own before it could be stopped reports
// ErrNoActiveTrip and is not counted as ended.
func (m *Manager) EndTrip() error {
	m.mu.Lock()
	run := m.run
	if run == nil || run.ending {
		m.mu.Unlock()
		return ErrNoActiveTrip
	}
	run.ending = true
	m.mu.Unlock()

	run.cancel()
	<-run.done
	if !errors.Is(run.err, context.Canceled) {
		return ErrNoActiveTrip
	}
	if m.metrics != nil {
		m.metrics.TripsEnded.Inc()
	}
	logging.LogOperation(m.logger, "trip_ended", slog.Int("route_id", run.session.Route().ClusterID))
	return nil
}

// Current returns the running session, if any.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run == nil {
		return nil, false
	}
	return m.run.session, true
}

// LastSummary returns the most recently completed trip's summary.
func (m *Manager) LastSummary() (Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Summary{}, false
	}
	return *m.last, true
}

// Stop ends any running trip and waits for background work to finish.
func (m *Manager) Stop() {
	if err := m.EndTrip(); err != nil && !errors.Is(err, ErrNoActiveTrip) {
		logging.LogError(m.logger, "end trip on stop", err)
	}
	m.wg.Wait()
}
