package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"shuttle-sim/internal/location"
	"shuttle-sim/internal/shuttle"
	"shuttle-sim/internal/sim"
)

// Backend is the subset of the backend client the API serves from.
type Backend interface {
	Routes(ctx context.Context) ([]shuttle.Route, error)
	Route(ctx context.Context, clusterID int) (shuttle.Route, error)
	Vehicles(ctx context.Context) ([]shuttle.Vehicle, error)
	Employees(ctx context.Context) ([]shuttle.Employee, error)
	Employee(ctx context.Context, id int) (shuttle.Employee, error)
	Cluster(ctx context.Context, id int) (shuttle.Cluster, error)
	StopLabels(ctx context.Context, stops []shuttle.Coordinate) []string
	WalkingPath(ctx context.Context, origin, dest shuttle.Coordinate) shuttle.WalkingRoute
}

// History lists archived trip summaries, newest first.
type History interface {
	ListTripSummaries(ctx context.Context, routeID, limit int) ([]sim.Summary, error)
}

type Config struct {
	Backend  Backend
	Manager  *sim.Manager
	Register *location.Register
	History  History // nil disables /api/history
	Logger   *slog.Logger

	// RateLimit is requests per second per client address; 0 disables.
	RateLimit int
	Location  *time.Location
	Now       func() time.Time

	// BaseContext parents trip sessions, which outlive the starting request.
	BaseContext context.Context
}

type Server struct {
	backend  Backend
	manager  *sim.Manager
	register *location.Register
	history  History
	logger   *slog.Logger
	loc      *time.Location
	now      func() time.Time
	baseCtx  context.Context

	limiter *RateLimitMiddleware

	// streams ends open live-location streams on shutdown
	streams      context.Context
	closeStreams context.CancelFunc
}

func New(cfg Config) *Server {
	s := &Server{
		backend:  cfg.Backend,
		manager:  cfg.Manager,
		register: cfg.Register,
		history:  cfg.History,
		logger:   cfg.Logger,
		loc:      cfg.Location,
		now:      cfg.Now,
		baseCtx:  cfg.BaseContext,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	s.streams, s.closeStreams = context.WithCancel(context.Background())
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimitMiddleware(cfg.RateLimit, time.Second)
	}
	return s
}

func (s *Server) routes() *httprouter.Router {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(s.notFound)

	router.HandlerFunc(http.MethodGet, "/healthz", s.healthHandler)

	router.HandlerFunc(http.MethodGet, "/api/routes", s.routesHandler)
	router.HandlerFunc(http.MethodGet, "/api/routes/:id", s.routeHandler)
	router.HandlerFunc(http.MethodGet, "/api/vehicles", s.vehiclesHandler)
	router.HandlerFunc(http.MethodGet, "/api/employees", s.employeesHandler)
	router.HandlerFunc(http.MethodGet, "/api/employees/:id", s.employeeHandler)
	router.HandlerFunc(http.MethodGet, "/api/clusters/:id", s.clusterHandler)
	router.HandlerFunc(http.MethodGet, "/api/walking-route", s.walkingRouteHandler)
	router.HandlerFunc(http.MethodGet, "/api/schedule", s.scheduleHandler)

	router.HandlerFunc(http.MethodPost, "/api/trips", s.startTripHandler)
	router.HandlerFunc(http.MethodGet, "/api/trips/current", s.currentTripHandler)
	router.HandlerFunc(http.MethodDelete, "/api/trips/current", s.endTripHandler)
	router.HandlerFunc(http.MethodPost, "/api/trips/current/boardings", s.boardingHandler)
	router.HandlerFunc(http.MethodGet, "/api/trips/summary", s.tripSummaryHandler)
	router.HandlerFunc(http.MethodGet, "/api/history", s.historyHandler)

	router.HandlerFunc(http.MethodGet, "/api/live-location", s.liveLocationHandler)
	router.HandlerFunc(http.MethodGet, liveStreamPath, s.liveStreamHandler)
	router.HandlerFunc(http.MethodGet, "/api/tracking", s.trackingHandler)

	return router
}

// Handler returns the API with request logging, rate limiting and gzip
// applied. The live-location stream bypasses compression so events flush.
func (s *Server) Handler() http.Handler {
	router := s.routes()
	compressed := CompressionMiddleware(router)

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == liveStreamPath {
			router.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
	if s.limiter != nil {
		h = s.limiter.Handler(h)
	}
	return NewRequestLoggingMiddleware(s.logger)(h)
}

// CloseStreams ends every open live-location stream. Register it with
// http.Server.RegisterOnShutdown; Shutdown does not cancel requests that
// are still writing.
func (s *Server) CloseStreams() { s.closeStreams() }

// Close ends open streams and releases the rate limiter's cleanup goroutine.
func (s *Server) Close() {
	s.closeStreams()
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"trip_active": s.register.IsActive(),
	})
}
