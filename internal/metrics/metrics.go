package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveTrip prometheus.Gauge

	TripsStarted   prometheus.Counter
	TripsCompleted prometheus.Counter
	TripsEnded     prometheus.Counter // stopped before completion
	StopArrivals   prometheus.Counter
	Ticks          prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	BackendRequests *prometheus.CounterVec // endpoint, outcome: ok|error
	StopNameCache   *prometheus.CounterVec // result: hit|miss|error
	HistoryWrites   *prometheus.CounterVec // outcome: ok|error

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram
	BackendDuration prometheus.Histogram

	TickInterval     prometheus.Gauge // seconds
	StalenessSeconds prometheus.Gauge
}

func NewCollector(tickInterval, staleness time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveTrip: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_active_trip",
			Help: "1 while a driver trip is running, 0 otherwise.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_trips_started_total",
			Help: "Total trips started.",
		}),
		TripsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_trips_completed_total",
			Help: "Total trips that reached the end of their route.",
		}),
		TripsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_trips_ended_total",
			Help: "Total trips ended by the driver before completion.",
		}),
		StopArrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_stop_arrivals_total",
			Help: "Total detected stop arrivals.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_ticks_total",
			Help: "Total simulation ticks.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_backend_requests_total",
			Help: "Backend API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		StopNameCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_stop_name_cache_total",
			Help: "Stop name cache lookups by result.",
		}, []string{"result"}),
		HistoryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_history_writes_total",
			Help: "Trip summary archive writes by outcome.",
		}, []string{"outcome"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuttle_tick_duration_seconds",
			Help:    "Duration of a simulation step including publish.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuttle_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		BackendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuttle_backend_request_duration_seconds",
			Help:    "Backend API round trip duration.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_tick_interval_seconds",
			Help: "Simulation tick interval in seconds.",
		}),
		StalenessSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_location_staleness_seconds",
			Help: "Age after which a live location counts as inactive.",
		}),
	}

	reg.MustRegister(
		c.ActiveTrip,
		c.TripsStarted, c.TripsCompleted, c.TripsEnded, c.StopArrivals, c.Ticks,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.BackendRequests, c.StopNameCache, c.HistoryWrites,
		c.TickDuration, c.PublishDuration, c.BackendDuration,
		c.TickInterval, c.StalenessSeconds,
	)

	c.TickInterval.Set(tickInterval.Seconds())
	c.StalenessSeconds.Set(staleness.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
