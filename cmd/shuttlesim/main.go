package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shuttle-sim/internal/backend"
	"shuttle-sim/internal/cache"
	"shuttle-sim/internal/config"
	"shuttle-sim/internal/db"
	"shuttle-sim/internal/httpapi"
	"shuttle-sim/internal/location"
	"shuttle-sim/internal/logging"
	"shuttle-sim/internal/metrics"
	"shuttle-sim/internal/publisher"
	"shuttle-sim/internal/sim"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.TickInterval, cfg.Staleness)
		msrv := mcol.Serve(cfg.MetricsAddr, logger)
		defer shutdown(msrv, logger, "metrics")
	}

	clientOpts := []backend.Option{backend.WithLogger(logger)}
	if mcol != nil {
		clientOpts = append(clientOpts, backend.WithMetrics(mcol))
	}
	if cfg.RedisURL != "" {
		sc, err := cache.Connect(ctx, cfg.RedisURL, cfg.StopNameTTL)
		if err != nil {
			logger.Warn("stop name cache disabled", "error", err)
		} else {
			defer logging.SafeCloseWithLogging(sc, logger, "redis")
			clientOpts = append(clientOpts, backend.WithStopNameCache(sc))
			logger.Info("stop name cache enabled", "ttl", cfg.StopNameTTL)
		}
	}
	client := backend.NewClient(cfg.APIBaseURL, cfg.APITimeout, clientOpts...)

	var sinks []sim.Sink
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol), logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
		logger.Info("publishing live locations", "url", cfg.NATSURL, "subject", publisher.SubjectPrefix+".<route>")
	}

	var (
		store   sim.SummaryStore
		history httpapi.History
	)
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer logging.SafeCloseWithLogging(sqlDB, logger, "postgres")
		if err := db.Ping(ctx, sqlDB); err != nil {
			return err
		}
		h, err := db.NewHistory(ctx, sqlDB)
		if err != nil {
			return err
		}
		store, history = h, h
		logger.Info("trip history enabled")
	}

	register := location.NewRegister(location.WithStaleness(cfg.Staleness))
	mgr := sim.NewManager(sim.ManagerConfig{
		Register: register,
		Sinks:    sinks,
		Interval: cfg.TickInterval,
		Store:    store,
		Metrics:  mcol,
		Logger:   logger,
	})

	api := httpapi.New(httpapi.Config{
		Backend:     client,
		Manager:     mgr,
		Register:    register,
		History:     history,
		Logger:      logger,
		RateLimit:   cfg.RateLimit,
		Location:    cfg.Location,
		BaseContext: ctx,
	})
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(api.CloseStreams)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("http listening", "addr", cfg.HTTPAddr, "tick_interval", cfg.TickInterval, "staleness", cfg.Staleness)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			mgr.Stop()
			return err
		}
	}

	shutdown(srv, logger, "http")
	mgr.Stop()
	logger.Info("shutdown complete")
	return nil
}

func shutdown(srv *http.Server, logger *slog.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", "server", name, "error", err)
	}
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
