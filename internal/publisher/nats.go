package publisher

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"shuttle-sim/internal/location"
)

// SubjectPrefix roots every live-location subject; the route id follows.
const SubjectPrefix = "shuttle.location"

// drainTimeout bounds how long Close waits for pending messages to flush.
const drainTimeout = 5 * time.Second

type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PublisherMetrics
	logger      *slog.Logger
	closed      chan struct{} // closed by the connection's ClosedHandler
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url string, logSubjects bool, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	closed := make(chan struct{})
	var closeOnce sync.Once
	setConnected := func(b bool) {
		if m != nil {
			m.NATSSetConnected(b)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name("shuttle-sim"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
				return
			}
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			setConnected(true)
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			closeOnce.Do(func() { close(closed) })
			logger.Info("nats closed")
		}),
		nats.DrainTimeout(drainTimeout),
	)
	if err != nil {
		return nil, err
	}
	setConnected(true)
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m, logger: logger, closed: closed}, nil
}

// Close drains the connection so buffered records reach the server, then
// waits for it to close.
func (p *NATSPublisher) Close() {
	if p.nc == nil {
		return
	}
	drainAndWait(p.nc.Drain, p.nc.Close, p.closed, drainTimeout+time.Second, p.logger)
}

// drainAndWait starts an asynchronous drain and blocks until closed fires.
// A drain that fails to start or outlives timeout falls back to forceClose.
func drainAndWait(drain func() error, forceClose func(), closed <-chan struct{}, timeout time.Duration, logger *slog.Logger) {
	if err := drain(); err != nil {
		logger.Warn("nats drain", "error", err)
		forceClose()
		return
	}
	select {
	case <-closed:
	case <-time.After(timeout):
		logger.Warn("nats drain timed out", "timeout", timeout)
		forceClose()
	}
}

// PublishLocation sends rec as JSON on the route's subject.
func (p *NATSPublisher) PublishLocation(rec location.Record) error {
	subject := Subject(rec.RouteID)
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.logger.Debug("nats publish", "subject", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// Subject returns the subject live locations for routeID are published on.
func Subject(routeID int) string {
	return SubjectPrefix + "." + subjectToken(strconv.Itoa(routeID))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, '>', '*' or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
