// Package backend is a typed client for the shuttle routing backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	mmetrics "shuttle-sim/internal/metrics"
	"shuttle-sim/internal/shuttle"
)

// DefaultBaseURL is where the backend listens in development.
const DefaultBaseURL = "http://localhost:5050"

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API %d: %s", e.StatusCode, e.Body)
}

// StopNameCache stores resolved stop names between lookups.
type StopNameCache interface {
	GetStopNames(ctx context.Context, keys []string) (shuttle.StopNames, error)
	SetStopNames(ctx context.Context, names shuttle.StopNames) error
}

type Client struct {
	baseURL string
	http    *http.Client
	cache   StopNameCache
	metrics *mmetrics.Collector
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithStopNameCache(sc StopNameCache) Option { return func(c *Client) { c.cache = sc } }

func WithMetrics(m *mmetrics.Collector) Option { return func(c *Client) { c.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Routes(ctx context.Context) ([]shuttle.Route, error) {
	var out []shuttle.Route
	err := c.get(ctx, "routes", "/api/routes?include_bus_stops=true", &out)
	return out, err
}

func (c *Client) Route(ctx context.Context, clusterID int) (shuttle.Route, error) {
	var out shuttle.Route
	err := c.get(ctx, "route", "/api/routes/"+strconv.Itoa(clusterID), &out)
	return out, err
}

func (c *Client) Vehicles(ctx context.Context) ([]shuttle.Vehicle, error) {
	var out []shuttle.Vehicle
	err := c.get(ctx, "vehicles", "/api/vehicles", &out)
	return out, err
}

func (c *Client) Employees(ctx context.Context) ([]shuttle.Employee, error) {
	var out []shuttle.Employee
	err := c.get(ctx, "employees", "/api/employees", &out)
	return out, err
}

func (c *Client) Employee(ctx context.Context, id int) (shuttle.Employee, error) {
	var out shuttle.Employee
	err := c.get(ctx, "employee", "/api/employees/"+strconv.Itoa(id), &out)
	return out, err
}

func (c *Client) Cluster(ctx context.Context, id int) (shuttle.Cluster, error) {
	var out shuttle.Cluster
	err := c.get(ctx, "cluster", "/api/clusters/"+strconv.Itoa(id), &out)
	return out, err
}

// StopNames resolves names for coordinates, keyed by shuttle.StopKey.
func (c *Client) StopNames(ctx context.Context, coords []shuttle.Coordinate) (shuttle.StopNames, error) {
	body, err := json.Marshal(struct {
		Coordinates [][]float64 `json:"coordinates"`
	}{Coordinates: shuttle.Pairs(coords)})
	if err != nil {
		return nil, err
	}
	var out shuttle.StopNames
	err = c.do(ctx, "stop_names", http.MethodPost, "/api/stops/names", bytes.NewReader(body), &out)
	return out, err
}

func (c *Client) WalkingRoute(ctx context.Context, originLat, originLon, destLat, destLon float64) (shuttle.WalkingRoute, error) {
	q := url.Values{}
	q.Set("origin_lat", strconv.FormatFloat(originLat, 'f', -1, 64))
	q.Set("origin_lon", strconv.FormatFloat(originLon, 'f', -1, 64))
	q.Set("dest_lat", strconv.FormatFloat(destLat, 'f', -1, 64))
	q.Set("dest_lon", strconv.FormatFloat(destLon, 'f', -1, 64))
	var out shuttle.WalkingRoute
	err := c.get(ctx, "walking_route", "/api/walking-route?"+q.Encode(), &out)
	return out, err
}

func (c *Client) get(ctx context.Context, endpoint, path string, dst any) error {
	return c.do(ctx, endpoint, http.MethodGet, path, nil, dst)
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body io.Reader, dst any) error {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("backend request", slog.String("method", method), slog.String("url", u))
	start := time.Now()
	err = c.roundTrip(req, dst)
	c.observe(endpoint, start, err)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(req *http.Request, dst any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) observe(endpoint string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.BackendRequests.WithLabelValues(endpoint, outcome).Inc()
	c.metrics.BackendDuration.Observe(time.Since(start).Seconds())
}
