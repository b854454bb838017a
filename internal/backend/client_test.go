package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-sim/internal/metrics"
	"shuttle-sim/internal/shuttle"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 2*time.Second, opts...)
}

func TestRoutesRequestsBusStops(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/routes", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("include_bus_stops"))
		_, _ = w.Write([]byte(`[{"cluster_id":1,"coordinates":[[41.0,28.9],[41.1,29.0]],"bus_stops":[[41.1,29.0]],"duration_min":20,"employee_count":8}]`))
	}))

	routes, err := c.Routes(context.Background())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, 1, routes[0].ClusterID)
	assert.Len(t, routes[0].Coordinates, 2)
	assert.Equal(t, 8, routes[0].EmployeeCount)
}

func TestSingleResourceEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/routes/4", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cluster_id":4}`))
	})
	mux.HandleFunc("GET /api/vehicles", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":2,"capacity":20,"vehicle_type":"minibus","driver_name":"John Doe"}]`))
	})
	mux.HandleFunc("GET /api/employees", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":5,"name":"Sarah Jenkins","pickup_point":null}]`))
	})
	mux.HandleFunc("GET /api/employees/5", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":5,"name":"Sarah Jenkins","pickup_point":[41.01,28.97]}`))
	})
	mux.HandleFunc("GET /api/clusters/3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":3,"employee_count":1,"employees":[{"id":5,"name":"Sarah Jenkins","walking_distance":120.5}],"route":null}`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	r, err := c.Route(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, r.ClusterID)

	vs, err := c.Vehicles(ctx)
	require.NoError(t, err)
	assert.Equal(t, "John Doe", vs[0].DriverName)

	es, err := c.Employees(ctx)
	require.NoError(t, err)
	assert.Nil(t, es[0].PickupPoint)

	e, err := c.Employee(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, e.PickupPoint)

	cl, err := c.Cluster(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, cl.Route)
	require.Len(t, cl.Employees, 1)
	assert.Equal(t, 120.5, *cl.Employees[0].WalkingDistance)
}

func TestNon2xxReturnsAPIError(t *testing.T) {
	col := metrics.NewCollector(time.Second, time.Minute)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "optimizer offline", http.StatusServiceUnavailable)
	}), WithMetrics(col))

	_, err := c.Vehicles(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "optimizer offline")
	assert.Contains(t, err.Error(), "API 503")
	assert.Equal(t, 1.0, testutil.ToFloat64(col.BackendRequests.WithLabelValues("vehicles", "error")))
}

func TestTransportErrorIsWrapped(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.Routes(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestStopNamesPostsCoordinates(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body struct {
			Coordinates [][]float64 `json:"coordinates"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, [][]float64{{41.0082, 28.9684}}, body.Coordinates)
		_, _ = w.Write([]byte(`{"41.00820,28.96840":"Sector 4"}`))
	}))

	names, err := c.StopNames(context.Background(), []shuttle.Coordinate{{Lat: 41.0082, Lon: 28.9684}})
	require.NoError(t, err)
	assert.Equal(t, "Sector 4", names["41.00820,28.96840"])
}

func TestWalkingRouteQuery(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "41.0162", q.Get("origin_lat"))
		assert.Equal(t, "28.9824", q.Get("origin_lon"))
		assert.Equal(t, "41.0142", q.Get("dest_lat"))
		assert.Equal(t, "28.9784", q.Get("dest_lon"))
		_, _ = w.Write([]byte(`{"coordinates":[[41.0162,28.9824],[41.015,28.98],[41.0142,28.9784]],"distance_km":0.4,"duration_min":5}`))
	}))

	wr, err := c.WalkingRoute(context.Background(), 41.0162, 28.9824, 41.0142, 28.9784)
	require.NoError(t, err)
	assert.Len(t, wr.Coordinates, 3)
	assert.Equal(t, 5.0, wr.DurationMin)
}

type mapCache struct {
	mu     sync.Mutex
	names  shuttle.StopNames
	getErr error
}

func (m *mapCache) GetStopNames(_ context.Context, keys []string) (shuttle.StopNames, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := shuttle.StopNames{}
	for _, k := range keys {
		if v, ok := m.names[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *mapCache) SetStopNames(_ context.Context, names shuttle.StopNames) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range names {
		m.names[k] = v
	}
	return nil
}

func TestStopLabelsFallBackOnFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	labels := c.StopLabels(context.Background(), []shuttle.Coordinate{{Lat: 1, Lon: 2}, {Lat: 3, Lon: 4}})
	assert.Equal(t, []string{"Bus Stop", "Bus Stop"}, labels)
	assert.Empty(t, c.StopLabels(context.Background(), nil))
}

func TestStopLabelsUsesCacheAndFillsIt(t *testing.T) {
	var calls int
	var mu sync.Mutex
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		var body struct {
			Coordinates [][]float64 `json:"coordinates"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Coordinates, 1, "only uncached stops are requested")
		_, _ = w.Write([]byte(`{"3.00000,4.00000":"North Gate"}`))
	}), WithStopNameCache(&mapCache{names: shuttle.StopNames{"1.00000,2.00000": "Downtown"}}))

	stops := []shuttle.Coordinate{{Lat: 1, Lon: 2}, {Lat: 3, Lon: 4}, {Lat: 5, Lon: 6}}
	wanted := []string{"Downtown", "North Gate", "Bus Stop"}
	assert.Equal(t, wanted[:2], c.StopLabels(context.Background(), stops[:2]))

	labels := c.StopLabels(context.Background(), stops[:2])
	assert.Equal(t, wanted[:2], labels)
	mu.Lock()
	assert.Equal(t, 1, calls, "second lookup is served from cache")
	mu.Unlock()

	assert.Equal(t, wanted, c.StopLabels(context.Background(), stops))
}

func TestStopLabelsSurvivesCacheError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"1.00000,2.00000":"Downtown"}`))
	}), WithStopNameCache(&mapCache{names: shuttle.StopNames{}, getErr: errors.New("redis: nil client")}))

	assert.Equal(t, []string{"Downtown"}, c.StopLabels(context.Background(), []shuttle.Coordinate{{Lat: 1, Lon: 2}}))
}

func TestWalkingPathFallsBackToStraightLine(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	origin := shuttle.Coordinate{Lat: 41.0162, Lon: 28.9824}
	dest := shuttle.Coordinate{Lat: 41.0142, Lon: 28.9784}

	wr := c.WalkingPath(context.Background(), origin, dest)
	assert.Equal(t, []shuttle.Coordinate{origin, dest}, wr.Coordinates)
}
