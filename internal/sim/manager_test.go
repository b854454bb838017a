package sim

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-sim/internal/location"
	"shuttle-sim/internal/logging"
	"shuttle-sim/internal/metrics"
	"shuttle-sim/internal/shuttle"
)

type memoryStore struct {
	mu        sync.Mutex
	summaries []Summary
	err       error
}

func (s *memoryStore) SaveTripSummary(_ context.Context, sum Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	return s.err
}

func (s *memoryStore) saved() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Summary(nil), s.summaries...)
}

func TestManagerRejectsSecondTrip(t *testing.T) {
	reg := location.NewRegister()
	m := NewManager(ManagerConfig{Register: reg, Interval: time.Hour})
	defer m.Stop()

	_, err := m.StartTrip(context.Background(), shuttle.Route{ClusterID: 1, Coordinates: line(50)}, shuttle.Vehicle{ID: 1}, nil)
	require.NoError(t, err)

	_, err = m.StartTrip(context.Background(), scenarioRoute(), shuttle.Vehicle{ID: 2}, nil)
	assert.ErrorIs(t, err, ErrTripInProgress)

	s, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, 1, s.Route().ClusterID)
}

func TestManagerRejectsEmptyRoute(t *testing.T) {
	m := NewManager(ManagerConfig{Register: location.NewRegister()})
	_, err := m.StartTrip(context.Background(), shuttle.Route{ClusterID: 9}, shuttle.Vehicle{}, nil)
	assert.ErrorIs(t, err, ErrNoRouteData)

	_, ok := m.Current()
	assert.False(t, ok)
}

func TestManagerEndTripClearsRegister(t *testing.T) {
	reg := location.NewRegister()
	col := metrics.NewCollector(time.Hour, location.DefaultStaleness)
	store := &memoryStore{}
	m := NewManager(ManagerConfig{Register: reg, Interval: time.Hour, Metrics: col, Store: store})

	_, err := m.StartTrip(context.Background(), shuttle.Route{ClusterID: 1, Coordinates: line(50)}, shuttle.Vehicle{ID: 1}, nil)
	require.NoError(t, err)
	require.Eventually(t, reg.IsActive, time.Second, time.Millisecond)

	require.NoError(t, m.EndTrip())
	assert.False(t, reg.IsActive())
	_, ok := reg.Read()
	assert.False(t, ok)
	_, ok = m.Current()
	assert.False(t, ok)

	assert.ErrorIs(t, m.EndTrip(), ErrNoActiveTrip)
	assert.Empty(t, store.saved(), "unfinished trips are not archived")
	assert.Equal(t, 1.0, testutil.ToFloat64(col.TripsEnded))
	assert.Equal(t, 0.0, testutil.ToFloat64(col.ActiveTrip))

	m.Stop()
}

func TestManagerArchivesCompletedTrip(t *testing.T) {
	reg := location.NewRegister()
	col := metrics.NewCollector(time.Millisecond, location.DefaultStaleness)
	store := &memoryStore{}
	m := NewManager(ManagerConfig{Register: reg, Interval: time.Millisecond, Metrics: col, Store: store})
	defer m.Stop()

	_, err := m.StartTrip(context.Background(), scenarioRoute(), shuttle.Vehicle{ID: 3}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(store.saved()) == 1 }, 5*time.Second, time.Millisecond)
	sum, ok := m.LastSummary()
	require.True(t, ok)
	assert.Equal(t, 4, sum.RouteID)
	assert.Equal(t, 3, sum.VehicleID)
	assert.Equal(t, store.saved()[0], sum)

	_, running := m.Current()
	assert.False(t, running)
	assert.Equal(t, 1.0, testutil.ToFloat64(col.TripsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.HistoryWrites.WithLabelValues("ok")))

	// a new trip may start once the previous one completed
	_, err = m.StartTrip(context.Background(), scenarioRoute(), shuttle.Vehicle{ID: 3}, nil)
	assert.NoError(t, err)
}

func TestManagerArchiveFailureIsCounted(t *testing.T) {
	col := metrics.NewCollector(time.Millisecond, location.DefaultStaleness)
	store := &memoryStore{err: errors.New("db: connection refused")}
	m := NewManager(ManagerConfig{Register: location.NewRegister(), Interval: time.Millisecond, Metrics: col, Store: store})
	defer m.Stop()

	_, err := m.StartTrip(context.Background(), scenarioRoute(), shuttle.Vehicle{}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(col.HistoryWrites.WithLabelValues("error")) == 1
	}, 5*time.Second, time.Millisecond)
	_, ok := m.LastSummary()
	assert.True(t, ok)
}

func TestManagerParentCancelClearsRegister(t *testing.T) {
	reg := location.NewRegister()
	col := metrics.NewCollector(time.Hour, location.DefaultStaleness)
	m := NewManager(ManagerConfig{Register: reg, Interval: time.Hour, Metrics: col})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := m.StartTrip(ctx, shuttle.Route{ClusterID: 1, Coordinates: line(50)}, shuttle.Vehicle{ID: 1}, nil)
	require.NoError(t, err)
	require.Eventually(t, reg.IsActive, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		_, running := m.Current()
		return !running
	}, time.Second, time.Millisecond)
	_, ok := reg.Read()
	assert.False(t, ok, "a cancelled trip leaves no live location")

	m.Stop()
	assert.Equal(t, 0.0, testutil.ToFloat64(col.TripsEnded))
	assert.Equal(t, 0.0, testutil.ToFloat64(col.ActiveTrip))
}

func TestManagerEndTripAfterCompletionIsNotCounted(t *testing.T) {
	reg := location.NewRegister()
	col := metrics.NewCollector(time.Hour, location.DefaultStaleness)
	m := NewManager(ManagerConfig{Register: reg, Interval: time.Hour, Metrics: col})

	s, err := NewSession(SessionConfig{Route: shuttle.Route{ClusterID: 2, Coordinates: line(1)}, Register: reg})
	require.NoError(t, err)
	done := make(chan struct{})
	close(done)
	// the run goroutine has finished the trip but not yet dropped it
	m.run = &tripRun{session: s, cancel: func() {}, done: done}

	assert.ErrorIs(t, m.EndTrip(), ErrNoActiveTrip)
	assert.Equal(t, 0.0, testutil.ToFloat64(col.TripsEnded))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestManagerLogsTripLifecycle(t *testing.T) {
	var logs lockedBuffer
	m := NewManager(ManagerConfig{
		Register: location.NewRegister(),
		Interval: time.Hour,
		Logger:   logging.New(&logs, slog.LevelInfo),
	})
	defer m.Stop()

	_, err := m.StartTrip(context.Background(), shuttle.Route{ClusterID: 8, Coordinates: line(10)}, shuttle.Vehicle{ID: 2}, nil)
	require.NoError(t, err)
	require.NoError(t, m.EndTrip())

	out := logs.String()
	assert.Contains(t, out, `"msg":"trip_started"`)
	assert.Contains(t, out, `"vehicle_id":2`)
	assert.Contains(t, out, `"msg":"trip_ended"`)
	assert.NotContains(t, out, `"msg":"trip_completed"`)
}
