package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shuttle-sim/internal/sim"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS trip_summaries (
  id               BIGSERIAL PRIMARY KEY,
  route_id         INTEGER NOT NULL,
  vehicle_id       INTEGER NOT NULL,
  driver_name      TEXT NOT NULL DEFAULT '',
  boarded          INTEGER NOT NULL,
  total_passengers INTEGER NOT NULL,
  total_stops      INTEGER NOT NULL,
  distance_km      DOUBLE PRECISION NOT NULL,
  duration_min     DOUBLE PRECISION NOT NULL,
  boarding_rate    INTEGER NOT NULL,
  started_at       TIMESTAMPTZ NOT NULL,
  completed_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trip_summaries_completed_at_idx ON trip_summaries (completed_at DESC);`

// History archives completed trip summaries in Postgres.
type History struct {
	db *sql.DB
}

// NewHistory creates the table if needed.
func NewHistory(ctx context.Context, db *sql.DB) (*History, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create trip_summaries: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) SaveTripSummary(ctx context.Context, s sim.Summary) error {
	q := `INSERT INTO trip_summaries
  (route_id, vehicle_id, driver_name, boarded, total_passengers, total_stops,
   distance_km, duration_min, boarding_rate, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := h.db.ExecContext(ctx, q,
		s.RouteID, s.VehicleID, s.DriverName, s.Boarded, s.TotalPassengers, s.TotalStops,
		s.DistanceKm, s.DurationMin, s.BoardingRate, s.StartedAt, s.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert trip summary: %w", err)
	}
	return nil
}

// MaxHistory caps how many summaries one listing returns.
const MaxHistory = 100

// ListTripSummaries returns the most recent completed trips, newest first.
// routeID 0 lists all routes.
func (h *History) ListTripSummaries(ctx context.Context, routeID, limit int) ([]sim.Summary, error) {
	q := `SELECT route_id, vehicle_id, driver_name, boarded, total_passengers, total_stops,
       distance_km, duration_min, boarding_rate, started_at, completed_at
FROM trip_summaries
WHERE ($1 = 0 OR route_id = $1)
ORDER BY completed_at DESC
LIMIT $2`
	rows, err := h.db.QueryContext(ctx, q, routeID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query trip summaries: %w", err)
	}
	defer rows.Close()

	var out []sim.Summary
	for rows.Next() {
		var s sim.Summary
		if err := rows.Scan(&s.RouteID, &s.VehicleID, &s.DriverName, &s.Boarded, &s.TotalPassengers, &s.TotalStops,
			&s.DistanceKm, &s.DurationMin, &s.BoardingRate, &s.StartedAt, &s.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func clampLimit(n int) int {
	if n <= 0 || n > MaxHistory {
		return MaxHistory
	}
	return n
}
