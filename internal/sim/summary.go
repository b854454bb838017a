package sim

import (
	"math"
	"time"
)

// Summary is the outcome of a completed trip, shown on the driver's trip
// summary screen and archived as ride history.
type Summary struct {
	RouteID         int       `json:"route_id"`
	VehicleID       int       `json:"vehicle_id"`
	DriverName      string    `json:"driver_name,omitempty"`
	Boarded         int       `json:"boarded"`
	TotalPassengers int       `json:"total_passengers"`
	TotalStops      int       `json:"total_stops"`
	DistanceKm      float64   `json:"distance_km"`
	DurationMin     float64   `json:"duration_min"`
	BoardingRate    int       `json:"boarding_rate"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// BoardingRate is the rounded percentage of passengers who boarded, 0 when
// nobody was expected.
func BoardingRate(boarded, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(boarded) / float64(total) * 100))
}
