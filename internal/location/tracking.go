package location

import (
	"fmt"
	"time"

	"shuttle-sim/internal/shuttle"
)

// TrackingView is what the passenger tracking screen renders.
type TrackingView struct {
	Active           bool                `json:"active"`
	Status           string              `json:"status"`
	RouteID          int                 `json:"route_id,omitempty"`
	Position         *shuttle.Coordinate `json:"position,omitempty"`
	CurrentStopIndex int                 `json:"current_stop_index"`
	TotalStops       int                 `json:"total_stops"`
	StopsRemaining   int                 `json:"stops_remaining"`
	UpdatedAt        *time.Time          `json:"updated_at,omitempty"`
	AgeSeconds       float64             `json:"age_seconds,omitempty"`
}

const statusNoTrip = "No active trip"

// Tracking reads the register once and derives the passenger view from it.
// Stale or inactive records render as "No active trip".
func (r *Register) Tracking() TrackingView {
	r.mu.RLock()
	now := r.now()
	rec, present, active := r.rec, r.present, r.activeLocked(now)
	r.mu.RUnlock()

	if !present || !active {
		return TrackingView{Status: statusNoTrip}
	}

	pos := shuttle.Coordinate{Lat: rec.Latitude, Lon: rec.Longitude}
	updated := rec.UpdatedAt
	v := TrackingView{
		Active:           true,
		RouteID:          rec.RouteID,
		Position:         &pos,
		CurrentStopIndex: rec.CurrentStopIndex,
		TotalStops:       rec.TotalStops,
		UpdatedAt:        &updated,
		AgeSeconds:       max(now.Sub(updated).Seconds(), 0),
	}
	if rec.TotalStops > 0 {
		v.StopsRemaining = rec.TotalStops - rec.CurrentStopIndex
		v.Status = fmt.Sprintf("Next stop %d of %d", rec.CurrentStopIndex+1, rec.TotalStops)
	} else {
		v.Status = "Shuttle en route"
	}
	return v
}
