package shuttle

import (
	"encoding/json"
	"fmt"
)

// Coordinate is a point in degrees. On the wire it is a two element
// [lat, lon] array, matching the backend.
type Coordinate struct {
	Lat float64
	Lon float64
}

func (c Coordinate) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Lat, c.Lon})
}

func (c *Coordinate) UnmarshalJSON(b []byte) error {
	var pair []float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("coordinate: %w", err)
	}
	if len(pair) < 2 {
		return fmt.Errorf("coordinate: want [lat, lon], got %d values", len(pair))
	}
	c.Lat, c.Lon = pair[0], pair[1]
	return nil
}

// Pairs converts coordinates into the [][]float64 form used by request
// bodies and polyline encoding.
func Pairs(cs []Coordinate) [][]float64 {
	out := make([][]float64, len(cs))
	for i, c := range cs {
		out[i] = []float64{c.Lat, c.Lon}
	}
	return out
}

type Route struct {
	ClusterID     int          `json:"cluster_id"`
	Center        Coordinate   `json:"center"`
	DistanceKm    float64      `json:"distance_km"`
	DurationMin   float64      `json:"duration_min"`
	Stops         []Coordinate `json:"stops"`
	BusStops      []Coordinate `json:"bus_stops"`
	Coordinates   []Coordinate `json:"coordinates"`
	StopCount     int          `json:"stop_count"`
	BusStopCount  int          `json:"bus_stop_count"`
	EmployeeCount int          `json:"employee_count"`
	Optimized     bool         `json:"optimized"`
}

// ScheduledStops returns the stops a shuttle serves along the route. Bus
// stops are preferred when the backend resolved them.
func (r Route) ScheduledStops() []Coordinate {
	if len(r.BusStops) > 0 {
		return r.BusStops
	}
	return r.Stops
}

// HasRouteData reports whether the route has a path to follow.
func (r Route) HasRouteData() bool { return len(r.Coordinates) > 0 }

type Vehicle struct {
	ID          int    `json:"id"`
	Capacity    int    `json:"capacity"`
	VehicleType string `json:"vehicle_type"`
	DriverName  string `json:"driver_name"`
}

type Employee struct {
	ID              int         `json:"id"`
	Name            string      `json:"name"`
	Lat             float64     `json:"lat"`
	Lon             float64     `json:"lon"`
	ZoneID          *int        `json:"zone_id"`
	ClusterID       *int        `json:"cluster_id"`
	Excluded        bool        `json:"excluded"`
	ExclusionReason *string     `json:"exclusion_reason"`
	PickupPoint     *Coordinate `json:"pickup_point"`
	HasRoute        bool        `json:"has_route"`
}

type ClusterEmployee struct {
	ID              int         `json:"id"`
	Name            string      `json:"name"`
	Lat             float64     `json:"lat"`
	Lon             float64     `json:"lon"`
	PickupPoint     *Coordinate `json:"pickup_point"`
	WalkingDistance *float64    `json:"walking_distance"`
}

type ClusterRoute struct {
	DistanceKm  float64      `json:"distance_km"`
	DurationMin float64      `json:"duration_min"`
	Stops       []Coordinate `json:"stops"`
	Coordinates []Coordinate `json:"coordinates"`
	StopCount   int          `json:"stop_count"`
	Optimized   bool         `json:"optimized"`
}

type Cluster struct {
	ID            int               `json:"id"`
	Center        Coordinate        `json:"center"`
	EmployeeCount int               `json:"employee_count"`
	Employees     []ClusterEmployee `json:"employees"`
	Route         *ClusterRoute     `json:"route"`
}

type WalkingRoute struct {
	Coordinates []Coordinate `json:"coordinates"`
	DistanceKm  float64      `json:"distance_km"`
	DurationMin float64      `json:"duration_min"`
}

// StopNames maps StopKey(lat, lon) to a human readable stop name.
type StopNames map[string]string

// StopKey is the lookup key the backend uses for resolved stop names:
// both components rounded to five decimals.
func StopKey(c Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}
