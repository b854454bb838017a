package sim

import (
	"math"

	"shuttle-sim/internal/shuttle"
)

// Trip tracks simulated progress of one vehicle along a route: a pointer
// into the route's coordinates and the index of the next scheduled stop.
type Trip struct {
	coords []shuttle.Coordinate
	stops  []shuttle.Coordinate
	// nearest[i] is NearestIndex(coords, stops[i]); the route never
	// changes during a trip so it is computed once in Start.
	nearest []int

	coordIdx int
	stopIdx  int
	loaded   bool
}

// NewTrip returns a trip over stops that has been started on coords.
// With empty coords the trip stays unloaded.
func NewTrip(coords, stops []shuttle.Coordinate) *Trip {
	t := &Trip{stops: stops}
	t.Start(coords)
	return t
}

// Start resets progress to the first coordinate. An empty sequence is a
// no-op.
func (t *Trip) Start(coords []shuttle.Coordinate) {
	if len(coords) == 0 {
		return
	}
	t.coords = coords
	t.coordIdx = 0
	t.stopIdx = 0
	t.loaded = true
	t.nearest = make([]int, len(t.stops))
	for i, s := range t.stops {
		t.nearest[i] = NearestIndex(coords, s)
	}
}

// Loaded reports whether the trip has a route to follow.
func (t *Trip) Loaded() bool { return t.loaded }

// Tick advances one coordinate, clamping at the last one.
func (t *Trip) Tick() {
	if !t.loaded {
		return
	}
	if t.coordIdx < len(t.coords)-1 {
		t.coordIdx++
	}
}

// CheckArrival advances the current stop when the vehicle has reached or
// passed the route point closest to it. It moves at most one stop per call
// and reports whether it did.
func (t *Trip) CheckArrival() bool {
	if !t.loaded || len(t.stops) == 0 {
		return false
	}
	if t.coordIdx >= t.nearest[t.stopIdx] && t.stopIdx < len(t.stops)-1 {
		t.stopIdx++
		return true
	}
	return false
}

// NextPosition makes a Trip its own PositionSource: one tick, then the
// new position.
func (t *Trip) NextPosition() shuttle.Coordinate {
	t.Tick()
	return t.Position()
}

// Follow moves the pointer to the route point nearest p, never backwards.
// Used when positions come from a source other than the trip itself.
func (t *Trip) Follow(p shuttle.Coordinate) {
	if !t.loaded {
		return
	}
	if idx := NearestIndex(t.coords, p); idx > t.coordIdx {
		t.coordIdx = idx
	}
}

func (t *Trip) Position() shuttle.Coordinate {
	if !t.loaded {
		return shuttle.Coordinate{}
	}
	return t.coords[t.coordIdx]
}

func (t *Trip) CoordinateIndex() int  { return t.coordIdx }
func (t *Trip) CurrentStopIndex() int { return t.stopIdx }
func (t *Trip) TotalStops() int       { return len(t.stops) }

// Progress is the fraction of the route covered, by coordinate index.
func (t *Trip) Progress() float64 { return Progress(t.coordIdx, len(t.coords)) }

// AtEnd reports whether the vehicle sits on the final coordinate and no
// stop remains to be reached.
func (t *Trip) AtEnd() bool {
	if !t.loaded || t.coordIdx < len(t.coords)-1 {
		return false
	}
	return len(t.stops) == 0 || t.stopIdx == len(t.stops)-1
}

// CheckArrival is the stateless form of (*Trip).CheckArrival: it returns
// the stop index that follows currentStop given the vehicle at coordIdx.
// Zero stops or coordinates disable detection.
func CheckArrival(stops, coords []shuttle.Coordinate, coordIdx, currentStop int) int {
	if len(stops) == 0 || len(coords) == 0 || currentStop < 0 || currentStop >= len(stops) {
		return currentStop
	}
	if coordIdx >= NearestIndex(coords, stops[currentStop]) && currentStop < len(stops)-1 {
		return currentStop + 1
	}
	return currentStop
}

// NearestIndex returns the index of the coordinate closest to p by
// Manhattan distance on raw degrees, or -1 for an empty slice. Ties go to
// the lowest index.
func NearestIndex(coords []shuttle.Coordinate, p shuttle.Coordinate) int {
	best := -1
	bestDist := math.Inf(1)
	for i, c := range coords {
		d := math.Abs(c.Lat-p.Lat) + math.Abs(c.Lon-p.Lon)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Progress returns idx/(n-1), or 0 when the route has fewer than two points.
func Progress(idx, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(idx) / float64(n-1)
}

// ETAMinutes is the displayed minutes left for a trip of totalMinutes at
// the given progress, rounded and never below one.
func ETAMinutes(progress, totalMinutes float64) int {
	remaining := (1 - progress) * totalMinutes
	return max(int(math.Round(remaining)), 1)
}
