// Package location holds the shared live-location register that connects
// the driver's trip simulation to the passenger tracking view.
package location

import (
	"sync"
	"time"
)

// DefaultStaleness is how long a published record counts as live without
// a newer publish.
const DefaultStaleness = 60 * time.Second

// Update is what a driver-side publisher supplies. The register stamps it.
type Update struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	CurrentStopIndex int     `json:"currentStopIndex"`
	TotalStops       int     `json:"totalStops"`
	TripActive       bool    `json:"tripActive"`
	RouteID          int     `json:"routeId"`
}

// Record is the stored snapshot of a driver's simulated position.
type Record struct {
	Update
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is delivered to subscribers. Present is false after Clear.
type Snapshot struct {
	Record  Record
	Present bool
}

// Register is a last-write-wins, single-slot store. The zero value is not
// usable; construct with NewRegister.
type Register struct {
	staleness time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	rec     Record
	present bool
	// last stamp handed out, kept across Clear so stamps never repeat
	lastStamp time.Time

	subs   map[int]chan Snapshot
	nextID int
}

type Option func(*Register)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Register) { r.now = now }
}

// WithStaleness overrides DefaultStaleness. Non-positive values are ignored.
func WithStaleness(d time.Duration) Option {
	return func(r *Register) {
		if d > 0 {
			r.staleness = d
		}
	}
}

func NewRegister(opts ...Option) *Register {
	r := &Register{
		staleness: DefaultStaleness,
		now:       time.Now,
		subs:      make(map[int]chan Snapshot),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Staleness returns the liveness threshold used by IsActive.
func (r *Register) Staleness() time.Duration { return r.staleness }

// Publish stores u with a fresh timestamp, replacing any previous record,
// and returns what was stored.
func (r *Register) Publish(u Update) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now()
	if !r.lastStamp.IsZero() && !ts.After(r.lastStamp) {
		ts = r.lastStamp.Add(time.Nanosecond)
	}
	r.lastStamp = ts
	r.rec = Record{Update: u, UpdatedAt: ts}
	r.present = true
	r.notifyLocked(Snapshot{Record: r.rec, Present: true})
	return r.rec
}

// Read returns the current record; ok is false if nothing is stored.
func (r *Register) Read() (rec Record, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rec, r.present
}

// IsActive reports whether a record exists, its trip is active and it was
// published less than the staleness threshold ago.
func (r *Register) IsActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked(r.now())
}

func (r *Register) activeLocked(now time.Time) bool {
	if !r.present || !r.rec.TripActive {
		return false
	}
	return now.Sub(r.rec.UpdatedAt) < r.staleness
}

// Clear empties the register. Called when a trip completes or the driver
// logs out.
func (r *Register) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec = Record{}
	r.present = false
	r.notifyLocked(Snapshot{})
}

// Subscribe returns a channel that always holds the most recent change.
// Pending snapshots a slow reader has not consumed are replaced, not queued.
// Call cancel to release the subscription; the channel is then closed.
func (r *Register) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (r *Register) notifyLocked(s Snapshot) {
	for _, ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
