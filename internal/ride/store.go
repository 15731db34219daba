package ride

import (
	"errors"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrNotFound covers unknown ride ids as well as rides that already
	// reached a terminal state: the store only holds live rides.
	ErrNotFound = errors.New("ride not found")
	// ErrExists rejects a create reusing an active ride id.
	ErrExists = errors.New("ride id already active")
	// ErrAlreadyAssigned is the losing side of the assignment race.
	ErrAlreadyAssigned = errors.New("ride already assigned")
	// ErrIllegalTransition rejects an event not valid for the ride's
	// current state, including events from the wrong caller.
	ErrIllegalTransition = errors.New("illegal ride transition")
)

// Store is the in-memory table of active rides. Each entry carries its
// own mutex so that the Searching -> PickingUp compare-and-set is a
// single critical section and unrelated rides never serialize against
// each other. A ride is present if and only if it is non-terminal:
// entering a terminal state deletes the entry in the same operation.
type Store struct {
	mu    sync.RWMutex
	rides map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	ride models.Ride
}

func NewStore() *Store {
	return &Store{rides: make(map[string]*entry)}
}

// Create inserts a new ride in Searching state.
func (s *Store) Create(r models.Ride) (models.Ride, error) {
	r.Status = models.StatusSearching
	r.Driver = nil
	r.DriverID = ""
	r.DriverConn = ""
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[r.ID]; ok {
		return models.Ride{}, ErrExists
	}
	s.rides[r.ID] = &entry{ride: r}
	return snapshot(r), nil
}

// Assign binds a driver to a Searching ride. The status check and the
// driver write happen under the entry lock, so exactly one of any
// number of concurrent assigns can win; every loser observes a
// non-Searching status and gets ErrAlreadyAssigned.
func (s *Store) Assign(id string, d models.Driver, driverID, driverConn string) (models.Ride, error) {
	e, ok := s.lookup(id)
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ride.Status.Terminal() {
		return models.Ride{}, ErrNotFound
	}
	if e.ride.Status != models.StatusSearching || e.ride.Driver != nil {
		return models.Ride{}, ErrAlreadyAssigned
	}
	dc := d
	e.ride.Driver = &dc
	e.ride.DriverID = driverID
	e.ride.DriverConn = driverConn
	e.ride.Status = models.StatusPickingUp
	return snapshot(e.ride), nil
}

// Cancel transitions a ride to Cancelled on behalf of its rider and
// removes it. Only the requesting rider may cancel, and only before
// the driver has arrived.
func (s *Store) Cancel(id, riderID string) (models.Ride, error) {
	return s.terminate(id, EventCancel, func(r models.Ride) error {
		if r.RiderID != riderID {
			return ErrIllegalTransition
		}
		return nil
	})
}

// Expire cancels a ride that is still Searching when its timer fires.
// A timer firing after the ride left Searching by any path is a safe
// no-op: the transition table has no expire row outside Searching.
func (s *Store) Expire(id string) (models.Ride, bool) {
	r, err := s.terminate(id, EventExpire, func(models.Ride) error { return nil })
	return r, err == nil
}

// Advance applies an assigned-driver progress event (arrive, start).
func (s *Store) Advance(id string, ev Event, driverID string) (models.Ride, error) {
	e, ok := s.lookup(id)
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ride.Status.Terminal() {
		return models.Ride{}, ErrNotFound
	}
	to, legal := Next(e.ride.Status, ev)
	if !legal || to.Terminal() {
		return models.Ride{}, ErrIllegalTransition
	}
	if e.ride.DriverID != driverID {
		return models.Ride{}, ErrIllegalTransition
	}
	e.ride.Status = to
	return snapshot(e.ride), nil
}

// Finish completes an in-progress ride, stamps the completion time and
// removes the entry. The caller archives the returned snapshot.
func (s *Store) Finish(id, driverID string) (models.Ride, error) {
	return s.terminate(id, EventFinish, func(r models.Ride) error {
		if r.DriverID != driverID {
			return ErrIllegalTransition
		}
		return nil
	})
}

// Get returns a copy of a live ride.
func (s *Store) Get(id string) (models.Ride, bool) {
	e, ok := s.lookup(id)
	if !ok {
		return models.Ride{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ride.Status.Terminal() {
		return models.Ride{}, false
	}
	return snapshot(e.ride), true
}

// Len reports the number of active rides.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rides)
}

// terminate applies a terminal transition under the entry lock and then
// deletes the entry. Between the status flip and the delete the entry
// is already terminal, so concurrent callers reject it as not found.
func (s *Store) terminate(id string, ev Event, guard func(models.Ride) error) (models.Ride, error) {
	e, ok := s.lookup(id)
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	e.mu.Lock()
	if e.ride.Status.Terminal() {
		e.mu.Unlock()
		return models.Ride{}, ErrNotFound
	}
	to, legal := Next(e.ride.Status, ev)
	if !legal || !to.Terminal() {
		e.mu.Unlock()
		return models.Ride{}, ErrIllegalTransition
	}
	if err := guard(e.ride); err != nil {
		e.mu.Unlock()
		return models.Ride{}, err
	}
	e.ride.Status = to
	if to == models.StatusCompleted {
		e.ride.CompletedAt = time.Now()
	}
	out := snapshot(e.ride)
	e.mu.Unlock()

	s.mu.Lock()
	delete(s.rides, id)
	s.mu.Unlock()
	return out, nil
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rides[id]
	return e, ok
}

func snapshot(r models.Ride) models.Ride {
	if r.Driver != nil {
		d := *r.Driver
		r.Driver = &d
	}
	return r
}
