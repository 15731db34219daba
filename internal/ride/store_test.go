package ride

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func newRide(id string) models.Ride {
	return models.Ride{
		ID:        id,
		RiderID:   "u1",
		RiderConn: "c-rider",
		Pickup:    models.Place{Lat: 13.75, Lng: 100.5, Name: "P"},
		Dropoff:   models.Place{Lat: 13.76, Lng: 100.51, Name: "Q"},
		Fare:      60,
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	s := NewStore()
	if _, err := s.Create(newRide("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(newRide("r1")); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestConcurrentAssignExactlyOneWins(t *testing.T) {
	s := NewStore()
	if _, err := s.Create(newRide("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	winners := make(chan models.Ride, attempts)

	for i := 0; i < attempts; i++ {
		driverID := fmt.Sprintf("d%d", i)
		wg.Add(1)
		go func(did string) {
			defer wg.Done()
			r, err := s.Assign("r1", models.Driver{Name: did, Plate: "xx"}, did, "c-"+did)
			if err == nil {
				winners <- r
			}
			errs <- err
		}(driverID)
	}
	wg.Wait()
	close(errs)
	close(winners)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrAlreadyAssigned) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 successful assign, got %d", success)
	}

	won := <-winners
	got, ok := s.Get("r1")
	if !ok {
		t.Fatal("ride missing after assign")
	}
	if got.Status != models.StatusPickingUp {
		t.Fatalf("unexpected status: %s", got.Status)
	}
	if got.Driver == nil || got.Driver.Name != won.Driver.Name {
		t.Fatalf("driver field changed after assignment: %+v vs %+v", got.Driver, won.Driver)
	}
}

func TestConcurrentAssignVsCancel(t *testing.T) {
	s := NewStore()
	if _, err := s.Create(newRide("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Assign("r1", models.Driver{Name: "d1"}, "d1", "c-d1")
		errs <- err
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Cancel("r1", "u1")
		errs <- err
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, ErrAlreadyAssigned) && !errors.Is(err, ErrNotFound) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// Whatever interleaving won, the store must not hold a cancelled ride
	// and a cancelled ride must not carry a driver.
	if r, ok := s.Get("r1"); ok {
		if r.Status != models.StatusPickingUp || r.Driver == nil {
			t.Fatalf("surviving ride in unexpected state: %+v", r)
		}
	}
}

func TestCancelOnlyByRequestingRider(t *testing.T) {
	s := NewStore()
	if _, err := s.Create(newRide("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Cancel("r1", "someone-else"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if _, err := s.Cancel("r1", "u1"); err != nil {
		t.Fatalf("rider cancel: %v", err)
	}
	if _, ok := s.Get("r1"); ok {
		t.Fatal("cancelled ride still in store")
	}
}

func TestCancelRejectedAfterArrival(t *testing.T) {
	s := NewStore()
	mustHappyPathTo(t, s, "r1", models.StatusArrived)
	if _, err := s.Cancel("r1", "u1"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestExpireOnlyWhileSearching(t *testing.T) {
	s := NewStore()
	if _, err := s.Create(newRide("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Assign("r1", models.Driver{Name: "d1"}, "d1", "c-d1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, ok := s.Expire("r1"); ok {
		t.Fatal("expire fired on an assigned ride")
	}
	if r, ok := s.Get("r1"); !ok || r.Status != models.StatusPickingUp {
		t.Fatalf("assigned ride disturbed by late expire: %+v ok=%v", r, ok)
	}

	if _, err := s.Create(newRide("r2")); err != nil {
		t.Fatalf("create: %v", err)
	}
	r, ok := s.Expire("r2")
	if !ok || r.Status != models.StatusCancelled {
		t.Fatalf("expected expire to cancel searching ride, got %+v ok=%v", r, ok)
	}
	if _, ok := s.Get("r2"); ok {
		t.Fatal("expired ride still in store")
	}
}

func TestAdvanceGuardsAssignedDriver(t *testing.T) {
	s := NewStore()
	if _, err := s.Create(newRide("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Assign("r1", models.Driver{Name: "d1"}, "d1", "c-d1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := s.Advance("r1", EventArrive, "d2"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for foreign driver, got %v", err)
	}
	if _, err := s.Advance("r1", EventStart, "d1"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for start before arrive, got %v", err)
	}
	if _, err := s.Advance("r1", EventArrive, "d1"); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if _, err := s.Advance("r1", EventArrive, "d1"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected arrive to be unrepeatable, got %v", err)
	}
}

func TestFinishRemovesAndStampsCompletion(t *testing.T) {
	s := NewStore()
	mustHappyPathTo(t, s, "r1", models.StatusInProgress)
	r, err := s.Finish("r1", "d1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if r.Status != models.StatusCompleted {
		t.Fatalf("unexpected status: %s", r.Status)
	}
	if r.CompletedAt.IsZero() {
		t.Fatal("completion time not stamped")
	}
	if _, ok := s.Get("r1"); ok {
		t.Fatal("completed ride still in store")
	}
	if _, err := s.Finish("r1", "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat finish, got %v", err)
	}
}

func TestStatusNeverRevisited(t *testing.T) {
	seen := map[models.Status]bool{}
	order := []models.Status{
		models.StatusSearching, models.StatusPickingUp,
		models.StatusArrived, models.StatusInProgress,
		models.StatusCompleted,
	}
	s := NewStore()
	r, err := s.Create(newRide("r1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	seen[r.Status] = true

	steps := []func() (models.Ride, error){
		func() (models.Ride, error) { return s.Assign("r1", models.Driver{Name: "d1"}, "d1", "c-d1") },
		func() (models.Ride, error) { return s.Advance("r1", EventArrive, "d1") },
		func() (models.Ride, error) { return s.Advance("r1", EventStart, "d1") },
		func() (models.Ride, error) { return s.Finish("r1", "d1") },
	}
	for i, step := range steps {
		r, err := step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if seen[r.Status] {
			t.Fatalf("status %s revisited", r.Status)
		}
		if r.Status != order[i+1] {
			t.Fatalf("step %d: expected %s, got %s", i, order[i+1], r.Status)
		}
		seen[r.Status] = true
	}
}

func mustHappyPathTo(t *testing.T, s *Store, id string, target models.Status) {
	t.Helper()
	if _, err := s.Create(newRide(id)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if target == models.StatusSearching {
		return
	}
	if _, err := s.Assign(id, models.Driver{Name: "d1"}, "d1", "c-d1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if target == models.StatusPickingUp {
		return
	}
	if _, err := s.Advance(id, EventArrive, "d1"); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if target == models.StatusArrived {
		return
	}
	if _, err := s.Advance(id, EventStart, "d1"); err != nil {
		t.Fatalf("start: %v", err)
	}
}
