package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/ratings"
	"github.com/example/ride-dispatch/internal/ride"
)

var (
	// ErrUnauthenticatedCaller rejects events from a connection the
	// registry does not know.
	ErrUnauthenticatedCaller = errors.New("unauthenticated caller")
	// ErrBadPayload rejects malformed or incomplete payloads before
	// they reach the state machine.
	ErrBadPayload = errors.New("malformed payload")
)

// Notifier is the slice of the connection registry the dispatcher
// needs. Side effects always go through it, never through transport
// directly, so tests run against a fake.
type Notifier interface {
	Identity(connID string) (models.Identity, bool)
	Send(connID string, ev models.Outbound) error
	BroadcastDrivers(ev models.Outbound, exclude string)
	BroadcastRiders(ev models.Outbound, exclude string)
	UpdatePosition(connID string, c models.Coord)
}

// Archive receives completed-ride snapshots and answers id-uniqueness
// checks against everything ever completed.
type Archive interface {
	Append(rec models.HistoryRecord) error
	Contains(rideID string) bool
}

// LocationSink receives driver position pings for out-of-core
// consumers (kafka topic, redis mirror). Best-effort.
type LocationSink interface {
	Record(ctx context.Context, loc models.DriverLocationPayload)
}

// Dispatcher routes inbound events: it resolves the caller, validates
// the transition against the ride store, and fans resulting events out
// to exactly the right connections.
type Dispatcher struct {
	rides     *ride.Store
	notify    Notifier
	archive   Archive
	ratings   ratings.Store
	locations LocationSink
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

type Options struct {
	Rides     *ride.Store
	Notifier  Notifier
	Archive   Archive
	Ratings   ratings.Store
	Locations LocationSink
	// SearchTimeout is how long a ride may stay Searching before the
	// coordinator expires it.
	SearchTimeout time.Duration
	Logger        *slog.Logger
}

func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 15 * time.Second
	}
	return &Dispatcher{
		rides:     opts.Rides,
		notify:    opts.Notifier,
		archive:   opts.Archive,
		ratings:   opts.Ratings,
		locations: opts.Locations,
		timeout:   opts.SearchTimeout,
		logger:    opts.Logger,
		timers:    make(map[string]*time.Timer),
	}
}

// HandleEvent is the single inbound entry point. A non-nil return is a
// rejection already acknowledged to the caller; nothing else observed
// any effect.
func (d *Dispatcher) HandleEvent(connID string, env models.Envelope) error {
	ident, ok := d.notify.Identity(connID)
	if !ok {
		return d.reject(connID, "", ErrUnauthenticatedCaller)
	}

	switch env.Type {
	case models.EventRequestRide:
		var p models.RequestRidePayload
		if err := decode(env.Payload, &p); err != nil || p.ID == "" {
			return d.reject(connID, p.ID, ErrBadPayload)
		}
		return d.handleRequestRide(connID, ident, p)
	case models.EventCancelRide:
		var p models.RideRefPayload
		if err := decode(env.Payload, &p); err != nil || p.RideID == "" {
			return d.reject(connID, p.RideID, ErrBadPayload)
		}
		return d.handleCancelRide(connID, ident, p)
	case models.EventAcceptRide:
		var p models.AcceptRidePayload
		if err := decode(env.Payload, &p); err != nil || p.RideID == "" {
			return d.reject(connID, p.RideID, ErrBadPayload)
		}
		return d.handleAcceptRide(connID, ident, p)
	case models.EventArriveAtPickup:
		var p models.RideRefPayload
		if err := decode(env.Payload, &p); err != nil || p.RideID == "" {
			return d.reject(connID, p.RideID, ErrBadPayload)
		}
		return d.handleProgress(connID, ident, p, ride.EventArrive, models.EventDriverArrived)
	case models.EventStartTrip:
		var p models.RideRefPayload
		if err := decode(env.Payload, &p); err != nil || p.RideID == "" {
			return d.reject(connID, p.RideID, ErrBadPayload)
		}
		return d.handleProgress(connID, ident, p, ride.EventStart, models.EventTripStarted)
	case models.EventFinishRide:
		var p models.RideRefPayload
		if err := decode(env.Payload, &p); err != nil || p.RideID == "" {
			return d.reject(connID, p.RideID, ErrBadPayload)
		}
		return d.handleFinishRide(connID, ident, p)
	case models.EventDriverLocation:
		var p models.DriverLocationPayload
		if err := decode(env.Payload, &p); err != nil {
			return d.reject(connID, "", ErrBadPayload)
		}
		return d.handleDriverLocation(connID, ident, p)
	case models.EventRateDriver:
		var p models.RateDriverPayload
		if err := decode(env.Payload, &p); err != nil || p.RideID == "" {
			return d.reject(connID, p.RideID, ErrBadPayload)
		}
		return d.handleRateDriver(connID, ident, p)
	default:
		return d.reject(connID, "", fmt.Errorf("%w: unknown event %q", ErrBadPayload, env.Type))
	}
}

func (d *Dispatcher) handleRequestRide(connID string, ident models.Identity, p models.RequestRidePayload) error {
	if ident.Role != models.RoleRider {
		return d.reject(connID, p.ID, ride.ErrIllegalTransition)
	}
	// Ride ids must be unique across everything ever created, archive
	// included.
	if d.archive != nil && d.archive.Contains(p.ID) {
		return d.reject(connID, p.ID, ride.ErrExists)
	}
	r, err := d.rides.Create(models.Ride{
		ID:            p.ID,
		RiderID:       ident.ID,
		RiderConn:     connID,
		Pickup:        p.Pickup,
		Dropoff:       p.Dropoff,
		Fare:          p.Price,
		Distance:      p.Distance,
		PaymentMethod: p.PaymentMethod,
		VehicleClass:  p.Vehicle,
	})
	if err != nil {
		return d.reject(connID, p.ID, err)
	}
	observability.RidesCreated.Inc()
	observability.RidesActive.Inc()
	d.startTimer(r.ID)
	d.logger.Info("ride created", "ride_id", r.ID, "rider_id", ident.ID)
	d.notify.BroadcastDrivers(models.Outbound{Type: models.EventNewRideRequest, Payload: r}, connID)
	return nil
}

func (d *Dispatcher) handleCancelRide(connID string, ident models.Identity, p models.RideRefPayload) error {
	if ident.Role != models.RoleRider {
		return d.reject(connID, p.RideID, ride.ErrIllegalTransition)
	}
	r, err := d.rides.Cancel(p.RideID, ident.ID)
	if err != nil {
		return d.reject(connID, p.RideID, err)
	}
	d.stopTimer(r.ID)
	observability.RidesActive.Dec()
	observability.RidesCancelled.Inc()
	d.logger.Info("ride cancelled", "ride_id", r.ID, "rider_id", ident.ID)
	// Cancelled rides are not archived; only completed trips are.
	d.notify.BroadcastDrivers(models.Outbound{
		Type:    models.EventRideCancelled,
		Payload: models.RideRefPayload{RideID: r.ID},
	}, "")
	return nil
}

func (d *Dispatcher) handleAcceptRide(connID string, ident models.Identity, p models.AcceptRidePayload) error {
	if ident.Role != models.RoleDriver {
		return d.reject(connID, p.RideID, ride.ErrIllegalTransition)
	}
	r, err := d.rides.Assign(p.RideID, p.Driver, ident.ID, connID)
	if err != nil {
		// Losers of the race get a targeted rejection; no broadcast.
		return d.reject(connID, p.RideID, err)
	}
	d.stopTimer(r.ID)
	observability.RidesAssigned.Inc()
	observability.AssignLatency.Observe(time.Since(r.CreatedAt).Seconds())
	d.logger.Info("ride assigned", "ride_id", r.ID, "driver_id", ident.ID)
	if r.Driver != nil {
		if err := d.notify.Send(r.RiderConn, models.Outbound{
			Type:    models.EventRideAccepted,
			Payload: models.RideAcceptedPayload{RideID: r.ID, Driver: *r.Driver},
		}); err != nil {
			d.logger.Warn("rider unreachable for ride_accepted", "ride_id", r.ID, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) handleProgress(connID string, ident models.Identity, p models.RideRefPayload, ev ride.Event, out string) error {
	if ident.Role != models.RoleDriver {
		return d.reject(connID, p.RideID, ride.ErrIllegalTransition)
	}
	r, err := d.rides.Advance(p.RideID, ev, ident.ID)
	if err != nil {
		return d.reject(connID, p.RideID, err)
	}
	d.logger.Info("ride progressed", "ride_id", r.ID, "status", r.Status)
	if err := d.notify.Send(r.RiderConn, models.Outbound{
		Type:    out,
		Payload: models.RideRefPayload{RideID: r.ID},
	}); err != nil {
		d.logger.Warn("rider unreachable", "ride_id", r.ID, "event", out, "error", err)
	}
	return nil
}

func (d *Dispatcher) handleFinishRide(connID string, ident models.Identity, p models.RideRefPayload) error {
	if ident.Role != models.RoleDriver {
		return d.reject(connID, p.RideID, ride.ErrIllegalTransition)
	}
	r, err := d.rides.Finish(p.RideID, ident.ID)
	if err != nil {
		return d.reject(connID, p.RideID, err)
	}
	observability.RidesActive.Dec()
	observability.RidesDone.Inc()
	if d.archive != nil {
		if err := d.archive.Append(models.Snapshot(r)); err != nil {
			d.logger.Error("archive append failed", "ride_id", r.ID, "error", err)
		}
	}
	d.logger.Info("ride completed", "ride_id", r.ID, "driver_id", ident.ID)
	if err := d.notify.Send(r.RiderConn, models.Outbound{
		Type:    models.EventRideFinished,
		Payload: r,
	}); err != nil {
		d.logger.Warn("rider unreachable for ride_finished", "ride_id", r.ID, "error", err)
	}
	return nil
}

func (d *Dispatcher) handleDriverLocation(connID string, ident models.Identity, p models.DriverLocationPayload) error {
	if ident.Role != models.RoleDriver {
		return d.reject(connID, "", ride.ErrIllegalTransition)
	}
	p.DriverID = ident.ID
	d.notify.UpdatePosition(connID, models.Coord{Lat: p.Lat, Lng: p.Lng})
	if d.locations != nil {
		d.locations.Record(context.Background(), p)
	}
	d.notify.BroadcastRiders(models.Outbound{Type: models.EventDriverLocationUpdate, Payload: p}, "")
	return nil
}

func (d *Dispatcher) handleRateDriver(connID string, ident models.Identity, p models.RateDriverPayload) error {
	if ident.Role != models.RoleRider {
		return d.reject(connID, p.RideID, ride.ErrIllegalTransition)
	}
	if p.Rating < 1 || p.Rating > 5 {
		return d.reject(connID, p.RideID, ErrBadPayload)
	}
	// Only completed rides can be rated; active and cancelled ones
	// never reach the archive.
	if d.archive == nil || !d.archive.Contains(p.RideID) {
		return d.reject(connID, p.RideID, ride.ErrNotFound)
	}
	if d.ratings != nil {
		if err := d.ratings.Save(models.Rating{
			RideID:    p.RideID,
			RiderID:   ident.ID,
			Rating:    p.Rating,
			Review:    p.Review,
			CreatedAt: time.Now(),
		}); err != nil {
			d.logger.Error("rating save failed", "ride_id", p.RideID, "error", err)
			return d.reject(connID, p.RideID, err)
		}
	}
	_ = d.notify.Send(connID, models.Outbound{
		Type:    models.EventRatingSaved,
		Payload: models.RideRefPayload{RideID: p.RideID},
	})
	return nil
}

// startTimer schedules the server-authoritative expiration for a
// Searching ride.
func (d *Dispatcher) startTimer(rideID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timers[rideID] = time.AfterFunc(d.timeout, func() { d.expire(rideID) })
}

func (d *Dispatcher) stopTimer(rideID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[rideID]; ok {
		t.Stop()
		delete(d.timers, rideID)
	}
}

// expire fires when no driver assigned within the window. The store
// re-checks the status under the ride lock, so a timer racing an
// assign or cancel is a safe no-op.
func (d *Dispatcher) expire(rideID string) {
	d.stopTimer(rideID)
	r, ok := d.rides.Expire(rideID)
	if !ok {
		return
	}
	observability.RidesActive.Dec()
	observability.RidesExpired.Inc()
	d.logger.Info("ride expired", "ride_id", rideID, "window", d.timeout)
	if err := d.notify.Send(r.RiderConn, models.Outbound{
		Type:    models.EventRideCancelled,
		Payload: models.RideRefPayload{RideID: rideID},
	}); err != nil {
		d.logger.Warn("rider unreachable for expiry notice", "ride_id", rideID, "error", err)
	}
}

// Close stops all pending expiration timers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}

func (d *Dispatcher) reject(connID, rideID string, err error) error {
	code := rejectionCode(err)
	observability.RejectionsTotal.WithLabelValues(code).Inc()
	d.logger.Debug("event rejected", "conn_id", connID, "ride_id", rideID, "code", code)
	_ = d.notify.Send(connID, models.Outbound{
		Type:    models.EventError,
		Payload: models.ErrorPayload{Code: code, RideID: rideID, Message: err.Error()},
	})
	return err
}

func rejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticatedCaller):
		return "unauthenticated"
	case errors.Is(err, ride.ErrNotFound):
		return "ride_not_found"
	case errors.Is(err, ride.ErrAlreadyAssigned):
		return "already_taken"
	case errors.Is(err, ride.ErrExists):
		return "duplicate_ride"
	case errors.Is(err, ride.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrBadPayload):
		return "bad_payload"
	default:
		return "internal"
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return ErrBadPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
