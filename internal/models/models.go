package models

import (
	"encoding/json"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is a named coordinate, e.g. a pickup or dropoff point.
type Place struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Name string  `json:"name"`
}

// Driver is the public driver record attached to a ride on assignment.
type Driver struct {
	Name  string  `json:"name"`
	Plate string  `json:"plate"`
	Phone string  `json:"phone"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

type Status string

const (
	StatusSearching  Status = "searching"
	StatusPickingUp  Status = "picking_up"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Ride is one request-to-completion trip tracked by the coordinator.
// Rider and driver are referenced by identity id plus connection id;
// connection ids are weak references resolved through the registry at
// send time, never owned handles.
type Ride struct {
	ID            string    `json:"id"`
	RiderID       string    `json:"rider_id"`
	RiderConn     string    `json:"-"`
	Driver        *Driver   `json:"driver,omitempty"`
	DriverID      string    `json:"-"`
	DriverConn    string    `json:"-"`
	Pickup        Place     `json:"pickup"`
	Dropoff       Place     `json:"dropoff"`
	Fare          float64   `json:"price"`
	Distance      float64   `json:"distance"`
	PaymentMethod string    `json:"payment_method"`
	VehicleClass  string    `json:"vehicle"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
}

// HistoryRecord is an immutable snapshot of a ride at the moment it
// completed. Appended once, never mutated.
type HistoryRecord struct {
	RideID        string    `json:"ride_id"`
	RiderID       string    `json:"rider_id"`
	Driver        Driver    `json:"driver"`
	Pickup        Place     `json:"pickup"`
	Dropoff       Place     `json:"dropoff"`
	Fare          float64   `json:"price"`
	Distance      float64   `json:"distance"`
	PaymentMethod string    `json:"payment_method"`
	VehicleClass  string    `json:"vehicle"`
	CreatedAt     time.Time `json:"created_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Snapshot freezes a completed ride into its archive record.
func Snapshot(r Ride) HistoryRecord {
	rec := HistoryRecord{
		RideID:        r.ID,
		RiderID:       r.RiderID,
		Pickup:        r.Pickup,
		Dropoff:       r.Dropoff,
		Fare:          r.Fare,
		Distance:      r.Distance,
		PaymentMethod: r.PaymentMethod,
		VehicleClass:  r.VehicleClass,
		CreatedAt:     r.CreatedAt,
		CompletedAt:   r.CompletedAt,
	}
	if r.Driver != nil {
		rec.Driver = *r.Driver
	}
	return rec
}

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// Identity is the verified caller identity bound to a connection.
// Verification happens upstream; the coordinator trusts what arrives
// with the connection.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Inbound event types (connection -> coordinator).
const (
	EventRequestRide    = "request_ride"
	EventCancelRide     = "cancel_ride"
	EventAcceptRide     = "accept_ride"
	EventArriveAtPickup = "arrive_at_pickup"
	EventStartTrip      = "start_trip"
	EventFinishRide     = "finish_ride"
	EventDriverLocation = "driver_location"
	EventRateDriver     = "rate_driver"
)

// Outbound event types (coordinator -> connection(s)).
const (
	EventNewRideRequest       = "new_ride_request"
	EventRideAccepted         = "ride_accepted"
	EventRideCancelled        = "ride_cancelled"
	EventDriverArrived        = "driver_arrived"
	EventTripStarted          = "trip_started"
	EventRideFinished         = "ride_finished"
	EventDriverLocationUpdate = "driver_location_update"
	EventRatingSaved          = "rating_saved"
	EventError                = "error"
)

// Envelope is the wire frame for inbound events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound is the wire frame for coordinator-emitted events.
type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type RequestRidePayload struct {
	ID            string  `json:"id"`
	Pickup        Place   `json:"pickup"`
	Dropoff       Place   `json:"dropoff"`
	Price         float64 `json:"price"`
	Distance      float64 `json:"distance"`
	PaymentMethod string  `json:"payment_method"`
	Vehicle       string  `json:"vehicle"`
}

type RideRefPayload struct {
	RideID string `json:"ride_id"`
}

type AcceptRidePayload struct {
	RideID string `json:"ride_id"`
	Driver Driver `json:"driver"`
}

type DriverLocationPayload struct {
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type RateDriverPayload struct {
	RideID string `json:"ride_id"`
	Rating int    `json:"rating"`
	Review string `json:"review"`
}

type RideAcceptedPayload struct {
	RideID string `json:"ride_id"`
	Driver Driver `json:"driver"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	RideID  string `json:"ride_id,omitempty"`
	Message string `json:"message"`
}

// Rating is a rider's post-trip rating of the assigned driver.
type Rating struct {
	RideID    string    `json:"ride_id"`
	RiderID   string    `json:"rider_id"`
	Rating    int       `json:"rating"`
	Review    string    `json:"review"`
	CreatedAt time.Time `json:"created_at"`
}
