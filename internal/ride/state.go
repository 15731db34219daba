package ride

import "github.com/example/ride-dispatch/internal/models"

// Event is a lifecycle event applied to a ride.
type Event string

const (
	EventAssign Event = "assign"
	EventCancel Event = "cancel"
	EventArrive Event = "arrive"
	EventStart  Event = "start"
	EventFinish Event = "finish"
	EventExpire Event = "expire"
)

// transitions encodes the ride state flow as data. An absent entry is a
// rejected transition: no state change, no broadcast.
var transitions = map[models.Status]map[Event]models.Status{
	models.StatusSearching: {
		EventAssign: models.StatusPickingUp,
		EventCancel: models.StatusCancelled,
		EventExpire: models.StatusCancelled,
	},
	models.StatusPickingUp: {
		EventCancel: models.StatusCancelled,
		EventArrive: models.StatusArrived,
	},
	models.StatusArrived: {
		EventStart: models.StatusInProgress,
	},
	models.StatusInProgress: {
		EventFinish: models.StatusCompleted,
	},
}

// Next returns the status reached by applying ev in state from, or
// false when the transition is not legal.
func Next(from models.Status, ev Event) (models.Status, bool) {
	next, ok := transitions[from]
	if !ok {
		return "", false
	}
	to, ok := next[ev]
	return to, ok
}
