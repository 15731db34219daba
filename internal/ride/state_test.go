package ride

import (
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestNextLegalTransitions(t *testing.T) {
	cases := []struct {
		from models.Status
		ev   Event
		to   models.Status
	}{
		{models.StatusSearching, EventAssign, models.StatusPickingUp},
		{models.StatusSearching, EventCancel, models.StatusCancelled},
		{models.StatusSearching, EventExpire, models.StatusCancelled},
		{models.StatusPickingUp, EventCancel, models.StatusCancelled},
		{models.StatusPickingUp, EventArrive, models.StatusArrived},
		{models.StatusArrived, EventStart, models.StatusInProgress},
		{models.StatusInProgress, EventFinish, models.StatusCompleted},
	}
	for _, c := range cases {
		to, ok := Next(c.from, c.ev)
		if !ok || to != c.to {
			t.Errorf("Next(%s, %s) = %s,%v; want %s", c.from, c.ev, to, ok, c.to)
		}
	}
}

func TestNextRejectsOffGraphEvents(t *testing.T) {
	cases := []struct {
		from models.Status
		ev   Event
	}{
		{models.StatusSearching, EventArrive},
		{models.StatusSearching, EventFinish},
		{models.StatusPickingUp, EventAssign},
		{models.StatusPickingUp, EventExpire},
		{models.StatusArrived, EventCancel},
		{models.StatusArrived, EventFinish},
		{models.StatusInProgress, EventStart},
		{models.StatusCompleted, EventFinish},
		{models.StatusCancelled, EventAssign},
	}
	for _, c := range cases {
		if _, ok := Next(c.from, c.ev); ok {
			t.Errorf("Next(%s, %s) unexpectedly legal", c.from, c.ev)
		}
	}
}
