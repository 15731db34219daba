package history

import (
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Archive is the append-only record of completed rides. The
// coordinator only writes; Recent exists for external reporting
// collaborators.
type Archive interface {
	Append(rec models.HistoryRecord) error
	Contains(rideID string) bool
	Recent(limit int) ([]models.HistoryRecord, error)
}

// MemoryArchive keeps records in completion order. maxRecords bounds
// growth by evicting the oldest entries; 0 means unbounded.
type MemoryArchive struct {
	mu         sync.RWMutex
	records    []models.HistoryRecord
	ids        map[string]bool
	maxRecords int
}

func NewMemoryArchive(maxRecords int) *MemoryArchive {
	return &MemoryArchive{ids: make(map[string]bool), maxRecords: maxRecords}
}

func (a *MemoryArchive) Append(rec models.HistoryRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ids[rec.RideID] {
		return nil
	}
	a.records = append(a.records, rec)
	a.ids[rec.RideID] = true
	if a.maxRecords > 0 && len(a.records) > a.maxRecords {
		evicted := a.records[0]
		a.records = a.records[1:]
		delete(a.ids, evicted.RideID)
	}
	return nil
}

func (a *MemoryArchive) Contains(rideID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ids[rideID]
}

// Recent returns up to limit records, newest first.
func (a *MemoryArchive) Recent(limit int) ([]models.HistoryRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := len(a.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.HistoryRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, a.records[i])
	}
	return out, nil
}

// Len reports the number of archived rides.
func (a *MemoryArchive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}
