package ratings

import (
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Store persists post-trip driver ratings. Ratings are accepted only
// for rides already in the history archive; the dispatcher enforces
// that, the store just writes.
type Store interface {
	Save(r models.Rating) error
}

type MemoryStore struct {
	mu      sync.Mutex
	ratings map[string]models.Rating
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ratings: make(map[string]models.Rating)}
}

// Save keeps the latest rating per ride.
func (m *MemoryStore) Save(r models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[r.RideID] = r
	return nil
}

func (m *MemoryStore) Get(rideID string) (models.Rating, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ratings[rideID]
	return r, ok
}
