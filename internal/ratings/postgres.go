package ratings

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Save(r models.Rating) error {
	_, err := p.db.Exec(`INSERT INTO driver_ratings(ride_id, rider_id, rating, review, created_at)
		VALUES($1,$2,$3,$4,$5)
		ON CONFLICT (ride_id) DO UPDATE SET rating=EXCLUDED.rating, review=EXCLUDED.review`,
		r.RideID, r.RiderID, r.Rating, r.Review, r.CreatedAt)
	return err
}
