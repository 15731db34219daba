package history

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresArchive persists completed rides for reporting. Retention is
// delegated to the database; the coordinator never reads its own
// archive back except through Contains and Recent.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

// NewPostgresArchiveFromDB wraps an already-open handle, for callers
// that share one pool across stores.
func NewPostgresArchiveFromDB(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

func (a *PostgresArchive) Append(rec models.HistoryRecord) error {
	_, err := a.db.Exec(`INSERT INTO ride_history(
			ride_id, rider_id, driver_name, driver_plate, driver_phone,
			pickup_lat, pickup_lng, pickup_name, dropoff_lat, dropoff_lng, dropoff_name,
			price, distance, payment_method, vehicle, created_at, completed_at
		) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (ride_id) DO NOTHING`,
		rec.RideID, rec.RiderID, rec.Driver.Name, rec.Driver.Plate, rec.Driver.Phone,
		rec.Pickup.Lat, rec.Pickup.Lng, rec.Pickup.Name,
		rec.Dropoff.Lat, rec.Dropoff.Lng, rec.Dropoff.Name,
		rec.Fare, rec.Distance, rec.PaymentMethod, rec.VehicleClass,
		rec.CreatedAt, rec.CompletedAt)
	return err
}

func (a *PostgresArchive) Contains(rideID string) bool {
	var exists bool
	err := a.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM ride_history WHERE ride_id=$1)`, rideID).Scan(&exists)
	return err == nil && exists
}

func (a *PostgresArchive) Recent(limit int) ([]models.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(`SELECT
			ride_id, rider_id, driver_name, driver_plate, driver_phone,
			pickup_lat, pickup_lng, pickup_name, dropoff_lat, dropoff_lng, dropoff_name,
			price, distance, payment_method, vehicle, created_at, completed_at
		FROM ride_history ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoryRecord
	for rows.Next() {
		var rec models.HistoryRecord
		if err := rows.Scan(
			&rec.RideID, &rec.RiderID, &rec.Driver.Name, &rec.Driver.Plate, &rec.Driver.Phone,
			&rec.Pickup.Lat, &rec.Pickup.Lng, &rec.Pickup.Name,
			&rec.Dropoff.Lat, &rec.Dropoff.Lng, &rec.Dropoff.Name,
			&rec.Fare, &rec.Distance, &rec.PaymentMethod, &rec.VehicleClass,
			&rec.CreatedAt, &rec.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
