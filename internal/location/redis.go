package location

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// GeoMirror mirrors driver positions into a Redis GEO set so external
// map and tracking consumers can read them without touching the
// coordinator. It is never consulted for driver selection.
type GeoMirror struct {
	client *redis.Client
	key    string
}

func NewGeoMirror(addr, password, key string) *GeoMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &GeoMirror{client: c, key: key}
}

func (g *GeoMirror) Update(ctx context.Context, loc models.DriverLocationPayload) error {
	if _, err := g.client.GeoAdd(ctx, g.key, &redis.GeoLocation{
		Longitude: loc.Lng,
		Latitude:  loc.Lat,
		Name:      loc.DriverID,
	}).Result(); err != nil {
		return err
	}
	return g.client.HSet(ctx, metaKey(loc.DriverID), map[string]interface{}{
		"lat":     loc.Lat,
		"lng":     loc.Lng,
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (g *GeoMirror) Close() error { return g.client.Close() }

func metaKey(id string) string { return "driver:last:" + id }
