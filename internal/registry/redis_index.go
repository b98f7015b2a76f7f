package registry

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-dispatch/internal/models"
)

// RedisIndex keeps current driver positions in a Redis GEO set plus a
// small metadata hash per driver. The consumer binary and the registry
// both write here; readers use Nearby for coarse radius queries.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key}
}

func (r *RedisIndex) Upsert(ctx context.Context, d models.Driver) error {
	if d.Location == nil {
		return nil
	}
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: d.Location.Lon,
		Latitude:  d.Location.Lat,
		Name:      d.ID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"status":         string(d.Status),
		"max_passengers": strconv.Itoa(d.MaxPassengers),
		"has_child_seat": strconv.FormatBool(d.HasChildSeat),
	}).Err()
}

// Nearby returns driver ids with coordinates within radiusKm of p,
// closest first.
func (r *RedisIndex) Nearby(ctx context.Context, p models.Point, radiusKm float64, limit int) ([]models.Driver, error) {
	res, err := r.client.GeoRadius(ctx, r.key, p.Lon, p.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name, Location: &models.Point{Lon: g.Longitude, Lat: g.Latitude}}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			d.Status = models.DriverStatus(m["status"])
			if v, ok := m["max_passengers"]; ok {
				if n, err := strconv.Atoi(v); err == nil {
					d.MaxPassengers = n
				}
			}
			d.HasChildSeat = m["has_child_seat"] == "true"
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisIndex) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }
