package directory

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/models"
)

// RedisDirectory serves candidate lookups from Redis GEO commands, with
// driver metadata (rating, availability) in per-driver hashes.
type RedisDirectory struct {
	client *redis.Client
	key    string
}

func NewRedisDirectory(addr, password, key string) *RedisDirectory {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisDirectory{client: c, key: key}
}

func NewRedisDirectoryWithClient(client *redis.Client, key string) *RedisDirectory {
	return &RedisDirectory{client: client, key: key}
}

func (r *RedisDirectory) Upsert(ctx context.Context, d models.DriverCandidate) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: d.Loc.Longitude,
		Latitude:  d.Loc.Latitude,
		Name:      d.ID,
	}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"rating":    strconv.FormatFloat(d.Rating, 'f', -1, 64),
		"available": strconv.FormatBool(d.Available),
	}).Err()
}

func (r *RedisDirectory) FindCandidates(ctx context.Context, point models.Coord, radiusMiles float64) ([]models.DriverCandidate, error) {
	res, err := r.client.GeoRadius(ctx, r.key, point.Longitude, point.Latitude, &redis.GeoRadiusQuery{
		Radius:    radiusMiles,
		Unit:      "mi",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverCandidate, 0, len(res))
	for _, g := range res {
		d := models.DriverCandidate{
			ID:  g.Name,
			Loc: models.Coord{Latitude: g.Latitude, Longitude: g.Longitude},
		}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					d.Rating = f
				}
			}
			if v, ok := m["available"]; ok {
				d.Available = v == "true"
			}
		}
		if !d.Available {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
