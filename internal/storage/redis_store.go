package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/models"
)

// RedisStore keeps each ride as a JSON document under ride:{id}.
// Field updates are read-modify-write; that is safe here because each
// ride's updates flow through a single tracker consumer.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func rideKey(id string) string   { return "ride:" + id }
func requestKey(k string) string { return "ride:request:" + k }

func (s *RedisStore) Save(ctx context.Context, r *models.Ride) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, rideKey(r.ID), b, 0).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	b, err := s.client.Get(ctx, rideKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r models.Ride
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RedisStore) SetProgress(ctx context.Context, id string, distanceMiles float64) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	r.DistanceCovered = distanceMiles
	if r.Status == models.StatusAssigned {
		r.Status = models.StatusInProgress
	}
	r.UpdatedAt = time.Now()
	return s.Save(ctx, r)
}

func (s *RedisStore) Complete(ctx context.Context, id string, distanceMiles float64) (*models.Ride, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == models.StatusCancelled {
		return nil, ErrCancelled
	}
	r.DistanceCovered = distanceMiles
	r.Status = models.StatusCompleted
	r.UpdatedAt = time.Now()
	if err := s.Save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *RedisStore) Cancel(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	r.Status = models.StatusCancelled
	r.UpdatedAt = time.Now()
	return s.Save(ctx, r)
}

func (s *RedisStore) Reserve(ctx context.Context, reqKey, rideID string) (string, error) {
	ok, err := s.client.SetNX(ctx, requestKey(reqKey), rideID, 24*time.Hour).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return rideID, nil
	}
	owner, err := s.client.Get(ctx, requestKey(reqKey)).Result()
	if err != nil {
		return "", err
	}
	return owner, ErrDuplicateRequest
}
