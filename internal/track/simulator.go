package track

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/models"
)

// LocationPublisher pushes one update onto the location channel.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, u models.LocationUpdate) error
}

// RedisLocationPublisher publishes to the shared pub/sub channel.
type RedisLocationPublisher struct {
	Client *redis.Client
}

func (p *RedisLocationPublisher) PublishLocation(ctx context.Context, u models.LocationUpdate) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return p.Client.Publish(ctx, Channel, b).Err()
}

// Simulator drives a ride by publishing linearly interpolated positions
// between pickup and dropoff, marking the final step with last=true.
// It stands in for a real GPS feed in demos and tests.
type Simulator struct {
	Publisher LocationPublisher
	Steps     int
	Delay     time.Duration
	Logger    *slog.Logger
}

func (s *Simulator) Run(ctx context.Context, rideID string, start, end models.Coord) error {
	steps := s.Steps
	if steps <= 0 {
		steps = 20
	}
	delay := s.Delay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	latStep := (end.Latitude - start.Latitude) / float64(steps)
	lonStep := (end.Longitude - start.Longitude) / float64(steps)

	for i := 0; i <= steps; i++ {
		u := models.LocationUpdate{
			RideID: rideID,
			Location: models.Coord{
				Latitude:  start.Latitude + latStep*float64(i),
				Longitude: start.Longitude + lonStep*float64(i),
			},
			Timestamp: time.Now().UnixMilli(),
			Last:      i == steps,
		}
		if err := s.Publisher.PublishLocation(ctx, u); err != nil {
			return err
		}
		if i == steps {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.log().Info("ride simulation finished", "ride_id", rideID, "steps", steps)
	return nil
}

func (s *Simulator) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
