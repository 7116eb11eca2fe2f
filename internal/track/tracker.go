package track

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/storage"
)

// Channel is the Redis pub/sub channel carrying location updates.
const Channel = "ride-events"

// Tracker applies location updates to rides. It expects updates for one
// ride to arrive in emission order through a single subscription.
type Tracker struct {
	Rides  storage.RideStore
	Events events.Publisher // ride.completed emission; may be nil in tests
	Logger *slog.Logger

	// StoreAttempts/StoreDelay govern retries of transient store errors
	// while applying one update.
	StoreAttempts int
	StoreDelay    time.Duration
}

// HandleUpdate processes one location message. Unknown rides are a
// silent no-op so a late update after administrative deletion cannot
// wedge the subscription. Distance covered is measured from the
// original pickup point, not integrated along the path.
func (t *Tracker) HandleUpdate(ctx context.Context, u models.LocationUpdate) error {
	ride, err := t.Rides.Get(ctx, u.RideID)
	if errors.Is(err, storage.ErrNotFound) {
		observability.ProgressDropped.WithLabelValues("unknown_ride").Inc()
		return nil
	}
	if err != nil {
		return err
	}

	dist := geo.Distance(
		ride.Pickup.Latitude, ride.Pickup.Longitude,
		u.Location.Latitude, u.Location.Longitude,
		geo.Miles,
	)

	if !u.Last {
		if err := t.withRetry(ctx, func() error { return t.Rides.SetProgress(ctx, u.RideID, dist) }); err != nil {
			return err
		}
		observability.ProgressUpdates.Inc()
		return nil
	}

	// Final update. The store refuses to complete a cancelled ride, so
	// a cancel landing after the Get above still suppresses the
	// completion event.
	var completed *models.Ride
	err = t.withRetry(ctx, func() error {
		var cerr error
		completed, cerr = t.Rides.Complete(ctx, u.RideID, dist)
		return cerr
	})
	if errors.Is(err, storage.ErrCancelled) {
		observability.ProgressDropped.WithLabelValues("cancelled").Inc()
		t.log().Info("suppressing completion for cancelled ride", "ride_id", u.RideID)
		return nil
	}
	if err != nil {
		return err
	}
	observability.ProgressUpdates.Inc()
	observability.RidesCompleted.Inc()

	if t.Events != nil {
		if err := t.Events.Publish(ctx, events.NewEnvelope(events.RideCompleted, *completed)); err != nil {
			observability.EventPublishErrors.WithLabelValues(events.RideCompleted).Inc()
			t.log().Error("publish ride.completed failed", "ride_id", u.RideID, "error", err)
			return err
		}
	}
	t.log().Info("ride completed", "ride_id", u.RideID, "distance_miles", dist)
	return nil
}

func (t *Tracker) withRetry(ctx context.Context, fn func() error) error {
	attempts := t.StoreAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := t.StoreDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrCancelled) || ctx.Err() != nil {
			return err
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

// Subscriber consumes the location channel and feeds the tracker. One
// subscription per process keeps per-ride ordering.
type Subscriber struct {
	Client  *redis.Client
	Tracker *Tracker
	Logger  *slog.Logger
}

// Run blocks until ctx is cancelled, reconnecting with backoff on
// transport errors.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sub := s.Client.Subscribe(ctx, Channel)
		err := s.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log().Error("location subscription lost, reconnecting", "error", err, "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, sub *redis.PubSub) error {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			u, err := events.DecodeLocationUpdate([]byte(msg.Payload))
			if err != nil {
				observability.ProgressDropped.WithLabelValues("malformed").Inc()
				s.log().Warn("dropping malformed location update", "error", err)
				continue
			}
			if err := s.Tracker.HandleUpdate(ctx, u); err != nil {
				s.log().Error("location update failed", "ride_id", u.RideID, "error", err)
			}
		}
	}
}

func (t *Tracker) log() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func (s *Subscriber) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
