package match

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-lifecycle/internal/directory"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/pricing"
	"github.com/example/ride-lifecycle/internal/storage"
)

var (
	ErrNoDriversAvailable = errors.New("no drivers available")
	ErrInvalidRequest     = errors.New("invalid ride request")
)

// Quoter is the pricing surface the service needs; satisfied by
// *pricing.Gateway and by fakes in tests.
type Quoter interface {
	Quote(ctx context.Context, req pricing.QuoteRequest) (pricing.Quote, error)
}

// Notifier pushes a best-effort assignment notification to the driver.
type Notifier interface {
	RideAssigned(ctx context.Context, ride models.Ride) error
}

// Service creates rides: nearest-driver matching plus a priced quote,
// then persistence and a ride.requested event.
type Service struct {
	Directory   directory.Directory
	Pricing     Quoter
	Store       storage.RideStore
	Events      events.Publisher
	Notify      Notifier // optional
	RadiusMiles float64
	Logger      *slog.Logger
}

// CreateRide runs the synchronous matching path. Selection policy is
// closest-first: candidates within RadiusMiles sorted by distance
// ascending, index 0 wins. No ride is persisted without a price.
func (s *Service) CreateRide(ctx context.Context, req models.RideRequest) (*models.Ride, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	radius := s.RadiusMiles
	if radius <= 0 {
		radius = 10
	}

	cands, err := s.Directory.FindCandidates(ctx, req.Pickup.Coord(), radius)
	if err != nil {
		return nil, fmt.Errorf("driver directory: %w", err)
	}
	best, ok := closest(req.Pickup.Coord(), cands, radius)
	if !ok {
		observability.MatchFailures.WithLabelValues("no_drivers").Inc()
		return nil, ErrNoDriversAvailable
	}

	quote, err := s.Pricing.Quote(ctx, pricing.QuoteRequest{
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		EstimatedTime: req.DateTime,
		RequestTime:   time.Now().UTC(),
		Passengers:    req.Passengers,
	})
	if err != nil {
		observability.MatchFailures.WithLabelValues("pricing").Inc()
		return nil, err
	}

	now := time.Now().UTC()
	ride := &models.Ride{
		ID:          newID(),
		RequestID:   req.RequestID,
		CustomerID:  req.CustomerID,
		DriverID:    best.ID,
		Pickup:      req.Pickup,
		Dropoff:     req.Dropoff,
		RequestedAt: req.DateTime,
		Price:       quote.FinalPrice,
		Currency:    quote.Currency,
		Status:      models.StatusAssigned,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ride.RequestedAt.IsZero() {
		ride.RequestedAt = now
	}

	// Redelivered requests must not create a second ride.
	if req.RequestID != "" {
		owner, err := s.Store.Reserve(ctx, req.RequestID, ride.ID)
		switch {
		case errors.Is(err, storage.ErrDuplicateRequest):
			existing, gerr := s.Store.Get(ctx, owner)
			if errors.Is(gerr, storage.ErrNotFound) {
				// Reservation with no ride behind it: an earlier
				// attempt died between reserving and saving. Proceed
				// with this creation instead of failing the replay.
				s.log().Warn("stale request reservation, recreating ride",
					"request_id", req.RequestID, "orphan_ride_id", owner)
				break
			}
			if gerr != nil {
				return nil, fmt.Errorf("load reserved ride: %w", gerr)
			}
			s.log().Info("duplicate ride request", "request_id", req.RequestID, "ride_id", owner)
			return existing, nil
		case err != nil:
			return nil, fmt.Errorf("reserve request key: %w", err)
		}
	}

	if err := s.Store.Save(ctx, ride); err != nil {
		return nil, fmt.Errorf("persist ride: %w", err)
	}
	observability.RidesCreated.Inc()

	// Event emission is best-effort: downstream catches up via other
	// channels, the HTTP caller already has the ride.
	if s.Events != nil {
		if err := s.Events.Publish(ctx, events.NewEnvelope(events.RideRequested, *ride)); err != nil {
			observability.EventPublishErrors.WithLabelValues(events.RideRequested).Inc()
			s.log().Error("publish ride.requested failed", "ride_id", ride.ID, "error", err)
		}
	}
	if s.Notify != nil {
		if err := s.Notify.RideAssigned(ctx, *ride); err != nil {
			s.log().Warn("driver notification failed", "ride_id", ride.ID, "driver_id", best.ID, "error", err)
		}
	}

	return ride, nil
}

func validate(req models.RideRequest) error {
	if req.CustomerID == "" {
		return fmt.Errorf("%w: missing customer id", ErrInvalidRequest)
	}
	if !geo.ValidCoordinates(req.Pickup.Latitude, req.Pickup.Longitude) {
		return fmt.Errorf("%w: invalid pickup coordinates", ErrInvalidRequest)
	}
	if !geo.ValidCoordinates(req.Dropoff.Latitude, req.Dropoff.Longitude) {
		return fmt.Errorf("%w: invalid dropoff coordinates", ErrInvalidRequest)
	}
	return nil
}

// closest re-checks distance and availability locally rather than
// trusting directory ordering; directories may return more than asked.
func closest(from models.Coord, cands []models.DriverCandidate, radiusMiles float64) (models.DriverCandidate, bool) {
	var best models.DriverCandidate
	bestDist := radiusMiles + 1
	for _, c := range cands {
		if !c.Available {
			continue
		}
		d := geo.Distance(from.Latitude, from.Longitude, c.Loc.Latitude, c.Loc.Longitude, geo.Miles)
		if d > radiusMiles {
			continue
		}
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist <= radiusMiles
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
