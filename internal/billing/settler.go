package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
)

// Settlements is the store surface the consumer needs; satisfied by
// *Store and by fakes in tests.
type Settlements interface {
	Settle(ctx context.Context, ride models.Ride) error
}

// Settler consumes ride.completed events and settles each ride. The
// underlying transport is at-least-once; the unique ride_id constraint
// on bills makes redelivery harmless.
type Settler struct {
	Store  Settlements
	Logger *slog.Logger
}

// ErrTransient marks a settlement that should be retried with the same
// message; the message must stay uncommitted until it succeeds.
var ErrTransient = errors.New("transient settlement failure")

// Handle processes one raw message. A nil return means the message is
// done and may be committed; ErrTransient means the caller must retry
// this message before committing anything past it.
func (s *Settler) Handle(ctx context.Context, raw []byte) error {
	env, err := events.Decode(raw)
	if err != nil {
		// Unparsable messages are logged and dropped; redelivery would
		// fail the same way forever.
		observability.SettlementFailures.WithLabelValues("malformed").Inc()
		s.log().Warn("dropping malformed event", "error", err)
		return nil
	}
	if env.EventType != events.RideCompleted {
		return nil
	}
	ride := env.Data

	switch err := s.Store.Settle(ctx, ride); {
	case err == nil:
		observability.Settlements.Inc()
		s.log().Info("ride settled",
			"ride_id", ride.ID, "customer_id", ride.CustomerID,
			"driver_id", ride.DriverID, "amount", ride.Price)
		return nil
	case errors.Is(err, ErrAlreadySettled):
		// Redelivered completion event; the bill already exists.
		s.log().Info("ride already settled, skipping", "ride_id", ride.ID)
		return nil
	case errors.Is(err, ErrWalletNotFound):
		// Dropped without retry or dead-lettering: the wallet will not
		// appear by replaying the same message.
		observability.SettlementFailures.WithLabelValues("wallet_not_found").Inc()
		s.log().Error("settlement aborted, wallet missing", "ride_id", ride.ID, "error", err)
		return nil
	case errors.Is(err, ErrInsufficientBalance):
		observability.SettlementFailures.WithLabelValues("insufficient_balance").Inc()
		s.log().Error("settlement refused by balance policy", "ride_id", ride.ID, "error", err)
		return nil
	default:
		observability.SettlementFailures.WithLabelValues("transient").Inc()
		s.log().Error("settlement failed, will retry", "ride_id", ride.ID, "error", err)
		return errors.Join(ErrTransient, err)
	}
}

func (s *Settler) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
