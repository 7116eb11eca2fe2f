package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/models"
)

// fakeLedger settles in memory with the same error contract as Store.
type fakeLedger struct {
	customers map[string]float64
	drivers   map[string]float64
	bills     map[string]models.Ride
	failNext  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		customers: map[string]float64{},
		drivers:   map[string]float64{},
		bills:     map[string]models.Ride{},
	}
}

func (f *fakeLedger) Settle(ctx context.Context, ride models.Ride) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	cb, ok := f.customers[ride.CustomerID]
	if !ok {
		return ErrWalletNotFound
	}
	db, ok := f.drivers[ride.DriverID]
	if !ok {
		return ErrWalletNotFound
	}
	if _, dup := f.bills[ride.ID]; dup {
		return ErrAlreadySettled
	}
	f.customers[ride.CustomerID] = cb - ride.Price
	f.drivers[ride.DriverID] = db + ride.Price
	f.bills[ride.ID] = ride
	return nil
}

func completedEvent(t *testing.T, ride models.Ride) []byte {
	t.Helper()
	b, err := json.Marshal(events.NewEnvelope(events.RideCompleted, ride))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func sampleRide() models.Ride {
	return models.Ride{
		ID:              "r1",
		CustomerID:      "c1",
		DriverID:        "d1",
		Price:           12.5,
		DistanceCovered: 1.4,
		Status:          models.StatusCompleted,
	}
}

func TestHandleSettlesRide(t *testing.T) {
	ledger := newFakeLedger()
	ledger.customers["c1"] = 50
	ledger.drivers["d1"] = 10
	s := &Settler{Store: ledger}

	if err := s.Handle(context.Background(), completedEvent(t, sampleRide())); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := ledger.customers["c1"]; got != 37.5 {
		t.Fatalf("customer balance %f, want 37.5", got)
	}
	if got := ledger.drivers["d1"]; got != 22.5 {
		t.Fatalf("driver balance %f, want 22.5", got)
	}
	bill, ok := ledger.bills["r1"]
	if !ok || bill.Price != 12.5 {
		t.Fatalf("missing or wrong bill: %+v", bill)
	}
}

func TestHandleRedeliveryIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	ledger.customers["c1"] = 50
	ledger.drivers["d1"] = 10
	s := &Settler{Store: ledger}
	msg := completedEvent(t, sampleRide())
	ctx := context.Background()

	if err := s.Handle(ctx, msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := s.Handle(ctx, msg); err != nil {
		t.Fatalf("redelivery must be acked, got %v", err)
	}
	if got := ledger.customers["c1"]; got != 37.5 {
		t.Fatalf("double charge: customer balance %f", got)
	}
}

func TestHandleMissingWalletDropsMessage(t *testing.T) {
	ledger := newFakeLedger()
	ledger.drivers["d1"] = 10 // no customer wallet
	s := &Settler{Store: ledger}

	if err := s.Handle(context.Background(), completedEvent(t, sampleRide())); err != nil {
		t.Fatalf("missing wallet must not be retried, got %v", err)
	}
	if got := ledger.drivers["d1"]; got != 10 {
		t.Fatalf("driver wallet mutated: %f", got)
	}
	if len(ledger.bills) != 0 {
		t.Fatal("bill created despite aborted settlement")
	}
}

func TestHandleTransientFailureRequestsRedelivery(t *testing.T) {
	ledger := newFakeLedger()
	ledger.customers["c1"] = 50
	ledger.drivers["d1"] = 10
	ledger.failNext = errors.New("connection reset")
	s := &Settler{Store: ledger}
	msg := completedEvent(t, sampleRide())
	ctx := context.Background()

	if err := s.Handle(ctx, msg); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	// Redelivery succeeds once the store recovers.
	if err := s.Handle(ctx, msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := ledger.customers["c1"]; got != 37.5 {
		t.Fatalf("customer balance %f, want 37.5", got)
	}
}

func TestHandleIgnoresOtherEventTypes(t *testing.T) {
	ledger := newFakeLedger()
	s := &Settler{Store: ledger}
	b, _ := json.Marshal(events.NewEnvelope(events.RideRequested, models.Ride{ID: "r1", CustomerID: "c1"}))

	if err := s.Handle(context.Background(), b); err != nil {
		t.Fatalf("non-completed event should be skipped, got %v", err)
	}
	if len(ledger.bills) != 0 {
		t.Fatal("bill created for non-completed event")
	}
}

func TestHandleMalformedDropped(t *testing.T) {
	s := &Settler{Store: newFakeLedger()}
	if err := s.Handle(context.Background(), []byte("{broken")); err != nil {
		t.Fatalf("malformed message must be dropped, got %v", err)
	}
}
