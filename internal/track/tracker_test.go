package track

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/storage"
)

type fakePublisher struct {
	published []events.Envelope
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, env events.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, env)
	return nil
}

func seedRide(t *testing.T, store storage.RideStore, status string) *models.Ride {
	t.Helper()
	ride := &models.Ride{
		ID:         "r1",
		CustomerID: "c1",
		DriverID:   "d1",
		Pickup:     models.Location{Latitude: 37.7749, Longitude: -122.4194, Address: "Market St"},
		Dropoff:    models.Location{Latitude: 37.7849, Longitude: -122.4094, Address: "Broadway"},
		Price:      13.5,
		Status:     status,
	}
	if err := store.Save(context.Background(), ride); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return ride
}

func TestHandleUpdateProgress(t *testing.T) {
	store := storage.NewMemoryStore()
	ride := seedRide(t, store, models.StatusAssigned)
	tr := &Tracker{Rides: store, Events: &fakePublisher{}}
	ctx := context.Background()

	loc := models.Coord{Latitude: 37.7799, Longitude: -122.4144}
	if err := tr.HandleUpdate(ctx, models.LocationUpdate{RideID: "r1", Location: loc}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := store.Get(ctx, "r1")
	want := geo.Distance(ride.Pickup.Latitude, ride.Pickup.Longitude, loc.Latitude, loc.Longitude, geo.Miles)
	if math.Abs(got.DistanceCovered-want) > 1e-9 {
		t.Fatalf("distance covered %f, want %f", got.DistanceCovered, want)
	}
	if got.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}
}

func TestHandleUpdateLastCompletesAndEmits(t *testing.T) {
	store := storage.NewMemoryStore()
	ride := seedRide(t, store, models.StatusInProgress)
	pub := &fakePublisher{}
	tr := &Tracker{Rides: store, Events: pub}
	ctx := context.Background()

	final := models.Coord{Latitude: 37.7849, Longitude: -122.4094}
	if err := tr.HandleUpdate(ctx, models.LocationUpdate{RideID: "r1", Location: final, Last: true}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := store.Get(ctx, "r1")
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	want := geo.Distance(ride.Pickup.Latitude, ride.Pickup.Longitude, final.Latitude, final.Longitude, geo.Miles)
	if math.Abs(got.DistanceCovered-want) > 1e-9 {
		t.Fatalf("final distance %f, want %f", got.DistanceCovered, want)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 completion event, got %d", len(pub.published))
	}
	env := pub.published[0]
	if env.EventType != events.RideCompleted || env.Data.ID != "r1" {
		t.Fatalf("wrong event: %+v", env)
	}
	if math.Abs(env.Data.DistanceCovered-want) > 1e-9 {
		t.Fatalf("event distance %f, want %f", env.Data.DistanceCovered, want)
	}
}

func TestHandleUpdateUnknownRideDropped(t *testing.T) {
	tr := &Tracker{Rides: storage.NewMemoryStore(), Events: &fakePublisher{}}
	err := tr.HandleUpdate(context.Background(), models.LocationUpdate{RideID: "ghost", Last: true})
	if err != nil {
		t.Fatalf("unknown ride must be a no-op, got %v", err)
	}
}

func TestHandleUpdateCancelledSuppressesCompletion(t *testing.T) {
	store := storage.NewMemoryStore()
	seedRide(t, store, models.StatusCancelled)
	pub := &fakePublisher{}
	tr := &Tracker{Rides: store, Events: pub}

	final := models.Coord{Latitude: 37.7849, Longitude: -122.4094}
	if err := tr.HandleUpdate(context.Background(), models.LocationUpdate{RideID: "r1", Location: final, Last: true}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.published) != 0 {
		t.Fatal("completion event emitted for cancelled ride")
	}
	got, _ := store.Get(context.Background(), "r1")
	if got.Status != models.StatusCancelled {
		t.Fatalf("cancelled ride mutated to %s", got.Status)
	}
}

// cancelOnRead cancels the ride right after handing it out, modelling
// an HTTP cancel arriving while the final update is being handled.
type cancelOnRead struct {
	*storage.MemoryStore
	cancelled bool
}

func (c *cancelOnRead) Get(ctx context.Context, id string) (*models.Ride, error) {
	r, err := c.MemoryStore.Get(ctx, id)
	if err == nil && !c.cancelled {
		c.cancelled = true
		_ = c.MemoryStore.Cancel(ctx, id)
	}
	return r, err
}

func TestHandleUpdateCancelDuringFinalUpdate(t *testing.T) {
	inner := storage.NewMemoryStore()
	seedRide(t, inner, models.StatusInProgress)
	store := &cancelOnRead{MemoryStore: inner}
	pub := &fakePublisher{}
	tr := &Tracker{Rides: store, Events: pub}

	final := models.Coord{Latitude: 37.7849, Longitude: -122.4094}
	if err := tr.HandleUpdate(context.Background(), models.LocationUpdate{RideID: "r1", Location: final, Last: true}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.published) != 0 {
		t.Fatal("completion event emitted for ride cancelled mid-update")
	}
	got, _ := inner.Get(context.Background(), "r1")
	if got.Status != models.StatusCancelled {
		t.Fatalf("cancel lost, status %s", got.Status)
	}
}

type collectPublisher struct{ updates []models.LocationUpdate }

func (c *collectPublisher) PublishLocation(ctx context.Context, u models.LocationUpdate) error {
	c.updates = append(c.updates, u)
	return nil
}

func TestSimulatorPublishesInterpolatedPath(t *testing.T) {
	pub := &collectPublisher{}
	sim := &Simulator{Publisher: pub, Steps: 4, Delay: time.Millisecond}
	start := models.Coord{Latitude: 0, Longitude: 0}
	end := models.Coord{Latitude: 4, Longitude: 8}

	if err := sim.Run(context.Background(), "r1", start, end); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(pub.updates) != 5 {
		t.Fatalf("expected 5 updates, got %d", len(pub.updates))
	}
	first, last := pub.updates[0], pub.updates[len(pub.updates)-1]
	if first.Last || first.Location != start {
		t.Fatalf("bad first update: %+v", first)
	}
	if !last.Last || last.Location != end {
		t.Fatalf("bad last update: %+v", last)
	}
	mid := pub.updates[2]
	if mid.Location.Latitude != 2 || mid.Location.Longitude != 4 {
		t.Fatalf("bad midpoint: %+v", mid.Location)
	}
}

type flakyStore struct {
	storage.RideStore
	failures int
}

func (f *flakyStore) SetProgress(ctx context.Context, id string, d float64) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("transient store error")
	}
	return f.RideStore.SetProgress(ctx, id, d)
}

func TestHandleUpdateRetriesTransientStoreErrors(t *testing.T) {
	mem := storage.NewMemoryStore()
	seedRide(t, mem, models.StatusAssigned)
	store := &flakyStore{RideStore: mem, failures: 2}
	tr := &Tracker{Rides: store, StoreAttempts: 3, StoreDelay: time.Millisecond}

	err := tr.HandleUpdate(context.Background(), models.LocationUpdate{
		RideID:   "r1",
		Location: models.Coord{Latitude: 37.78, Longitude: -122.41},
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if store.failures != 0 {
		t.Fatalf("expected failures consumed, got %d left", store.failures)
	}
}
