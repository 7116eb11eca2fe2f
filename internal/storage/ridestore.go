package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

var (
	ErrNotFound = errors.New("ride not found")
	// ErrDuplicateRequest means the request key was already reserved by
	// an earlier delivery of the same logical ride request.
	ErrDuplicateRequest = errors.New("duplicate ride request")
	// ErrCancelled means the ride was cancelled and refuses completion.
	ErrCancelled = errors.New("ride cancelled")
)

// RideStore is the document-style ride persistence used by matching and
// the progress tracker: point lookups by id plus simple field updates.
type RideStore interface {
	Save(ctx context.Context, r *models.Ride) error
	Get(ctx context.Context, id string) (*models.Ride, error)
	// SetProgress updates the running distance covered.
	SetProgress(ctx context.Context, id string, distanceMiles float64) error
	// Complete sets the final distance and flips status to completed.
	// A cancelled ride is left untouched and returns ErrCancelled, so a
	// cancel racing the final location update always wins.
	Complete(ctx context.Context, id string, distanceMiles float64) (*models.Ride, error)
	Cancel(ctx context.Context, id string) error
	// Reserve claims a request key for rideID. If the key was already
	// claimed it returns the owning ride id and ErrDuplicateRequest, so
	// redelivered ride requests cannot create a second ride.
	Reserve(ctx context.Context, requestKey, rideID string) (string, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.Ride
	requests map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.Ride),
		requests: make(map[string]string),
	}
}

func (m *MemoryStore) Save(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) SetProgress(ctx context.Context, id string, distanceMiles float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ErrNotFound
	}
	r.DistanceCovered = distanceMiles
	if r.Status == models.StatusAssigned {
		r.Status = models.StatusInProgress
	}
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Complete(ctx context.Context, id string, distanceMiles float64) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status == models.StatusCancelled {
		return nil, ErrCancelled
	}
	r.DistanceCovered = distanceMiles
	r.Status = models.StatusCompleted
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = models.StatusCancelled
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Reserve(ctx context.Context, requestKey, rideID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.requests[requestKey]; ok {
		return owner, ErrDuplicateRequest
	}
	m.requests[requestKey] = rideID
	return rideID, nil
}
