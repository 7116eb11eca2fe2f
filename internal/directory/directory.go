package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/models"
)

// Directory is the driver-directory collaborator consulted at matching
// time. Implementations return only available drivers within the
// radius, ordered by distance from the point, nearest first.
type Directory interface {
	FindCandidates(ctx context.Context, point models.Coord, radiusMiles float64) ([]models.DriverCandidate, error)
}

// Index is the in-memory directory used in tests and single-node runs.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverCandidate
	updated map[string]time.Time
}

func NewIndex() *Index {
	return &Index{
		drivers: make(map[string]models.DriverCandidate),
		updated: make(map[string]time.Time),
	}
}

func (x *Index) Upsert(d models.DriverCandidate) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.drivers[d.ID] = d
	x.updated[d.ID] = time.Now()
}

// naive scan; the Redis directory does this server-side with GEOSEARCH
func (x *Index) FindCandidates(ctx context.Context, point models.Coord, radiusMiles float64) ([]models.DriverCandidate, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	type scored struct {
		d    models.DriverCandidate
		dist float64
	}
	within := make([]scored, 0, len(x.drivers))
	for _, d := range x.drivers {
		if !d.Available {
			continue
		}
		dist := geo.Distance(point.Latitude, point.Longitude, d.Loc.Latitude, d.Loc.Longitude, geo.Miles)
		if dist > radiusMiles {
			continue
		}
		within = append(within, scored{d, dist})
	}
	sort.Slice(within, func(i, j int) bool { return within[i].dist < within[j].dist })
	out := make([]models.DriverCandidate, 0, len(within))
	for _, s := range within {
		out = append(out, s.d)
	}
	return out, nil
}
