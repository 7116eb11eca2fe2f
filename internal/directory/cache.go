package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// Cached wraps a Directory with a small TTL cache keyed by the lookup
// point and radius. Candidate sets go stale quickly, so the TTL should
// stay in the tens of seconds.
type Cached struct {
	inner Directory
	ttl   time.Duration

	mu    sync.RWMutex
	store map[string]cacheEntry
}

type cacheEntry struct {
	candidates []models.DriverCandidate
	ts         time.Time
}

func NewCached(inner Directory, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Cached{inner: inner, ttl: ttl, store: make(map[string]cacheEntry)}
}

func (c *Cached) FindCandidates(ctx context.Context, point models.Coord, radiusMiles float64) ([]models.DriverCandidate, error) {
	k := cacheKey(point, radiusMiles)

	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.candidates, nil
	}

	fresh, err := c.inner.FindCandidates(ctx, point, radiusMiles)
	if err != nil {
		// Serve a stale entry over failing the lookup outright.
		if ok {
			return e.candidates, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.store[k] = cacheEntry{candidates: fresh, ts: time.Now()}
	c.mu.Unlock()
	return fresh, nil
}

func cacheKey(p models.Coord, radius float64) string {
	return fmt.Sprintf("%.6f,%.6f:%.1f", p.Latitude, p.Longitude, radius)
}
