// Package cache holds short-lived snapshots of dashboard reads.
//
// The cache is advisory: a stale or missing entry is a miss, never an error,
// and every successful write clears it entirely because the aggregate depends
// on every row. Writers capture Generation before reading the store; a put
// carrying an older generation is dropped so a slow read cannot resurrect data
// an invalidation already cleared.
package cache

import (
	"sync"
	"time"

	"turfboard.app/internal/obs"
	"turfboard.app/internal/turf"
)

// DefaultTTL matches the dashboard refresh cadence.
const DefaultTTL = 5 * time.Second

type entry[T any] struct {
	value      T
	capturedAt time.Time
}

// Cache stores the all-rows snapshot and per-slug rows.
type Cache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	all    *entry[[]turf.Login]
	bySlug map[string]entry[turf.Login]
	gen    uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects the time source used for capture and freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:    ttl,
		now:    time.Now,
		bySlug: make(map[string]entry[turf.Login]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) fresh(capturedAt time.Time) bool {
	return c.now().Sub(capturedAt) < c.ttl
}

// GetAll returns a copy of the all-rows snapshot when it is fresh.
func (c *Cache) GetAll() ([]turf.Login, bool) {
	c.mu.RLock()
	e := c.all
	c.mu.RUnlock()
	if e == nil || !c.fresh(e.capturedAt) {
		obs.CacheLookups.WithLabelValues("all", "miss").Inc()
		return nil, false
	}
	obs.CacheLookups.WithLabelValues("all", "hit").Inc()
	return cloneRows(e.value), true
}

// Generation identifies the current invalidation epoch.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// PutAll captures rows read during generation gen. It reports false and keeps
// nothing when an invalidation happened since.
func (c *Cache) PutAll(gen uint64, rows []turf.Login) bool {
	e := &entry[[]turf.Login]{value: cloneRows(rows), capturedAt: c.now()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.all = e
	return true
}

// Get returns a copy of the cached row for slug when it is fresh.
func (c *Cache) Get(slug string) (turf.Login, bool) {
	c.mu.RLock()
	e, ok := c.bySlug[slug]
	c.mu.RUnlock()
	if !ok || !c.fresh(e.capturedAt) {
		obs.CacheLookups.WithLabelValues("slug", "miss").Inc()
		return turf.Login{}, false
	}
	obs.CacheLookups.WithLabelValues("slug", "hit").Inc()
	return cloneRow(e.value), true
}

// Put captures row under its slug, with the same generation rule as PutAll.
func (c *Cache) Put(gen uint64, row turf.Login) bool {
	e := entry[turf.Login]{value: cloneRow(row), capturedAt: c.now()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.bySlug[row.Slug] = e
	return true
}

// Invalidate drops the entry for slug.
func (c *Cache) Invalidate(slug string) {
	c.mu.Lock()
	c.gen++
	delete(c.bySlug, slug)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.gen++
	c.all = nil
	c.bySlug = make(map[string]entry[turf.Login])
	c.mu.Unlock()
}

func cloneRow(row turf.Login) turf.Login {
	if row.OrganizationID != nil {
		id := *row.OrganizationID
		row.OrganizationID = &id
	}
	return row
}

func cloneRows(rows []turf.Login) []turf.Login {
	out := make([]turf.Login, len(rows))
	for i, row := range rows {
		out[i] = cloneRow(row)
	}
	return out
}
