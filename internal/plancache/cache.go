// Package plancache holds previewed reorder plans between preview and apply.
package plancache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hylla/encore/internal/domain"
)

const (
	// DefaultTTL replaces non-positive TTLs passed to Set.
	DefaultTTL = 5 * time.Minute
	// DefaultSize bounds how many plans are held at once.
	DefaultSize = 1024
	// defaultMaxTTL is the LRU-wide ceiling that reclaims plans nobody reads again.
	defaultMaxTTL = time.Hour
)

// LookupRecorder receives cache hit and miss counts.
type LookupRecorder interface {
	RecordPlanCacheLookup(hit bool)
}

// EvictionRecorder is implemented by recorders that also count capacity evictions.
type EvictionRecorder interface {
	RecordPlanCacheEviction()
}

// entry pairs a plan with its own deadline; the LRU ttl is only a backstop.
type entry struct {
	plan      domain.ReorderPlan
	expiresAt time.Time
}

// Cache is an in-process plan store with per-plan expiry. It is safe for concurrent use.
type Cache struct {
	lru        *expirable.LRU[string, entry]
	now        func() time.Time
	defaultTTL time.Duration
	recorder   LookupRecorder
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	size       int
	maxTTL     time.Duration
	defaultTTL time.Duration
	now        func() time.Time
	recorder   LookupRecorder
}

// WithSize bounds the number of cached plans; the least recently used plan is evicted first.
func WithSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithDefaultTTL sets the TTL used when Set receives a non-positive one.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

// WithMaxTTL sets the ceiling after which any plan is reclaimed regardless of its own TTL.
func WithMaxTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.maxTTL = d
		}
	}
}

// WithClock overrides the clock used for per-plan expiry.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRecorder reports hits and misses to r, and evictions when r is also an EvictionRecorder.
func WithRecorder(r LookupRecorder) Option {
	return func(c *config) {
		if r != nil {
			c.recorder = r
		}
	}
}

// New constructs a Cache.
func New(opts ...Option) *Cache {
	cfg := config{
		size:       DefaultSize,
		maxTTL:     defaultMaxTTL,
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Cache{
		lru:        expirable.NewLRU[string, entry](cfg.size, nil, cfg.maxTTL),
		now:        cfg.now,
		defaultTTL: cfg.defaultTTL,
		recorder:   cfg.recorder,
	}
}

// Set stores plan under plan.PlanID, replacing any existing plan with that id. It returns the expiry time.
func (c *Cache) Set(plan domain.ReorderPlan, ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	expiresAt := c.now().Add(ttl)
	if evicted := c.lru.Add(plan.PlanID, entry{plan: plan.Clone(), expiresAt: expiresAt}); evicted {
		if rec, ok := c.recorder.(EvictionRecorder); ok {
			rec.RecordPlanCacheEviction()
		}
	}
	return expiresAt
}

// Get returns a copy of the plan, or false when it was never stored, was removed, or has expired.
func (c *Cache) Get(planID string) (domain.ReorderPlan, bool) {
	e, ok := c.lru.Get(planID)
	if ok && !c.now().Before(e.expiresAt) {
		c.lru.Remove(planID)
		ok = false
	}
	if c.recorder != nil {
		c.recorder.RecordPlanCacheLookup(ok)
	}
	if !ok {
		return domain.ReorderPlan{}, false
	}
	return e.plan.Clone(), true
}

// Remove deletes a plan. Removing an unknown id is a no-op.
func (c *Cache) Remove(planID string) {
	c.lru.Remove(planID)
}

// Len reports how many plans are held, including expired ones not yet reclaimed.
func (c *Cache) Len() int {
	return c.lru.Len()
}
