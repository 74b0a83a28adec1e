package plancache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hylla/encore/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{at: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

type countingRecorder struct {
	hits, misses, evictions atomic.Int64
}

func (r *countingRecorder) RecordPlanCacheEviction() {
	r.evictions.Add(1)
}

func (r *countingRecorder) RecordPlanCacheLookup(hit bool) {
	if hit {
		r.hits.Add(1)
		return
	}
	r.misses.Add(1)
}

func samplePlan(id string) domain.ReorderPlan {
	return domain.ReorderPlan{
		PlanID:    id,
		EventID:   "ev-1",
		MoveCount: 1,
		Items: []domain.PlanEntry{
			{QueueID: "q1", OriginalIndex: 0, DisplayIndex: 1},
			{QueueID: "q2", OriginalIndex: 1, DisplayIndex: 0},
		},
		Metadata: map[string]string{"seed": "7"},
	}
}

func TestCacheSetGetRemove(t *testing.T) {
	rec := &countingRecorder{}
	c := New(WithRecorder(rec))

	c.Set(samplePlan("p1"), time.Minute)
	got, ok := c.Get("p1")
	require.True(t, ok)
	require.Equal(t, samplePlan("p1"), got)

	c.Remove("p1")
	c.Remove("p1")
	_, ok = c.Get("p1")
	require.False(t, ok)
	_, ok = c.Get("never")
	require.False(t, ok)

	require.EqualValues(t, 1, rec.hits.Load())
	require.EqualValues(t, 2, rec.misses.Load())
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))

	expiresAt := c.Set(samplePlan("p1"), 30*time.Second)
	require.Equal(t, clock.Now().Add(30*time.Second), expiresAt)

	clock.Advance(29 * time.Second)
	_, ok := c.Get("p1")
	require.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("p1")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestCacheNonPositiveTTLUsesDefault(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))

	require.Equal(t, clock.Now().Add(DefaultTTL), c.Set(samplePlan("p1"), 0))
	require.Equal(t, clock.Now().Add(DefaultTTL), c.Set(samplePlan("p2"), -time.Second))

	clock.Advance(DefaultTTL - time.Second)
	_, ok := c.Get("p2")
	require.True(t, ok)
	clock.Advance(time.Second)
	_, ok = c.Get("p2")
	require.False(t, ok)
}

func TestCacheSetOverwrites(t *testing.T) {
	c := New()
	c.Set(samplePlan("p1"), time.Minute)
	replacement := samplePlan("p1")
	replacement.MoveCount = 9
	c.Set(replacement, time.Minute)

	got, ok := c.Get("p1")
	require.True(t, ok)
	require.Equal(t, 9, got.MoveCount)
	require.Equal(t, 1, c.Len())
}

func TestCacheReturnsIsolatedCopies(t *testing.T) {
	c := New()
	plan := samplePlan("p1")
	c.Set(plan, time.Minute)
	plan.Items[0].DisplayIndex = 42

	got, ok := c.Get("p1")
	require.True(t, ok)
	require.Equal(t, 1, got.Items[0].DisplayIndex)
	got.Metadata["seed"] = "changed"

	again, _ := c.Get("p1")
	require.Equal(t, "7", again.Metadata["seed"])
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	rec := &countingRecorder{}
	c := New(WithSize(2), WithRecorder(rec))
	c.Set(samplePlan("p1"), time.Minute)
	c.Set(samplePlan("p2"), time.Minute)
	require.Zero(t, rec.evictions.Load())
	c.Set(samplePlan("p3"), time.Minute)
	require.Equal(t, int64(1), rec.evictions.Load())

	_, ok := c.Get("p1")
	require.False(t, ok)
	_, ok = c.Get("p3")
	require.True(t, ok)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("p-%d-%d", w, i%10)
				c.Set(samplePlan(id), time.Minute)
				if got, ok := c.Get(id); ok {
					assert.Len(t, got.Items, 2)
				}
				if i%3 == 0 {
					c.Remove(id)
				}
			}
		}()
	}
	wg.Wait()
}
