package service

import (
	"context"
	"testing"
	"time"

	"github.com/governed-io/governed/internal/domain/policy"
)

func TestCacheService_SetGetRoundTrip(t *testing.T) {
	t.Parallel()
	c := NewCacheService(10, time.Minute, "node-1")

	req := policy.EvaluationRequest{TenantID: "acme", Action: "read"}
	key := CacheKey(req)

	if _, ok := c.Get(key); ok {
		t.Fatal("expected a miss before any Set")
	}

	want := policy.EvaluationResult{Allowed: true, Reason: "test"}
	c.Set(key, want)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected a hit after Set")
	}
	if got.Allowed != want.Allowed || got.Reason != want.Reason {
		t.Errorf("got %+v, want %+v", got, want)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Sets != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss, 1 set", stats)
	}
}

func TestCacheService_ExpiresByTTL(t *testing.T) {
	t.Parallel()
	c := NewCacheService(10, time.Millisecond, "node-1")
	key := CacheKey(policy.EvaluationRequest{Action: "read"})
	c.Set(key, policy.EvaluationResult{Allowed: true})

	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(key); ok {
		t.Error("expected the entry to have lazily expired")
	}
}

func TestCacheService_EvictsOldestCachedAtNotLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	c := NewCacheService(2, time.Minute, "node-1")

	k1 := CacheKey(policy.EvaluationRequest{Action: "a1"})
	k2 := CacheKey(policy.EvaluationRequest{Action: "a2"})
	k3 := CacheKey(policy.EvaluationRequest{Action: "a3"})

	c.Set(k1, policy.EvaluationResult{Reason: "first"})
	c.Set(k2, policy.EvaluationResult{Reason: "second"})

	// Touch k1 via Get. Per spec, eviction is by insertion order
	// (cachedAt), not access order, so this must NOT protect k1.
	if _, ok := c.Get(k1); !ok {
		t.Fatal("expected k1 to be present before the third insert")
	}

	c.Set(k3, policy.EvaluationResult{Reason: "third"})

	if _, ok := c.Get(k1); ok {
		t.Error("k1 should have been evicted as the oldest-inserted entry despite being recently read")
	}
	if _, ok := c.Get(k2); !ok {
		t.Error("k2 should still be present")
	}
	if _, ok := c.Get(k3); !ok {
		t.Error("k3 should still be present")
	}

	if c.Stats().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestCacheService_InvalidateAllClearsEverything(t *testing.T) {
	t.Parallel()
	c := NewCacheService(10, time.Minute, "node-1")
	key := CacheKey(policy.EvaluationRequest{Action: "read"})
	c.Set(key, policy.EvaluationResult{Allowed: true})

	c.InvalidateAll()

	if _, ok := c.Get(key); ok {
		t.Error("expected InvalidateAll to clear every entry")
	}
	if c.Stats().Size != 0 {
		t.Errorf("Size = %d, want 0", c.Stats().Size)
	}
}

func TestCacheService_InvalidateSingleEntry(t *testing.T) {
	t.Parallel()
	c := NewCacheService(10, time.Minute, "node-1")
	req1 := policy.EvaluationRequest{Action: "read"}
	req2 := policy.EvaluationRequest{Action: "write"}
	c.Set(CacheKey(req1), policy.EvaluationResult{Allowed: true})
	c.Set(CacheKey(req2), policy.EvaluationResult{Allowed: false})

	c.Invalidate(req1)

	if _, ok := c.Get(CacheKey(req1)); ok {
		t.Error("expected req1's entry to be invalidated")
	}
	if _, ok := c.Get(CacheKey(req2)); !ok {
		t.Error("expected req2's entry to survive")
	}
}

func TestCacheService_SweepExpiredRemovesOnlyStaleEntries(t *testing.T) {
	t.Parallel()
	c := NewCacheService(10, time.Millisecond, "node-1")
	stale := CacheKey(policy.EvaluationRequest{Action: "stale"})
	c.Set(stale, policy.EvaluationResult{})

	time.Sleep(5 * time.Millisecond)

	fresh := CacheKey(policy.EvaluationRequest{Action: "fresh"})
	c.Set(fresh, policy.EvaluationResult{})
	c.entries[fresh].expiresAt = time.Now().Add(time.Minute)

	removed := c.SweepExpired()
	if removed != 1 {
		t.Errorf("SweepExpired removed %d, want 1", removed)
	}
	if _, ok := c.Get(fresh); !ok {
		t.Error("expected the unexpired entry to survive the sweep")
	}
}

func TestCacheService_StartSweeperRemovesExpiredOnCadence(t *testing.T) {
	t.Parallel()
	c := NewCacheService(10, 5*time.Millisecond, "node-1")
	key := CacheKey(policy.EvaluationRequest{Action: "swept"})
	c.Set(key, policy.EvaluationResult{})

	ctx, cancel := context.WithCancel(context.Background())
	c.StartSweeper(ctx, 10*time.Millisecond)
	defer func() {
		cancel()
		c.StopSweeper()
	}()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if c.Stats().Size == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background sweeper did not remove the expired entry in time")
}

func TestCacheService_StartSweeperIsIdempotentAndStoppable(t *testing.T) {
	t.Parallel()
	c := NewCacheService(10, time.Minute, "node-1")
	ctx := context.Background()
	c.StartSweeper(ctx, time.Millisecond)
	c.StartSweeper(ctx, time.Millisecond) // second call must be a no-op, not a second goroutine
	c.StopSweeper()
	c.StopSweeper() // stopping twice must not panic or block
}

func TestCacheKey_DeterministicAndRoleOrderInvariant(t *testing.T) {
	t.Parallel()
	a := policy.EvaluationRequest{TenantID: "acme", UserID: "u1", Action: "read", Roles: []string{"admin", "viewer"}}
	b := policy.EvaluationRequest{TenantID: "acme", UserID: "u1", Action: "read", Roles: []string{"viewer", "admin"}}

	if CacheKey(a) != CacheKey(b) {
		t.Error("cache key must be invariant to role ordering")
	}

	c := policy.EvaluationRequest{TenantID: "acme", UserID: "u2", Action: "read", Roles: []string{"admin", "viewer"}}
	if CacheKey(a) == CacheKey(c) {
		t.Error("cache key must differ when userId differs")
	}
}
