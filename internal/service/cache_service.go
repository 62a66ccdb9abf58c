package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/governed-io/governed/internal/domain/policy"
)

// cacheEntry is a doubly-linked list node for the decision cache,
// adapted from the donor's lruEntry/ResultCache but evicting by
// cachedAt (insert time) per spec §4.7 and SPEC_FULL.md §9.A — no
// promotion on Get, matching the donor's own ResultCache semantics
// where the list order is rebuilt on insert only... except the donor
// *does* move-to-head on Get; we deliberately do not, since the spec
// pins the literal "oldest cachedAt" eviction rule.
type cacheEntry struct {
	key       uint64
	result    policy.EvaluationResult
	cachedAt  time.Time
	expiresAt time.Time
	prev      *cacheEntry
	next      *cacheEntry
}

// CacheStats mirrors spec §4.7's stats() contract.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
	Size      int
	HitRate   float64
}

// CacheService is the Decision Cache of spec §4.7: a read-through
// cache in front of the Evaluation Engine with TTL expiry and bounded,
// insert-order LRU eviction.
type CacheService struct {
	mu        sync.Mutex
	entries   map[uint64]*cacheEntry
	oldest    *cacheEntry // evicted first (oldest cachedAt)
	newest    *cacheEntry
	maxSize   int
	ttl       time.Duration
	nodeID    string

	hits, misses, sets, evictions int64

	sweepStop sync.Once
	sweepDone chan struct{}
	sweepQuit chan struct{}
}

// NewCacheService creates a cache bounded at maxSize entries with the
// given TTL.
func NewCacheService(maxSize int, ttl time.Duration, nodeID string) *CacheService {
	return &CacheService{
		entries: make(map[uint64]*cacheEntry, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		nodeID:  nodeID,
	}
}

// CacheKey computes the deterministic cache key per spec §4.7:
// tenantId, userId|"anonymous", resource.type, resource.id, action,
// sorted(roles), joined with "::".
func CacheKey(req policy.EvaluationRequest) uint64 {
	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}
	var resourceType, resourceID string
	if req.Resource != nil {
		resourceType, resourceID = req.Resource.Type, req.Resource.ID
	}

	sortedRoles := append([]string(nil), req.Roles...)
	sort.Strings(sortedRoles)

	h := xxhash.New()
	parts := []string{req.TenantID, userID, resourceType, resourceID, req.Action, strings.Join(sortedRoles, ",")}
	_, _ = h.WriteString(strings.Join(parts, "::"))
	return h.Sum64()
}

// Get returns the cached decision for key, or (zero, false) on miss or
// expiry. Expired entries are deleted lazily on access, independent of
// the background sweeper.
func (c *CacheService) Get(key uint64) (policy.EvaluationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return policy.EvaluationResult{}, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		return policy.EvaluationResult{}, false
	}
	c.hits++
	return e.result, true
}

// Set inserts a decision, evicting the oldest entry if at capacity.
func (c *CacheService) Set(key uint64, result policy.EvaluationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
		e.result = result
		e.cachedAt = now
		e.expiresAt = now.Add(c.ttl)
		c.entries[key] = e
		c.pushNewestLocked(e)
		c.sets++
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	e := &cacheEntry{key: key, result: result, cachedAt: now, expiresAt: now.Add(c.ttl)}
	c.entries[key] = e
	c.pushNewestLocked(e)
	c.sets++
}

// InvalidateAll removes every cached entry.
func (c *CacheService) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*cacheEntry, c.maxSize)
	c.oldest, c.newest = nil, nil
}

// Invalidate removes the single entry for req, if present.
func (c *CacheService) Invalidate(req policy.EvaluationRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[CacheKey(req)]; ok {
		c.removeLocked(e)
	}
}

// SweepExpired removes every expired entry. Called by the background
// sweeper; a performance optimization, never required for correctness
// since Get expires lazily.
func (c *CacheService) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

// StartSweeper launches the background sweeper goroutine of spec
// §4.7: it calls SweepExpired on a fixed cadence until the context is
// cancelled or Stop is called. Idempotent: calling it twice without an
// intervening Stop is a no-op. A performance optimization only — Get
// still expires lazily regardless of whether the sweeper is running.
func (c *CacheService) StartSweeper(ctx context.Context, interval time.Duration) {
	c.mu.Lock()
	if c.sweepQuit != nil {
		c.mu.Unlock()
		return
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	c.sweepStop = sync.Once{}
	c.sweepQuit = make(chan struct{})
	c.sweepDone = make(chan struct{})
	quit := c.sweepQuit
	done := c.sweepDone
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-quit:
				return
			case <-ticker.C:
				c.SweepExpired()
			}
		}
	}()
}

// StopSweeper halts a running sweeper and waits for its goroutine to
// exit. Safe to call when no sweeper was started.
func (c *CacheService) StopSweeper() {
	c.mu.Lock()
	quit, done := c.sweepQuit, c.sweepDone
	c.mu.Unlock()
	if quit == nil {
		return
	}
	c.sweepStop.Do(func() { close(quit) })
	<-done
}

// Stats returns a snapshot of cache counters.
func (c *CacheService) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Evictions: c.evictions,
		Size:      len(c.entries),
		HitRate:   rate,
	}
}

func (c *CacheService) pushNewestLocked(e *cacheEntry) {
	e.prev = c.newest
	e.next = nil
	if c.newest != nil {
		c.newest.next = e
	}
	c.newest = e
	if c.oldest == nil {
		c.oldest = e
	}
}

func (c *CacheService) removeLocked(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.oldest = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.newest = e.prev
	}
	delete(c.entries, e.key)
}

func (c *CacheService) evictOldestLocked() {
	if c.oldest == nil {
		return
	}
	c.removeLocked(c.oldest)
	c.evictions++
}
