// Package service contains application services implementing the
// governance kernel's domain ports.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/governed-io/governed/internal/domain/changeevent"
	"github.com/governed-io/governed/internal/domain/policy"
	"github.com/governed-io/governed/internal/domain/sink"
)

// registrySnapshot is the immutable view swapped into atomic.Value on
// every mutation, mirroring the donor's CompiledRulesSnapshot /
// atomic.Value pattern: readers take a lock-free snapshot, writers
// rebuild and publish under a short-held mutex.
type registrySnapshot struct {
	byID        map[string]*policy.RegistryEntry
	byPrecedence map[policy.PrecedenceClass][]*policy.RegistryEntry
}

// RegistryService is the indexed, in-memory policy registry. Writers
// take an exclusive lock; readers load a snapshot without blocking.
type RegistryService struct {
	mu       sync.Mutex // guards writes only
	snapshot atomic.Value

	publisher ChangeStreamPublisher
	cache     *CacheService
	metrics   sink.MetricsSink
	logger    *slog.Logger
}

// ChangeStreamPublisher is the narrow slice of ChangeStreamService the
// registry depends on, kept here rather than importing the concrete
// type to avoid a dependency cycle between registry and stream.
type ChangeStreamPublisher interface {
	Publish(ctx context.Context, evt changeevent.Event)
}

// RegistryServiceOption configures a RegistryService.
type RegistryServiceOption func(*RegistryService)

// WithMetricsSink overrides the default no-op metrics sink.
func WithMetricsSink(m sink.MetricsSink) RegistryServiceOption {
	return func(s *RegistryService) { s.metrics = m }
}

// WithChangeStreamPublisher wires a change stream for lifecycle events.
func WithChangeStreamPublisher(p ChangeStreamPublisher) RegistryServiceOption {
	return func(s *RegistryService) { s.publisher = p }
}

// WithCacheInvalidator wires the decision cache so every mutation
// invalidates it before publishing a change event, per spec §4.7's
// invalidation contract ("invalidateAll() before publishing the change
// event") and the control-flow diagram in spec §2
// ("register/disable/enable -> cache.invalidateAll -> stream.publish").
func WithCacheInvalidator(c *CacheService) RegistryServiceOption {
	return func(s *RegistryService) { s.cache = c }
}

// NewRegistryService creates an empty registry.
func NewRegistryService(logger *slog.Logger, opts ...RegistryServiceOption) *RegistryService {
	s := &RegistryService{
		metrics: sink.NoopMetrics{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot.Store(&registrySnapshot{
		byID:         make(map[string]*policy.RegistryEntry),
		byPrecedence: make(map[policy.PrecedenceClass][]*policy.RegistryEntry),
	})
	return s
}

func (s *RegistryService) load() *registrySnapshot {
	return s.snapshot.Load().(*registrySnapshot)
}

// Register validates and stores a manifest. Re-registering an
// existing id performs an upsert that preserves RegisteredAt.
func (s *RegistryService) Register(ctx context.Context, m policy.Manifest) (string, error) {
	if errs := policy.Validate(m); len(errs) > 0 {
		return "", errs
	}

	hash, err := policy.CanonicalHash(m)
	if err != nil {
		return "", fmt.Errorf("%w: hashing manifest: %v", policy.ErrInvariant, err)
	}

	now := time.Now()
	s.mu.Lock()
	cur := s.load()
	existing, isUpdate := cur.byID[m.ID]

	entry := &policy.RegistryEntry{
		Manifest:     m,
		ManifestHash: hash,
		RegisteredAt: now.UnixNano(),
		UpdatedAt:    now.UnixNano(),
	}
	if isUpdate {
		entry.RegisteredAt = existing.RegisteredAt
		s.logger.Warn("policy re-registered, performing upsert", "id", m.ID)
	}

	next := s.rebuildWith(cur, m.ID, entry)
	s.snapshot.Store(next)
	s.invalidateCache()
	s.mu.Unlock()

	evtType := changeevent.TypeCreated
	if isUpdate {
		evtType = changeevent.TypeUpdated
	}
	s.publish(ctx, changeevent.Event{
		Type:      evtType,
		PolicyID:  m.ID,
		Policy:    &m,
		Timestamp: now,
	})
	s.metrics.RecordRegistration(m.Precedence.String(), string(m.Status))
	s.reportActivePolicies()

	return hash, nil
}

// rebuildWith returns a new snapshot with id set to entry, rebuilding
// the precedence index. Scope indexing is done at read time per
// spec §5 ("scope-index rebuild on write is acceptable given low
// write rate" — we fold that into a read-time filter instead, which
// is simpler and equally correct given the registry's low write rate).
func (s *RegistryService) rebuildWith(cur *registrySnapshot, id string, entry *policy.RegistryEntry) *registrySnapshot {
	byID := make(map[string]*policy.RegistryEntry, len(cur.byID)+1)
	for k, v := range cur.byID {
		byID[k] = v
	}
	byID[id] = entry

	byPrecedence := make(map[policy.PrecedenceClass][]*policy.RegistryEntry)
	for _, e := range byID {
		byPrecedence[e.Manifest.Precedence] = append(byPrecedence[e.Manifest.Precedence], e)
	}

	return &registrySnapshot{byID: byID, byPrecedence: byPrecedence}
}

// invalidateCache clears the decision cache synchronously. Must be
// called with mu held, after the snapshot swap and before publish, so
// no reader can observe the new registry state while serving a
// pre-mutation cached decision.
func (s *RegistryService) invalidateCache() {
	if s.cache != nil {
		s.cache.InvalidateAll()
	}
}

// reportActivePolicies sets the policies_active gauge for every
// precedence class from the current snapshot, called after every
// mutation so the gauge never drifts from the registry it describes.
func (s *RegistryService) reportActivePolicies() {
	counts := s.CountByPrecedence(context.Background())
	for _, p := range []policy.PrecedenceClass{policy.Internal, policy.Industry, policy.Legal} {
		s.metrics.SetActivePolicies(p.String(), counts[p])
	}
}

func (s *RegistryService) publish(ctx context.Context, evt changeevent.Event) {
	if s.publisher == nil {
		return
	}
	// EmissionError: event emission failures are caught, logged, and
	// never fail the caller. Publish itself is fire-and-forget from
	// the change stream's perspective (see ChangeStreamService).
	s.publisher.Publish(ctx, evt)
}

// GetByID returns the entry for id, or ErrNotFound.
func (s *RegistryService) GetByID(ctx context.Context, id string) (policy.RegistryEntry, error) {
	cur := s.load()
	e, ok := cur.byID[id]
	if !ok {
		return policy.RegistryEntry{}, &policy.NotFoundError{Kind: "policy", ID: id}
	}
	return *e, nil
}

// ListActive returns every entry with status=active whose
// effective/expiration window contains now.
func (s *RegistryService) ListActive(ctx context.Context) ([]policy.RegistryEntry, error) {
	cur := s.load()
	now := time.Now()
	var out []policy.RegistryEntry
	for _, e := range cur.byID {
		if e.Manifest.IsEffective(now) {
			out = append(out, *e)
		}
	}
	return out, nil
}

// ListByPrecedence returns the subset of ListActive at precedence p.
func (s *RegistryService) ListByPrecedence(ctx context.Context, p policy.PrecedenceClass) ([]policy.RegistryEntry, error) {
	cur := s.load()
	now := time.Now()
	var out []policy.RegistryEntry
	for _, e := range cur.byPrecedence[p] {
		if e.Manifest.IsEffective(now) {
			out = append(out, *e)
		}
	}
	return out, nil
}

// ListByScope returns the subset of ListActive whose scope matches req.
func (s *RegistryService) ListByScope(ctx context.Context, req policy.EvaluationRequest) ([]policy.RegistryEntry, error) {
	active, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var out []policy.RegistryEntry
	for _, e := range active {
		if policy.MatchesScope(e.Manifest.Scope, req) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Disable sets status=disabled, clears the decision cache, and only
// then publishes a disabled event on the change stream
// (invalidate-before-publish, see setStatus).
func (s *RegistryService) Disable(ctx context.Context, id, reason string) error {
	return s.setStatus(ctx, id, policy.StatusDisabled, reason, changeevent.TypeDisabled)
}

// Enable sets status=active.
func (s *RegistryService) Enable(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, policy.StatusActive, "", changeevent.TypeEnabled)
}

func (s *RegistryService) setStatus(ctx context.Context, id string, status policy.Status, reason string, evtType changeevent.Type) error {
	s.mu.Lock()
	cur := s.load()
	existing, ok := cur.byID[id]
	if !ok {
		s.mu.Unlock()
		return &policy.NotFoundError{Kind: "policy", ID: id}
	}

	updated := existing.Manifest.Clone()
	updated.Status = status
	entry := &policy.RegistryEntry{
		Manifest:     updated,
		ManifestHash: existing.ManifestHash,
		RegisteredAt: existing.RegisteredAt,
		UpdatedAt:    time.Now().UnixNano(),
	}
	next := s.rebuildWith(cur, id, entry)
	s.snapshot.Store(next)
	s.invalidateCache()
	s.mu.Unlock()

	s.publish(ctx, changeevent.Event{
		Type:      evtType,
		PolicyID:  id,
		Policy:    &updated,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"reason": reason},
	})
	s.reportActivePolicies()
	return nil
}

// Delete permanently removes a policy, invalidating the cache and
// publishing a deletion event internally so callers never need to
// replicate the invalidate-before-publish contract themselves.
func (s *RegistryService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	cur := s.load()
	existing, ok := cur.byID[id]
	if !ok {
		s.mu.Unlock()
		return &policy.NotFoundError{Kind: "policy", ID: id}
	}
	byID := make(map[string]*policy.RegistryEntry, len(cur.byID))
	for k, v := range cur.byID {
		if k != id {
			byID[k] = v
		}
	}
	byPrecedence := make(map[policy.PrecedenceClass][]*policy.RegistryEntry)
	for _, e := range byID {
		byPrecedence[e.Manifest.Precedence] = append(byPrecedence[e.Manifest.Precedence], e)
	}
	s.snapshot.Store(&registrySnapshot{byID: byID, byPrecedence: byPrecedence})
	s.invalidateCache()
	s.mu.Unlock()

	deletedManifest := existing.Manifest
	s.publish(ctx, changeevent.Event{
		Type:      changeevent.TypeDeleted,
		PolicyID:  id,
		Policy:    &deletedManifest,
		Timestamp: time.Now(),
	})
	s.reportActivePolicies()
	return nil
}

// CountByPrecedence returns a histogram of active policy counts.
func (s *RegistryService) CountByPrecedence(ctx context.Context) map[policy.PrecedenceClass]int {
	cur := s.load()
	now := time.Now()
	counts := make(map[policy.PrecedenceClass]int)
	for p, entries := range cur.byPrecedence {
		for _, e := range entries {
			if e.Manifest.IsEffective(now) {
				counts[p]++
			}
		}
	}
	return counts
}

// Clear performs a full reset. Test hook only.
func (s *RegistryService) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Store(&registrySnapshot{
		byID:         make(map[string]*policy.RegistryEntry),
		byPrecedence: make(map[policy.PrecedenceClass][]*policy.RegistryEntry),
	})
}

// Compile-time interface verification.
var _ policy.Registry = (*RegistryService)(nil)
