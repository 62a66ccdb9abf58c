package policy

import "context"

// RegistryEntry is the stored record for a registered policy:
// manifest, its canonical hash, and lifecycle timestamps.
type RegistryEntry struct {
	Manifest     Manifest
	ManifestHash string
	RegisteredAt int64 // unix nanos; set by the registry, not the caller
	UpdatedAt    int64
	LastError    string
}

// Registry is the indexed store of policies by id, precedence, and
// scope axes, with lifecycle and effectivity gating. Implementations
// must be safe for concurrent use: mutations are infrequent and
// serialized per-id; reads are lock-free snapshot reads.
type Registry interface {
	// Register validates and stores a manifest, returning its
	// canonical hash. Re-registering an existing id performs an
	// upsert that preserves RegisteredAt.
	Register(ctx context.Context, m Manifest) (hash string, err error)

	// GetByID returns the entry for id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (RegistryEntry, error)

	// ListActive returns every entry with Status=active whose
	// effective/expiration window contains now.
	ListActive(ctx context.Context) ([]RegistryEntry, error)

	// ListByPrecedence returns the subset of ListActive at precedence p.
	ListByPrecedence(ctx context.Context, p PrecedenceClass) ([]RegistryEntry, error)

	// ListByScope returns the subset of ListActive whose scope
	// matches req per MatchesScope.
	ListByScope(ctx context.Context, req EvaluationRequest) ([]RegistryEntry, error)

	// Disable sets status=disabled and invalidates caches.
	Disable(ctx context.Context, id, reason string) error

	// Enable sets status=active.
	Enable(ctx context.Context, id string) error

	// Delete permanently removes a policy. Only the update
	// orchestrator calls this, after invalidating caches and before
	// broadcasting a deleted event.
	Delete(ctx context.Context, id string) error

	// CountByPrecedence returns a histogram of active policy counts.
	CountByPrecedence(ctx context.Context) map[PrecedenceClass]int

	// Clear performs a full reset. Test hook only.
	Clear(ctx context.Context)
}

// Engine is the Policy Decision Point's public surface.
type Engine interface {
	// Evaluate runs the full pipeline of spec §4.5 and returns a
	// decision that is a pure function of (request, registry snapshot
	// at evaluation time).
	Evaluate(ctx context.Context, req EvaluationRequest) (EvaluationResult, error)

	// IsAllowed is a convenience wrapper returning result.Allowed.
	IsAllowed(ctx context.Context, req EvaluationRequest) (bool, error)
}
