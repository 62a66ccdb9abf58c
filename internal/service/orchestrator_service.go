package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/governed-io/governed/internal/domain/changeevent"
	"github.com/governed-io/governed/internal/domain/policy"
)

// UpdateOrchestratorService is the write path for policy lifecycle
// changes (spec §4.8): it mutates the registry through Register/Delete/
// Enable/Disable and drives a rollout state machine on top. Cache
// invalidation and event publication happen inside RegistryService
// itself (invalidate-before-publish, see registry_service.go), so the
// orchestrator does not subscribe to the change stream at all — it only
// tracks rollout progress around the registry calls it makes.
type UpdateOrchestratorService struct {
	registry policy.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	rollouts map[string]changeevent.Rollout
}

// NewUpdateOrchestratorService wires the registry into the orchestrator.
func NewUpdateOrchestratorService(registry policy.Registry, logger *slog.Logger) *UpdateOrchestratorService {
	return &UpdateOrchestratorService{
		registry: registry,
		logger:   logger,
		rollouts: make(map[string]changeevent.Rollout),
	}
}

// CreatePolicy registers a new manifest under the immediate rollout
// strategy: the only strategy with fully specified per-phase semantics
// (spec §4.8). The canary/scheduled/manual strategy constants in
// changeevent have no rollout path here.
func (o *UpdateOrchestratorService) CreatePolicy(ctx context.Context, m policy.Manifest) (string, error) {
	return o.applyImmediate(ctx, m)
}

// UpdatePolicy is an alias for CreatePolicy: Register performs an
// upsert, so creating and updating share one rollout path.
func (o *UpdateOrchestratorService) UpdatePolicy(ctx context.Context, m policy.Manifest) (string, error) {
	return o.applyImmediate(ctx, m)
}

func (o *UpdateOrchestratorService) applyImmediate(ctx context.Context, m policy.Manifest) (string, error) {
	o.setRollout(changeevent.Rollout{
		PolicyID: m.ID,
		Strategy: changeevent.StrategyImmediate,
		Status:   changeevent.RolloutInProgress,
	})

	hash, err := o.registry.Register(ctx, m)
	if err != nil {
		o.transitionRollout(m.ID, changeevent.RolloutFailed, changeevent.Progress{Total: 1, Failed: 1})
		return "", err
	}

	o.transitionRollout(m.ID, changeevent.RolloutCompleted, changeevent.Progress{Total: 1, Updated: 1})
	return hash, nil
}

// DeletePolicy removes a policy. Registry.Delete invalidates the cache
// and publishes the deleted event itself, so there is nothing left for
// the orchestrator to do beyond forwarding the call.
func (o *UpdateOrchestratorService) DeletePolicy(ctx context.Context, id string) error {
	return o.registry.Delete(ctx, id)
}

// EnablePolicy re-activates a disabled policy.
func (o *UpdateOrchestratorService) EnablePolicy(ctx context.Context, id string) error {
	return o.registry.Enable(ctx, id)
}

// DisablePolicy deactivates a policy without deleting it.
func (o *UpdateOrchestratorService) DisablePolicy(ctx context.Context, id, reason string) error {
	return o.registry.Disable(ctx, id, reason)
}

// GetRollout returns the most recent rollout snapshot for a policy id.
func (o *UpdateOrchestratorService) GetRollout(id string) (changeevent.Rollout, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rollouts[id]
	return r, ok
}

func (o *UpdateOrchestratorService) setRollout(r changeevent.Rollout) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rollouts[r.PolicyID] = r
}

func (o *UpdateOrchestratorService) transitionRollout(id string, status changeevent.RolloutStatus, progress changeevent.Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rollouts[id]
	if !ok {
		r = changeevent.Rollout{PolicyID: id, Strategy: changeevent.StrategyImmediate}
	}
	o.rollouts[id] = r.WithStatus(status).WithProgress(progress)
}
