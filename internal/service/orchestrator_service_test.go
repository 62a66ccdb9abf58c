package service

import (
	"context"
	"testing"

	"github.com/governed-io/governed/internal/domain/changeevent"
	"github.com/governed-io/governed/internal/domain/policy"
)

func TestOrchestrator_CreatePolicyCompletesImmediateRollout(t *testing.T) {
	t.Parallel()
	registry := NewRegistryService(discardLogger())
	o := NewUpdateOrchestratorService(registry, discardLogger())
	ctx := context.Background()

	m := policy.Manifest{
		ID: "p1", Name: "p1", Version: "1.0.0",
		Precedence: policy.Internal, Status: policy.StatusActive, EnforcementMode: policy.ModeEnforce,
		Rules: []policy.Rule{
			{ID: "r1", Effect: policy.EffectAllow, Conditions: []policy.Condition{
				{Field: "action", Operator: "eq", Value: "read"},
			}},
		},
	}
	if _, err := o.CreatePolicy(ctx, m); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}

	rollout, ok := o.GetRollout("p1")
	if !ok {
		t.Fatal("expected a rollout record for p1")
	}
	if rollout.Status != changeevent.RolloutCompleted {
		t.Errorf("rollout status = %v, want completed", rollout.Status)
	}
	if rollout.Strategy != changeevent.StrategyImmediate {
		t.Errorf("rollout strategy = %v, want immediate", rollout.Strategy)
	}
}

func TestOrchestrator_CreatePolicyFailsRolloutOnValidationError(t *testing.T) {
	t.Parallel()
	registry := NewRegistryService(discardLogger())
	o := NewUpdateOrchestratorService(registry, discardLogger())

	_, err := o.CreatePolicy(context.Background(), policy.Manifest{})
	if err == nil {
		t.Fatal("expected a validation error for an empty manifest")
	}

	rollout, ok := o.GetRollout("")
	if !ok {
		t.Fatal("expected a rollout record even for a failed registration")
	}
	if rollout.Status != changeevent.RolloutFailed {
		t.Errorf("rollout status = %v, want failed", rollout.Status)
	}
}

func TestOrchestrator_DisableAndEnableForwardToRegistry(t *testing.T) {
	t.Parallel()
	registry := NewRegistryService(discardLogger())
	o := NewUpdateOrchestratorService(registry, discardLogger())
	ctx := context.Background()

	m := policy.Manifest{
		ID: "p1", Name: "p1", Version: "1.0.0",
		Precedence: policy.Internal, Status: policy.StatusActive, EnforcementMode: policy.ModeEnforce,
		Rules: []policy.Rule{
			{ID: "r1", Effect: policy.EffectAllow, Conditions: []policy.Condition{
				{Field: "action", Operator: "eq", Value: "read"},
			}},
		},
	}
	if _, err := o.CreatePolicy(ctx, m); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}

	if err := o.DisablePolicy(ctx, "p1", "maintenance"); err != nil {
		t.Fatalf("DisablePolicy: %v", err)
	}
	entry, _ := registry.GetByID(ctx, "p1")
	if entry.Manifest.Status != policy.StatusDisabled {
		t.Errorf("status = %v, want disabled", entry.Manifest.Status)
	}

	if err := o.EnablePolicy(ctx, "p1"); err != nil {
		t.Fatalf("EnablePolicy: %v", err)
	}
	entry, _ = registry.GetByID(ctx, "p1")
	if entry.Manifest.Status != policy.StatusActive {
		t.Errorf("status = %v, want active", entry.Manifest.Status)
	}
}

func TestOrchestrator_DeletePolicyForwardsToRegistry(t *testing.T) {
	t.Parallel()
	registry := NewRegistryService(discardLogger())
	o := NewUpdateOrchestratorService(registry, discardLogger())
	ctx := context.Background()

	m := policy.Manifest{
		ID: "p1", Name: "p1", Version: "1.0.0",
		Precedence: policy.Internal, Status: policy.StatusActive, EnforcementMode: policy.ModeEnforce,
		Rules: []policy.Rule{
			{ID: "r1", Effect: policy.EffectAllow, Conditions: []policy.Condition{
				{Field: "action", Operator: "eq", Value: "read"},
			}},
		},
	}
	if _, err := o.CreatePolicy(ctx, m); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	if err := o.DeletePolicy(ctx, "p1"); err != nil {
		t.Fatalf("DeletePolicy: %v", err)
	}
	if _, err := registry.GetByID(ctx, "p1"); err == nil {
		t.Error("expected GetByID to fail after DeletePolicy")
	}
}
