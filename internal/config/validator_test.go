package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid KernelConfig for testing.
func minimalValidConfig() *KernelConfig {
	return &KernelConfig{
		Audit: AuditConfig{Output: "stdout"},
		Policies: []PolicySeed{
			{
				ID:         "default",
				Name:       "Default",
				Version:    "1.0.0",
				Precedence: "internal",
				Rules: []PolicyRuleSeed{
					{ID: "allow-all", Effect: "allow"},
				},
			},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidAuditOutput(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "invalid"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Audit.Output") {
		t.Errorf("error = %q, want to contain 'Audit.Output'", err.Error())
	}
}

func TestValidate_ValidAuditOutputStdout(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "stdout"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with stdout unexpected error: %v", err)
	}
}

func TestValidate_ValidAuditOutputMemory(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "memory"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with memory unexpected error: %v", err)
	}
}

func TestValidate_ValidAuditOutputFile(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "file:///var/log/audit.log"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with file:// unexpected error: %v", err)
	}
}

func TestValidate_InvalidAuditOutputRelativePath(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "file://relative/path"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for relative path, got nil")
	}
	if !strings.Contains(err.Error(), "Audit.Output") {
		t.Errorf("error = %q, want to contain 'Audit.Output'", err.Error())
	}
}

func TestValidate_EmptyPolicies(t *testing.T) {
	t.Parallel()

	// Empty policies is valid: the registry simply starts empty.
	cfg := minimalValidConfig()
	cfg.Policies = nil
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with empty policies (after defaults) unexpected error: %v", err)
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	t.Parallel()

	cfg := &KernelConfig{}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero-config unexpected error: %v", err)
	}
	if len(cfg.Policies) != 0 {
		t.Errorf("expected empty policies, got %d policies", len(cfg.Policies))
	}
	if cfg.Audit.Output != "stdout" {
		t.Errorf("default audit output = %q, want 'stdout'", cfg.Audit.Output)
	}
}

func TestValidate_InvalidEffect(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Policies[0].Rules[0].Effect = "approval_required"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid effect, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "Effect") || !strings.Contains(errStr, "allow deny") {
		t.Errorf("error = %q, want to contain 'Effect' and 'allow deny'", errStr)
	}
}

func TestValidate_InvalidPrecedence(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Policies[0].Precedence = "unknown"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid precedence, got nil")
	}
}

func TestValidate_EmptyRules(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Policies[0].Rules = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty rules, got nil")
	}
}

func TestValidate_DuplicateSeedIDs(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Policies = append(cfg.Policies, cfg.Policies[0])

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for duplicate seed id, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate seed id") {
		t.Errorf("error = %q, want to contain 'duplicate seed id'", err.Error())
	}
}

func TestValidate_InvalidConditionOperator(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Policies[0].Rules[0].Conditions = []PolicyConditionSeed{
		{Field: "action", Operator: "matches", Value: "x"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid condition operator, got nil")
	}
}
