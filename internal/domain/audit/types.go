// Package audit contains domain types for the governance kernel's
// audit trail: evaluation records and policy-lifecycle compliance
// records.
package audit

import (
	"strings"
	"time"
)

// Decision constants for audit records.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// EventType constants for compliance audit records, scoped to policy
// lifecycle and governance events (tenant/identity/user-lifecycle
// event types are a separate, unrelated subsystem and are not modeled
// here).
const (
	EventTypePolicyCreated        = "config.policy_create"
	EventTypePolicyUpdated        = "config.policy_update"
	EventTypePolicyDeleted        = "config.policy_delete"
	EventTypePolicyEnabled        = "config.policy_enable"
	EventTypePolicyDisabled       = "config.policy_disable"
	EventTypeEvaluationViolated   = "governance.violation"
	EventTypeConflictResolved     = "governance.conflict_resolved"
)

// ActorType constants identify who performed a registry mutation.
const (
	ActorTypeAdmin  = "admin"
	ActorTypeSystem = "system"
)

// ComplianceAuditRecord captures a policy-lifecycle or governance
// event for SOC2-style compliance reporting. Separate from
// AuditRecord, which tracks individual evaluations.
type ComplianceAuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id,omitempty"`
	EventType string    `json:"event_type"`
	RequestID string    `json:"request_id,omitempty"`

	ActorID   string `json:"actor_id"`
	ActorType string `json:"actor_type"`

	TargetID   string `json:"target_id,omitempty"`
	TargetType string `json:"target_type,omitempty"`
	TargetName string `json:"target_name,omitempty"`

	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// sensitiveKeywords lists substrings that indicate a sensitive context key.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitiveArgs returns a copy of args with sensitive values
// masked. A key is sensitive if it contains any of sensitiveKeywords
// (case-insensitive). Values are replaced with "***REDACTED***".
func RedactSensitiveArgs(args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]interface{}, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// AuditRecord represents a single auditable evaluation.
type AuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Roles     []string  `json:"roles,omitempty"`

	Action    string                 `json:"action"`
	Orchestra string                 `json:"orchestra,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`

	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	PolicyID string `json:"policy_id,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`

	Conflict bool `json:"conflict"`

	RequestID     string `json:"request_id"`
	LatencyMicros int64  `json:"latency_micros"`
}
