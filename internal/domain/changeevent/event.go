// Package changeevent contains the value types for the governance
// kernel's change propagation subsystem: lifecycle events and rollout
// state.
package changeevent

import (
	"time"

	"github.com/governed-io/governed/internal/domain/policy"
)

// Type enumerates the kinds of policy lifecycle events.
type Type string

const (
	TypeCreated  Type = "created"
	TypeUpdated  Type = "updated"
	TypeDeleted  Type = "deleted"
	TypeEnabled  Type = "enabled"
	TypeDisabled Type = "disabled"
)

// Topic returns the abstract transport event name for the type, per
// spec §6: "kernel.policy.{created|updated|deleted|enabled|disabled}".
func (t Type) Topic() string { return "kernel.policy." + string(t) }

// Event is a lifecycle notification emitted on every registry mutation.
type Event struct {
	Type            Type
	PolicyID        string
	Policy          *policy.Manifest
	PreviousVersion string
	NewVersion      string
	Timestamp       time.Time
	SourceNodeID    string
	Metadata        map[string]string
}

// Strategy is a rollout strategy. Only StrategyImmediate has fully
// specified per-phase semantics (spec §4.8); the others are reserved
// placeholders per the spec's open questions.
type Strategy string

const (
	StrategyImmediate Strategy = "immediate"
	StrategyCanary    Strategy = "canary"
	StrategyScheduled Strategy = "scheduled"
	StrategyManual    Strategy = "manual"
)

// RolloutStatus is the current phase of a rollout state machine.
type RolloutStatus string

const (
	RolloutPending     RolloutStatus = "pending"
	RolloutInProgress  RolloutStatus = "inProgress"
	RolloutCompleted   RolloutStatus = "completed"
	RolloutFailed      RolloutStatus = "failed"
	RolloutRolledBack  RolloutStatus = "rolledBack"
)

// Progress tracks how many subscribers have been updated so far.
type Progress struct {
	Total   int
	Updated int
	Failed  int
}

// Rollout is an immutable snapshot of a policy rollout in flight.
// Transitions produce new values rather than mutating shared state
// (Design Note §9: "Global mutable state for rollouts").
type Rollout struct {
	PolicyID string
	Strategy Strategy
	Progress Progress
	Status   RolloutStatus
}

// WithStatus returns a copy of the rollout with a new status.
func (r Rollout) WithStatus(s RolloutStatus) Rollout {
	out := r
	out.Status = s
	return out
}

// WithProgress returns a copy of the rollout with new progress counters.
func (r Rollout) WithProgress(p Progress) Rollout {
	out := r
	out.Progress = p
	return out
}
