package audit

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for audit store operations.
var (
	ErrDateRangeExceeded = errors.New("date range exceeds maximum of 7 days")
)

// AuditStore persists audit records. Interface owned by domain per
// hexagonal architecture. Implementations handle batching and async
// writes; Append must be non-blocking from the caller's perspective.
type AuditStore interface {
	Append(ctx context.Context, records ...AuditRecord) error
	Flush(ctx context.Context) error
	Close() error
}

// AuditFilter specifies query parameters for evaluation audit queries.
type AuditFilter struct {
	StartTime time.Time
	EndTime   time.Time
	UserID    string
	TenantID  string
	Action    string
	Decision  string
	Orchestra string
	Limit     int
	Cursor    string
}

// ActionStats contains per-action audit statistics.
type ActionStats struct {
	Calls   int64
	Allowed int64
	Denied  int64
}

// AuditStats contains aggregated audit statistics for a time period.
type AuditStats struct {
	TotalCalls int64
	ByAction   map[string]ActionStats
	ByDecision map[string]int64
	Conflicts  int64
}

// AuditQueryStore provides read access to audit logs for admin queries.
type AuditQueryStore interface {
	// Query returns records, next cursor (empty if no more pages), and
	// error. Returns ErrDateRangeExceeded if EndTime - StartTime > 7 days.
	Query(ctx context.Context, filter AuditFilter) ([]AuditRecord, string, error)
	QueryStats(ctx context.Context, start, end time.Time) (*AuditStats, error)
}

// ComplianceAuditFilter specifies query parameters for compliance queries.
type ComplianceAuditFilter struct {
	StartTime  time.Time
	EndTime    time.Time
	EventTypes []string
	ActorID    string
	TargetID   string
	Limit      int
	Cursor     string
}

// ComplianceStats contains aggregated compliance statistics.
type ComplianceStats struct {
	TotalEvents   int64
	ConfigChanges int64
	PolicyDenials int64
	EventsByType  map[string]int64
}

// ComplianceAuditStore handles policy-lifecycle compliance records,
// separate from evaluation audit records.
type ComplianceAuditStore interface {
	Append(ctx context.Context, records ...ComplianceAuditRecord) error
	Query(ctx context.Context, filter ComplianceAuditFilter) ([]ComplianceAuditRecord, string, error)
	QueryStats(ctx context.Context, start, end time.Time) (*ComplianceStats, error)

	// PurgeOlderThan deletes compliance records older than before,
	// returning the number deleted. Used for retention management.
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
}
