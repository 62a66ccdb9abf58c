// Package sqlite provides a modernc.org/sqlite-backed implementation
// of audit.ComplianceAuditStore, persisting policy-lifecycle events
// for durable compliance queries across process restarts. Grounded on
// the shape of the in-memory/file audit stores' Append/Query contract,
// swapped onto a real embedded database for the event types that need
// to survive a restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/governed-io/governed/internal/domain/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS compliance_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	tenant_id TEXT,
	event_type TEXT NOT NULL,
	request_id TEXT,
	actor_id TEXT NOT NULL,
	actor_type TEXT NOT NULL,
	target_id TEXT,
	target_type TEXT,
	target_name TEXT,
	old_value TEXT,
	new_value TEXT,
	reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_compliance_events_timestamp ON compliance_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_compliance_events_type ON compliance_events(event_type);
`

// EventStore implements audit.ComplianceAuditStore on top of a single
// sqlite file opened in WAL-friendly rwc mode.
type EventStore struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite database at path and ensures the
// schema exists.
func Open(path string) (*EventStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite event store: %w", err)
	}
	// modernc.org/sqlite's driver is not safe for concurrent writers
	// across connections; cap the pool to one connection so every
	// write serializes through the same sqlite handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating event store schema: %w", err)
	}
	return &EventStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// Append inserts one row per record in a single transaction.
func (s *EventStore) Append(ctx context.Context, records ...audit.ComplianceAuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO compliance_events
			(timestamp, tenant_id, event_type, request_id, actor_id, actor_type, target_id, target_type, target_name, old_value, new_value, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Timestamp.UnixNano(), r.TenantID, r.EventType, r.RequestID,
			r.ActorID, r.ActorType, r.TargetID, r.TargetType, r.TargetName,
			r.OldValue, r.NewValue, r.Reason,
		); err != nil {
			return fmt.Errorf("inserting compliance event: %w", err)
		}
	}
	return tx.Commit()
}

// Query returns events matching filter, newest first, bounded by
// filter.Limit (default and max 500). The returned cursor is always
// empty; pagination beyond Limit is not implemented since the kernel's
// retention window keeps the table small.
func (s *EventStore) Query(ctx context.Context, filter audit.ComplianceAuditFilter) ([]audit.ComplianceAuditRecord, string, error) {
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Sub(filter.StartTime) > 7*24*time.Hour {
		return nil, "", audit.ErrDateRangeExceeded
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	query := `SELECT timestamp, tenant_id, event_type, request_id, actor_id, actor_type, target_id, target_type, target_name, old_value, new_value, reason FROM compliance_events WHERE 1=1`
	var args []interface{}
	if !filter.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime.UnixNano())
	}
	if !filter.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime.UnixNano())
	}
	if filter.ActorID != "" {
		query += " AND actor_id = ?"
		args = append(args, filter.ActorID)
	}
	if filter.TargetID != "" {
		query += " AND target_id = ?"
		args = append(args, filter.TargetID)
	}
	if len(filter.EventTypes) > 0 {
		query += " AND event_type IN (" + placeholders(len(filter.EventTypes)) + ")"
		for _, t := range filter.EventTypes {
			args = append(args, t)
		}
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("querying compliance events: %w", err)
	}
	defer rows.Close()

	var out []audit.ComplianceAuditRecord
	for rows.Next() {
		var r audit.ComplianceAuditRecord
		var ts int64
		if err := rows.Scan(&ts, &r.TenantID, &r.EventType, &r.RequestID, &r.ActorID, &r.ActorType, &r.TargetID, &r.TargetType, &r.TargetName, &r.OldValue, &r.NewValue, &r.Reason); err != nil {
			return nil, "", fmt.Errorf("scanning compliance event: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, "", rows.Err()
}

// QueryStats aggregates event counts between start and end.
func (s *EventStore) QueryStats(ctx context.Context, start, end time.Time) (*audit.ComplianceStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM compliance_events
		WHERE (? = 0 OR timestamp >= ?) AND (? = 0 OR timestamp <= ?)
		GROUP BY event_type
	`, boolToInt(!start.IsZero()), start.UnixNano(), boolToInt(!end.IsZero()), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("querying compliance stats: %w", err)
	}
	defer rows.Close()

	stats := &audit.ComplianceStats{EventsByType: make(map[string]int64)}
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scanning compliance stats: %w", err)
		}
		stats.EventsByType[eventType] = count
		stats.TotalEvents += count
		switch eventType {
		case audit.EventTypePolicyCreated, audit.EventTypePolicyUpdated, audit.EventTypePolicyDeleted,
			audit.EventTypePolicyEnabled, audit.EventTypePolicyDisabled:
			stats.ConfigChanges += count
		case audit.EventTypeEvaluationViolated:
			stats.PolicyDenials += count
		}
	}
	return stats, rows.Err()
}

// PurgeOlderThan deletes every event with a timestamp before the given
// time, returning the number of rows removed.
func (s *EventStore) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM compliance_events WHERE timestamp < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging compliance events: %w", err)
	}
	return res.RowsAffected()
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalValue is a helper for callers that want to store structured
// old/new values as JSON strings in OldValue/NewValue.
func marshalValue(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// RecordFromChangeEvent converts a change-stream event into the
// compliance record shape this store persists, serializing the
// manifest via marshalValue into NewValue so the row captures the
// full policy state at the time of the mutation.
func RecordFromChangeEvent(eventType, policyID, policyName string, manifest interface{}, ts time.Time) audit.ComplianceAuditRecord {
	return audit.ComplianceAuditRecord{
		Timestamp:  ts,
		EventType:  eventType,
		ActorID:    "system",
		ActorType:  audit.ActorTypeSystem,
		TargetID:   policyID,
		TargetType: "policy",
		TargetName: policyName,
		NewValue:   marshalValue(manifest),
	}
}

var _ audit.ComplianceAuditStore = (*EventStore)(nil)
