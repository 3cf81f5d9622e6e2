package ledger

import (
	"context"
	"fmt"
	"time"
)

// AuditEntry mirrors one row of audit_log, spec.md §3: "structured process
// log (informational only; not covered by the state hash)."
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	Level     string
	Component string
	Message   string
	Fields    []byte
}

// AppendAuditEntry writes one audit_log row. It is deliberately a plain
// single-statement insert, not wrapped in the same transaction as any
// lifecycle_events write: the invariant that matters here is "never covered
// by the state hash," not "atomic with a transition."
func (s *Store) AppendAuditEntry(ctx context.Context, level, component, message string, fields []byte) error {
	if fields == nil {
		fields = []byte("{}")
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_log (level, component, message, fields) VALUES (?, ?, ?, ?);
		`, level, component, message, string(fields))
		if err != nil {
			return fmt.Errorf("ledger: append audit entry: %w", err)
		}
		return nil
	})
}

// ListAuditEntries returns audit_log rows ordered oldest first, optionally
// filtered to entries at or after since.
func (s *Store) ListAuditEntries(ctx context.Context, since time.Time) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, level, component, message, fields
		FROM audit_log
		WHERE timestamp >= ?
		ORDER BY id ASC;
	`, since)
	if err != nil {
		return nil, fmt.Errorf("ledger: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var fields string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Component, &e.Message, &fields); err != nil {
			return nil, fmt.Errorf("ledger: scan audit entry: %w", err)
		}
		e.Fields = []byte(fields)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: audit entry rows: %w", err)
	}
	return out, nil
}
