package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// DiscoveryCursorKey is the single system_kv key the Indexer uses to
// remember the newest signature seen on a prior completed run, spec.md §3.
const DiscoveryCursorKey = "discovery_cursor_last_signature"

// GetKV reads a system_kv value. ok is false if the key has never been set.
func (s *Store) GetKV(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM system_kv WHERE key = ?;`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger: get kv %s: %w", key, err)
	}
	return value, true, nil
}

// SetKV upserts a system_kv value.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO system_kv (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value;
		`, key, value)
		if err != nil {
			return fmt.Errorf("ledger: set kv %s: %w", key, err)
		}
		return nil
	})
}
