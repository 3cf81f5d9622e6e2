package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LifecycleEvent mirrors one row of lifecycle_events, spec.md §3. Id
// ordering is the authoritative serial order of observed facts.
type LifecycleEvent struct {
	ID              int64
	AccountPubkey   string
	OldState        LifecycleState
	NewState        LifecycleState
	TriggerReason   string
	EvidencePayload []byte
	Timestamp       time.Time
}

func appendLifecycleEventTx(ctx context.Context, tx *sql.Tx, pubkey string, oldState, newState LifecycleState, reason string, evidence []byte) (int64, error) {
	if evidence == nil {
		evidence = []byte("{}")
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO lifecycle_events (account_pubkey, old_state, new_state, trigger_reason, evidence_payload)
		VALUES (?, ?, ?, ?, ?);
	`, pubkey, string(oldState), string(newState), reason, string(evidence))
	if err != nil {
		return 0, fmt.Errorf("ledger: append lifecycle event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger: lifecycle event id: %w", err)
	}
	return id, nil
}

// ListEventsForAccount returns every event for pubkey, oldest first.
func (s *Store) ListEventsForAccount(ctx context.Context, pubkey string) ([]LifecycleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_pubkey, COALESCE(old_state, ''), new_state, trigger_reason, evidence_payload, timestamp
		FROM lifecycle_events
		WHERE account_pubkey = ?
		ORDER BY id ASC;
	`, pubkey)
	if err != nil {
		return nil, fmt.Errorf("ledger: list events for account: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListAllEvents returns every lifecycle event, ordered by id ascending.
func (s *Store) ListAllEvents(ctx context.Context) ([]LifecycleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_pubkey, COALESCE(old_state, ''), new_state, trigger_reason, evidence_payload, timestamp
		FROM lifecycle_events
		ORDER BY id ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list all events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// MostRecentEventByNewState returns the most recent event for pubkey whose
// new_state equals state, used by the Attestation Service to extract the
// RECLAIMED amount/signature or FAILED reason, spec.md §4.7(b).
func (s *Store) MostRecentEventByNewState(ctx context.Context, pubkey string, state LifecycleState) (LifecycleEvent, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_pubkey, COALESCE(old_state, ''), new_state, trigger_reason, evidence_payload, timestamp
		FROM lifecycle_events
		WHERE account_pubkey = ? AND new_state = ?
		ORDER BY id DESC
		LIMIT 1;
	`, pubkey, string(state))
	ev, err := scanEvent(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return LifecycleEvent{}, false, nil
		}
		return LifecycleEvent{}, false, fmt.Errorf("ledger: most recent event: %w", err)
	}
	return ev, true, nil
}

func scanEvent(scan func(...interface{}) error) (LifecycleEvent, error) {
	var e LifecycleEvent
	var oldState, evidence string
	var newState string
	err := scan(&e.ID, &e.AccountPubkey, &oldState, &newState, &e.TriggerReason, &evidence, &e.Timestamp)
	if err != nil {
		return LifecycleEvent{}, err
	}
	e.OldState = LifecycleState(oldState)
	e.NewState = LifecycleState(newState)
	e.EvidencePayload = []byte(evidence)
	return e, nil
}

func collectEvents(rows *sql.Rows) ([]LifecycleEvent, error) {
	var out []LifecycleEvent
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: event rows: %w", err)
	}
	return out, nil
}
