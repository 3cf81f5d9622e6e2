package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SponsoredAccount mirrors one row of sponsored_accounts, spec.md §3.
type SponsoredAccount struct {
	AccountPubkey      string
	CreationSignature  string
	Slot               int64
	OperatorPubkey     string
	DiscoveredAt       time.Time
	LifecycleState     LifecycleState
	Lamports           *int64
	DataLen            *int64
	OwnerProgram       *string
	LastLifecycleCheck *time.Time
	ProcessingLock     *string
}

const acctColumns = `account_pubkey, creation_signature, slot, operator_pubkey, discovered_at,
	lifecycle_state, lamports, data_len, owner_program, last_lifecycle_check, processing_lock`

func scanAccount(scan func(...interface{}) error) (SponsoredAccount, error) {
	var a SponsoredAccount
	var state string
	var lamports, dataLen sql.NullInt64
	var owner, lock sql.NullString
	var lastCheck sql.NullTime
	err := scan(&a.AccountPubkey, &a.CreationSignature, &a.Slot, &a.OperatorPubkey, &a.DiscoveredAt,
		&state, &lamports, &dataLen, &owner, &lastCheck, &lock)
	if err != nil {
		return SponsoredAccount{}, err
	}
	a.LifecycleState = LifecycleState(state)
	if lamports.Valid {
		v := lamports.Int64
		a.Lamports = &v
	}
	if dataLen.Valid {
		v := dataLen.Int64
		a.DataLen = &v
	}
	if owner.Valid {
		v := owner.String
		a.OwnerProgram = &v
	}
	if lastCheck.Valid {
		v := lastCheck.Time
		a.LastLifecycleCheck = &v
	}
	if lock.Valid {
		v := lock.String
		a.ProcessingLock = &v
	}
	return a, nil
}

// InsertSponsoredAccount discovers a new account, per spec.md §4.3:
// "INSERT ... ON CONFLICT(account_pubkey) DO NOTHING". Returns whether the
// row was newly inserted (false means re-discovery, a no-op).
func (s *Store) InsertSponsoredAccount(ctx context.Context, pubkey, creationSig string, slot int64, operator string) (bool, error) {
	var inserted bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO sponsored_accounts (account_pubkey, creation_signature, slot, operator_pubkey, lifecycle_state)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(account_pubkey) DO NOTHING;
		`, pubkey, creationSig, slot, operator, string(StateDiscovered))
		if err != nil {
			return fmt.Errorf("ledger: insert sponsored account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("ledger: insert rows affected: %w", err)
		}
		inserted = n == 1
		return nil
	})
	return inserted, err
}

// GetSponsoredAccount fetches one account row. Returns sql.ErrNoRows if absent.
func (s *Store) GetSponsoredAccount(ctx context.Context, pubkey string) (SponsoredAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+acctColumns+` FROM sponsored_accounts WHERE account_pubkey = ?;`, pubkey)
	return scanAccount(row.Scan)
}

// ListAllSponsoredAccounts scans every account, ordered by account_pubkey
// ascending, per spec.md §4.4 step 1 ("scanning all, not just non-terminal,
// so re-initializations are detected").
func (s *Store) ListAllSponsoredAccounts(ctx context.Context) ([]SponsoredAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+acctColumns+` FROM sponsored_accounts ORDER BY account_pubkey ASC;`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list sponsored accounts: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func collectAccounts(rows *sql.Rows) ([]SponsoredAccount, error) {
	var out []SponsoredAccount
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan sponsored account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: sponsored account rows: %w", err)
	}
	return out, nil
}

// UpdateLifecycleObservation persists Lifecycle Engine's on-chain snapshot
// (lamports, data_len, owner_program, last_lifecycle_check) unconditionally,
// per spec.md §4.4 step 3 ("Always persist observed..."). It does not write
// a LifecycleEvent; callers append one only when the label changed.
func (s *Store) UpdateLifecycleObservation(ctx context.Context, pubkey string, lamports, dataLen int64, owner string, checkedAt time.Time) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE sponsored_accounts
			SET lamports = ?, data_len = ?, owner_program = ?, last_lifecycle_check = ?
			WHERE account_pubkey = ?;
		`, lamports, dataLen, owner, checkedAt, pubkey)
		if err != nil {
			return fmt.Errorf("ledger: update lifecycle observation: %w", err)
		}
		return nil
	})
}

// TransitionResult carries the outcome of a compare-and-swap state
// transition plus the event id it produced, for callers that need to
// cross-reference evidence later.
type TransitionResult struct {
	Applied bool
	EventID int64
}

// TransitionState atomically moves pubkey's lifecycle_state from one of
// fromStates to toState and appends exactly one matching LifecycleEvent, in
// a single ledger transaction, per spec.md §3's invariant: "Every state
// transition... must produce exactly one LifecycleEvent with matching
// old_state/new_state." If the row's current state is not in fromStates,
// Applied is false and nothing is written (another worker already moved it,
// or the precondition no longer holds).
//
// If clearLock is true, processing_lock is cleared as part of the same
// transaction, per spec.md §3: "processing_lock... is cleared when that row
// leaves RECLAIMABLE by any path."
func (s *Store) TransitionState(ctx context.Context, pubkey string, fromStates []LifecycleState, toState LifecycleState, reason string, evidence []byte, clearLock bool) (TransitionResult, error) {
	var result TransitionResult
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("ledger: begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var currentState string
		if err := tx.QueryRowContext(ctx, `SELECT lifecycle_state FROM sponsored_accounts WHERE account_pubkey = ?;`, pubkey).Scan(&currentState); err != nil {
			if err == sql.ErrNoRows {
				result = TransitionResult{}
				return nil
			}
			return fmt.Errorf("ledger: read current state: %w", err)
		}

		if !containsState(fromStates, LifecycleState(currentState)) {
			result = TransitionResult{}
			return nil
		}

		query := `UPDATE sponsored_accounts SET lifecycle_state = ?`
		args := []interface{}{string(toState)}
		if clearLock {
			query += `, processing_lock = NULL`
		}
		query += ` WHERE account_pubkey = ? AND lifecycle_state = ?;`
		args = append(args, pubkey, currentState)

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("ledger: apply transition: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("ledger: transition rows affected: %w", err)
		}
		if n != 1 {
			result = TransitionResult{}
			return nil
		}

		eventID, err := appendLifecycleEventTx(ctx, tx, pubkey, LifecycleState(currentState), toState, reason, evidence)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("ledger: commit transition tx: %w", err)
		}
		result = TransitionResult{Applied: true, EventID: eventID}
		return nil
	})
	return result, err
}

func containsState(states []LifecycleState, want LifecycleState) bool {
	for _, s := range states {
		if s == want {
			return true
		}
	}
	return false
}

// FetchAndLock implements the Reclaimer's Fetch-and-Lock sub-stage,
// spec.md §4.6: in a single ledger transaction, select up to batchSize
// RECLAIMABLE, unlocked rows and stamp processing_lock with workerID. This
// is the same shape as the teacher's ClaimNextPendingTask, generalized from
// "claim one task" to "claim up to N rows."
func (s *Store) FetchAndLock(ctx context.Context, workerID string, batchSize int) ([]SponsoredAccount, error) {
	var locked []SponsoredAccount
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("ledger: begin fetch-and-lock tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT `+acctColumns+`
			FROM sponsored_accounts
			WHERE lifecycle_state = ? AND (processing_lock IS NULL OR processing_lock = '')
			ORDER BY account_pubkey ASC
			LIMIT ?;
		`, string(StateReclaimable), batchSize)
		if err != nil {
			return fmt.Errorf("ledger: select reclaimable: %w", err)
		}
		candidates, err := collectAccounts(rows)
		rows.Close()
		if err != nil {
			return err
		}

		for _, a := range candidates {
			res, err := tx.ExecContext(ctx, `
				UPDATE sponsored_accounts
				SET processing_lock = ?
				WHERE account_pubkey = ? AND lifecycle_state = ? AND (processing_lock IS NULL OR processing_lock = '');
			`, workerID, a.AccountPubkey, string(StateReclaimable))
			if err != nil {
				return fmt.Errorf("ledger: lock account: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("ledger: lock rows affected: %w", err)
			}
			if n == 1 {
				a.ProcessingLock = &workerID
				locked = append(locked, a)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("ledger: commit fetch-and-lock tx: %w", err)
		}
		return nil
	})
	return locked, err
}

// UnlockStaleLocks clears processing_lock on any RECLAIMABLE row whose lock
// predates olderThan, per spec.md §4.6's crash-safety note: "a crash leaves
// locked rows with a stale worker id; manual unlock or a later sweep clears
// them." There is no per-row timestamp for when a lock was taken, so this
// sweep is driven by the caller passing a conservative staleness window
// against the row's last_lifecycle_check (set on the most recent Lifecycle
// run, a reasonable proxy for "has not moved recently").
func (s *Store) UnlockStaleLocks(ctx context.Context, olderThan time.Time) (int64, error) {
	var count int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE sponsored_accounts
			SET processing_lock = NULL
			WHERE lifecycle_state = ? AND processing_lock IS NOT NULL
			  AND (last_lifecycle_check IS NULL OR last_lifecycle_check <= ?);
		`, string(StateReclaimable), olderThan)
		if err != nil {
			return fmt.Errorf("ledger: unlock stale locks: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("ledger: unlock rows affected: %w", err)
		}
		count = n
		return nil
	})
	return count, err
}

// ReleaseLock clears processing_lock on a single RECLAIMABLE row still held
// by workerID, without changing lifecycle_state or writing a
// LifecycleEvent. Used by the Reclaimer's dry-run path, spec.md §4.6: "in
// dry-run, skip signing/submission and report the intended totals" — a
// dry run must still give up the Fetch-and-Lock claim it took, but since no
// chain submission occurred there is nothing to log as a state transition.
func (s *Store) ReleaseLock(ctx context.Context, pubkey, workerID string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE sponsored_accounts
			SET processing_lock = NULL
			WHERE account_pubkey = ? AND lifecycle_state = ? AND processing_lock = ?;
		`, pubkey, string(StateReclaimable), workerID)
		if err != nil {
			return fmt.Errorf("ledger: release lock: %w", err)
		}
		return nil
	})
}
