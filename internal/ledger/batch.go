package ledger

import (
	"context"
	"fmt"
)

// AccountOutcome is one account's disposition within a reclaim batch.
type AccountOutcome struct {
	AccountPubkey string
	FromState     LifecycleState
	Reason        string
	Evidence      []byte
}

// ReportBatchSuccess implements the Reclaimer's Report sub-stage on
// confirmation success, spec.md §4.6: "for every account in the batch,
// atomically (single ledger transaction) set lifecycle_state = RECLAIMED,
// lamports = 0, clear processing_lock, and append one LifecycleEvent per
// account."
func (s *Store) ReportBatchSuccess(ctx context.Context, outcomes []AccountOutcome) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("ledger: begin report-success tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, o := range outcomes {
			res, err := tx.ExecContext(ctx, `
				UPDATE sponsored_accounts
				SET lifecycle_state = ?, lamports = 0, processing_lock = NULL
				WHERE account_pubkey = ? AND lifecycle_state = ?;
			`, string(StateReclaimed), o.AccountPubkey, string(o.FromState))
			if err != nil {
				return fmt.Errorf("ledger: mark reclaimed: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("ledger: reclaimed rows affected: %w", err)
			}
			if n != 1 {
				return fmt.Errorf("ledger: account %s was not in expected state %s when reporting success", o.AccountPubkey, o.FromState)
			}
			if _, err := appendLifecycleEventTx(ctx, tx, o.AccountPubkey, o.FromState, StateReclaimed, o.Reason, o.Evidence); err != nil {
				return err
			}
		}

		return tx.Commit()
	})
}

// ReportBatchFailure implements the Reclaimer's Report sub-stage on a
// ChainSubmitFailure, spec.md §4.6: "every locked account in the batch is
// transitioned to FAILED, lock cleared, evidence records the error message."
func (s *Store) ReportBatchFailure(ctx context.Context, outcomes []AccountOutcome) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("ledger: begin report-failure tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, o := range outcomes {
			res, err := tx.ExecContext(ctx, `
				UPDATE sponsored_accounts
				SET lifecycle_state = ?, processing_lock = NULL
				WHERE account_pubkey = ? AND lifecycle_state = ?;
			`, string(StateFailed), o.AccountPubkey, string(o.FromState))
			if err != nil {
				return fmt.Errorf("ledger: mark failed: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("ledger: failed rows affected: %w", err)
			}
			if n != 1 {
				return fmt.Errorf("ledger: account %s was not in expected state %s when reporting failure", o.AccountPubkey, o.FromState)
			}
			if _, err := appendLifecycleEventTx(ctx, tx, o.AccountPubkey, o.FromState, StateFailed, o.Reason, o.Evidence); err != nil {
				return err
			}
		}

		return tx.Commit()
	})
}
