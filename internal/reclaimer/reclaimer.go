// Package reclaimer implements the Reclaimer Pipeline of spec.md §4.6: the
// only component that submits transactions. Five sub-stages — Fetch-and-Lock,
// JIT Verification, Plan, Execute, Report — run in a loop until
// Fetch-and-Lock returns nothing left to claim.
package reclaimer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kora-labs/kora-rent/internal/audit"
	"github.com/kora-labs/kora-rent/internal/canonical"
	"github.com/kora-labs/kora-rent/internal/chain"
	"github.com/kora-labs/kora-rent/internal/ledger"
	"github.com/kora-labs/kora-rent/internal/shared"
)

// planBatchSize is the hard cap on accounts per submitted transaction,
// spec.md §4.6's Plan sub-stage: "at most 10 per submitted transaction."
const planBatchSize = 10

// defaultFetchBatchSize is the Fetch-and-Lock default, spec.md §4.6.
const defaultFetchBatchSize = 100

// Reclaimer drives one Fetch-and-Lock/JIT-verify/plan/execute/report loop.
type Reclaimer struct {
	Store         *ledger.Store
	Client        chain.Client
	Signer        chain.Signer
	Operator      string
	FetchBatchSize int
	DryRun        bool
	Logger        *slog.Logger
}

// New builds a Reclaimer. A zero FetchBatchSize defaults to 100. logger may
// be nil (slog.Default is used).
func New(store *ledger.Store, client chain.Client, signer chain.Signer, operator string, fetchBatchSize int, dryRun bool, logger *slog.Logger) *Reclaimer {
	if fetchBatchSize <= 0 {
		fetchBatchSize = defaultFetchBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclaimer{
		Store: store, Client: client, Signer: signer, Operator: operator,
		FetchBatchSize: fetchBatchSize, DryRun: dryRun, Logger: logger,
	}
}

// Result summarizes a full Run (every Fetch-and-Lock round until empty).
type Result struct {
	Rounds            int
	AccountsLocked    int
	AccountsInvalidated int // transitioned directly to SKIPPED/closed_zero during JIT verify
	AccountsReclaimed int
	AccountsFailed    int
	LamportsReclaimed uint64
}

// verifiedAccount is an account that passed JIT verification, carrying the
// on-chain lamports balance that will actually be transferred.
type verifiedAccount struct {
	Pubkey           string
	VerifiedLamports uint64
}

// Run loops Fetch-and-Lock until it returns no rows, per spec.md §4.6:
// "Loop terminates when Fetch-and-Lock returns empty."
func (r *Reclaimer) Run(ctx context.Context) (Result, error) {
	var result Result
	for {
		workerID := shared.NewWorkerID()
		locked, err := r.Store.FetchAndLock(ctx, workerID, r.FetchBatchSize)
		if err != nil {
			return result, fmt.Errorf("reclaimer: fetch and lock: %w", err)
		}
		if len(locked) == 0 {
			break
		}
		result.Rounds++
		result.AccountsLocked += len(locked)

		verified, invalidated, err := r.jitVerify(ctx, locked)
		if err != nil {
			return result, fmt.Errorf("reclaimer: jit verify: %w", err)
		}
		result.AccountsInvalidated += invalidated

		for seq, batch := range planBatches(verified) {
			batchID := newBatchID(seq)
			reclaimed, failed, lamports, err := r.executeAndReport(ctx, workerID, batchID, batch)
			if err != nil {
				return result, fmt.Errorf("reclaimer: execute batch: %w", err)
			}
			result.AccountsReclaimed += reclaimed
			result.AccountsFailed += failed
			result.LamportsReclaimed += lamports
		}
	}

	audit.Record("info", "reclaimer", "reclamation run complete", map[string]interface{}{
		"rounds":             result.Rounds,
		"accounts_locked":    result.AccountsLocked,
		"accounts_reclaimed": result.AccountsReclaimed,
		"accounts_failed":    result.AccountsFailed,
		"lamports_reclaimed": result.LamportsReclaimed,
		"dry_run":            r.DryRun,
	})
	return result, nil
}

// jitVerify implements spec.md §4.6's JIT Verification sub-stage: one
// batched chain query for the whole locked batch, then in order per
// address: absent → closed_zero, zero balance → closed_zero, owner changed
// → SKIPPED, has data → SKIPPED, otherwise verified.
func (r *Reclaimer) jitVerify(ctx context.Context, locked []ledger.SponsoredAccount) ([]verifiedAccount, int, error) {
	addresses := make([]string, len(locked))
	for i, a := range locked {
		addresses[i] = a.AccountPubkey
	}
	infos, err := r.Client.GetMultipleAccounts(ctx, addresses)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", chain.ErrRPC, err)
	}

	var verified []verifiedAccount
	invalidated := 0
	for i, acct := range locked {
		info := infos[i]

		var outcomeState ledger.LifecycleState
		var reason string
		switch {
		case info == nil:
			outcomeState, reason = ledger.StateClosedZero, "does not exist"
		case info.Lamports == 0:
			outcomeState, reason = ledger.StateClosedZero, "0 lamports"
		case info.Owner != chain.SystemProgramID:
			outcomeState, reason = ledger.StateSkipped, "owner changed"
		case info.DataLen > 0:
			outcomeState, reason = ledger.StateSkipped, "has data"
		default:
			verified = append(verified, verifiedAccount{Pubkey: acct.AccountPubkey, VerifiedLamports: info.Lamports})
			continue
		}

		evidence, err := canonical.Marshal(map[string]interface{}{"reason": reason})
		if err != nil {
			return nil, invalidated, fmt.Errorf("marshal jit-verify evidence for %s: %w", acct.AccountPubkey, err)
		}
		if _, err := r.Store.TransitionState(ctx, acct.AccountPubkey,
			[]ledger.LifecycleState{ledger.StateReclaimable}, outcomeState, reason, evidence, true); err != nil {
			return nil, invalidated, fmt.Errorf("transition invalid account %s: %w", acct.AccountPubkey, err)
		}
		invalidated++
	}
	return verified, invalidated, nil
}

// planBatches partitions verified accounts into groups of at most
// planBatchSize, per spec.md §4.6's Plan sub-stage.
func planBatches(verified []verifiedAccount) [][]verifiedAccount {
	var batches [][]verifiedAccount
	for start := 0; start < len(verified); start += planBatchSize {
		end := start + planBatchSize
		if end > len(verified) {
			end = len(verified)
		}
		batches = append(batches, verified[start:end])
	}
	return batches
}

// executeAndReport implements the Execute and Report sub-stages for one
// planned batch.
func (r *Reclaimer) executeAndReport(ctx context.Context, workerID, batchID string, batch []verifiedAccount) (reclaimed, failed int, lamports uint64, err error) {
	if len(batch) == 0 {
		return 0, 0, 0, nil
	}

	if r.DryRun {
		var total uint64
		for _, v := range batch {
			total += v.VerifiedLamports
		}
		for _, v := range batch {
			if err := r.Store.ReleaseLock(ctx, v.Pubkey, workerID); err != nil {
				return 0, 0, 0, fmt.Errorf("release dry-run lock for %s: %w", v.Pubkey, err)
			}
		}
		r.Logger.Info("reclaimer: dry-run batch", "batch_id", batchID, "accounts", len(batch), "intended_lamports", total)
		return 0, 0, 0, nil
	}
	r.Logger.Info("reclaimer: submitting batch", "batch_id", batchID, "accounts", len(batch))

	transfers := make([]chain.Transfer, len(batch))
	for i, v := range batch {
		transfers[i] = chain.Transfer{Account: v.Pubkey, Lamports: v.VerifiedLamports}
	}

	sig, submitErr := r.Client.SubmitTransferBatch(ctx, r.Signer, transfers)
	if submitErr != nil {
		outcomes := make([]ledger.AccountOutcome, len(batch))
		for i, v := range batch {
			evidence, merr := canonical.Marshal(map[string]interface{}{"error": submitErr.Error()})
			if merr != nil {
				return 0, 0, 0, fmt.Errorf("marshal failure evidence for %s: %w", v.Pubkey, merr)
			}
			outcomes[i] = ledger.AccountOutcome{
				AccountPubkey: v.Pubkey,
				FromState:     ledger.StateReclaimable,
				Reason:        submitErr.Error(),
				Evidence:      evidence,
			}
		}
		if err := r.Store.ReportBatchFailure(ctx, outcomes); err != nil {
			return 0, 0, 0, fmt.Errorf("report batch failure: %w", err)
		}
		return 0, len(batch), 0, nil
	}

	var total uint64
	outcomes := make([]ledger.AccountOutcome, len(batch))
	for i, v := range batch {
		total += v.VerifiedLamports
		evidence, merr := canonical.Marshal(map[string]interface{}{
			"amount":    v.VerifiedLamports,
			"signature": sig,
		})
		if merr != nil {
			return 0, 0, 0, fmt.Errorf("marshal success evidence for %s: %w", v.Pubkey, merr)
		}
		outcomes[i] = ledger.AccountOutcome{
			AccountPubkey: v.Pubkey,
			FromState:     ledger.StateReclaimable,
			Reason:        "transaction confirmed",
			Evidence:      evidence,
		}
	}
	if err := r.Store.ReportBatchSuccess(ctx, outcomes); err != nil {
		return 0, 0, 0, fmt.Errorf("report batch success: %w", err)
	}
	return len(batch), 0, total, nil
}

// newBatchID produces a unique, time-ordered batch identifier, spec.md
// §4.6: "batch-<monotonic-timestamp>-<seq>." Not currently persisted
// anywhere (the ledger keys outcomes by account_pubkey, not batch id), but
// kept available for callers that want to correlate log lines with a
// single planned batch.
func newBatchID(seq int) string {
	return fmt.Sprintf("batch-%d-%d", time.Now().UnixNano(), seq)
}
