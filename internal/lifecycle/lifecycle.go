// Package lifecycle implements the Lifecycle Engine of spec.md §4.4: a
// batched on-chain probe that reconciles every sponsored account's stored
// row with its current on-chain state.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kora-labs/kora-rent/internal/audit"
	"github.com/kora-labs/kora-rent/internal/canonical"
	"github.com/kora-labs/kora-rent/internal/chain"
	"github.com/kora-labs/kora-rent/internal/ledger"
)

// chunkSize is the GetMultipleAccounts batch size, spec.md §4.4 step 2.
const chunkSize = 100

// Engine reconciles on-chain reality with the ledger.
type Engine struct {
	Store  *ledger.Store
	Client chain.Client
	Logger *slog.Logger
	Now    func() time.Time
	DryRun bool
}

// New builds a lifecycle Engine. logger may be nil (slog.Default is used);
// now may be nil (time.Now is used). When dryRun is true, Run observes and
// counts what it would relabel but writes nothing to the ledger, matching
// spec.md §6's `lifecycle scan --dry-run`.
func New(store *ledger.Store, client chain.Client, logger *slog.Logger, now func() time.Time, dryRun bool) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{Store: store, Client: client, Logger: logger, Now: now, DryRun: dryRun}
}

// Result summarizes one Run.
type Result struct {
	Observed int
	Relabeled int
	ChunksFailed int
}

// Run executes one Lifecycle pass over every sponsored account, per
// spec.md §4.4.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var result Result

	accounts, err := e.Store.ListAllSponsoredAccounts(ctx)
	if err != nil {
		return result, fmt.Errorf("lifecycle: list sponsored accounts: %w", err)
	}

	for start := 0; start < len(accounts); start += chunkSize {
		end := start + chunkSize
		if end > len(accounts) {
			end = len(accounts)
		}
		chunk := accounts[start:end]

		if err := e.processChunk(ctx, chunk, &result); err != nil {
			result.ChunksFailed++
			e.Logger.Error("lifecycle: chunk failed", "error", err, "chunk_start", start, "chunk_size", len(chunk))
			continue
		}
	}

	audit.Record("info", "lifecycle", "lifecycle pass complete", map[string]interface{}{
		"observed":      result.Observed,
		"relabeled":     result.Relabeled,
		"chunks_failed": result.ChunksFailed,
	})
	return result, nil
}

func (e *Engine) processChunk(ctx context.Context, chunk []ledger.SponsoredAccount, result *Result) error {
	addresses := make([]string, len(chunk))
	for i, a := range chunk {
		addresses[i] = a.AccountPubkey
	}

	infos, err := e.Client.GetMultipleAccounts(ctx, addresses)
	if err != nil {
		return fmt.Errorf("%w: %w", chain.ErrRPC, err)
	}

	now := e.Now()
	for i, acct := range chunk {
		info := infos[i]
		label := ledger.StateActive
		if info == nil {
			label = ledger.StateClosed
		}

		var lamports, dataLen int64
		var owner string
		var executable, rentExempt bool
		if info != nil {
			lamports = int64(info.Lamports)
			dataLen = int64(info.DataLen)
			owner = info.Owner
			executable = info.Executable
			rentExempt = info.IsRentExempt()
		}

		if !e.DryRun {
			if err := e.Store.UpdateLifecycleObservation(ctx, acct.AccountPubkey, lamports, dataLen, owner, now); err != nil {
				return fmt.Errorf("update observation for %s: %w", acct.AccountPubkey, err)
			}
		}
		result.Observed++

		if label == acct.LifecycleState {
			continue
		}

		if e.DryRun {
			result.Relabeled++
			continue
		}

		evidence, err := canonical.Marshal(map[string]interface{}{
			"lamports":       lamports,
			"data_len":       dataLen,
			"owner":          owner,
			"executable":     executable,
			"is_rent_exempt": rentExempt,
		})
		if err != nil {
			return fmt.Errorf("marshal evidence for %s: %w", acct.AccountPubkey, err)
		}

		tr, err := e.Store.TransitionState(ctx, acct.AccountPubkey,
			[]ledger.LifecycleState{acct.LifecycleState}, label, "on-chain observation", evidence, false)
		if err != nil {
			return fmt.Errorf("transition %s: %w", acct.AccountPubkey, err)
		}
		if tr.Applied {
			result.Relabeled++
		}
	}
	return nil
}
