// Package indexer implements the Discovery component of spec.md §4.3:
// translate an operator's transaction history into SponsoredAccount rows
// via a resumable, backwards-paginating scan of signatures-for-address.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kora-labs/kora-rent/internal/audit"
	"github.com/kora-labs/kora-rent/internal/chain"
	"github.com/kora-labs/kora-rent/internal/ledger"
)

// pageSize is the signatures-for-address page size, spec.md §4.3 step 2.
const pageSize = 100

// indexerPoliteDelay is the pause between per-signature fetches, spec.md
// §5. A package-level var so tests can shrink it.
var indexerPoliteDelay = 200 * time.Millisecond

// Indexer discovers sponsored accounts from an operator's transaction
// history.
type Indexer struct {
	Store    *ledger.Store
	Client   chain.Client
	Operator string
	DryRun   bool
	Logger   *slog.Logger
}

// New builds an Indexer. logger may be nil, in which case slog.Default is used.
func New(store *ledger.Store, client chain.Client, operator string, dryRun bool, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{Store: store, Client: client, Operator: operator, DryRun: dryRun, Logger: logger}
}

// Result summarizes one Run.
type Result struct {
	SignaturesScanned int
	AccountsDiscovered int
	PagesFetched       int
}

// Run executes one Discovery pass, per spec.md §4.3's five-step loop.
func (ix *Indexer) Run(ctx context.Context) (Result, error) {
	var result Result

	cursor, hasCursor, err := ix.Store.GetKV(ctx, ledger.DiscoveryCursorKey)
	if err != nil {
		return result, fmt.Errorf("indexer: read cursor: %w", err)
	}
	until := ""
	if hasCursor {
		until = cursor
	}

	var firstPageNewest string
	before := ""

	for {
		page, err := ix.Client.SignaturesForAddress(ctx, ix.Operator, pageSize, before, until)
		if err != nil {
			ix.Logger.Error("indexer: signatures-for-address failed", "error", err)
			return result, fmt.Errorf("indexer: %w: %w", chain.ErrRPC, err)
		}
		result.PagesFetched++
		if result.PagesFetched == 1 && len(page) > 0 {
			firstPageNewest = page[0].Signature
		}
		if len(page) == 0 {
			break
		}

		for i, sigInfo := range page {
			result.SignaturesScanned++
			n, err := ix.processSignature(ctx, sigInfo)
			if err != nil {
				ix.Logger.Warn("indexer: skipping signature after failure", "signature", sigInfo.Signature, "error", err)
				continue
			}
			result.AccountsDiscovered += n

			if i < len(page)-1 {
				if err := sleepPolite(ctx, indexerPoliteDelay); err != nil {
					return result, err
				}
			}
		}

		if len(page) < pageSize {
			break
		}
		before = page[len(page)-1].Signature
	}

	if !ix.DryRun && !hasCursor && firstPageNewest != "" {
		if err := ix.Store.SetKV(ctx, ledger.DiscoveryCursorKey, firstPageNewest); err != nil {
			return result, fmt.Errorf("indexer: advance cursor: %w", err)
		}
	}

	audit.Record("info", "indexer", "discovery pass complete", map[string]interface{}{
		"operator":            ix.Operator,
		"signatures_scanned":  result.SignaturesScanned,
		"accounts_discovered": result.AccountsDiscovered,
		"dry_run":             ix.DryRun,
	})
	return result, nil
}

// processSignature fetches and parses one transaction and inserts any
// account it discovers. A per-signature failure is returned to the caller,
// which logs and continues — per spec.md §4.3: "per-signature failures are
// logged but do not poison the batch."
func (ix *Indexer) processSignature(ctx context.Context, sig chain.SignatureInfo) (int, error) {
	tx, err := ix.Client.GetTransaction(ctx, sig.Signature)
	if err != nil {
		return 0, fmt.Errorf("get transaction: %w", err)
	}

	creations := parseTransaction(tx, ix.Operator)
	if ix.DryRun {
		return len(creations), nil
	}

	discovered := 0
	for _, c := range creations {
		inserted, err := ix.Store.InsertSponsoredAccount(ctx, c.NewAccount, c.Signature, int64(c.Slot), c.Operator)
		if err != nil {
			return discovered, fmt.Errorf("insert sponsored account %s: %w", c.NewAccount, err)
		}
		if inserted {
			discovered++
		}
	}
	return discovered, nil
}

// sleepPolite waits out the politeness delay between per-signature fetches,
// returning early with ctx.Err() if the caller cancels first.
func sleepPolite(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseTransaction implements spec.md §4.3's discovery predicate: the
// operator must be the fee payer (first signer), and each system-program
// create_account instruction whose from field equals the operator
// discovers exactly one new account.
func parseTransaction(tx *chain.ParsedTransaction, operator string) []chain.AccountCreation {
	if tx.FeePayer != operator {
		return nil
	}
	var out []chain.AccountCreation
	for _, ins := range tx.Instructions {
		if ins.Program != "system" || ins.Type != "create_account" {
			continue
		}
		if ins.From != operator {
			continue
		}
		out = append(out, chain.AccountCreation{
			NewAccount: ins.NewAccount,
			Signature:  tx.Signature,
			Slot:       tx.Slot,
			Operator:   operator,
		})
	}
	return out
}
