package lifecycle_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kora-labs/kora-rent/internal/chain"
	"github.com/kora-labs/kora-rent/internal/ledger"
	"github.com/kora-labs/kora-rent/internal/lifecycle"
)

func openTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := ledger.Open(filepath.Join(dir, "kora-rent-devnet.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fixedNow() time.Time { return time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC) }

func TestRun_LabelsExistingAccountActive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 1, "op1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	client := chain.NewFakeClient()
	client.Accounts["acct1"] = &chain.AccountInfo{Lamports: 5000, DataLen: 0, Owner: chain.SystemProgramID}

	eng := lifecycle.New(store, client, nil, fixedNow, false)
	result, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Observed != 1 || result.Relabeled != 1 {
		t.Fatalf("expected 1 observed + 1 relabeled, got %+v", result)
	}

	acct, err := store.GetSponsoredAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.LifecycleState != ledger.StateActive {
		t.Fatalf("expected ACTIVE, got %s", acct.LifecycleState)
	}
	if acct.Lamports == nil || *acct.Lamports != 5000 {
		t.Fatalf("expected lamports=5000 persisted, got %+v", acct.Lamports)
	}
}

func TestRun_LabelsAbsentAccountClosed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 1, "op1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.UpdateLifecycleObservation(ctx, "acct1", 5000, 0, chain.SystemProgramID, fixedNow()); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if _, err := store.TransitionState(ctx, "acct1", []ledger.LifecycleState{ledger.StateDiscovered}, ledger.StateActive, "seed", []byte("{}"), false); err != nil {
		t.Fatalf("seed transition: %v", err)
	}

	client := chain.NewFakeClient() // acct1 absent

	eng := lifecycle.New(store, client, nil, fixedNow, false)
	result, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Relabeled != 1 {
		t.Fatalf("expected 1 relabeled, got %+v", result)
	}

	acct, err := store.GetSponsoredAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.LifecycleState != ledger.StateClosed {
		t.Fatalf("expected CLOSED, got %s", acct.LifecycleState)
	}
}

func TestRun_UnchangedLabelWritesNoEvent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 1, "op1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.TransitionState(ctx, "acct1", []ledger.LifecycleState{ledger.StateDiscovered}, ledger.StateActive, "seed", []byte("{}"), false); err != nil {
		t.Fatalf("seed transition: %v", err)
	}

	client := chain.NewFakeClient()
	client.Accounts["acct1"] = &chain.AccountInfo{Lamports: 5000, DataLen: 0, Owner: chain.SystemProgramID}

	eng := lifecycle.New(store, client, nil, fixedNow, false)
	if _, err := eng.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	events, err := store.ListEventsForAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected only the seed event (no new event for an unchanged label), got %d", len(events))
	}
}

func TestRun_AlwaysPersistsObservationEvenWhenLabelUnchanged(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 1, "op1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.TransitionState(ctx, "acct1", []ledger.LifecycleState{ledger.StateDiscovered}, ledger.StateActive, "seed", []byte("{}"), false); err != nil {
		t.Fatalf("seed transition: %v", err)
	}

	client := chain.NewFakeClient()
	client.Accounts["acct1"] = &chain.AccountInfo{Lamports: 9999, DataLen: 3, Owner: chain.SystemProgramID}

	eng := lifecycle.New(store, client, nil, fixedNow, false)
	if _, err := eng.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	acct, err := store.GetSponsoredAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.Lamports == nil || *acct.Lamports != 9999 {
		t.Fatalf("expected lamports=9999 persisted, got %+v", acct.Lamports)
	}
	if acct.DataLen == nil || *acct.DataLen != 3 {
		t.Fatalf("expected data_len=3 persisted, got %+v", acct.DataLen)
	}
}

func TestRun_ChunkFailureSkipsOnlyThatChunk(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, pk := range []string{"acct1", "acct2"} {
		if _, err := store.InsertSponsoredAccount(ctx, pk, "sig-"+pk, 1, "op1"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	client := chain.NewFakeClient()
	client.RPCErr = chain.ErrRPC

	eng := lifecycle.New(store, client, nil, fixedNow, false)
	result, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("expected Run to swallow the chunk error, got: %v", err)
	}
	if result.ChunksFailed != 1 {
		t.Fatalf("expected 1 failed chunk, got %d", result.ChunksFailed)
	}
	if result.Observed != 0 {
		t.Fatalf("expected 0 observed when every chunk fails, got %d", result.Observed)
	}
}

func TestRun_ScansAllStatesIncludingTerminal(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 1, "op1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.TransitionState(ctx, "acct1", []ledger.LifecycleState{ledger.StateDiscovered}, ledger.StateProtected, "whitelisted", []byte("{}"), false); err != nil {
		t.Fatalf("seed transition: %v", err)
	}

	client := chain.NewFakeClient()
	client.Accounts["acct1"] = &chain.AccountInfo{Lamports: 5000, DataLen: 0, Owner: chain.SystemProgramID}

	eng := lifecycle.New(store, client, nil, fixedNow, false)
	result, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Observed != 1 {
		t.Fatalf("expected PROTECTED account still observed (spec scans all, not just non-terminal), got %+v", result)
	}
}

func TestRun_DryRunLeavesLedgerUntouched(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 1, "op1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	client := chain.NewFakeClient()
	client.Accounts["acct1"] = &chain.AccountInfo{Lamports: 5000, DataLen: 0, Owner: chain.SystemProgramID}

	eng := lifecycle.New(store, client, nil, fixedNow, true)
	result, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Observed != 1 || result.Relabeled != 1 {
		t.Fatalf("expected counts reflecting what would change, got %+v", result)
	}

	acct, err := store.GetSponsoredAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.LifecycleState != ledger.StateDiscovered {
		t.Fatalf("expected dry run to leave state at DISCOVERED, got %s", acct.LifecycleState)
	}
	if acct.Lamports != nil {
		t.Fatalf("expected dry run to leave lamports unobserved, got %+v", acct.Lamports)
	}
}
