package ledger_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kora-labs/kora-rent/internal/ledger"
)

func openTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := ledger.Open(filepath.Join(dir, "kora-rent-test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInsertSponsoredAccount_Idempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	inserted, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 100, "operator1")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to report inserted=true")
	}

	inserted, err = store.InsertSponsoredAccount(ctx, "acct1", "sig-other", 200, "operator1")
	if err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if inserted {
		t.Fatal("expected re-discovery to be a no-op")
	}

	acct, err := store.GetSponsoredAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.CreationSignature != "sig1" {
		t.Fatalf("expected original signature to survive, got %s", acct.CreationSignature)
	}
	if acct.LifecycleState != ledger.StateDiscovered {
		t.Fatalf("expected DISCOVERED, got %s", acct.LifecycleState)
	}
}

func TestTransitionState_WritesEvent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 100, "operator1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	result, err := store.TransitionState(ctx, "acct1", []ledger.LifecycleState{ledger.StateDiscovered}, ledger.StateActive, "lifecycle.observed", []byte(`{"lamports":5000}`), false)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !result.Applied {
		t.Fatal("expected transition to apply")
	}

	acct, err := store.GetSponsoredAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.LifecycleState != ledger.StateActive {
		t.Fatalf("expected ACTIVE, got %s", acct.LifecycleState)
	}

	events, err := store.ListEventsForAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].OldState != ledger.StateDiscovered || events[0].NewState != ledger.StateActive {
		t.Fatalf("unexpected event transition: %+v", events[0])
	}
}

func TestTransitionState_RejectsStalePrecondition(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 100, "operator1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// acct1 is DISCOVERED; a transition expecting ACTIVE must no-op.
	result, err := store.TransitionState(ctx, "acct1", []ledger.LifecycleState{ledger.StateActive}, ledger.StateClosed, "lifecycle.observed", nil, false)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if result.Applied {
		t.Fatal("expected transition to be rejected due to stale precondition")
	}
}

func TestFetchAndLock_ExcludesLockedRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, pk := range []string{"a", "b", "c"} {
		if _, err := store.InsertSponsoredAccount(ctx, pk, "sig", 1, "operator1"); err != nil {
			t.Fatalf("insert %s: %v", pk, err)
		}
		if _, err := store.TransitionState(ctx, pk, []ledger.LifecycleState{ledger.StateDiscovered}, ledger.StateReclaimable, "policy.evaluate", nil, false); err != nil {
			t.Fatalf("transition %s: %v", pk, err)
		}
	}

	batch1, err := store.FetchAndLock(ctx, "worker-1", 2)
	if err != nil {
		t.Fatalf("fetch-and-lock 1: %v", err)
	}
	if len(batch1) != 2 {
		t.Fatalf("expected 2 locked rows, got %d", len(batch1))
	}

	batch2, err := store.FetchAndLock(ctx, "worker-2", 2)
	if err != nil {
		t.Fatalf("fetch-and-lock 2: %v", err)
	}
	if len(batch2) != 1 {
		t.Fatalf("expected exactly the remaining unlocked row, got %d", len(batch2))
	}
	if batch2[0].ProcessingLock == nil || *batch2[0].ProcessingLock != "worker-2" {
		t.Fatalf("expected lock worker-2, got %+v", batch2[0].ProcessingLock)
	}

	batch3, err := store.FetchAndLock(ctx, "worker-3", 10)
	if err != nil {
		t.Fatalf("fetch-and-lock 3: %v", err)
	}
	if len(batch3) != 0 {
		t.Fatalf("expected no rows left to lock, got %d", len(batch3))
	}
}

func TestUnlockStaleLocks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 1, "operator1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.TransitionState(ctx, "acct1", []ledger.LifecycleState{ledger.StateDiscovered}, ledger.StateReclaimable, "policy.evaluate", nil, false); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := store.FetchAndLock(ctx, "stale-worker", 10); err != nil {
		t.Fatalf("lock: %v", err)
	}

	n, err := store.UnlockStaleLocks(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 lock cleared, got %d", n)
	}

	acct, err := store.GetSponsoredAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.ProcessingLock != nil {
		t.Fatal("expected lock to be cleared")
	}
}

func TestReportBatchSuccess_ZeroesLamports(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 1, "operator1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.TransitionState(ctx, "acct1", []ledger.LifecycleState{ledger.StateDiscovered}, ledger.StateReclaimable, "policy.evaluate", nil, false); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := store.FetchAndLock(ctx, "worker-1", 10); err != nil {
		t.Fatalf("lock: %v", err)
	}

	err := store.ReportBatchSuccess(ctx, []ledger.AccountOutcome{
		{AccountPubkey: "acct1", FromState: ledger.StateReclaimable, Reason: "reclaim.confirmed", Evidence: []byte(`{"signature":"tx1","amount":2000000}`)},
	})
	if err != nil {
		t.Fatalf("report success: %v", err)
	}

	acct, err := store.GetSponsoredAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.LifecycleState != ledger.StateReclaimed {
		t.Fatalf("expected RECLAIMED, got %s", acct.LifecycleState)
	}
	if acct.Lamports == nil || *acct.Lamports != 0 {
		t.Fatalf("expected lamports=0, got %+v", acct.Lamports)
	}
	if acct.ProcessingLock != nil {
		t.Fatal("expected lock cleared")
	}
}

func TestSystemKV_GetSet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetKV(ctx, ledger.DiscoveryCursorKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected unset cursor")
	}

	if err := store.SetKV(ctx, ledger.DiscoveryCursorKey, "sig-newest"); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := store.GetKV(ctx, ledger.DiscoveryCursorKey)
	if err != nil {
		t.Fatalf("get2: %v", err)
	}
	if !ok || value != "sig-newest" {
		t.Fatalf("expected sig-newest, got %q ok=%v", value, ok)
	}
}

func TestSponsoredAccountRows_NullableFieldsAreJSONNull(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 1, "operator1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := store.SponsoredAccountRows(ctx)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["lamports"] != nil {
		t.Fatalf("expected lamports to be nil before Lifecycle runs, got %v", rows[0]["lamports"])
	}
}
