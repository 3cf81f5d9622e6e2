package cron_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/kora-labs/kora-rent/internal/cron"
	"github.com/kora-labs/kora-rent/internal/ledger"
)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses. This avoids fixed time.Sleep calls that cause flaky tests.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func openTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "kora-rent-devnet.db")
	store, err := ledger.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestScheduler_UnlockSweepClearsStaleLocks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 1, "operator1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.FetchAndLock(ctx, "dead-worker", 10); err != nil {
		t.Fatalf("fetch and lock: %v", err)
	}

	sched := cron.NewScheduler(cron.Config{
		Store:           store,
		Logger:          slog.Default(),
		UnlockCronExpr:  "* * * * *",
		StaleLockWindow: 1 * time.Nanosecond,
		TickInterval:    20 * time.Millisecond,
	})
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()

	waitFor(t, 3*time.Second, func() bool {
		rows, err := store.FetchAndLock(ctx, "worker-2", 10)
		return err == nil && len(rows) == 1
	})
}

func TestScheduler_NoUnlockExprNeverSweeps(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSponsoredAccount(ctx, "acct1", "sig1", 1, "operator1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.FetchAndLock(ctx, "dead-worker", 10); err != nil {
		t.Fatalf("fetch and lock: %v", err)
	}

	sched := cron.NewScheduler(cron.Config{
		Store:        store,
		Logger:       slog.Default(),
		TickInterval: 20 * time.Millisecond,
	})
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	sched.Stop()

	rows, err := store.FetchAndLock(ctx, "worker-2", 10)
	if err != nil {
		t.Fatalf("fetch and lock: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected lock to remain held, got %d unlocked rows", len(rows))
	}
}

func TestScheduler_FullRunFiresOnSchedule(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	fired := make(chan struct{}, 1)
	sched := cron.NewScheduler(cron.Config{
		Store:           store,
		Logger:          slog.Default(),
		FullRunCronExpr: "* * * * *",
		TickInterval:    20 * time.Millisecond,
		FullRun: func(ctx context.Context) error {
			select {
			case fired <- struct{}{}:
			default:
			}
			return nil
		},
	})
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("expected full pipeline run to fire within deadline")
	}
}

func TestNextRunTime_AlignsToCronBoundary(t *testing.T) {
	after := time.Date(2026, 8, 3, 10, 17, 0, 0, time.UTC)
	next, err := cron.NextRunTime("*/15 * * * *", after)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	if next.Minute() != 30 {
		t.Fatalf("expected next run at minute 30, got %d", next.Minute())
	}
}

func TestNextRunTime_InvalidExpr(t *testing.T) {
	if _, err := cron.NextRunTime("not-a-cron-expr", time.Now()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
