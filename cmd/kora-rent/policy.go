package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"


	"github.com/kora-labs/kora-rent/internal/cron"
	otelpkg "github.com/kora-labs/kora-rent/internal/otel"
	"github.com/kora-labs/kora-rent/internal/policy"
)

// runPolicyCommand implements spec.md §6's `policy evaluate`: one rule-table
// pass over every re-evaluable account, optionally repeated unattended via
// --watch (SPEC_FULL's cron-driven scheduling expansion).
func runPolicyCommand(ctx context.Context, logLevel string, otelEnabled bool, args []string) int {
	if len(args) == 0 || args[0] != "evaluate" {
		fmt.Println("policy: expected subcommand \"evaluate\"")
		return 2
	}

	fs := flag.NewFlagSet("policy evaluate", flag.ContinueOnError)
	network := fs.String("network", "", "network override (devnet|mainnet-beta)")
	minLamports := fs.Int64("min-lamports", -1, "dust floor override")
	minAgeDays := fs.Int("min-age-days", -1, "minimum account age override, in days")
	whitelistPath := fs.String("whitelist", "", "whitelist file override")
	dryRun := fs.Bool("dry-run", false, "evaluate without writing transitions")
	watch := fs.Bool("watch", false, "run unattended on the configured cron schedule until interrupted")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	rt, err := bootstrap(ctx, *network, "", logLevel, otelEnabled)
	if err != nil {
		fmt.Printf("policy: startup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	if *minLamports >= 0 {
		rt.Cfg.MinLamports = *minLamports
	}
	if *minAgeDays >= 0 {
		rt.Cfg.MinAgeDays = *minAgeDays
	}
	whitelist := rt.Cfg.Whitelist
	if *whitelistPath != "" {
		loaded, err := loadWhitelistFile(*whitelistPath)
		if err != nil {
			rt.Logger.Error("policy: failed to read whitelist override", "error", err)
			return 1
		}
		whitelist = loaded
	}

	p := policy.New(whitelist, rt.Cfg.MinLamports, rt.Cfg.MinAgeDays)

	runOnce := func(ctx context.Context) error {
		stage := startStage(ctx, rt, "policy.evaluate",
			otelpkg.AttrNetwork.String(rt.Cfg.Network),
			otelpkg.AttrDryRun.Bool(*dryRun),
		)
		result, err := policy.Evaluate(stage.ctx, rt.Store, p, time.Now(), *dryRun)
		stage.end(err)
		if err != nil {
			return err
		}
		rt.Metrics.PolicyDecisions.Add(ctx, int64(result.Evaluated))
		fmt.Printf("policy: %d evaluated, %d changed\n", result.Evaluated, result.Changed)
		return nil
	}

	if !*watch {
		if err := runOnce(ctx); err != nil {
			rt.Logger.Error("policy evaluate failed", "error", err)
			return 1
		}
		return 0
	}

	sched := cron.NewScheduler(cron.Config{
		Store:           rt.Store,
		Logger:          rt.Logger,
		UnlockCronExpr:  rt.Cfg.Cron.UnlockSchedule,
		StaleLockWindow: time.Duration(rt.Cfg.Reclaimer.StaleLockMinutes) * time.Minute,
		FullRunCronExpr: rt.Cfg.Cron.FullRunSchedule,
		FullRun:         runOnce,
	})
	if err := sched.Start(ctx); err != nil {
		rt.Logger.Error("policy: watch scheduler failed to start", "error", err)
		return 1
	}
	defer sched.Stop()

	rt.Logger.Info("policy: watching on cron schedule", "schedule", rt.Cfg.Cron.FullRunSchedule)
	<-ctx.Done()
	return 0
}

// loadWhitelistFile mirrors config's own whitelist loading (one base58
// address per line, blanks ignored) for the per-invocation --whitelist
// override.
func loadWhitelistFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}
