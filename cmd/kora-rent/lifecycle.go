package main

import (
	"context"
	"flag"
	"fmt"
	"time"


	"github.com/kora-labs/kora-rent/internal/chain"
	"github.com/kora-labs/kora-rent/internal/lifecycle"
	otelpkg "github.com/kora-labs/kora-rent/internal/otel"
)

// runLifecycleCommand implements spec.md §6's `lifecycle scan`: one
// Lifecycle Engine pass over every sponsored account in the ledger.
func runLifecycleCommand(ctx context.Context, logLevel string, otelEnabled bool, args []string) int {
	if len(args) == 0 || args[0] != "scan" {
		fmt.Println("lifecycle: expected subcommand \"scan\"")
		return 2
	}

	fs := flag.NewFlagSet("lifecycle scan", flag.ContinueOnError)
	network := fs.String("network", "", "network override (devnet|mainnet-beta)")
	rpc := fs.String("rpc", "", "RPC endpoint override")
	dryRun := fs.Bool("dry-run", false, "observe on-chain state without writing transitions")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	rt, err := bootstrap(ctx, *network, *rpc, logLevel, otelEnabled)
	if err != nil {
		fmt.Printf("lifecycle: startup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	if rt.Cfg.RPCEndpoint == "" {
		rt.Logger.Error("lifecycle: no rpc endpoint configured")
		return 1
	}
	client := chain.NewRPCClient(rt.Cfg.RPCEndpoint)

	stage := startStage(ctx, rt, "lifecycle.scan",
		otelpkg.AttrNetwork.String(rt.Cfg.Network),
		otelpkg.AttrDryRun.Bool(*dryRun),
	)
	engine := lifecycle.New(rt.Store, client, stage.logger, time.Now, *dryRun)
	result, err := engine.Run(stage.ctx)
	stage.end(err)
	if err != nil {
		rt.Logger.Error("lifecycle scan failed", "error", err)
		return 1
	}
	rt.Metrics.AccountsObserved.Add(ctx, int64(result.Observed))

	fmt.Printf("lifecycle: %d accounts observed, %d relabeled, %d chunks failed\n",
		result.Observed, result.Relabeled, result.ChunksFailed)
	if result.ChunksFailed > 0 {
		return 1
	}
	return 0
}
