package main

import (
	"context"
	"flag"
	"fmt"


	"github.com/kora-labs/kora-rent/internal/chain"
	otelpkg "github.com/kora-labs/kora-rent/internal/otel"
	"github.com/kora-labs/kora-rent/internal/reclaimer"
)

// runReclaimCommand implements spec.md §6's `reclaim execute`: the
// Fetch-and-Lock/JIT-verify/plan/execute/report loop, the only component
// that submits transactions.
func runReclaimCommand(ctx context.Context, logLevel string, otelEnabled bool, args []string) int {
	if len(args) == 0 || args[0] != "execute" {
		fmt.Println("reclaim: expected subcommand \"execute\"")
		return 2
	}

	fs := flag.NewFlagSet("reclaim execute", flag.ContinueOnError)
	network := fs.String("network", "", "network override (devnet|mainnet-beta)")
	rpc := fs.String("rpc", "", "RPC endpoint override")
	keypairPath := fs.String("keypair", "", "operator keypair file")
	dryRun := fs.Bool("dry-run", false, "verify and release locks without submitting transactions")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	rt, err := bootstrap(ctx, *network, *rpc, logLevel, otelEnabled)
	if err != nil {
		fmt.Printf("reclaim: startup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	if rt.Cfg.RPCEndpoint == "" {
		rt.Logger.Error("reclaim: no rpc endpoint configured")
		return 1
	}
	client := chain.NewRPCClient(rt.Cfg.RPCEndpoint)

	if *keypairPath == "" {
		*keypairPath = rt.Cfg.KeypairPath
	}
	var signer chain.Signer
	if *keypairPath != "" {
		s, err := chain.LoadKeypairFile(*keypairPath)
		if err != nil {
			rt.Logger.Error("reclaim: failed to load keypair", "error", err)
			return 1
		}
		signer = s
	} else if !*dryRun {
		rt.Logger.Error("reclaim: --keypair is required unless --dry-run is set")
		return 1
	}

	operator := rt.Cfg.OperatorPubkey
	if signer.PublicKey != nil {
		operator = signer.PubkeyBase58()
	}

	stage := startStage(ctx, rt, "reclaimer.execute",
		otelpkg.AttrNetwork.String(rt.Cfg.Network),
		otelpkg.AttrOperator.String(operator),
		otelpkg.AttrBatchSize.Int(rt.Cfg.Reclaimer.BatchSize),
		otelpkg.AttrDryRun.Bool(*dryRun),
	)
	rec := reclaimer.New(rt.Store, client, signer, operator, rt.Cfg.Reclaimer.BatchSize, *dryRun, stage.logger)
	result, err := rec.Run(stage.ctx)
	stage.end(err)
	if err != nil {
		rt.Logger.Error("reclaim execute failed", "error", err)
		return 1
	}
	rt.Metrics.AccountsReclaimed.Add(ctx, int64(result.AccountsReclaimed))
	rt.Metrics.AccountsFailed.Add(ctx, int64(result.AccountsFailed))
	rt.Metrics.LamportsReclaimed.Add(ctx, int64(result.LamportsReclaimed))

	fmt.Printf("reclaim: %d rounds, %d locked, %d invalidated, %d reclaimed, %d failed, %d lamports reclaimed\n",
		result.Rounds, result.AccountsLocked, result.AccountsInvalidated,
		result.AccountsReclaimed, result.AccountsFailed, result.LamportsReclaimed)
	if result.AccountsFailed > 0 {
		return 1
	}
	return 0
}
