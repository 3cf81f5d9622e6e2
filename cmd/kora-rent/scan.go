package main

import (
	"context"
	"flag"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/kora-labs/kora-rent/internal/chain"
	"github.com/kora-labs/kora-rent/internal/indexer"
	otelpkg "github.com/kora-labs/kora-rent/internal/otel"
)

// runScanCommand implements spec.md §6's `scan`: one Indexer pass over the
// operator's transaction history.
func runScanCommand(ctx context.Context, logLevel string, otelEnabled bool, args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	operator := fs.String("operator", "", "operator pubkey (required)")
	network := fs.String("network", "", "network override (devnet|mainnet-beta)")
	rpc := fs.String("rpc", "", "RPC endpoint override")
	dryRun := fs.Bool("dry-run", false, "scan without writing discovered accounts to the ledger")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *operator == "" {
		fmt.Println("scan: --operator is required")
		return 1
	}
	if err := chain.ValidatePubkey(*operator); err != nil {
		fmt.Printf("scan: invalid --operator: %v\n", err)
		return 1
	}

	rt, err := bootstrap(ctx, *network, *rpc, logLevel, otelEnabled)
	if err != nil {
		fmt.Printf("scan: startup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	if rt.Cfg.RPCEndpoint == "" {
		rt.Logger.Error("scan: no rpc endpoint configured")
		return 1
	}
	client := chain.NewRPCClient(rt.Cfg.RPCEndpoint)

	stage := startStage(ctx, rt, "indexer.scan",
		otelpkg.AttrNetwork.String(rt.Cfg.Network),
		otelpkg.AttrOperator.String(*operator),
		otelpkg.AttrDryRun.Bool(*dryRun),
	)
	ix := indexer.New(rt.Store, client, *operator, *dryRun, stage.logger)
	result, err := ix.Run(stage.ctx)
	stage.end(err)
	if err != nil {
		rt.Logger.Error("scan failed", "error", err)
		return 1
	}
	rt.Metrics.AccountsDiscovered.Add(ctx, int64(result.AccountsDiscovered),
		metric.WithAttributes(otelpkg.AttrOperator.String(*operator)))

	fmt.Printf("scan: %d signatures scanned across %d pages, %d accounts discovered\n",
		result.SignaturesScanned, result.PagesFetched, result.AccountsDiscovered)
	return 0
}
