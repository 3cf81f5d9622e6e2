package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/kora-labs/kora-rent/internal/attestation"
	"github.com/kora-labs/kora-rent/internal/chain"
	"github.com/kora-labs/kora-rent/internal/policy"
	"github.com/kora-labs/kora-rent/internal/safety"
)

// runAttestCommand implements spec.md §6's `attest generate` and
// `attest verify`.
func runAttestCommand(ctx context.Context, logLevel string, otelEnabled bool, args []string) int {
	if len(args) == 0 {
		fmt.Println("attest: expected subcommand \"generate\" or \"verify\"")
		return 2
	}
	switch args[0] {
	case "generate":
		return runAttestGenerate(ctx, logLevel, otelEnabled, args[1:])
	case "verify":
		return runAttestVerify(args[1:])
	default:
		fmt.Printf("attest: unknown subcommand %q\n", args[0])
		return 2
	}
}

func runAttestGenerate(ctx context.Context, logLevel string, otelEnabled bool, args []string) int {
	fs := flag.NewFlagSet("attest generate", flag.ContinueOnError)
	network := fs.String("network", "", "network override (devnet|mainnet-beta)")
	output := fs.String("output", "", "write document to file instead of stdout")
	keypairPath := fs.String("keypair", "", "operator keypair to sign the attestation")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rt, err := bootstrap(ctx, *network, "", logLevel, otelEnabled)
	if err != nil {
		fmt.Printf("attest generate: startup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	if *keypairPath == "" {
		*keypairPath = rt.Cfg.KeypairPath
	}
	var signer *chain.Signer
	if *keypairPath != "" {
		s, err := chain.LoadKeypairFile(*keypairPath)
		if err != nil {
			rt.Logger.Error("attest generate: failed to load keypair", "error", err)
			return 1
		}
		signer = &s
	}

	whitelistHash := policy.WhitelistHash(policy.New(rt.Cfg.Whitelist, 0, 0).Whitelist)

	doc, err := attestation.Generate(ctx, rt.Store, attestation.Config{
		Network:       rt.Cfg.Network,
		MinLamports:   rt.Cfg.MinLamports,
		MinAgeDays:    rt.Cfg.MinAgeDays,
		WhitelistHash: whitelistHash,
		RPCEndpoint:   rt.Cfg.RPCEndpoint,
		Signer:        signer,
	})
	if err != nil {
		rt.Logger.Error("attest generate: failed", "error", err)
		return 1
	}

	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		rt.Logger.Error("attest generate: encode failed", "error", err)
		return 1
	}
	if warnings := safety.NewLeakDetector().Scan(string(encoded)); len(warnings) > 0 {
		rt.Logger.Error("attest generate: refusing to write output, potential secret leak detected", "pattern", warnings[0].Pattern)
		return 1
	}

	if *output == "" {
		fmt.Println(string(encoded))
		return 0
	}
	if err := os.WriteFile(*output, encoded, 0o644); err != nil {
		rt.Logger.Error("attest generate: write output file failed", "error", err)
		return 1
	}
	return 0
}

func runAttestVerify(args []string) int {
	fs := flag.NewFlagSet("attest verify", flag.ContinueOnError)
	file := fs.String("file", "", "attestation document to verify (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Println("attest verify: --file is required")
		return 1
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		fmt.Printf("attest verify: read file: %v\n", err)
		return 1
	}
	var doc attestation.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		fmt.Printf("attest verify: parse document: %v\n", err)
		return 1
	}

	ok, err := attestation.Verify(doc)
	if err != nil {
		fmt.Printf("attest verify: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Println("attest verify: FAILED — attestation hash or signature does not match")
		return 1
	}
	fmt.Println("attest verify: OK")
	return 0
}
