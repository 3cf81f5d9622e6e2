// Command kora-rent drives the five-stage rent-reclamation pipeline of
// spec.md: scan an operator's transaction history for sponsored accounts,
// reconcile their on-chain lifecycle, apply the policy rule table, reclaim
// what the policy clears, and attest to the result. Every subcommand is a
// crash-only unit per spec.md §7: either it completes and all its effects
// are in the ledger, or the operator re-runs it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=...".
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [flags]

COMMANDS:
  scan --operator <pubkey> [--network] [--rpc] [--dry-run]
                                    Discover sponsored accounts from operator history
  lifecycle scan [--network] [--rpc] [--dry-run]
                                    Reconcile ledger rows with on-chain state
  policy evaluate [--network] [--min-lamports N] [--min-age-days N]
                  [--whitelist <file>] [--dry-run] [--watch]
                                    Apply the policy rule table
  reclaim execute [--network] [--rpc] [--keypair <file>] [--dry-run]
                                    Run the Reclaimer Pipeline
  report [--network] [--format json|text] [--output <file>] [--account <pubkey>] [--since <RFC3339>]
                                    Render a read-only ledger summary
  attest generate [--network] [--output <file>] [--keypair <file>]
                                    Produce a signed (or unsigned) attestation document
  attest verify --file <file>      Verify an attestation document

GLOBAL FLAGS:
  --home <dir>        kora-rent home directory (default: $KORA_RENT_HOME or ~/.kora-rent)
  --log-level <level> debug|info|warn|error (default: info)
  --otel               enable OpenTelemetry tracing/metrics for this run

ENVIRONMENT VARIABLES:
  KORA_RENT_HOME, KORA_RENT_RPC_URL, KORA_RENT_NETWORK, KORA_RENT_LOG_LEVEL,
  KORA_RENT_OPERATOR_PUBKEY, KORA_RENT_KEYPAIR_PATH, KORA_RENT_WHITELIST_PATH,
  KORA_RENT_MIN_LAMPORTS, KORA_RENT_MIN_AGE_DAYS
`, os.Args[0])
}

func main() {
	home := flag.String("home", "", "kora-rent home directory")
	logLevel := flag.String("log-level", "", "log level override")
	otelEnabled := flag.Bool("otel", false, "enable OpenTelemetry for this run")
	flag.Usage = printUsage
	flag.Parse()

	if *home != "" {
		os.Setenv("KORA_RENT_HOME", *home)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := strings.ToLower(strings.TrimSpace(args[0]))
	rest := args[1:]

	switch cmd {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	case "scan":
		os.Exit(runScanCommand(ctx, *logLevel, *otelEnabled, rest))
	case "lifecycle":
		os.Exit(runLifecycleCommand(ctx, *logLevel, *otelEnabled, rest))
	case "policy":
		os.Exit(runPolicyCommand(ctx, *logLevel, *otelEnabled, rest))
	case "reclaim":
		os.Exit(runReclaimCommand(ctx, *logLevel, *otelEnabled, rest))
	case "report":
		os.Exit(runReportCommand(ctx, *logLevel, *otelEnabled, rest))
	case "attest":
		os.Exit(runAttestCommand(ctx, *logLevel, *otelEnabled, rest))
	default:
		fmt.Fprintf(os.Stderr, "kora-rent: unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}
