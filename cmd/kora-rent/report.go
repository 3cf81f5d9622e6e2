package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/kora-labs/kora-rent/internal/report"
)

// runReportCommand implements spec.md §6's `report`: a read-only ledger
// summary, rendered as JSON or text.
func runReportCommand(ctx context.Context, logLevel string, otelEnabled bool, args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	network := fs.String("network", "", "network override (devnet|mainnet-beta)")
	format := fs.String("format", "", "output format: json|text (default: text on a terminal, json when piped)")
	output := fs.String("output", "", "write to file instead of stdout")
	account := fs.String("account", "", "restrict to one account pubkey")
	since := fs.String("since", "", "restrict to accounts discovered/events on or after this RFC3339 timestamp")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Mirror the teacher's own isatty.IsTerminal(os.Stdout.Fd()) TTY check:
	// an interactive terminal gets the human-readable text rendering by
	// default, a piped or redirected stdout gets JSON.
	if *format == "" {
		if *output == "" && isatty.IsTerminal(os.Stdout.Fd()) {
			*format = "text"
		} else {
			*format = "json"
		}
	}

	rt, err := bootstrap(ctx, *network, "", logLevel, otelEnabled)
	if err != nil {
		fmt.Printf("report: startup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	filter := report.Filter{Account: *account}
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			rt.Logger.Error("report: invalid --since", "error", err)
			return 1
		}
		filter.Since = &t
	}

	r, err := report.Build(ctx, rt.Store, rt.Cfg.Network, filter)
	if err != nil {
		rt.Logger.Error("report: build failed", "error", err)
		return 1
	}

	out, err := report.Render(*format, r)
	if err != nil {
		rt.Logger.Error("report: render failed", "error", err)
		return 1
	}

	if *output == "" {
		fmt.Print(string(out))
		return 0
	}
	if err := os.WriteFile(*output, out, 0o644); err != nil {
		rt.Logger.Error("report: write output file failed", "error", err)
		return 1
	}
	return 0
}
