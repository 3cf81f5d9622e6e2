// Package report builds a read-only timeline and aggregate view over the
// ledger for human audit, spec.md §4.8 (a SPEC_FULL addition — the
// distilled spec names Reporting in its glossary but does not design it;
// this package supplies that design). It never mutates the ledger.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/kora-labs/kora-rent/internal/ledger"
	"github.com/kora-labs/kora-rent/internal/safety"
)

// TimelineEntry is one LifecycleEvent rendered for human audit.
type TimelineEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	AccountPubkey string    `json:"account_pubkey"`
	OldState      string    `json:"old_state"`
	NewState      string    `json:"new_state"`
	Reason        string    `json:"reason"`
}

// AccountSummary is one sponsored_accounts row rendered for human audit.
type AccountSummary struct {
	Pubkey            string    `json:"pubkey"`
	CreationSignature string    `json:"creation_signature"`
	Slot              int64     `json:"slot"`
	Operator          string    `json:"operator"`
	DiscoveredAt      time.Time `json:"discovered_at"`
	LifecycleState    string    `json:"lifecycle_state"`
	Lamports          *int64    `json:"lamports,omitempty"`
}

// Report is the full rendered document.
type Report struct {
	GeneratedAt   time.Time        `json:"generated_at"`
	Network       string           `json:"network"`
	Since         *time.Time       `json:"since,omitempty"`
	AccountFilter string           `json:"account_filter,omitempty"`
	TotalAccounts int              `json:"total_accounts"`
	StateCounts   map[string]int   `json:"state_counts"`
	Accounts      []AccountSummary `json:"accounts"`
	Timeline      []TimelineEntry  `json:"timeline"`
}

// Filter narrows a Build call, per spec.md §6's `report --account` and
// SPEC_FULL's added `--since`.
type Filter struct {
	Account string
	Since   *time.Time
	Now     func() time.Time // test seam; defaults to time.Now
}

// Build scans store and assembles a Report, per spec.md §4.8.
func Build(ctx context.Context, store *ledger.Store, network string, filter Filter) (Report, error) {
	now := filter.Now
	if now == nil {
		now = time.Now
	}

	accounts, err := store.ListAllSponsoredAccounts(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("report: list sponsored accounts: %w", err)
	}

	r := Report{
		GeneratedAt:   now().UTC(),
		Network:       network,
		Since:         filter.Since,
		AccountFilter: filter.Account,
		StateCounts:   map[string]int{},
	}

	for _, a := range accounts {
		if filter.Account != "" && a.AccountPubkey != filter.Account {
			continue
		}
		if filter.Since != nil && a.DiscoveredAt.Before(*filter.Since) {
			continue
		}
		r.StateCounts[string(a.LifecycleState)]++
		r.Accounts = append(r.Accounts, AccountSummary{
			Pubkey:            a.AccountPubkey,
			CreationSignature: a.CreationSignature,
			Slot:              a.Slot,
			Operator:          a.OperatorPubkey,
			DiscoveredAt:      a.DiscoveredAt,
			LifecycleState:    string(a.LifecycleState),
			Lamports:          a.Lamports,
		})

		events, err := store.ListEventsForAccount(ctx, a.AccountPubkey)
		if err != nil {
			return Report{}, fmt.Errorf("report: list events for %s: %w", a.AccountPubkey, err)
		}
		for _, ev := range events {
			if filter.Since != nil && ev.Timestamp.Before(*filter.Since) {
				continue
			}
			r.Timeline = append(r.Timeline, TimelineEntry{
				Timestamp:     ev.Timestamp,
				AccountPubkey: ev.AccountPubkey,
				OldState:      string(ev.OldState),
				NewState:      string(ev.NewState),
				Reason:        ev.TriggerReason,
			})
		}
	}

	r.TotalAccounts = len(r.Accounts)
	sort.Slice(r.Timeline, func(i, j int) bool { return r.Timeline[i].Timestamp.Before(r.Timeline[j].Timestamp) })
	return r, nil
}

// WriteJSON renders r as indented JSON, the same encoder idiom as the
// teacher's doctor command's `-json` flag.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

// WriteText renders r as a human-readable summary, the text-mode half of
// the teacher's doctor command's JSON/text branch.
func WriteText(w io.Writer, r Report) error {
	fmt.Fprintf(w, "kora-rent report (%s)\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "network: %s\n", r.Network)
	if r.AccountFilter != "" {
		fmt.Fprintf(w, "account filter: %s\n", r.AccountFilter)
	}
	if r.Since != nil {
		fmt.Fprintf(w, "since: %s\n", r.Since.Format(time.RFC3339))
	}
	fmt.Fprintln(w, "---")
	fmt.Fprintf(w, "total accounts: %d\n", r.TotalAccounts)

	states := make([]string, 0, len(r.StateCounts))
	for s := range r.StateCounts {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Fprintf(w, "  %-12s %d\n", s, r.StateCounts[s])
	}

	fmt.Fprintln(w, "---")
	fmt.Fprintf(w, "timeline (%d events):\n", len(r.Timeline))
	for _, ev := range r.Timeline {
		fmt.Fprintf(w, "  %s  %s  %s -> %s  (%s)\n",
			ev.Timestamp.Format(time.RFC3339), ev.AccountPubkey, ev.OldState, ev.NewState, ev.Reason)
	}
	return nil
}

// Render serializes r in the requested format and scans the output for
// leaked secrets before returning it, per SPEC_FULL's secret-leak guard: a
// report must never carry keypair material out, even by operator mistake
// (e.g. an `--output` path that also captured a shell redirection).
func Render(format string, r Report) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "", "json":
		err = WriteJSON(&buf, r)
	case "text":
		err = WriteText(&buf, r)
	default:
		return nil, fmt.Errorf("report: unknown format %q", format)
	}
	if err != nil {
		return nil, err
	}

	out := buf.Bytes()
	if warnings := safety.NewLeakDetector().Scan(string(out)); len(warnings) > 0 {
		return nil, fmt.Errorf("report: refusing to write output, detected %d potential secret leak(s): %s", len(warnings), warnings[0].Pattern)
	}
	return out, nil
}
