// Package policy implements the Policy Engine of spec.md §4.5: a pure
// decision function over ledger rows, with no chain access, that applies a
// fixed-order rule table to assign each account's next lifecycle state.
//
// Adapted from the teacher's internal/policy.Policy — same "serializable
// rule set, evaluated top-to-bottom, first match wins" shape as the
// teacher's AllowHTTPURL/AllowCapability domain allow-lists, generalized
// from URL/capability matching to the account-ledger rule table below.
package policy

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kora-labs/kora-rent/internal/canonical"
	"github.com/kora-labs/kora-rent/internal/chain"
	"github.com/kora-labs/kora-rent/internal/ledger"
)

// Reasons assigned by the rule table, spec.md §4.5.
const (
	ReasonWhitelisted    = "Whitelisted"
	ReasonMissingData    = "Missing lifecycle data"
	ReasonOwnerMismatch  = "Owner mismatch"
	ReasonHasData        = "Has data"
	ReasonBelowDustFloor = "Below dust floor"
	ReasonZeroBalance    = "Zero balance"
	ReasonTooYoung       = "Too young"
	ReasonPassesAllRules = "Passes all rules"
)

// Policy holds the rule-table parameters: the whitelist, the dust floor,
// and the minimum account age before reclamation is considered.
type Policy struct {
	Whitelist   map[string]struct{}
	MinLamports int64
	MinAgeDays  int
}

// New builds a Policy from an operator's whitelist (unnormalized base58
// pubkeys, as loaded by config.Load) and the dust/age thresholds.
func New(whitelist []string, minLamports int64, minAgeDays int) *Policy {
	set := make(map[string]struct{}, len(whitelist))
	for _, pk := range whitelist {
		pk = strings.TrimSpace(pk)
		if pk == "" {
			continue
		}
		set[pk] = struct{}{}
	}
	return &Policy{Whitelist: set, MinLamports: minLamports, MinAgeDays: minAgeDays}
}

// Decision is the outcome of evaluating the rule table against one account.
type Decision struct {
	NewState   ledger.LifecycleState
	Reason     string
	Transition bool // false for rule 7's "no transition" case
}

// Decide applies the rule table of spec.md §4.5 to acct at time now, in
// fixed order, returning the first matching rule's outcome.
func (p *Policy) Decide(acct ledger.SponsoredAccount, now time.Time) Decision {
	if _, ok := p.Whitelist[acct.AccountPubkey]; ok {
		return Decision{NewState: ledger.StateProtected, Reason: ReasonWhitelisted, Transition: true}
	}

	if acct.Lamports == nil || acct.OwnerProgram == nil {
		return Decision{NewState: ledger.StateSkipped, Reason: ReasonMissingData, Transition: true}
	}

	if *acct.OwnerProgram != chain.SystemProgramID {
		return Decision{NewState: ledger.StateSkipped, Reason: ReasonOwnerMismatch, Transition: true}
	}

	if acct.DataLen != nil && *acct.DataLen > 0 {
		return Decision{NewState: ledger.StateSkipped, Reason: ReasonHasData, Transition: true}
	}

	if *acct.Lamports < p.MinLamports {
		return Decision{NewState: ledger.StateDust, Reason: ReasonBelowDustFloor, Transition: true}
	}

	if *acct.Lamports <= 0 {
		return Decision{NewState: ledger.StateSkipped, Reason: ReasonZeroBalance, Transition: true}
	}

	if p.MinAgeDays > 0 && acct.LastLifecycleCheck != nil {
		age := now.Sub(*acct.LastLifecycleCheck)
		if age < time.Duration(p.MinAgeDays)*24*time.Hour {
			return Decision{Reason: ReasonTooYoung, Transition: false}
		}
	}

	return Decision{NewState: ledger.StateReclaimable, Reason: ReasonPassesAllRules, Transition: true}
}

// evaluableStates are the lifecycle states the Policy Engine re-evaluates:
// ACTIVE (first pass after Lifecycle observes it) and SKIPPED (explicitly
// non-terminal and re-evaluable per spec.md §4.5's state machine). CLOSED is
// revisited only by the Lifecycle Engine; DISCOVERED has no lifecycle data
// yet and would only ever hit rule 2.
var evaluableStates = map[ledger.LifecycleState]struct{}{
	ledger.StateActive:  {},
	ledger.StateSkipped: {},
}

// RunResult summarizes one Evaluate pass.
type RunResult struct {
	Evaluated int
	Changed   int
}

// Evaluate scans every sponsored account in account_pubkey ASC order and,
// for each ACTIVE or SKIPPED row, applies the rule table and writes a
// transition when the decision changes the row's state. A transition writes
// a LifecycleEvent carrying the full effective configuration as evidence,
// per spec.md §4.5. When dryRun is true, decisions are computed and counted
// but no ledger write occurs, matching spec.md §6's `policy evaluate
// --dry-run`.
func Evaluate(ctx context.Context, store *ledger.Store, p *Policy, now time.Time, dryRun bool) (RunResult, error) {
	accounts, err := store.ListAllSponsoredAccounts(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("policy: list sponsored accounts: %w", err)
	}

	var result RunResult
	for _, acct := range accounts {
		if _, ok := evaluableStates[acct.LifecycleState]; !ok {
			continue
		}
		result.Evaluated++

		decision := p.Decide(acct, now)
		if !decision.Transition || decision.NewState == acct.LifecycleState {
			continue
		}

		if dryRun {
			result.Changed++
			continue
		}

		evidence, err := evidencePayload(p, acct, decision, now)
		if err != nil {
			return result, fmt.Errorf("policy: build evidence for %s: %w", acct.AccountPubkey, err)
		}

		tr, err := store.TransitionState(ctx, acct.AccountPubkey,
			[]ledger.LifecycleState{acct.LifecycleState}, decision.NewState, decision.Reason, evidence, false)
		if err != nil {
			return result, fmt.Errorf("policy: transition %s: %w", acct.AccountPubkey, err)
		}
		if tr.Applied {
			result.Changed++
		}
	}
	return result, nil
}

func evidencePayload(p *Policy, acct ledger.SponsoredAccount, decision Decision, now time.Time) ([]byte, error) {
	m := map[string]interface{}{
		"min_lamports":   p.MinLamports,
		"min_age_days":   p.MinAgeDays,
		"whitelist_hash": WhitelistHash(p.Whitelist),
		"reason":         decision.Reason,
		"evaluated_at":   now.UTC().Format(time.RFC3339),
	}
	if acct.Lamports != nil {
		m["lamports"] = *acct.Lamports
	}
	if acct.DataLen != nil {
		m["data_len"] = *acct.DataLen
	}
	if acct.OwnerProgram != nil {
		m["owner_program"] = *acct.OwnerProgram
	}
	return canonical.Marshal(m)
}

// WhitelistHash returns a stable fingerprint of the whitelist set, used in
// evidence payloads and the Attestation Service's config manifest so two
// runs with the same whitelist (insertion order aside) hash identically.
func WhitelistHash(whitelist map[string]struct{}) string {
	if len(whitelist) == 0 {
		return ""
	}
	keys := make([]string, 0, len(whitelist))
	for k := range whitelist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New64a()
	for _, k := range keys {
		_, _ = h.Write([]byte(k + "|"))
	}
	return "wl-" + strconv.FormatUint(h.Sum64(), 16)
}
