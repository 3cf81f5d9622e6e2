// Package statehash computes the Merkle-style digest over the ledger's two
// hashed tables (sponsored_accounts, lifecycle_events) that the Attestation
// Service binds into every attestation document.
//
// No Merkle/state-hashing library appears in the example corpus for this
// domain; crypto/sha256 plus internal/canonical is the whole dependency
// surface, matching how the teacher reaches for stdlib hash packages
// directly wherever no ecosystem library specializes in the exact shape
// needed (see DESIGN.md).
package statehash

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/kora-labs/kora-rent/internal/canonical"
)

// RowSource supplies the two hashed tables in the fixed row order the
// digest depends on. internal/ledger.Store implements this interface; this
// package never imports internal/ledger, so the ledger's storage engine can
// change without this package noticing (spec.md: "stable... regardless of
// the ledger engine's physical layout").
type RowSource interface {
	// SponsoredAccountRows returns every sponsored_accounts row, ordered by
	// account_pubkey ascending, each as a canonicalizable mapping.
	SponsoredAccountRows(ctx context.Context) ([]map[string]interface{}, error)
	// LifecycleEventRows returns every lifecycle_events row, ordered by id
	// ascending, each as a canonicalizable mapping.
	LifecycleEventRows(ctx context.Context) ([]map[string]interface{}, error)
}

const (
	sponsoredAccountsEmptyTag = "sponsored_accounts:empty"
	lifecycleEventsEmptyTag   = "lifecycle_events:empty"
)

// Hash computes H_db per spec.md §4.2 and renders it as lowercase hex.
func Hash(ctx context.Context, src RowSource) (string, error) {
	accountRows, err := src.SponsoredAccountRows(ctx)
	if err != nil {
		return "", fmt.Errorf("statehash: read sponsored_accounts: %w", err)
	}
	eventRows, err := src.LifecycleEventRows(ctx)
	if err != nil {
		return "", fmt.Errorf("statehash: read lifecycle_events: %w", err)
	}

	hAccounts, err := hashTable(sponsoredAccountsEmptyTag, accountRows)
	if err != nil {
		return "", err
	}
	hEvents, err := hashTable(lifecycleEventsEmptyTag, eventRows)
	if err != nil {
		return "", err
	}

	root := sha256.Sum256(append(append([]byte{}, hAccounts[:]...), hEvents[:]...))
	return fmt.Sprintf("%x", root), nil
}

func hashTable(emptyTag string, rows []map[string]interface{}) ([32]byte, error) {
	if len(rows) == 0 {
		return sha256.Sum256([]byte(emptyTag)), nil
	}

	h := sha256.New()
	for _, row := range rows {
		encoded, err := canonical.Marshal(row)
		if err != nil {
			return [32]byte{}, fmt.Errorf("statehash: canonicalize row: %w", err)
		}
		rowHash := sha256.Sum256(encoded)
		h.Write(rowHash[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
