package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SponsoredAccountRows implements internal/statehash.RowSource: every
// sponsored_accounts row, ordered by account_pubkey ascending, as a
// canonicalizable mapping. Nullable columns map to a literal nil so
// internal/canonical renders them as JSON null, matching a row's on-disk
// nullability byte-for-byte regardless of the ledger engine.
func (s *Store) SponsoredAccountRows(ctx context.Context) ([]map[string]interface{}, error) {
	accounts, err := s.ListAllSponsoredAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(accounts))
	for _, a := range accounts {
		row := map[string]interface{}{
			"account_pubkey":     a.AccountPubkey,
			"creation_signature": a.CreationSignature,
			"slot":               a.Slot,
			"operator_pubkey":    a.OperatorPubkey,
			"discovered_at":      formatTime(a.DiscoveredAt),
			"lifecycle_state":    string(a.LifecycleState),
			"lamports":           nullableInt(a.Lamports),
			"data_len":           nullableInt(a.DataLen),
			"owner_program":      nullableString(a.OwnerProgram),
			"last_lifecycle_check": nullableTime(a.LastLifecycleCheck),
			"processing_lock":    nullableString(a.ProcessingLock),
		}
		out = append(out, row)
	}
	return out, nil
}

// LifecycleEventRows implements internal/statehash.RowSource: every
// lifecycle_events row, ordered by id ascending. evidence_payload is
// decoded from its stored JSON text back into a structured value so the
// State Hasher canonicalizes its actual structure rather than a quoted
// string blob, per spec.md §9: "the State Hasher includes them verbatim."
func (s *Store) LifecycleEventRows(ctx context.Context) ([]map[string]interface{}, error) {
	events, err := s.ListAllEvents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		var evidence interface{}
		if len(e.EvidencePayload) > 0 {
			if err := json.Unmarshal(e.EvidencePayload, &evidence); err != nil {
				return nil, fmt.Errorf("ledger: decode evidence_payload for event %d: %w", e.ID, err)
			}
		}
		row := map[string]interface{}{
			"id":               e.ID,
			"account_pubkey":   e.AccountPubkey,
			"old_state":        string(e.OldState),
			"new_state":        string(e.NewState),
			"trigger_reason":   e.TriggerReason,
			"evidence_payload": jsonToCanonical(evidence),
			"timestamp":        formatTime(e.Timestamp),
		}
		out = append(out, row)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return formatTime(*v)
}

// jsonToCanonical converts the generic interface{} tree produced by
// encoding/json.Unmarshal (map[string]interface{}, []interface{}, float64,
// string, bool, nil) into the types internal/canonical.Marshal accepts.
// json.Unmarshal always decodes numbers as float64; evidence payloads in
// this module only ever carry integers, so this converts whole-valued
// float64s back to int64 rather than risk canonical rejecting a float.
func jsonToCanonical(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = jsonToCanonical(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = jsonToCanonical(val)
		}
		return out
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
		return x
	default:
		return x
	}
}
