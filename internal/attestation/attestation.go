// Package attestation implements the Attestation Service of spec.md §4.7:
// a four-phase construction (DB state hash, result digest, manifest,
// attestation hash + optional signature) that lets a verifier, handed only
// the resulting document, confirm a reclamation run's outcome without
// touching the ledger or the chain.
package attestation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"sort"
	"strconv"

	"github.com/kora-labs/kora-rent/internal/canonical"
	"github.com/kora-labs/kora-rent/internal/chain"
	"github.com/kora-labs/kora-rent/internal/ledger"
	"github.com/kora-labs/kora-rent/internal/statehash"
)

// SchemaVersion is the literal manifest version, spec.md §4.7(c).
const SchemaVersion = "1.0.0"

// Manifest is phase (c) of attestation construction.
type Manifest struct {
	Version        string                 `json:"version"`
	Network        string                 `json:"network"`
	OperatorPubkey *string                `json:"operator_pubkey"`
	Config         map[string]interface{} `json:"config"`
	RPCEndpoint    string                 `json:"rpc_endpoint"`
	DBStateHash    string                 `json:"db_state_hash"`
	Candidates     []string               `json:"candidates"`
}

func (m Manifest) canonical() map[string]interface{} {
	candidates := make([]interface{}, len(m.Candidates))
	for i, c := range m.Candidates {
		candidates[i] = c
	}
	var operator interface{}
	if m.OperatorPubkey != nil {
		operator = *m.OperatorPubkey
	}
	return map[string]interface{}{
		"version":         m.Version,
		"network":         m.Network,
		"operator_pubkey": operator,
		"config":          m.Config,
		"rpc_endpoint":    m.RPCEndpoint,
		"db_state_hash":   m.DBStateHash,
		"candidates":      candidates,
	}
}

// FailureEntry is one failed account in a ResultDigest.
type FailureEntry struct {
	Pubkey string `json:"pubkey"`
	Reason string `json:"reason"`
}

// ResultDigest is phase (b) of attestation construction.
type ResultDigest struct {
	EvaluatedCount         int              `json:"evaluated_count"`
	Accounts               map[string]string `json:"accounts"`
	TotalLamportsReclaimed string           `json:"total_lamports_reclaimed"`
	TransactionSignatures  []string         `json:"transaction_signatures"`
	Failures               []FailureEntry   `json:"failures"`
}

func (r ResultDigest) canonical() map[string]interface{} {
	accounts := make(map[string]interface{}, len(r.Accounts))
	for k, v := range r.Accounts {
		accounts[k] = v
	}
	sigs := make([]interface{}, len(r.TransactionSignatures))
	for i, s := range r.TransactionSignatures {
		sigs[i] = s
	}
	failures := make([]interface{}, len(r.Failures))
	for i, f := range r.Failures {
		failures[i] = map[string]interface{}{"pubkey": f.Pubkey, "reason": f.Reason}
	}
	return map[string]interface{}{
		"evaluated_count":          r.EvaluatedCount,
		"accounts":                 accounts,
		"total_lamports_reclaimed": r.TotalLamportsReclaimed,
		"transaction_signatures":   sigs,
		"failures":                 failures,
	}
}

// Document is the final attestation artifact, spec.md §4.7(d).
type Document struct {
	Manifest        Manifest     `json:"manifest"`
	DBStateHash     string       `json:"db_state_hash"`
	ResultDigest    ResultDigest `json:"result_digest"`
	AttestationHash string       `json:"attestation_hash"`
	Signature       *string      `json:"signature,omitempty"`
}

// Config carries the effective configuration recorded in the manifest plus
// the optional operator signing key, spec.md §4.7's inputs.
type Config struct {
	Network       string
	MinLamports   int64
	MinAgeDays    int
	WhitelistHash string // empty means null in the manifest
	RPCEndpoint   string
	Signer        *chain.Signer
}

// Generate runs all four construction phases against store and returns the
// finished document.
func Generate(ctx context.Context, store *ledger.Store, cfg Config) (Document, error) {
	dbHash, err := statehash.Hash(ctx, store)
	if err != nil {
		return Document{}, fmt.Errorf("attestation: db state hash: %w", err)
	}

	digest, err := buildResultDigest(ctx, store)
	if err != nil {
		return Document{}, fmt.Errorf("attestation: result digest: %w", err)
	}

	endpoint, err := sanitizeRPCEndpoint(cfg.RPCEndpoint)
	if err != nil {
		return Document{}, fmt.Errorf("attestation: sanitize rpc endpoint: %w", err)
	}

	candidates := make([]string, 0, len(digest.Accounts))
	for pk := range digest.Accounts {
		candidates = append(candidates, pk)
	}
	sort.Strings(candidates)

	var operatorPubkey *string
	if cfg.Signer != nil {
		pk := cfg.Signer.PubkeyBase58()
		operatorPubkey = &pk
	}

	var whitelistHash interface{}
	if cfg.WhitelistHash != "" {
		whitelistHash = cfg.WhitelistHash
	}

	manifest := Manifest{
		Version:        SchemaVersion,
		Network:        cfg.Network,
		OperatorPubkey: operatorPubkey,
		Config: map[string]interface{}{
			"min_lamports":   cfg.MinLamports,
			"min_age_days":   cfg.MinAgeDays,
			"whitelist_hash": whitelistHash,
		},
		RPCEndpoint: endpoint,
		DBStateHash: dbHash,
		Candidates:  candidates,
	}

	attHash, err := computeAttestationHash(manifest, dbHash, digest)
	if err != nil {
		return Document{}, fmt.Errorf("attestation: compute hash: %w", err)
	}

	doc := Document{
		Manifest:        manifest,
		DBStateHash:     dbHash,
		ResultDigest:    digest,
		AttestationHash: hex.EncodeToString(attHash[:]),
	}

	if cfg.Signer != nil {
		sig := cfg.Signer.Sign(attHash[:])
		encoded := base64.StdEncoding.EncodeToString(sig)
		doc.Signature = &encoded
	}
	return doc, nil
}

// buildResultDigest implements phase (b), spec.md §4.7.
func buildResultDigest(ctx context.Context, store *ledger.Store) (ResultDigest, error) {
	accounts, err := store.ListAllSponsoredAccounts(ctx)
	if err != nil {
		return ResultDigest{}, fmt.Errorf("list sponsored accounts: %w", err)
	}

	digest := ResultDigest{
		EvaluatedCount: len(accounts),
		Accounts:       make(map[string]string, len(accounts)),
	}
	total := new(big.Int)
	var signatures []string
	var failures []FailureEntry

	for _, a := range accounts {
		digest.Accounts[a.AccountPubkey] = string(a.LifecycleState)

		switch a.LifecycleState {
		case ledger.StateReclaimed:
			ev, ok, err := store.MostRecentEventByNewState(ctx, a.AccountPubkey, ledger.StateReclaimed)
			if err != nil {
				return ResultDigest{}, fmt.Errorf("most recent reclaimed event for %s: %w", a.AccountPubkey, err)
			}
			if !ok {
				continue
			}
			amount, sig, err := parseReclaimEvidence(ev.EvidencePayload)
			if err != nil {
				return ResultDigest{}, fmt.Errorf("parse evidence for %s: %w", a.AccountPubkey, err)
			}
			total.Add(total, new(big.Int).SetUint64(amount))
			if sig != "" {
				signatures = append(signatures, sig)
			}
		case ledger.StateFailed:
			ev, ok, err := store.MostRecentEventByNewState(ctx, a.AccountPubkey, ledger.StateFailed)
			if err != nil {
				return ResultDigest{}, fmt.Errorf("most recent failed event for %s: %w", a.AccountPubkey, err)
			}
			if !ok {
				continue
			}
			failures = append(failures, FailureEntry{Pubkey: a.AccountPubkey, Reason: ev.TriggerReason})
		}
	}

	sort.Strings(signatures)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Pubkey < failures[j].Pubkey })

	digest.TotalLamportsReclaimed = total.String()
	digest.TransactionSignatures = signatures
	digest.Failures = failures
	return digest, nil
}

// parseReclaimEvidence extracts amount/signature from the canonicalized
// evidence internal/reclaimer wrote on RECLAIMED. Canonical encoding emits
// integers below 2^53 as bare JSON numbers and larger ones as quoted decimal
// strings, so both shapes are handled.
func parseReclaimEvidence(raw []byte) (amount uint64, signature string, err error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return 0, "", fmt.Errorf("decode evidence: %w", err)
	}

	switch v := m["amount"].(type) {
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return 0, "", fmt.Errorf("parse amount %q: %w", v.String(), err)
		}
		amount = n
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, "", fmt.Errorf("parse amount %q: %w", v, err)
		}
		amount = n
	}

	if sig, ok := m["signature"].(string); ok {
		signature = sig
	}
	return amount, signature, nil
}

// sanitizeRPCEndpoint reduces raw to scheme://host, dropping credentials,
// path, and query, per spec.md §4.7(c).
func sanitizeRPCEndpoint(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse rpc endpoint: %w", err)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// computeAttestationHash implements phase (d)'s H_att formula.
func computeAttestationHash(manifest Manifest, dbHashHex string, digest ResultDigest) ([32]byte, error) {
	manifestBytes, err := canonical.Marshal(manifest.canonical())
	if err != nil {
		return [32]byte{}, fmt.Errorf("canonicalize manifest: %w", err)
	}
	digestBytes, err := canonical.Marshal(digest.canonical())
	if err != nil {
		return [32]byte{}, fmt.Errorf("canonicalize result digest: %w", err)
	}
	dbHashRaw, err := hex.DecodeString(dbHashHex)
	if err != nil {
		return [32]byte{}, fmt.Errorf("decode db state hash: %w", err)
	}

	buf := make([]byte, 0, len(manifestBytes)+len(dbHashRaw)+len(digestBytes))
	buf = append(buf, manifestBytes...)
	buf = append(buf, dbHashRaw...)
	buf = append(buf, digestBytes...)
	return sha256.Sum256(buf), nil
}

// Verify implements spec.md §4.7's three-step verification. It requires no
// access to the ledger or chain: only the document itself.
func Verify(doc Document) (bool, error) {
	attHash, err := computeAttestationHash(doc.Manifest, doc.DBStateHash, doc.ResultDigest)
	if err != nil {
		return false, fmt.Errorf("attestation: recompute hash: %w", err)
	}
	if hex.EncodeToString(attHash[:]) != doc.AttestationHash {
		return false, nil
	}
	if doc.Manifest.DBStateHash != doc.DBStateHash {
		return false, nil
	}

	if doc.Signature != nil && doc.Manifest.OperatorPubkey != nil {
		sig, err := base64.StdEncoding.DecodeString(*doc.Signature)
		if err != nil {
			return false, fmt.Errorf("attestation: decode signature: %w", err)
		}
		ok, err := chain.VerifyDetached(*doc.Manifest.OperatorPubkey, attHash[:], sig)
		if err != nil {
			return false, fmt.Errorf("attestation: verify signature: %w", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
