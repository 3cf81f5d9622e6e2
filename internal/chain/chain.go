// Package chain defines the abstract read/submit interface this module needs
// from a Solana-like account-model chain, plus the address/keypair encoding
// helpers (base58, Ed25519) that the rest of the pipeline builds on.
//
// No concrete RPC client lives here. §6 of the spec treats the chain RPC
// client as an external collaborator; this package only pins down the three
// read operations and the one submit operation the pipeline depends on, so
// that internal/indexer, internal/lifecycle, and internal/reclaimer can be
// tested against a fake without a live node.
package chain

import (
	"context"
	"errors"
)

// SystemProgramID is the all-zeroes base58 address that owns ordinary,
// data-less accounts on the target chain.
const SystemProgramID = "11111111111111111111111111111111"

// AccountInfo is the on-chain snapshot of a single address, as returned by
// GetMultipleAccounts. A nil *AccountInfo in the returned slice means the
// address does not exist on chain.
type AccountInfo struct {
	Lamports   uint64
	DataLen    int
	Owner      string
	Executable bool
}

// IsRentExempt reports whether lamports covers the rent-exempt minimum for
// an account of this size, using the same linear formula the target chain
// uses: a fixed per-account overhead plus a per-byte rate.
func (a AccountInfo) IsRentExempt() bool {
	return a.Lamports >= RentExemptMinimum(a.DataLen)
}

// Rent constants mirror the target chain's default rent parameters.
const (
	rentAccountOverheadBytes = 128
	rentLamportsPerByteYear  = 3480
	rentExemptYears          = 2
)

// RentExemptMinimum computes the minimum lamport balance an account of the
// given data length must hold to be exempt from rent collection.
func RentExemptMinimum(dataLen int) uint64 {
	return uint64(dataLen+rentAccountOverheadBytes) * rentLamportsPerByteYear * rentExemptYears
}

// SignatureInfo is one entry of a signatures-for-address page.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	Err       string // non-empty if the transaction failed on chain
}

// AccountCreation is a single system-program create_account instruction
// extracted from a parsed transaction, per spec.md §4.3.
type AccountCreation struct {
	NewAccount string
	Signature  string
	Slot       uint64
	Operator   string
}

// ParsedTransaction is the subset of a fetched transaction's fields the
// Indexer needs to decide whether it discovered a sponsored account.
type ParsedTransaction struct {
	Signature     string
	Slot          uint64
	FeePayer      string
	Instructions  []Instruction
}

// Instruction is one instruction of a parsed transaction.
type Instruction struct {
	Program  string // "system" for the system program
	Type     string // "create_account" for account creation
	From     string
	NewAccount string
}

// ErrRPC wraps a transient failure from the chain RPC client. Callers use
// errors.Is(err, ErrRPC) to detect TransientRPCError per spec.md §7.
var ErrRPC = errors.New("chain rpc error")

// Client is the minimal read/submit surface the pipeline needs. §6 requires
// exactly three read operations and one submit-and-confirm operation.
type Client interface {
	// SignaturesForAddress lists up to limit signatures for address, paginating
	// backwards via before and stopping once until is reached (exclusive).
	SignaturesForAddress(ctx context.Context, address string, limit int, before, until string) ([]SignatureInfo, error)

	// GetTransaction fetches and parses a transaction by signature.
	GetTransaction(ctx context.Context, signature string) (*ParsedTransaction, error)

	// GetMultipleAccounts fetches on-chain info for a batch of addresses.
	// The returned slice has the same length and order as addresses; a nil
	// entry means the account does not exist.
	GetMultipleAccounts(ctx context.Context, addresses []string) ([]*AccountInfo, error)

	// SubmitTransferBatch builds, signs, and submits a single transaction
	// containing one system-program transfer per (account, lamports) pair,
	// from each account to the operator, signed by signer. It blocks until
	// "confirmed" commitment or returns an error.
	SubmitTransferBatch(ctx context.Context, signer Signer, transfers []Transfer) (signature string, err error)
}

// Transfer is one leg of a reclaim transaction: move lamports out of
// account into the operator's account.
type Transfer struct {
	Account  string
	Lamports uint64
}
