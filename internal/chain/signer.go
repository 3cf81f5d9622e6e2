package chain

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
)

// Signer is the operator's fee-paying and signing key. Nothing in this
// package or internal/reclaimer trusts any balance cached in the ledger;
// Signer only ever signs what internal/reclaimer has just re-verified
// on chain.
type Signer struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// PubkeyBase58 renders the signer's public half the way every other address
// in this module is rendered.
func (s Signer) PubkeyBase58() string {
	return EncodeBase58(s.PublicKey)
}

// Sign produces a detached signature over msg.
func (s Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.PrivateKey, msg)
}

// LoadKeypairFile reads a JSON array of the 64-byte Ed25519 secret key, the
// format the target chain's CLI tooling uses for keypair files (§6).
func LoadKeypairFile(path string) (Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Signer{}, fmt.Errorf("chain: read keypair file: %w", err)
	}
	var raw []byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return Signer{}, fmt.Errorf("chain: parse keypair file: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return Signer{}, fmt.Errorf("chain: keypair file must contain exactly %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return Signer{}, fmt.Errorf("chain: unable to derive public key from keypair file")
	}
	return Signer{PublicKey: pub, PrivateKey: priv}, nil
}

// VerifyDetached checks a detached Ed25519 signature over msg under the
// base58-encoded pubkey. Used by internal/attestation's verifier.
func VerifyDetached(pubkeyBase58 string, msg, signature []byte) (bool, error) {
	raw, err := DecodeBase58(pubkeyBase58)
	if err != nil {
		return false, fmt.Errorf("chain: decode pubkey: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return false, fmt.Errorf("chain: pubkey must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.Verify(ed25519.PublicKey(raw), msg, signature), nil
}

// ValidatePubkey reports whether s decodes to a 32-byte base58 address.
func ValidatePubkey(s string) error {
	raw, err := DecodeBase58(s)
	if err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("chain: address must decode to %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return nil
}
