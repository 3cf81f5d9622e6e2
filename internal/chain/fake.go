package chain

import (
	"context"
	"fmt"
	"sort"
)

// FakeClient is an in-memory Client used by internal/indexer, internal/lifecycle,
// and internal/reclaimer tests. It never touches the network.
type FakeClient struct {
	// Signatures is the full page of signatures for the configured operator,
	// newest first, as a real node would return them.
	Signatures []SignatureInfo
	// Transactions maps signature -> parsed transaction.
	Transactions map[string]*ParsedTransaction
	// Accounts maps address -> current on-chain state; a missing key means
	// the account does not exist.
	Accounts map[string]*AccountInfo

	// SubmittedBatches records every transfer batch passed to SubmitTransferBatch,
	// in call order, for assertions.
	SubmittedBatches [][]Transfer
	// NextSignature is returned (and incremented) by each SubmitTransferBatch call.
	nextSig int
	// SubmitErr, if set, is returned by every SubmitTransferBatch call instead of succeeding.
	SubmitErr error
	// RPCErr, if set, is returned by every read method instead of succeeding.
	RPCErr error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Transactions: map[string]*ParsedTransaction{},
		Accounts:     map[string]*AccountInfo{},
	}
}

func (f *FakeClient) SignaturesForAddress(_ context.Context, _ string, limit int, before, until string) ([]SignatureInfo, error) {
	if f.RPCErr != nil {
		return nil, f.RPCErr
	}
	all := f.Signatures
	start := 0
	if before != "" {
		for i, s := range all {
			if s.Signature == before {
				start = i + 1
				break
			}
		}
	}
	var page []SignatureInfo
	for i := start; i < len(all) && len(page) < limit; i++ {
		if all[i].Signature == until {
			break
		}
		page = append(page, all[i])
	}
	return page, nil
}

func (f *FakeClient) GetTransaction(_ context.Context, signature string) (*ParsedTransaction, error) {
	if f.RPCErr != nil {
		return nil, f.RPCErr
	}
	tx, ok := f.Transactions[signature]
	if !ok {
		return nil, fmt.Errorf("chain: fake client has no transaction for %s", signature)
	}
	return tx, nil
}

func (f *FakeClient) GetMultipleAccounts(_ context.Context, addresses []string) ([]*AccountInfo, error) {
	if f.RPCErr != nil {
		return nil, f.RPCErr
	}
	out := make([]*AccountInfo, len(addresses))
	for i, addr := range addresses {
		out[i] = f.Accounts[addr]
	}
	return out, nil
}

func (f *FakeClient) SubmitTransferBatch(_ context.Context, _ Signer, transfers []Transfer) (string, error) {
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.nextSig++
	sig := fmt.Sprintf("fake-sig-%d", f.nextSig)
	batch := make([]Transfer, len(transfers))
	copy(batch, transfers)
	f.SubmittedBatches = append(f.SubmittedBatches, batch)

	for _, t := range transfers {
		f.Accounts[t.Account] = &AccountInfo{Lamports: 0, DataLen: 0, Owner: SystemProgramID}
	}
	return sig, nil
}

// SortedAddresses returns the fake client's known account addresses in
// ascending order, a convenience for deterministic test fixtures.
func (f *FakeClient) SortedAddresses() []string {
	out := make([]string, 0, len(f.Accounts))
	for addr := range f.Accounts {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}
