package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	globalotel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kora-labs/kora-rent/internal/canonical"
	otelpkg "github.com/kora-labs/kora-rent/internal/otel"
)

// RPCClient is the concrete Client that speaks to a live node over JSON-RPC.
// It is the one piece spec.md §6 calls an "external collaborator": the
// interface is pinned down in chain.go and exercised against FakeClient in
// every package's tests, but a real deployment needs a real transport, so
// this file supplies one rather than leaving the CLI unable to run at all.
type RPCClient struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewRPCClient builds an RPCClient against endpoint with a sane request
// timeout. A nil http.Client is never used; callers that need different
// transport behavior (proxies, retries) set HTTPClient directly.
func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call issues one JSON-RPC request and decodes its result into out. Any
// transport failure or RPC-level error is wrapped in ErrRPC so callers can
// classify it as spec.md §7's TransientRPCError via errors.Is.
func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) (err error) {
	tracer := globalotel.Tracer(otelpkg.TracerName)
	ctx, span := otelpkg.StartClientSpan(ctx, tracer, "chain.rpc/"+method, attribute.String("rpc.method", method))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, marshalErr := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if marshalErr != nil {
		err = fmt.Errorf("%w: encode request: %w", ErrRPC, marshalErr)
		return err
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if reqErr != nil {
		err = fmt.Errorf("%w: build request: %w", ErrRPC, reqErr)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, doErr := c.HTTPClient.Do(req)
	if doErr != nil {
		err = fmt.Errorf("%w: %w", ErrRPC, doErr)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("%w: unexpected status %d", ErrRPC, resp.StatusCode)
		return err
	}

	var rpcResp rpcResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&rpcResp); decodeErr != nil {
		err = fmt.Errorf("%w: decode response: %w", ErrRPC, decodeErr)
		return err
	}
	if rpcResp.Error != nil {
		err = fmt.Errorf("%w: %s (code %d)", ErrRPC, rpcResp.Error.Message, rpcResp.Error.Code)
		return err
	}
	if out == nil {
		return nil
	}
	if unmarshalErr := json.Unmarshal(rpcResp.Result, out); unmarshalErr != nil {
		err = fmt.Errorf("%w: decode result: %w", ErrRPC, unmarshalErr)
		return err
	}
	return nil
}

// SignaturesForAddress implements Client.
func (c *RPCClient) SignaturesForAddress(ctx context.Context, address string, limit int, before, until string) ([]SignatureInfo, error) {
	params := map[string]interface{}{"limit": limit}
	if before != "" {
		params["before"] = before
	}
	if until != "" {
		params["until"] = until
	}
	var out []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{address, params}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransaction implements Client.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	var out ParsedTransaction
	if err := c.call(ctx, "getTransaction", []interface{}{signature}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMultipleAccounts implements Client.
func (c *RPCClient) GetMultipleAccounts(ctx context.Context, addresses []string) ([]*AccountInfo, error) {
	var out []*AccountInfo
	if err := c.call(ctx, "getMultipleAccounts", []interface{}{addresses}, &out); err != nil {
		return nil, err
	}
	if len(out) != len(addresses) {
		return nil, fmt.Errorf("%w: expected %d account entries, got %d", ErrRPC, len(addresses), len(out))
	}
	return out, nil
}

// transferBatchMessage is the canonicalized payload SubmitTransferBatch
// signs: one system-program transfer per leg, from each reclaimed account
// to the operator. Canonical encoding keeps the signed bytes identical to
// whatever the node re-derives when it verifies the signature.
type transferBatchMessage struct {
	Operator  string     `json:"operator"`
	Transfers []Transfer `json:"transfers"`
}

type submitResult struct {
	Signature string `json:"signature"`
}

// SubmitTransferBatch implements Client: it signs a canonicalized transfer
// message client-side and submits it alongside the signature, blocking
// until the node reports "confirmed" commitment (or returns an error).
func (c *RPCClient) SubmitTransferBatch(ctx context.Context, signer Signer, transfers []Transfer) (string, error) {
	msg := transferBatchMessage{Operator: signer.PubkeyBase58(), Transfers: transfers}
	msgMap := map[string]interface{}{
		"operator":  msg.Operator,
		"transfers": transfersToCanonical(msg.Transfers),
	}
	encoded, err := canonical.Marshal(msgMap)
	if err != nil {
		return "", fmt.Errorf("canonicalize transfer batch: %w", err)
	}
	sig := signer.Sign(encoded)

	var out submitResult
	params := []interface{}{
		map[string]interface{}{
			"message":   string(encoded),
			"signature": EncodeBase58(sig),
			"pubkey":    signer.PubkeyBase58(),
		},
	}
	if err := c.call(ctx, "submitTransferBatch", params, &out); err != nil {
		return "", err
	}
	if out.Signature == "" {
		return "", fmt.Errorf("%w: node returned empty signature", ErrRPC)
	}
	return out.Signature, nil
}

func transfersToCanonical(transfers []Transfer) []interface{} {
	out := make([]interface{}, len(transfers))
	for i, t := range transfers {
		out[i] = map[string]interface{}{"account": t.Account, "lamports": t.Lamports}
	}
	return out
}
