// Package wallet provides the concrete wallet integrations: a remote
// signing service client and a JSON-RPC ERC-20 balance reader. Private key
// material never enters this process.
package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// RemoteSigner asks an external signing service for EIP-712 signatures. The
// service holds the key; the proxy sends only 32-byte digests.
type RemoteSigner struct {
	http    *http.Client
	baseURL string
	address string
}

// NewRemoteSigner builds a signer against the service's base URL. address
// is the wallet address the service signs for.
func NewRemoteSigner(httpClient *http.Client, baseURL, address string) *RemoteSigner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteSigner{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		address: strings.ToLower(address),
	}
}

func (s *RemoteSigner) Address() string { return s.address }

// SignDigest posts the digest to the signing service and returns the 65-byte
// signature.
func (s *RemoteSigner) SignDigest(digest [32]byte) ([]byte, error) {
	reqBody, err := json.Marshal(map[string]string{
		"address": s.address,
		"digest":  "0x" + hex.EncodeToString(digest[:]),
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.http.Post(s.baseURL+"/sign", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("signer request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("read signer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse signer response: %w", err)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(out.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature length %d, want 65", len(sig))
	}
	return sig, nil
}

// balanceOfSelector is the first 4 bytes of keccak256("balanceOf(address)").
const balanceOfSelector = "70a08231"

// RPCClient reads chain state over JSON-RPC.
type RPCClient struct {
	http   *http.Client
	url    string
	nextID atomic.Int64
}

func NewRPCClient(httpClient *http.Client, url string) *RPCClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RPCClient{http: httpClient, url: url}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// BalanceOf calls token.balanceOf(owner) via eth_call.
func (c *RPCClient) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	owner = strings.TrimPrefix(strings.ToLower(owner), "0x")
	if len(owner) != 40 {
		return nil, fmt.Errorf("invalid owner address %q", owner)
	}
	data := "0x" + balanceOfSelector + strings.Repeat("0", 24) + owner

	var result string
	err := c.call(ctx, "eth_call", []any{
		map[string]string{"to": token, "data": data},
		"latest",
	}, &result)
	if err != nil {
		return nil, err
	}

	hexVal := strings.TrimPrefix(result, "0x")
	if hexVal == "" {
		return big.NewInt(0), nil
	}
	bal, ok := new(big.Int).SetString(hexVal, 16)
	if !ok {
		return nil, fmt.Errorf("unparseable balance %q", result)
	}
	return bal, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("rpc %s read: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("rpc %s parse: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	return json.Unmarshal(rpcResp.Result, out)
}
