// Package cosmwasm talks to a Cosmos SDK chain with the wasm module: smart
// contract queries, balances and accounts over the LCD REST gateway, signed
// transaction broadcast, and CometBFT new-block subscriptions.
package cosmwasm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// Client is a REST client for the LCD (gRPC gateway) endpoint of a node.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an LCD client. A zero timeout defaults to 30s.
func NewClient(lcdURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(lcdURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AccountInfo carries the signing metadata of an account.
type AccountInfo struct {
	Address       string `json:"address"`
	AccountNumber uint64 `json:"account_number,string"`
	Sequence      uint64 `json:"sequence,string"`
}

// TxResponse is the subset of sdk.TxResponse the keeper inspects.
type TxResponse struct {
	Height    int64  `json:"height,string"`
	TxHash    string `json:"txhash"`
	Codespace string `json:"codespace"`
	Code      uint32 `json:"code"`
	RawLog    string `json:"raw_log"`
	GasWanted int64  `json:"gas_wanted,string"`
	GasUsed   int64  `json:"gas_used,string"`
}

// gatewayError is the error body returned by the gRPC gateway.
type gatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// QuerySmart runs a wasm smart query against contract and decodes the
// response data into out.
func (c *Client) QuerySmart(ctx context.Context, contract string, msg any, out any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("cosmwasm: marshal query: %w", err)
	}
	path := fmt.Sprintf("/cosmwasm/wasm/v1/contract/%s/smart/%s",
		url.PathEscape(contract),
		url.PathEscape(base64.StdEncoding.EncodeToString(payload)),
	)
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("cosmwasm: decode query data: %w", err)
	}
	return nil
}

// Balance returns the bank balance of addr in denom.
func (c *Client) Balance(ctx context.Context, addr, denom string) (sdkmath.Int, error) {
	path := fmt.Sprintf("/cosmos/bank/v1beta1/balances/%s/by_denom?denom=%s", url.PathEscape(addr), url.QueryEscape(denom))
	var resp struct {
		Balance struct {
			Denom  string      `json:"denom"`
			Amount sdkmath.Int `json:"amount"`
		} `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return sdkmath.Int{}, err
	}
	if resp.Balance.Amount.IsNil() {
		return sdkmath.ZeroInt(), nil
	}
	return resp.Balance.Amount, nil
}

// Account returns the account number and sequence of addr.
func (c *Client) Account(ctx context.Context, addr string) (AccountInfo, error) {
	var resp struct {
		Account json.RawMessage `json:"account"`
	}
	if err := c.do(ctx, http.MethodGet, "/cosmos/auth/v1beta1/accounts/"+url.PathEscape(addr), nil, &resp); err != nil {
		return AccountInfo{}, err
	}
	var acct AccountInfo
	if err := json.Unmarshal(resp.Account, &acct); err != nil {
		return AccountInfo{}, fmt.Errorf("cosmwasm: decode account: %w", err)
	}
	// Vesting and module accounts nest the base account.
	if acct.Address == "" {
		var nested struct {
			BaseAccount AccountInfo `json:"base_account"`
		}
		if err := json.Unmarshal(resp.Account, &nested); err == nil && nested.BaseAccount.Address != "" {
			acct = nested.BaseAccount
		}
	}
	return acct, nil
}

// Broadcast submits signed tx bytes in sync mode and returns the CheckTx
// response.
func (c *Client) Broadcast(ctx context.Context, txBytes []byte) (TxResponse, error) {
	req := map[string]string{
		"tx_bytes": base64.StdEncoding.EncodeToString(txBytes),
		"mode":     "BROADCAST_MODE_SYNC",
	}
	var resp struct {
		TxResponse TxResponse `json:"tx_response"`
	}
	if err := c.do(ctx, http.MethodPost, "/cosmos/tx/v1beta1/txs", req, &resp); err != nil {
		return TxResponse{}, err
	}
	return resp.TxResponse, nil
}

// GetTx looks up an included transaction. It returns domain.ErrNotFound while
// the transaction is still pending.
func (c *Client) GetTx(ctx context.Context, hash string) (TxResponse, error) {
	var resp struct {
		TxResponse TxResponse `json:"tx_response"`
	}
	if err := c.do(ctx, http.MethodGet, "/cosmos/tx/v1beta1/txs/"+url.PathEscape(hash), nil, &resp); err != nil {
		return TxResponse{}, err
	}
	return resp.TxResponse, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cosmwasm: marshal request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("cosmwasm: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cosmwasm: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cosmwasm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var ge gatewayError
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &ge) == nil && ge.Message != "" {
			msg = ge.Message
		}
		if resp.StatusCode == http.StatusNotFound || strings.Contains(strings.ToLower(msg), "not found") {
			return fmt.Errorf("cosmwasm: %s: %w: %s", path, domain.ErrNotFound, msg)
		}
		return fmt.Errorf("cosmwasm: %s: status %d: %s", path, resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cosmwasm: decode response: %w", err)
	}
	return nil
}
