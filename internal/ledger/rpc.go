// Package ledger is the processor-side adapter for the wallet RPC service.
// Key derivation, block construction, signing, proof-of-work and node
// submission all happen inside the wallet service; this client only consumes
// their results.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/strawberry-labs/berrypay-cli/internal/models"
	"github.com/strawberry-labs/berrypay-cli/pkg/currency"
	"github.com/strawberry-labs/berrypay-cli/pkg/logger"
)

const (
	// RequestTimeout bounds every wallet RPC call.
	RequestTimeout = 15 * time.Second
)

// RPCClient speaks the wallet service's JSON action protocol: a single POST
// endpoint with an "action" discriminator, amounts as decimal strings.
type RPCClient struct {
	logger *logger.Logger
	apiURL string
	client *http.Client
}

// NewRPCClient creates a new wallet RPC client.
func NewRPCClient(apiURL string, logger *logger.Logger) *RPCClient {
	return &RPCClient{
		logger: logger,
		apiURL: apiURL,
		client: &http.Client{Timeout: RequestTimeout},
	}
}

type rpcError struct {
	Error string `json:"error"`
}

// call posts an action request and decodes the response into out. A non-2xx
// status or an "error" field in the body is surfaced as an error.
func (c *RPCClient) call(ctx context.Context, request interface{}, out interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode rpc request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("wallet rpc call failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read rpc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wallet rpc returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var rpcErr rpcError
	if err := json.Unmarshal(data, &rpcErr); err == nil && rpcErr.Error != "" {
		if strings.Contains(strings.ToLower(rpcErr.Error), "insufficient balance") {
			return models.ErrInsufficientBalance
		}
		return fmt.Errorf("wallet rpc error: %s", rpcErr.Error)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}
	return nil
}

type addressRequest struct {
	Action string `json:"action"`
	Index  uint32 `json:"index"`
}

type addressResponse struct {
	Address string `json:"address"`
}

// DeriveAddress derives the address for a sub-account index. The wallet
// derivation is deterministic, so repeated calls return the same address.
func (c *RPCClient) DeriveAddress(ctx context.Context, index uint32) (string, error) {
	var resp addressResponse
	if err := c.call(ctx, &addressRequest{Action: "account_derive", Index: index}, &resp); err != nil {
		return "", fmt.Errorf("failed to derive address for index %d: %w", index, err)
	}
	if resp.Address == "" {
		return "", fmt.Errorf("wallet returned an empty address for index %d", index)
	}
	return resp.Address, nil
}

// GetAddress returns the address of a sub-account.
func (c *RPCClient) GetAddress(ctx context.Context, index uint32) (string, error) {
	var resp addressResponse
	if err := c.call(ctx, &addressRequest{Action: "account_get", Index: index}, &resp); err != nil {
		return "", fmt.Errorf("failed to get address for index %d: %w", index, err)
	}
	return resp.Address, nil
}

type balanceResponse struct {
	Balance string `json:"balance"`
	Pending string `json:"pending"`
}

// GetBalance returns the settled and pending raw balances of a sub-account.
func (c *RPCClient) GetBalance(ctx context.Context, index uint32) (*models.AccountBalance, error) {
	var resp balanceResponse
	if err := c.call(ctx, &addressRequest{Action: "account_balance", Index: index}, &resp); err != nil {
		return nil, fmt.Errorf("failed to get balance for index %d: %w", index, err)
	}
	balance, err := currency.ParseRaw(resp.Balance)
	if err != nil {
		return nil, fmt.Errorf("wallet returned a bad balance for index %d: %w", index, err)
	}
	pending, err := currency.ParseRaw(resp.Pending)
	if err != nil {
		return nil, fmt.Errorf("wallet returned a bad pending balance for index %d: %w", index, err)
	}
	return &models.AccountBalance{Balance: balance, Pending: pending}, nil
}

type pendingItemsResponse struct {
	Items []struct {
		Hash   string `json:"hash"`
		Amount string `json:"amount"`
		Source string `json:"source"`
	} `json:"items"`
}

// GetPendingItems lists incoming transactions awaiting settlement on a
// sub-account.
func (c *RPCClient) GetPendingItems(ctx context.Context, index uint32) ([]*models.PendingItem, error) {
	var resp pendingItemsResponse
	if err := c.call(ctx, &addressRequest{Action: "pending_items", Index: index}, &resp); err != nil {
		return nil, fmt.Errorf("failed to get pending items for index %d: %w", index, err)
	}
	items := make([]*models.PendingItem, 0, len(resp.Items))
	for _, item := range resp.Items {
		amount, err := currency.ParseRaw(item.Amount)
		if err != nil {
			return nil, fmt.Errorf("wallet returned a bad pending amount for index %d: %w", index, err)
		}
		items = append(items, &models.PendingItem{Hash: item.Hash, Amount: amount, Source: item.Source})
	}
	return items, nil
}

type receivePendingResponse struct {
	Received []struct {
		Hash   string `json:"hash"`
		Amount string `json:"amount"`
	} `json:"received"`
}

// ReceivePending settles all pending items into the sub-account balance.
func (c *RPCClient) ReceivePending(ctx context.Context, index uint32) ([]*models.ReceivedItem, error) {
	var resp receivePendingResponse
	if err := c.call(ctx, &addressRequest{Action: "receive_pending", Index: index}, &resp); err != nil {
		return nil, fmt.Errorf("failed to receive pending for index %d: %w", index, err)
	}
	received := make([]*models.ReceivedItem, 0, len(resp.Received))
	for _, item := range resp.Received {
		amount, err := currency.ParseRaw(item.Amount)
		if err != nil {
			return nil, fmt.Errorf("wallet returned a bad received amount for index %d: %w", index, err)
		}
		received = append(received, &models.ReceivedItem{Hash: item.Hash, Amount: amount})
	}
	return received, nil
}

type sendRequest struct {
	Action    string `json:"action"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	FromIndex uint32 `json:"from_index"`
}

type sendResponse struct {
	Hash string `json:"hash"`
}

// Send transfers a raw amount from a sub-account to an address and returns
// the transaction hash. ErrInsufficientBalance is surfaced distinctly so
// callers can wait instead of retrying.
func (c *RPCClient) Send(ctx context.Context, toAddress string, amount *big.Int, fromIndex uint32) (string, error) {
	req := &sendRequest{
		Action:    "send",
		To:        toAddress,
		Amount:    currency.FormatRaw(amount),
		FromIndex: fromIndex,
	}
	var resp sendResponse
	if err := c.call(ctx, req, &resp); err != nil {
		if errors.Is(err, models.ErrInsufficientBalance) {
			return "", err
		}
		return "", fmt.Errorf("failed to send from index %d: %w", fromIndex, err)
	}
	if resp.Hash == "" {
		return "", fmt.Errorf("wallet returned an empty send hash for index %d", fromIndex)
	}
	return resp.Hash, nil
}
