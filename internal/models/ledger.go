package models

import (
	"context"
	"errors"
	"math/big"
)

// ErrInsufficientBalance is returned by Send when the requested amount
// exceeds the sub-account's settled balance. Surfaced distinctly so callers
// can decide to wait rather than retry.
var ErrInsufficientBalance = errors.New("insufficient balance")

// AccountBalance is the settled and pending raw balance of a sub-account.
type AccountBalance struct {
	Balance *big.Int
	Pending *big.Int
}

// PendingItem is a not-yet-settled incoming transaction on a sub-account.
type PendingItem struct {
	Hash   string
	Amount *big.Int
	Source string
}

// ReceivedItem is a pending transaction that has been settled into the
// sub-account balance.
type ReceivedItem struct {
	Hash   string
	Amount *big.Int
}

// LedgerService is the wallet-side ledger collaborator. Key derivation,
// block construction, signing and proof-of-work all happen behind it; the
// processor only consumes the results.
type LedgerService interface {
	// DeriveAddress derives the address for a sub-account index.
	// Deterministic and idempotent.
	DeriveAddress(ctx context.Context, index uint32) (string, error)
	// GetAddress returns the address of an already-derived sub-account.
	GetAddress(ctx context.Context, index uint32) (string, error)
	// GetBalance returns the settled and pending raw balances.
	GetBalance(ctx context.Context, index uint32) (*AccountBalance, error)
	// GetPendingItems lists incoming transactions awaiting settlement.
	GetPendingItems(ctx context.Context, index uint32) ([]*PendingItem, error)
	// ReceivePending settles all pending items into the balance. Per-item
	// failures surface to the caller.
	ReceivePending(ctx context.Context, index uint32) ([]*ReceivedItem, error)
	// Send transfers amount from the sub-account to an address and returns
	// the transaction hash. Returns ErrInsufficientBalance when amount
	// exceeds the settled balance.
	Send(ctx context.Context, toAddress string, amount *big.Int, fromIndex uint32) (string, error)
}
