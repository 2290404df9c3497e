package models

import (
	"encoding/json"
	"math/big"
	"time"
)

// ChargeStatus is the lifecycle state of a charge.
type ChargeStatus string

const (
	// StatusPending means the charge has been created and no funds have
	// arrived yet. It is the only initial state.
	StatusPending ChargeStatus = "pending"
	// StatusPartial means some funds arrived but less than the required amount.
	StatusPartial ChargeStatus = "partial"
	// StatusCompleted means the required amount has been received in full.
	StatusCompleted ChargeStatus = "completed"
	// StatusExpired means the deadline passed before the charge completed.
	StatusExpired ChargeStatus = "expired"
	// StatusSwept means the funds have been consolidated into the primary
	// account. Terminal.
	StatusSwept ChargeStatus = "swept"
)

// statusTransitions encodes the forward-only state machine. A status may
// only move to one of the listed successors, never backward.
var statusTransitions = map[ChargeStatus][]ChargeStatus{
	StatusPending:   {StatusPartial, StatusCompleted, StatusExpired},
	StatusPartial:   {StatusCompleted, StatusExpired},
	StatusCompleted: {StatusSwept},
	StatusExpired:   {StatusSwept},
	StatusSwept:     {},
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next.
func (s ChargeStatus) CanTransitionTo(next ChargeStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AcceptsPayments reports whether incoming payment events still apply to a
// charge in this status.
func (s ChargeStatus) AcceptsPayments() bool {
	return s == StatusPending || s == StatusPartial
}

// ValidStatus reports whether s is one of the known charge statuses.
func ValidStatus(s ChargeStatus) bool {
	_, ok := statusTransitions[s]
	return ok
}

// ChargeTx is a single payment transaction applied to a charge. The list of
// applied transactions is append-only.
type ChargeTx struct {
	// Hash is the ledger transaction hash.
	Hash string `json:"hash"`
	// From is the sender address.
	From string `json:"from"`
	// Amount is the raw (smallest unit) amount of the transaction.
	Amount *big.Int `json:"amount"`
	// ReceivedAt is when the processor observed the transaction.
	ReceivedAt time.Time `json:"received_at"`
}

// Charge is a tracked request for a specific amount of funds at a dedicated
// address. A charge is mutated only by the processor: payment application,
// sweep and expiry.
type Charge struct {
	// ID is the opaque, globally unique charge identifier.
	ID string `json:"id"`
	// Address is the dedicated deposit address for this charge.
	Address string `json:"address"`
	// AccountIndex is the ledger sub-account the address was derived from.
	// One charge, one address, one sub-account; indices are never reused.
	AccountIndex uint32 `json:"account_index"`
	// Amount is the required raw amount.
	Amount *big.Int `json:"amount"`
	// Received is the cumulative raw amount applied so far. Monotonically
	// non-decreasing until the charge is swept.
	Received *big.Int `json:"received"`
	// Status is the lifecycle state, moving only forward.
	Status ChargeStatus `json:"status"`
	// Transactions are the payment transactions applied to Received, in
	// application order.
	Transactions []ChargeTx `json:"transactions"`
	// CreatedAt is when the charge was created.
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is the payment deadline.
	ExpiresAt time.Time `json:"expires_at"`
	// CompletedAt is set when the charge reaches completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// SweptAt is set when the charge is swept.
	SweptAt *time.Time `json:"swept_at,omitempty"`
	// SweepTxHash is the hash of the consolidation transaction.
	SweepTxHash string `json:"sweep_tx_hash,omitempty"`
	// NotifyURL is the optional webhook target for the completion notification.
	NotifyURL string `json:"notify_url,omitempty"`
	// NotificationSent guards against delivering the webhook more than once.
	NotificationSent bool `json:"notification_sent,omitempty"`
	// Metadata is an opaque caller-supplied blob, passed through unmodified.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the charge. The store hands out and accepts
// only copies, so readers and the snapshot writer never share mutable state
// with the processor.
func (c *Charge) Clone() *Charge {
	clone := *c
	if c.Amount != nil {
		clone.Amount = new(big.Int).Set(c.Amount)
	}
	if c.Received != nil {
		clone.Received = new(big.Int).Set(c.Received)
	}
	if c.Transactions != nil {
		clone.Transactions = make([]ChargeTx, len(c.Transactions))
		copy(clone.Transactions, c.Transactions)
		for i, tx := range c.Transactions {
			if tx.Amount != nil {
				clone.Transactions[i].Amount = new(big.Int).Set(tx.Amount)
			}
		}
	}
	if c.CompletedAt != nil {
		at := *c.CompletedAt
		clone.CompletedAt = &at
	}
	if c.SweptAt != nil {
		at := *c.SweptAt
		clone.SweptAt = &at
	}
	if c.Metadata != nil {
		clone.Metadata = append(json.RawMessage(nil), c.Metadata...)
	}
	return &clone
}

// Remaining returns the raw amount still owed. Zero once Received covers
// Amount.
func (c *Charge) Remaining() *big.Int {
	remaining := new(big.Int).Sub(c.Amount, c.Received)
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

// HasTransaction reports whether a transaction with the given hash has
// already been applied to the charge.
func (c *Charge) HasTransaction(hash string) bool {
	for _, tx := range c.Transactions {
		if tx.Hash == hash {
			return true
		}
	}
	return false
}

// Deletable reports whether the charge may be removed: swept, or expired
// without ever receiving funds.
func (c *Charge) Deletable() bool {
	if c.Status == StatusSwept {
		return true
	}
	return c.Status == StatusExpired && c.Received.Sign() == 0
}
