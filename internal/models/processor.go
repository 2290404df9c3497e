package models

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"time"
)

// ErrNothingToSweep is returned by sweep operations when the charge's
// sub-account holds no funds, or the charge has already been swept. The
// charge status is left unchanged.
var ErrNothingToSweep = errors.New("nothing to sweep")

// ErrChargeNotDeletable is returned when deletion is attempted on a charge
// that is not swept, or expired with funds still attached.
var ErrChargeNotDeletable = errors.New("charge is not in a deletable state")

// ErrChargeActive is returned when a sweep is attempted on a charge that is
// still accepting payments and has not reached its required amount.
var ErrChargeActive = errors.New("charge is still accepting payments")

// CreateChargeParams are the inputs for creating a charge.
type CreateChargeParams struct {
	// Amount is the required raw amount. Must be positive.
	Amount *big.Int
	// TTL is the offset from creation to the payment deadline.
	TTL time.Duration
	// NotifyURL, when set, receives the completion webhook.
	NotifyURL string
	// Metadata is an opaque blob echoed back in the notification.
	Metadata json.RawMessage
}

// ChargeStatusReport is the result of an on-demand reconciliation against
// the ledger. It reflects ledger truth at the moment of the call and does
// not mutate the charge's recorded transactions.
type ChargeStatusReport struct {
	Charge *Charge
	// Balance and Pending are the sub-account's raw balances as reported by
	// the ledger.
	Balance *big.Int
	Pending *big.Int
	// IsPaid is true when balance plus pending covers the required amount.
	IsPaid bool
	// Remaining is the raw amount still owed per the ledger view.
	Remaining *big.Int
}

// ProcessorI is the charge lifecycle manager.
type ProcessorI interface {
	// Start runs the recovery scan, connects the event monitor and starts
	// the expiry scheduler.
	Start(ctx context.Context) error
	// Stop cancels the expiry timer and detaches from the event monitor.
	// In-flight sweeps and notifications may still complete afterwards.
	Stop()

	CreateCharge(ctx context.Context, params CreateChargeParams) (*Charge, error)
	GetCharge(id string) (*Charge, error)
	ListCharges(statuses ...ChargeStatus) []*Charge
	// CheckStatus reconciles a charge against the ledger. With sweep set,
	// a fully paid charge is swept as a side effect.
	CheckStatus(ctx context.Context, id string, sweep bool) (*ChargeStatusReport, error)
	// SweepCharge consolidates the charge's funds into the primary account.
	SweepCharge(ctx context.Context, id string) (*SweepOutcome, error)
	DeleteCharge(id string) error
	// CleanupSwept removes all swept charges and returns how many were
	// removed.
	CleanupSwept() (int, error)
}
