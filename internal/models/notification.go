package models

import (
	"context"
	"math/big"
	"time"
)

// SweepOutcome describes a successful consolidation of a charge's funds
// into the primary account.
type SweepOutcome struct {
	// TxHash is the hash of the consolidation transaction.
	TxHash string
	// Amount is the raw amount moved to the primary account.
	Amount *big.Int
	// SweptAt is when the sweep completed.
	SweptAt time.Time
}

// NotificationService delivers the one-shot completion notification for a
// swept charge. Delivery failures are terminal for the attempt: there is no
// retry, and a failure never surfaces as a charge error.
type NotificationService interface {
	ChargeSwept(ctx context.Context, charge *Charge, outcome *SweepOutcome) error
}
