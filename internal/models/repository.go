package models

import "errors"

// ErrChargeNotFound is returned by repository lookups for unknown charge ids
// or unwatched addresses.
var ErrChargeNotFound = errors.New("charge not found")

// ChargeRepository is the durable charge registry. Implementations keep an
// index by id and a secondary index by address, consistent on every
// mutation, and persist the full charge set as a snapshot.
//
// The registry owns its records: reads return deep copies and writes copy
// the caller's state in. Callers mutate their copy and publish it with
// UpdateCharge; they never share charge memory with the snapshot writer.
type ChargeRepository interface {
	// CreateCharge registers a new charge in both indices.
	CreateCharge(charge *Charge) error
	// GetCharge returns the charge with the given id, or ErrChargeNotFound.
	GetCharge(id string) (*Charge, error)
	// GetChargeByAddress returns the charge registered against an address,
	// or ErrChargeNotFound once the address has been released.
	GetChargeByAddress(address string) (*Charge, error)
	// ListCharges returns charges ordered by creation time. With statuses
	// given, only charges in one of those statuses are returned.
	ListCharges(statuses ...ChargeStatus) []*Charge
	// UpdateCharge replaces the stored state of an existing charge with the
	// caller's copy, or returns ErrChargeNotFound.
	UpdateCharge(charge *Charge) error
	// DeleteCharge removes a charge and its address registration.
	DeleteCharge(id string) error
	// ReleaseAddress drops the address index entry while keeping the charge
	// record for history. Used when a charge is swept.
	ReleaseAddress(address string)

	// AllocateAccountIndex atomically hands out the next sub-account index.
	AllocateAccountIndex() uint32

	// Save schedules a debounced snapshot write, coalescing rapid updates.
	Save()
	// SaveNow writes the snapshot immediately. Used for state transitions
	// that must survive a crash.
	SaveNow() error

	Close() error
}
