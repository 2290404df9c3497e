package models

import (
	"context"
	"math/big"
	"time"
)

// PaymentEvent is a push notification that funds arrived at a watched
// address.
type PaymentEvent struct {
	To            string    `json:"to"`
	From          string    `json:"from"`
	Hash          string    `json:"hash"`
	Amount        *big.Int  `json:"amount"`
	AmountDisplay string    `json:"amountDisplay"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaymentHandler consumes payment events from the monitor.
type PaymentHandler func(event *PaymentEvent)

// EventMonitor is the push-notification collaborator: it watches a set of
// addresses and emits payment events for them. Handlers must be registered
// before Start.
type EventMonitor interface {
	Start(ctx context.Context) error
	Stop() error

	// AddAccount registers an address to be watched.
	AddAccount(address string) error
	// RemoveAccount stops watching an address.
	RemoveAccount(address string) error

	// OnPayment registers the handler for payment events.
	OnPayment(handler PaymentHandler)
	// OnConnected, OnDisconnected and OnError register handlers for the
	// monitor's connection lifecycle events.
	OnConnected(handler func())
	OnDisconnected(handler func())
	OnError(handler func(err error))
}
