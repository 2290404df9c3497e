// Package monitor implements the push side of payment detection: a
// websocket client that watches a set of addresses on the event service and
// emits payment events for them.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/strawberry-labs/berrypay-cli/internal/models"
	"github.com/strawberry-labs/berrypay-cli/pkg/currency"
	"github.com/strawberry-labs/berrypay-cli/pkg/logger"
)

const (
	// ReconnectDelay is how long to wait before redialing a dropped
	// connection.
	ReconnectDelay = 5 * time.Second
	// writeTimeout bounds every outbound frame.
	writeTimeout = 10 * time.Second
)

// subscribeFrame (re)announces the full watched set after a connect.
type subscribeFrame struct {
	Action   string   `json:"action"`
	Topic    string   `json:"topic"`
	Accounts []string `json:"accounts"`
}

// updateFrame adjusts the watched set on a live connection.
type updateFrame struct {
	Action         string   `json:"action"`
	Topic          string   `json:"topic"`
	AccountsAdd    []string `json:"accounts_add,omitempty"`
	AccountsRemove []string `json:"accounts_remove,omitempty"`
}

type inboundFrame struct {
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

type paymentMessage struct {
	To            string    `json:"to"`
	From          string    `json:"from"`
	Hash          string    `json:"hash"`
	Amount        string    `json:"amount"`
	AmountDisplay string    `json:"amountDisplay"`
	Timestamp     time.Time `json:"timestamp"`
}

// WebsocketMonitor is the EventMonitor implementation. A dropped connection
// is redialed after a delay and the watched set is re-announced, so
// registrations survive reconnects.
type WebsocketMonitor struct {
	logger *logger.Logger
	wsURL  string

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	accounts map[string]struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	onPayment      models.PaymentHandler
	onConnected    func()
	onDisconnected func()
	onError        func(err error)
}

func NewWebsocketMonitor(wsURL string, logger *logger.Logger) *WebsocketMonitor {
	return &WebsocketMonitor{
		logger:   logger,
		wsURL:    wsURL,
		accounts: make(map[string]struct{}),
	}
}

func (m *WebsocketMonitor) OnPayment(handler models.PaymentHandler) { m.onPayment = handler }
func (m *WebsocketMonitor) OnConnected(handler func())              { m.onConnected = handler }
func (m *WebsocketMonitor) OnDisconnected(handler func())           { m.onDisconnected = handler }
func (m *WebsocketMonitor) OnError(handler func(err error))         { m.onError = handler }

// Start dials the event service and runs the read loop in the background.
// Handlers must be registered before Start.
func (m *WebsocketMonitor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("monitor already started")
	}
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// Stop detaches from the event service. Events already read may still be
// delivered to the handler while the loop winds down.
func (m *WebsocketMonitor) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		conn.Close()
	}
	m.wg.Wait()
	return nil
}

// AddAccount registers an address to be watched. On a live connection the
// update is pushed immediately; otherwise it is picked up by the next
// (re)subscribe.
func (m *WebsocketMonitor) AddAccount(address string) error {
	m.mu.Lock()
	m.accounts[address] = struct{}{}
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return m.write(conn, &updateFrame{Action: "update", Topic: "payment", AccountsAdd: []string{address}})
}

// RemoveAccount stops watching an address.
func (m *WebsocketMonitor) RemoveAccount(address string) error {
	m.mu.Lock()
	delete(m.accounts, address)
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return m.write(conn, &updateFrame{Action: "update", Topic: "payment", AccountsRemove: []string{address}})
}

// run dials, subscribes and reads until the context is cancelled. A closed
// connection is redialed after ReconnectDelay.
func (m *WebsocketMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.wsURL, nil)
		if err != nil {
			m.reportError(fmt.Errorf("failed to connect to event service: %w", err))
			if !m.sleep(ctx, ReconnectDelay) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.conn = conn
		accounts := make([]string, 0, len(m.accounts))
		for address := range m.accounts {
			accounts = append(accounts, address)
		}
		m.mu.Unlock()

		m.logger.Infow("connected to event service", "url", m.wsURL, "accounts", len(accounts))
		if m.onConnected != nil {
			m.onConnected()
		}

		err = m.write(conn, &subscribeFrame{Action: "subscribe", Topic: "payment", Accounts: accounts})
		if err != nil {
			m.reportError(fmt.Errorf("failed to subscribe: %w", err))
		} else {
			m.readLoop(conn)
		}

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()

		if m.onDisconnected != nil {
			m.onDisconnected()
		}
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("event service connection lost, reconnecting")
		if !m.sleep(ctx, ReconnectDelay) {
			return
		}
	}
}

func (m *WebsocketMonitor) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.reportError(fmt.Errorf("failed to decode event frame: %w", err))
			continue
		}
		if frame.Topic != "payment" {
			continue
		}

		var msg paymentMessage
		if err := json.Unmarshal(frame.Message, &msg); err != nil {
			m.reportError(fmt.Errorf("failed to decode payment message: %w", err))
			continue
		}
		amount, err := currency.ParseRaw(msg.Amount)
		if err != nil {
			m.reportError(fmt.Errorf("payment event carried a bad amount: %w", err))
			continue
		}

		if m.onPayment != nil {
			m.onPayment(&models.PaymentEvent{
				To:            msg.To,
				From:          msg.From,
				Hash:          msg.Hash,
				Amount:        amount,
				AmountDisplay: msg.AmountDisplay,
				Timestamp:     msg.Timestamp,
			})
		}
	}
}

// write serializes outbound frames; the websocket connection supports only
// one concurrent writer.
func (m *WebsocketMonitor) write(conn *websocket.Conn, frame interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame)
}

func (m *WebsocketMonitor) reportError(err error) {
	m.logger.Errorw("event monitor error", "error", err)
	if m.onError != nil {
		m.onError(err)
	}
}

func (m *WebsocketMonitor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
