package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/strawberry-labs/berrypay-cli/internal/models"
	"github.com/strawberry-labs/berrypay-cli/pkg/currency"
	"github.com/strawberry-labs/berrypay-cli/pkg/logger"
)

const (
	// WebhookTimeout bounds the single delivery attempt.
	WebhookTimeout = 10 * time.Second
)

// WebhookPayload is the fixed-shape notification body. The field names are
// an external contract.
type WebhookPayload struct {
	Event     string        `json:"event"`
	Charge    WebhookCharge `json:"charge"`
	Timestamp time.Time     `json:"timestamp"`
}

type WebhookCharge struct {
	ID                 string          `json:"id"`
	Address            string          `json:"address"`
	AmountDisplay      string          `json:"amountDisplay"`
	AmountRaw          string          `json:"amountRaw"`
	ReceivedDisplay    string          `json:"receivedDisplay"`
	ReceivedRaw        string          `json:"receivedRaw"`
	Status             string          `json:"status"`
	SweepTxHash        string          `json:"sweepTxHash"`
	SweptAmountDisplay string          `json:"sweptAmountDisplay"`
	SweptAmountRaw     string          `json:"sweptAmountRaw"`
	CompletedAt        *time.Time      `json:"completedAt"`
	SweptAt            *time.Time      `json:"sweptAt"`
	Metadata           json.RawMessage `json:"metadata"`
}

// WebhookNotifier delivers the completion notification with a single POST.
// There is no retry: any non-200 response or transport failure is terminal
// for the attempt, and only the caller's sent flag gates re-delivery.
type WebhookNotifier struct {
	logger   *logger.Logger
	client   *http.Client
	decimals int
}

func NewWebhookNotifier(decimals int, logger *logger.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		logger:   logger,
		client:   &http.Client{Timeout: WebhookTimeout},
		decimals: decimals,
	}
}

// BuildPayload constructs the notification body for a swept charge.
func (n *WebhookNotifier) BuildPayload(charge *models.Charge, outcome *models.SweepOutcome) *WebhookPayload {
	return &WebhookPayload{
		Event: "charge.completed",
		Charge: WebhookCharge{
			ID:                 charge.ID,
			Address:            charge.Address,
			AmountDisplay:      currency.ToDisplay(charge.Amount, n.decimals),
			AmountRaw:          currency.FormatRaw(charge.Amount),
			ReceivedDisplay:    currency.ToDisplay(charge.Received, n.decimals),
			ReceivedRaw:        currency.FormatRaw(charge.Received),
			Status:             string(charge.Status),
			SweepTxHash:        outcome.TxHash,
			SweptAmountDisplay: currency.ToDisplay(outcome.Amount, n.decimals),
			SweptAmountRaw:     currency.FormatRaw(outcome.Amount),
			CompletedAt:        charge.CompletedAt,
			SweptAt:            charge.SweptAt,
			Metadata:           charge.Metadata,
		},
		Timestamp: time.Now().UTC(),
	}
}

func (n *WebhookNotifier) ChargeSwept(ctx context.Context, charge *models.Charge, outcome *models.SweepOutcome) error {
	if charge.NotifyURL == "" {
		return nil
	}

	body, err := json.Marshal(n.BuildPayload(charge, outcome))
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, charge.NotifyURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook target returned status %d", resp.StatusCode)
	}

	n.logger.Infow("webhook delivered", "charge", charge.ID, "url", charge.NotifyURL)
	return nil
}
