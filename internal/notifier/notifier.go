// Package notifier delivers charge completion notifications. The webhook is
// the external contract; additional channels (telegram) are best-effort and
// never influence the outcome reported to the processor.
package notifier

import (
	"context"
	"runtime/debug"

	"github.com/strawberry-labs/berrypay-cli/internal/models"
	"github.com/strawberry-labs/berrypay-cli/pkg/logger"
)

// Notifier fans a sweep notification out to the configured channels. The
// returned error is the webhook's alone: it decides whether the charge's
// sent flag is set.
type Notifier struct {
	logger   *logger.Logger
	webhook  *WebhookNotifier
	telegram *TelegramNotifier
}

func NewNotifier(logger *logger.Logger, webhook *WebhookNotifier, telegram *TelegramNotifier) *Notifier {
	return &Notifier{logger: logger, webhook: webhook, telegram: telegram}
}

// safeCall runs a channel delivery with panic recovery so one misbehaving
// channel cannot take down the processor.
func (n *Notifier) safeCall(fn func(), context string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Notification channel panicked",
				"context", context,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (n *Notifier) ChargeSwept(ctx context.Context, charge *models.Charge, outcome *models.SweepOutcome) error {
	if n.telegram != nil {
		n.safeCall(func() {
			if err := n.telegram.ChargeSwept(ctx, charge, outcome); err != nil {
				n.logger.Errorw("telegram notification failed", "charge", charge.ID, "error", err)
			}
		}, "telegramNotification")
	}

	if n.webhook == nil {
		return nil
	}
	return n.webhook.ChargeSwept(ctx, charge, outcome)
}
