package notifier

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"

	"github.com/strawberry-labs/berrypay-cli/internal/models"
	"github.com/strawberry-labs/berrypay-cli/pkg/currency"
	"github.com/strawberry-labs/berrypay-cli/pkg/logger"
)

// TelegramNotifier posts a chat message to the operator channel when a
// charge is swept. Purely informational; it never affects charge state.
type TelegramNotifier struct {
	logger   *logger.Logger
	bot      *bot.Bot
	chatID   string
	symbol   string
	decimals int
}

func NewTelegramNotifier(token, chatID, symbol string, decimals int, logger *logger.Logger) (*TelegramNotifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{
		logger:   logger,
		bot:      b,
		chatID:   chatID,
		symbol:   symbol,
		decimals: decimals,
	}, nil
}

func (t *TelegramNotifier) ChargeSwept(ctx context.Context, charge *models.Charge, outcome *models.SweepOutcome) error {
	text := fmt.Sprintf("Charge %s swept: %s %s (of %s required) tx %s",
		charge.ID,
		currency.ToDisplay(outcome.Amount, t.decimals), t.symbol,
		currency.ToDisplay(charge.Amount, t.decimals),
		outcome.TxHash)

	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
