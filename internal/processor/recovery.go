package processor

import (
	"context"
	"errors"
	"time"

	"github.com/strawberry-labs/berrypay-cli/internal/models"
)

// RecoverPending reconciles every still-active charge against the ledger's
// pending funds, covering payments that arrived while the processor was not
// running. Discovered items go through the same application path as live
// events, so a transaction observed both here and by the monitor is only
// counted once.
//
// One charge failing does not stop the scan; its error is logged and the
// remaining charges are processed.
func (p *Processor) RecoverPending(ctx context.Context) {
	charges := p.repo.ListCharges(models.StatusPending, models.StatusPartial)
	if len(charges) == 0 {
		return
	}
	p.logger.Infow("recovery scan started", "charges", len(charges))

	recovered := 0
	for _, charge := range charges {
		items, err := p.ledger.GetPendingItems(ctx, charge.AccountIndex)
		if err != nil {
			p.logger.Errorw("recovery failed for charge", "charge", charge.ID, "error", err)
			continue
		}
		if len(items) == 0 {
			continue
		}

		completed := false
		for _, item := range items {
			if p.applyPayment(charge.ID, models.ChargeTx{
				Hash:       item.Hash,
				From:       item.Source,
				Amount:     item.Amount,
				ReceivedAt: time.Now().UTC(),
			}) {
				completed = true
			}
		}
		recovered++

		if completed && p.config.AutoSweep {
			if _, err := p.SweepCharge(ctx, charge.ID); err != nil && !errors.Is(err, models.ErrNothingToSweep) {
				p.logger.Errorw("sweep of recovered charge failed", "charge", charge.ID, "error", err)
			}
		}
	}
	p.logger.Infow("recovery scan finished", "charges_with_funds", recovered)
}
