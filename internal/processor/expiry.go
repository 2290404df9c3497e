package processor

import (
	"context"
	"errors"
	"time"

	"github.com/strawberry-labs/berrypay-cli/internal/models"
)

// runExpiryLoop drives the periodic expiry scan until the context is
// cancelled.
func (p *Processor) runExpiryLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunExpiryScan(ctx)
		}
	}
}

// RunExpiryScan marks every still-active charge past its deadline as
// expired. Partial funds get a best-effort sweep; charges that never
// received anything just have their address unregistered. Persistence is
// batched into one save per pass.
func (p *Processor) RunExpiryScan(ctx context.Context) {
	now := time.Now().UTC()
	expired := 0

	for _, charge := range p.repo.ListCharges(models.StatusPending, models.StatusPartial) {
		if now.Before(charge.ExpiresAt) {
			continue
		}

		lock := p.chargeLock(charge.ID)
		lock.Lock()
		charge, err := p.repo.GetCharge(charge.ID)
		if err != nil || !charge.Status.AcceptsPayments() {
			// Deleted, or a racing payment completed the charge between the
			// listing and the lock. Leave it alone.
			lock.Unlock()
			continue
		}
		charge.Status = models.StatusExpired
		hasFunds := charge.Received.Sign() > 0
		if err := p.repo.UpdateCharge(charge); err != nil {
			p.logger.Errorw("failed to update charge", "charge", charge.ID, "error", err)
		}
		lock.Unlock()
		expired++

		p.logger.Infow("charge expired",
			"charge", charge.ID,
			"received", charge.Received.String(),
			"required", charge.Amount.String())

		if hasFunds {
			if _, err := p.SweepCharge(ctx, charge.ID); err != nil && !errors.Is(err, models.ErrNothingToSweep) {
				p.logger.Errorw("sweep of expired charge failed", "charge", charge.ID, "error", err)
			}
		} else {
			p.repo.ReleaseAddress(charge.Address)
			if err := p.monitor.RemoveAccount(charge.Address); err != nil {
				p.logger.Errorw("failed to unwatch expired address", "charge", charge.ID, "error", err)
			}
		}
	}

	if expired > 0 {
		if err := p.repo.SaveNow(); err != nil {
			p.logger.Errorw("failed to persist expiry scan", "error", err)
		}
	}
}
