// Package processor owns the charge lifecycle: creation, payment
// application, consolidation of funds into the primary account, expiry and
// cleanup. All charge mutations flow through here, serialized per charge.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strawberry-labs/berrypay-cli/internal/config"
	"github.com/strawberry-labs/berrypay-cli/internal/models"
	"github.com/strawberry-labs/berrypay-cli/pkg/logger"
)

// Processor is the charge lifecycle manager. It contains all the components
// needed to track charges end to end and serves all business logic.
type Processor struct {
	logger *logger.Logger
	config *config.Config

	repo     models.ChargeRepository
	ledger   models.LedgerService
	monitor  models.EventMonitor
	notifier models.NotificationService

	// locks serializes mutations per charge. The processor is driven by
	// several concurrent sources (monitor events, API calls, expiry ticks),
	// so every mutation of a charge happens under its lock.
	locks sync.Map

	mu             sync.Mutex
	primaryAddress string
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewProcessor creates a new Processor instance.
func NewProcessor(
	repo models.ChargeRepository,
	ledger models.LedgerService,
	monitor models.EventMonitor,
	notifier models.NotificationService,
	logger *logger.Logger,
	config *config.Config,
) models.ProcessorI {
	return &Processor{
		repo:     repo,
		ledger:   ledger,
		monitor:  monitor,
		notifier: notifier,
		logger:   logger,
		config:   config,
	}
}

// Start recovers state missed while offline, attaches to the event monitor
// and starts the expiry scheduler. The recovery scan runs before the
// monitor so a live event cannot race the reconciliation of old charges.
func (p *Processor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("processor already started")
	}
	p.cancel = cancel
	p.mu.Unlock()

	if _, err := p.primaryAddr(ctx); err != nil {
		return fmt.Errorf("failed to resolve primary address: %w", err)
	}

	p.monitor.OnPayment(p.HandlePayment)
	p.monitor.OnError(func(err error) {
		p.logger.Errorw("event monitor reported an error", "error", err)
	})

	p.RecoverPending(ctx)

	for _, charge := range p.repo.ListCharges(models.StatusPending, models.StatusPartial, models.StatusCompleted) {
		if err := p.monitor.AddAccount(charge.Address); err != nil {
			p.logger.Errorw("failed to watch address", "charge", charge.ID, "address", charge.Address, "error", err)
		}
	}
	if err := p.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event monitor: %w", err)
	}

	p.wg.Add(1)
	go p.runExpiryLoop(ctx)

	p.logger.Infow("processor started",
		"charges", len(p.repo.ListCharges()),
		"auto_sweep", p.config.AutoSweep)
	return nil
}

// Stop cancels the expiry scheduler and detaches from the event monitor.
// In-flight sweeps and notifications are not force-cancelled; they complete
// on their own and their results go unreported.
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if err := p.monitor.Stop(); err != nil {
		p.logger.Errorw("failed to stop event monitor", "error", err)
	}
	p.wg.Wait()
}

// primaryAddr resolves (once) the address of the primary account that
// sweeps consolidate into.
func (p *Processor) primaryAddr(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.primaryAddress != "" {
		return p.primaryAddress, nil
	}
	address, err := p.ledger.GetAddress(ctx, p.config.PrimaryAccountIndex)
	if err != nil {
		return "", err
	}
	p.primaryAddress = address
	return address, nil
}

// chargeLock returns the mutex serializing mutations of a charge.
func (p *Processor) chargeLock(id string) *sync.Mutex {
	lock, _ := p.locks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// CreateCharge allocates the next sub-account, derives its address,
// registers it with the event monitor and stores a pending charge.
func (p *Processor) CreateCharge(ctx context.Context, params models.CreateChargeParams) (*models.Charge, error) {
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("charge amount must be positive")
	}
	if params.NotifyURL != "" {
		u, err := url.Parse(params.NotifyURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("invalid notify url %q", params.NotifyURL)
		}
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = p.config.DefaultChargeTTL
	}

	index := p.repo.AllocateAccountIndex()
	address, err := p.ledger.DeriveAddress(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive charge address: %w", err)
	}

	now := time.Now().UTC()
	charge := &models.Charge{
		ID:           uuid.NewString(),
		Address:      address,
		AccountIndex: index,
		Amount:       new(big.Int).Set(params.Amount),
		Received:     big.NewInt(0),
		Status:       models.StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		NotifyURL:    params.NotifyURL,
		Metadata:     params.Metadata,
	}
	if err := p.repo.CreateCharge(charge); err != nil {
		return nil, fmt.Errorf("failed to store charge: %w", err)
	}
	if err := p.monitor.AddAccount(address); err != nil {
		// Not fatal: the recovery scan picks up anything missed by push.
		p.logger.Errorw("failed to watch charge address", "charge", charge.ID, "error", err)
	}
	p.repo.Save()

	p.logger.Infow("charge created",
		"charge", charge.ID,
		"address", address,
		"index", index,
		"amount", charge.Amount.String(),
		"expires_at", charge.ExpiresAt)
	return charge, nil
}

func (p *Processor) GetCharge(id string) (*models.Charge, error) {
	return p.repo.GetCharge(id)
}

func (p *Processor) ListCharges(statuses ...models.ChargeStatus) []*models.Charge {
	return p.repo.ListCharges(statuses...)
}

// HandlePayment routes an inbound payment event to the charge owning its
// destination address and applies it. Events for unknown or released
// addresses are dropped.
func (p *Processor) HandlePayment(event *models.PaymentEvent) {
	charge, err := p.repo.GetChargeByAddress(event.To)
	if err != nil {
		p.logger.Debugw("payment event for unwatched address", "address", event.To, "hash", event.Hash)
		return
	}

	observedAt := event.Timestamp
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}
	completed := p.applyPayment(charge.ID, models.ChargeTx{
		Hash:       event.Hash,
		From:       event.From,
		Amount:     event.Amount,
		ReceivedAt: observedAt,
	})

	if completed && p.config.AutoSweep {
		// Detached from the event loop: an in-flight sweep outlives Stop.
		go func() {
			if _, err := p.SweepCharge(context.Background(), charge.ID); err != nil && !errors.Is(err, models.ErrNothingToSweep) {
				p.logger.Errorw("automatic sweep failed", "charge", charge.ID, "error", err)
			}
		}()
	}
}

// applyPayment appends a transaction to the charge and recomputes its
// status. Returns true when the charge just reached completed.
func (p *Processor) applyPayment(id string, tx models.ChargeTx) bool {
	lock := p.chargeLock(id)
	lock.Lock()

	charge, err := p.repo.GetCharge(id)
	if err != nil {
		lock.Unlock()
		return false
	}
	applied, completed := p.applyTxLocked(charge, tx)
	if applied {
		if err := p.repo.UpdateCharge(charge); err != nil {
			p.logger.Errorw("failed to update charge", "charge", id, "error", err)
		}
	}
	lock.Unlock()

	if completed {
		// Reaching completed must survive a crash.
		if err := p.repo.SaveNow(); err != nil {
			p.logger.Errorw("failed to persist completed charge", "charge", id, "error", err)
		}
	} else if applied {
		p.repo.Save()
	}
	return completed
}

// applyTxLocked does the actual application on the caller's working copy.
// The caller holds the charge lock and publishes the copy afterwards.
// Returns whether the transaction was applied and whether the charge just
// reached completed.
func (p *Processor) applyTxLocked(charge *models.Charge, tx models.ChargeTx) (bool, bool) {
	if !charge.Status.AcceptsPayments() {
		p.logger.Debugw("payment ignored, charge no longer accepts payments",
			"charge", charge.ID, "status", charge.Status, "hash", tx.Hash)
		return false, false
	}
	if charge.HasTransaction(tx.Hash) {
		p.logger.Warnw("duplicate payment ignored", "charge", charge.ID, "hash", tx.Hash)
		return false, false
	}

	charge.Transactions = append(charge.Transactions, tx)
	charge.Received = new(big.Int).Add(charge.Received, tx.Amount)

	if charge.Received.Cmp(charge.Amount) >= 0 {
		now := time.Now().UTC()
		charge.Status = models.StatusCompleted
		charge.CompletedAt = &now
		p.logger.Infow("charge completed",
			"charge", charge.ID,
			"received", charge.Received.String(),
			"required", charge.Amount.String())
		return true, true
	}

	charge.Status = models.StatusPartial
	p.logger.Infow("partial payment applied",
		"charge", charge.ID,
		"received", charge.Received.String(),
		"remaining", charge.Remaining().String())
	return true, false
}

// SweepCharge consolidates all funds on the charge's sub-account into the
// primary account. Pending items are settled first and applied through the
// normal payment path, so a manual sweep of a fully paid charge completes
// it before the funds move.
func (p *Processor) SweepCharge(ctx context.Context, id string) (*models.SweepOutcome, error) {
	primary, err := p.primaryAddr(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve primary address: %w", err)
	}

	lock := p.chargeLock(id)
	lock.Lock()
	defer lock.Unlock()

	charge, err := p.repo.GetCharge(id)
	if err != nil {
		return nil, err
	}
	if charge.Status == models.StatusSwept {
		return nil, models.ErrNothingToSweep
	}

	received, err := p.ledger.ReceivePending(ctx, charge.AccountIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to settle pending funds: %w", err)
	}
	applied, completed := false, false
	for _, item := range received {
		a, c := p.applyTxLocked(charge, models.ChargeTx{
			Hash:       item.Hash,
			Amount:     item.Amount,
			ReceivedAt: time.Now().UTC(),
		})
		applied = applied || a
		completed = completed || c
	}
	if applied {
		// The items are no longer pending on the ledger, so the applied
		// transactions must survive a crash even if the send below fails.
		if err := p.repo.UpdateCharge(charge); err != nil {
			p.logger.Errorw("failed to update charge", "charge", id, "error", err)
		}
		if completed {
			if err := p.repo.SaveNow(); err != nil {
				p.logger.Errorw("failed to persist settled funds", "charge", id, "error", err)
			}
		} else {
			p.repo.Save()
		}
	}

	balance, err := p.ledger.GetBalance(ctx, charge.AccountIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if balance.Balance.Sign() == 0 {
		return nil, models.ErrNothingToSweep
	}

	// Funds may only leave through the completed or expired edge of the
	// state machine. An under-paid charge that is still accepting payments
	// keeps its funds until it completes or expires.
	if charge.Status.AcceptsPayments() {
		return nil, models.ErrChargeActive
	}

	txHash, err := p.ledger.Send(ctx, primary, balance.Balance, charge.AccountIndex)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientBalance) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to send sweep transaction: %w", err)
	}

	now := time.Now().UTC()
	charge.Status = models.StatusSwept
	charge.SweptAt = &now
	charge.SweepTxHash = txHash

	if err := p.repo.UpdateCharge(charge); err != nil {
		p.logger.Errorw("failed to update charge", "charge", id, "error", err)
	}
	p.repo.ReleaseAddress(charge.Address)
	if err := p.monitor.RemoveAccount(charge.Address); err != nil {
		p.logger.Errorw("failed to unwatch swept address", "charge", charge.ID, "error", err)
	}
	if err := p.repo.SaveNow(); err != nil {
		p.logger.Errorw("failed to persist swept charge", "charge", charge.ID, "error", err)
	}

	outcome := &models.SweepOutcome{
		TxHash:  txHash,
		Amount:  balance.Balance,
		SweptAt: now,
	}
	p.logger.Infow("charge swept",
		"charge", charge.ID,
		"amount", outcome.Amount.String(),
		"tx", txHash)

	p.notifySweptLocked(ctx, charge, outcome)
	return outcome, nil
}

// notifySweptLocked fires the one-shot completion notification. The sent
// flag is checked and set under the charge lock, so at most one attempt
// ever fires for a charge.
func (p *Processor) notifySweptLocked(ctx context.Context, charge *models.Charge, outcome *models.SweepOutcome) {
	if charge.NotifyURL == "" || charge.NotificationSent {
		return
	}
	if err := p.notifier.ChargeSwept(ctx, charge, outcome); err != nil {
		// Delivery failure is an event, not a charge error. No retry.
		p.logger.Errorw("notification delivery failed", "charge", charge.ID, "error", err)
		return
	}
	charge.NotificationSent = true
	if err := p.repo.UpdateCharge(charge); err != nil {
		p.logger.Errorw("failed to update charge", "charge", charge.ID, "error", err)
	}
	if err := p.repo.SaveNow(); err != nil {
		p.logger.Errorw("failed to persist notification flag", "charge", charge.ID, "error", err)
	}
}

// CheckStatus reconciles a charge against ledger truth on demand. Ledger
// failures here are treated as "no data available": the report falls back
// to the recorded state instead of propagating the error.
func (p *Processor) CheckStatus(ctx context.Context, id string, sweep bool) (*models.ChargeStatusReport, error) {
	charge, err := p.repo.GetCharge(id)
	if err != nil {
		return nil, err
	}

	report := &models.ChargeStatusReport{
		Charge:    charge,
		Balance:   big.NewInt(0),
		Pending:   big.NewInt(0),
		IsPaid:    charge.Received.Cmp(charge.Amount) >= 0,
		Remaining: charge.Remaining(),
	}

	balance, err := p.ledger.GetBalance(ctx, charge.AccountIndex)
	if err != nil {
		p.logger.Warnw("status check could not reach the ledger", "charge", charge.ID, "error", err)
	} else {
		total := new(big.Int).Add(balance.Balance, balance.Pending)
		remaining := new(big.Int).Sub(charge.Amount, total)
		if remaining.Sign() < 0 {
			remaining.SetInt64(0)
		}
		report.Balance = balance.Balance
		report.Pending = balance.Pending
		report.IsPaid = total.Cmp(charge.Amount) >= 0
		report.Remaining = remaining
	}

	if sweep && report.IsPaid && charge.Status != models.StatusSwept {
		if _, err := p.SweepCharge(ctx, id); err != nil && !errors.Is(err, models.ErrNothingToSweep) {
			p.logger.Errorw("sweep on status check failed", "charge", charge.ID, "error", err)
		}
		if swept, err := p.repo.GetCharge(id); err == nil {
			report.Charge = swept
		}
	}
	return report, nil
}

// DeleteCharge removes a charge that has run its course: swept, or expired
// without ever receiving funds.
func (p *Processor) DeleteCharge(id string) error {
	lock := p.chargeLock(id)
	lock.Lock()
	defer lock.Unlock()

	charge, err := p.repo.GetCharge(id)
	if err != nil {
		return err
	}
	if !charge.Deletable() {
		return fmt.Errorf("%w: charge %s is %s with %s received",
			models.ErrChargeNotDeletable, id, charge.Status, charge.Received.String())
	}
	if err := p.repo.DeleteCharge(id); err != nil {
		return err
	}
	if err := p.monitor.RemoveAccount(charge.Address); err != nil {
		p.logger.Errorw("failed to unwatch deleted address", "charge", id, "error", err)
	}
	p.locks.Delete(id)
	p.repo.Save()

	p.logger.Infow("charge deleted", "charge", id)
	return nil
}

// CleanupSwept removes all swept charges from history.
func (p *Processor) CleanupSwept() (int, error) {
	removed := 0
	for _, charge := range p.repo.ListCharges(models.StatusSwept) {
		if err := p.repo.DeleteCharge(charge.ID); err != nil {
			p.logger.Errorw("failed to remove swept charge", "charge", charge.ID, "error", err)
			continue
		}
		p.locks.Delete(charge.ID)
		removed++
	}
	if removed > 0 {
		p.repo.Save()
	}
	p.logger.Infow("swept charges cleaned up", "removed", removed)
	return removed, nil
}
