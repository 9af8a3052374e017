// Package ledger implements the balance ledger: the sole writer of the
// Wallet and Core balances.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	domain "github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
	"github.com/Elevate-App/progression_layer/internal/app/domain/yield"
	"github.com/Elevate-App/progression_layer/internal/app/metrics"
	"github.com/Elevate-App/progression_layer/internal/app/storage"
	"github.com/Elevate-App/progression_layer/pkg/logger"
)

// maxUpdateRetries bounds the optimistic-version retry loop. Conflicts only
// occur when another process mutates the same user concurrently.
const maxUpdateRetries = 5

// CoreObserver is notified after a user's Core balance changes. The level
// watcher implements it.
type CoreObserver interface {
	CoreChanged(ctx context.Context, userID string, core decimal.Decimal)
}

// YieldResult reports one daily-yield application.
type YieldResult struct {
	Total    decimal.Decimal
	ToCore   decimal.Decimal
	ToWallet decimal.Decimal
	Balance  domain.Balance
}

// Service owns all balance mutations. Operations on the same user are
// serialized by a per-user lock plus the store's version guard; different
// users proceed in parallel.
type Service struct {
	store     storage.BalanceStore
	journal   storage.JournalStore
	dailyRate decimal.Decimal
	log       *logger.Logger

	mu       sync.Mutex
	userLock map[string]*sync.Mutex
	observer CoreObserver
}

// New constructs a balance ledger service.
func New(store storage.BalanceStore, journal storage.JournalStore, dailyRate decimal.Decimal, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if dailyRate.IsZero() {
		dailyRate = yield.DefaultDailyRate
	}
	return &Service{
		store:     store,
		journal:   journal,
		dailyRate: dailyRate,
		log:       log,
		userLock:  make(map[string]*sync.Mutex),
	}
}

// AttachObserver registers the core-balance observer. Call before serving
// traffic.
func (s *Service) AttachObserver(obs CoreObserver) { s.observer = obs }

// CreateBalance provisions the initial record for a user. Invoked by the
// onboarding collaborator, not by end-user traffic.
func (s *Service) CreateBalance(ctx context.Context, userID string) (domain.Balance, error) {
	if userID == "" {
		return domain.Balance{}, fmt.Errorf("user id is required: %w", domain.ErrInvalidParameter)
	}
	return s.store.CreateBalance(ctx, domain.Balance{
		UserID:      userID,
		Wallet:      decimal.Zero,
		Core:        decimal.Zero,
		Level:       0,
		ReinvestPct: domain.MaxReinvestPct,
	})
}

// GetBalance returns the current record for a user.
func (s *Service) GetBalance(ctx context.Context, userID string) (domain.Balance, error) {
	return s.store.GetBalance(ctx, userID)
}

// DailyRate exposes the boundary constant for display calculations.
func (s *Service) DailyRate() decimal.Decimal { return s.dailyRate }

// TopUpWallet credits the wallet balance. The amount must be positive.
func (s *Service) TopUpWallet(ctx context.Context, userID string, amount decimal.Decimal) (domain.Balance, error) {
	if amount.Sign() <= 0 {
		return domain.Balance{}, fmt.Errorf("top-up of %s: %w", amount, domain.ErrInvalidAmount)
	}

	bal, err := s.mutate(ctx, userID, func(bal *domain.Balance) error {
		bal.Wallet = bal.Wallet.Add(amount)
		return nil
	})
	if err != nil {
		return domain.Balance{}, err
	}

	s.append(ctx, domain.Transaction{
		UserID:      userID,
		Type:        domain.TxTopUp,
		WalletDelta: amount,
		CoreDelta:   decimal.Zero,
		WalletAfter: bal.Wallet,
		CoreAfter:   bal.Core,
	})
	metrics.RecordLedgerOperation("topup")
	s.log.WithField("user_id", userID).WithField("amount", amount.String()).Info("wallet topped up")
	return bal, nil
}

// TransferWalletToCore moves funds from the wallet into the core balance.
// Debit and credit commit together; a partial transfer is never observable.
func (s *Service) TransferWalletToCore(ctx context.Context, userID string, amount decimal.Decimal) (domain.Balance, error) {
	if amount.Sign() <= 0 {
		return domain.Balance{}, fmt.Errorf("transfer of %s: %w", amount, domain.ErrInvalidAmount)
	}

	bal, err := s.mutate(ctx, userID, func(bal *domain.Balance) error {
		if amount.Cmp(bal.Wallet) > 0 {
			return fmt.Errorf("transfer %s exceeds wallet %s: %w", amount, bal.Wallet, domain.ErrInsufficientFunds)
		}
		bal.Wallet = bal.Wallet.Sub(amount)
		bal.Core = bal.Core.Add(amount)
		return nil
	})
	if err != nil {
		return domain.Balance{}, err
	}

	s.append(ctx, domain.Transaction{
		UserID:      userID,
		Type:        domain.TxTransfer,
		WalletDelta: amount.Neg(),
		CoreDelta:   amount,
		WalletAfter: bal.Wallet,
		CoreAfter:   bal.Core,
	})
	metrics.RecordLedgerOperation("transfer")
	s.notifyCoreChanged(ctx, userID, bal.Core)
	s.log.WithField("user_id", userID).WithField("amount", amount.String()).Info("wallet transferred to core")
	return bal, nil
}

// CreditReward additively credits both balances. Used by yield distribution
// and external reward flows; deltas must be non-negative.
func (s *Service) CreditReward(ctx context.Context, userID string, walletDelta, coreDelta decimal.Decimal) (domain.Balance, error) {
	if walletDelta.Sign() < 0 || coreDelta.Sign() < 0 {
		return domain.Balance{}, fmt.Errorf("reward deltas must be non-negative: %w", domain.ErrInvalidAmount)
	}

	bal, err := s.mutate(ctx, userID, func(bal *domain.Balance) error {
		bal.Wallet = bal.Wallet.Add(walletDelta)
		bal.Core = bal.Core.Add(coreDelta)
		return nil
	})
	if err != nil {
		return domain.Balance{}, err
	}

	if coreDelta.Sign() > 0 {
		s.notifyCoreChanged(ctx, userID, bal.Core)
	}
	return bal, nil
}

// SetReinvestPercentage updates the share of daily yield routed back to core.
func (s *Service) SetReinvestPercentage(ctx context.Context, userID string, pct int) (domain.Balance, error) {
	if pct < domain.MinReinvestPct || pct > domain.MaxReinvestPct {
		return domain.Balance{}, fmt.Errorf("reinvest percentage %d not in [%d,%d]: %w",
			pct, domain.MinReinvestPct, domain.MaxReinvestPct, domain.ErrInvalidParameter)
	}
	return s.mutate(ctx, userID, func(bal *domain.Balance) error {
		bal.ReinvestPct = pct
		return nil
	})
}

// ApplyDailyYield computes one day of yield on the core balance, splits it by
// the user's reinvest percentage and credits both sides atomically.
func (s *Service) ApplyDailyYield(ctx context.Context, userID string) (YieldResult, error) {
	var result YieldResult

	bal, err := s.mutate(ctx, userID, func(bal *domain.Balance) error {
		total := yield.Daily(bal.Core, s.dailyRate)
		toCore, toWallet, err := yield.Split(total, bal.ReinvestPct)
		if err != nil {
			return err
		}
		bal.Core = bal.Core.Add(toCore)
		bal.Wallet = bal.Wallet.Add(toWallet)
		result.Total = total
		result.ToCore = toCore
		result.ToWallet = toWallet
		return nil
	})
	if err != nil {
		return YieldResult{}, err
	}
	result.Balance = bal

	if result.Total.Sign() > 0 {
		s.append(ctx, domain.Transaction{
			UserID:      userID,
			Type:        domain.TxYield,
			WalletDelta: result.ToWallet,
			CoreDelta:   result.ToCore,
			WalletAfter: bal.Wallet,
			CoreAfter:   bal.Core,
		})
	}
	metrics.RecordLedgerOperation("yield")
	if result.ToCore.Sign() > 0 {
		s.notifyCoreChanged(ctx, userID, bal.Core)
	}
	return result, nil
}

// RecordTaskReward journals a task-reward credit performed by the task
// pipeline's atomic primitive and wakes the level watcher. The balances were
// already committed by the store.
func (s *Service) RecordTaskReward(ctx context.Context, userID string, reward, newCore decimal.Decimal, reference string) {
	s.append(ctx, domain.Transaction{
		UserID:      userID,
		Type:        domain.TxTaskReward,
		WalletDelta: decimal.Zero,
		CoreDelta:   reward,
		CoreAfter:   newCore,
		Reference:   reference,
	})
	metrics.RecordLedgerOperation("task_reward")
	s.notifyCoreChanged(ctx, userID, newCore)
}

// ListTransactions returns the most recent journal entries for a user.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.journal.ListTransactions(ctx, userID, limit)
}

// mutate runs fn against a fresh read of the user's balance and writes the
// result back with the version guard, retrying on conflict. Validation errors
// from fn abort before any write. Both balances are checked for
// non-negativity before commit.
func (s *Service) mutate(ctx context.Context, userID string, fn func(*domain.Balance) error) (domain.Balance, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		bal, err := s.store.GetBalance(ctx, userID)
		if err != nil {
			return domain.Balance{}, err
		}

		if err := fn(&bal); err != nil {
			return domain.Balance{}, err
		}
		if bal.Wallet.Sign() < 0 || bal.Core.Sign() < 0 {
			return domain.Balance{}, fmt.Errorf("mutation would leave a negative balance: %w", domain.ErrInvalidAmount)
		}
		bal.Wallet = bal.Wallet.Round(domain.Precision)
		bal.Core = bal.Core.Round(domain.Precision)

		updated, err := s.store.UpdateBalance(ctx, bal)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return domain.Balance{}, err
		}
		lastErr = err
	}
	return domain.Balance{}, fmt.Errorf("balance update for user %s kept conflicting: %w", userID, lastErr)
}

func (s *Service) lockFor(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.userLock[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLock[userID] = lock
	}
	return lock
}

// append journals a transaction. Journal failures do not roll back the
// balance change they describe.
func (s *Service) append(ctx context.Context, tx domain.Transaction) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.AppendTransaction(ctx, tx); err != nil {
		s.log.WithError(err).WithField("user_id", tx.UserID).Warn("journal append failed")
	}
}

func (s *Service) notifyCoreChanged(ctx context.Context, userID string, core decimal.Decimal) {
	if s.observer != nil {
		s.observer.CoreChanged(ctx, userID, core)
	}
}
