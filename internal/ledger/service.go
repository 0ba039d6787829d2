// Package ledger owns per-user, per-currency balance state. Available and
// locked balances are mutated exclusively through this service so that
// available+locked changes only via deposits, withdrawals and trade
// settlement.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/peerdax/exchange/internal/dbutil"
	"github.com/peerdax/exchange/pkg/models"
)

var (
	// ErrInsufficientFunds means the wallet's available balance cannot cover
	// a requested lock or withdrawal. A business error, reported to the caller.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrWalletNotFound means no wallet row exists for (user, currency).
	// Wallets are provisioned by the onboarding flow, so this is a caller error.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInconsistentState means a locked balance was found insufficient for
	// an operation that assumed it held. This never occurs in correct
	// operation; the enclosing transaction must be rolled back and the
	// failure escalated to operators.
	ErrInconsistentState = errors.New("inconsistent ledger state")

	// ErrInvalidAmount means a non-positive amount was passed to a ledger
	// operation.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Service implements the wallet ledger. Lock, Release and TransferLocked run
// inside the caller's transaction and never commit on their own; Deposit and
// Withdraw open their own transaction.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a ledger service backed by db.
func NewService(logger *zap.Logger, db *gorm.DB) *Service {
	return &Service{logger: logger, db: db}
}

// walletForUpdate loads a wallet row under a row-level lock.
func walletForUpdate(tx *gorm.DB, userID uuid.UUID, currency string) (*models.Wallet, error) {
	var w models.Wallet
	err := dbutil.ForUpdate(tx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s currency %s", ErrWalletNotFound, userID, currency)
		}
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	return &w, nil
}

func saveWallet(tx *gorm.DB, w *models.Wallet) error {
	w.UpdatedAt = time.Now()
	if err := tx.Save(w).Error; err != nil {
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	return nil
}

func appendEntry(tx *gorm.DB, userID uuid.UUID, currency, entryType string, amount decimal.Decimal, reference string) error {
	entry := &models.LedgerEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		Type:      entryType,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now(),
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Acquire takes the row-level lock on a wallet without changing it. Callers
// use it to hold a wallet lock early when the amounts to apply depend on
// order rows that must be locked after wallets.
func (s *Service) Acquire(tx *gorm.DB, userID uuid.UUID, currency string) error {
	_, err := walletForUpdate(tx, userID, currency)
	return err
}

// Lock moves amount from available to locked, reserving it against an open
// order. No partial lock: the whole amount must be available.
func (s *Service) Lock(tx *gorm.DB, userID uuid.UUID, currency string, amount decimal.Decimal, reference string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	w, err := walletForUpdate(tx, userID, currency)
	if err != nil {
		return err
	}
	if w.Available.LessThan(amount) {
		return fmt.Errorf("%w: available %s, required %s %s",
			ErrInsufficientFunds, w.Available, amount, currency)
	}
	w.Available = w.Available.Sub(amount)
	w.Locked = w.Locked.Add(amount)
	if err := saveWallet(tx, w); err != nil {
		return err
	}
	return appendEntry(tx, userID, currency, models.EntryTypeLock, amount, reference)
}

// Release moves amount from locked back to available, used on cancellation
// and under-match refunds. Finding less than amount locked is a ledger bug,
// reported as ErrInconsistentState.
func (s *Service) Release(tx *gorm.DB, userID uuid.UUID, currency string, amount decimal.Decimal, reference string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	w, err := walletForUpdate(tx, userID, currency)
	if err != nil {
		return err
	}
	if w.Locked.LessThan(amount) {
		return fmt.Errorf("%w: release of %s %s exceeds locked %s",
			ErrInconsistentState, amount, currency, w.Locked)
	}
	w.Locked = w.Locked.Sub(amount)
	w.Available = w.Available.Add(amount)
	if err := saveWallet(tx, w); err != nil {
		return err
	}
	return appendEntry(tx, userID, currency, models.EntryTypeRelease, amount, reference)
}

// TransferLocked settles one leg of a matched trade: amount leaves the payer's
// locked balance and arrives in the payee's available balance as a single
// atomic step inside the caller's transaction. Wallet rows are locked in
// ascending user ID order regardless of transfer direction so every call site
// acquires them canonically.
func (s *Service) TransferLocked(tx *gorm.DB, fromUserID, toUserID uuid.UUID, currency string, amount decimal.Decimal, reference string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	// Self-trades settle against a single wallet row.
	if fromUserID == toUserID {
		w, err := walletForUpdate(tx, fromUserID, currency)
		if err != nil {
			return err
		}
		if w.Locked.LessThan(amount) {
			return fmt.Errorf("%w: transfer of %s %s exceeds locked %s for user %s",
				ErrInconsistentState, amount, currency, w.Locked, fromUserID)
		}
		w.Locked = w.Locked.Sub(amount)
		w.Available = w.Available.Add(amount)
		if err := saveWallet(tx, w); err != nil {
			return err
		}
		if err := appendEntry(tx, fromUserID, currency, models.EntryTypeTransferOut, amount, reference); err != nil {
			return err
		}
		return appendEntry(tx, toUserID, currency, models.EntryTypeTransferIn, amount, reference)
	}

	var from, to *models.Wallet
	var err error
	if fromUserID.String() <= toUserID.String() {
		if from, err = walletForUpdate(tx, fromUserID, currency); err != nil {
			return err
		}
		if to, err = walletForUpdate(tx, toUserID, currency); err != nil {
			return err
		}
	} else {
		if to, err = walletForUpdate(tx, toUserID, currency); err != nil {
			return err
		}
		if from, err = walletForUpdate(tx, fromUserID, currency); err != nil {
			return err
		}
	}

	if from.Locked.LessThan(amount) {
		return fmt.Errorf("%w: transfer of %s %s exceeds locked %s for user %s",
			ErrInconsistentState, amount, currency, from.Locked, fromUserID)
	}

	from.Locked = from.Locked.Sub(amount)
	to.Available = to.Available.Add(amount)
	if err := saveWallet(tx, from); err != nil {
		return err
	}
	if err := saveWallet(tx, to); err != nil {
		return err
	}
	if err := appendEntry(tx, fromUserID, currency, models.EntryTypeTransferOut, amount, reference); err != nil {
		return err
	}
	return appendEntry(tx, toUserID, currency, models.EntryTypeTransferIn, amount, reference)
}

// Balance returns a read-only snapshot of the wallet.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s currency %s", ErrWalletNotFound, userID, currency)
		}
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	return &w, nil
}

// CreateWallet provisions an empty wallet for (user, currency). Normally the
// onboarding flow owns wallet creation; the engine only needs this for tests
// and tooling.
func (s *Service) CreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	w := &models.Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return w, nil
}

// Deposit credits amount to the wallet's available balance in its own
// transaction.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal, reference string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	w, err := walletForUpdate(tx, userID, currency)
	if err != nil {
		tx.Rollback()
		return err
	}
	w.Available = w.Available.Add(amount)
	if err := saveWallet(tx, w); err != nil {
		tx.Rollback()
		return err
	}
	if err := appendEntry(tx, userID, currency, models.EntryTypeDeposit, amount, reference); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Withdraw debits amount from the wallet's available balance in its own
// transaction. Locked funds cannot be withdrawn.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal, reference string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	w, err := walletForUpdate(tx, userID, currency)
	if err != nil {
		tx.Rollback()
		return err
	}
	if w.Available.LessThan(amount) {
		tx.Rollback()
		return fmt.Errorf("%w: available %s, required %s %s",
			ErrInsufficientFunds, w.Available, amount, currency)
	}
	w.Available = w.Available.Sub(amount)
	if err := saveWallet(tx, w); err != nil {
		tx.Rollback()
		return err
	}
	if err := appendEntry(tx, userID, currency, models.EntryTypeWithdrawal, amount, reference); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Entries returns the append-only ledger entries for a wallet, newest first.
func (s *Service) Entries(ctx context.Context, userID uuid.UUID, currency string, limit, offset int) ([]*models.LedgerEntry, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("user_id = ? AND currency = ?", userID, currency)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	var entries []*models.LedgerEntry
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find ledger entries: %w", err)
	}
	return entries, count, nil
}
