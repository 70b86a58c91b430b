package credits

import (
	"context"
	"errors"

	"github.com/artspark/artspark/app/models"
	"github.com/artspark/artspark/internal/pkg/entitlements"
	"gorm.io/gorm"
)

// ErrInsufficientCredits is returned when a consume would overdraw the
// balance.
var ErrInsufficientCredits = errors.New("credits: insufficient balance")

// Service manages per-user generation credit balances. Consumption is
// guarded with a conditional update so concurrent generations cannot spend
// the same credit twice.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// EnsureInitialized creates the balance row with the free-plan allowance if
// the user has none yet.
func (s *Service) EnsureInitialized(ctx context.Context, userID uint) (*models.CreditBalance, error) {
	return models.GetOrCreateCreditBalance(
		s.db.WithContext(ctx), userID, entitlements.MonthlyCredits(entitlements.PlanFree))
}

// Balance returns the current balance, initializing it on first access.
func (s *Service) Balance(ctx context.Context, userID uint) (*models.CreditBalance, error) {
	return s.EnsureInitialized(ctx, userID)
}

// Consume spends amount credits. The WHERE clause re-checks the remaining
// balance inside the UPDATE, so a lost race surfaces as zero affected rows
// instead of an overdraft.
func (s *Service) Consume(ctx context.Context, userID uint, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if _, err := s.EnsureInitialized(ctx, userID); err != nil {
		return err
	}

	tx := s.db.WithContext(ctx).Model(&models.CreditBalance{}).
		Where("user_id = ? AND total - used >= ?", userID, amount).
		Update("used", gorm.Expr("used + ?", amount))
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

// Refund returns previously consumed credits, e.g. after a failed
// generation. Never drops used below zero.
func (s *Service) Refund(ctx context.Context, userID uint, amount int64) error {
	if amount <= 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.CreditBalance{}).
		Where("user_id = ?", userID).
		Update("used", gorm.Expr("GREATEST(used - ?, 0)", amount)).Error
}
