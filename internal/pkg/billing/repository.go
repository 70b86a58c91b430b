package billing

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/artspark/artspark/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the persistence operations used by the reconciler and
// the checkout orchestrator. All entity writes key on the provider-assigned
// natural identifiers, never on internal row IDs. The interface exists so
// tests can substitute an in-memory store.
type Repository interface {
	// Transaction runs fn against a transactional view of the repository.
	// Everything fn writes commits atomically or not at all.
	Transaction(ctx context.Context, fn func(Repository) error) error

	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	UpsertPayment(ctx context.Context, payment *models.Payment) error

	// RecordEvent inserts a ledger row if absent. It reports false when the
	// (provider, eventID) pair was already recorded, which is the atomic
	// duplicate-delivery signal.
	RecordEvent(ctx context.Context, event *models.ProcessedWebhookEvent) (bool, error)
	IsEventProcessed(ctx context.Context, provider, eventID string) (bool, error)

	// GetUserSubscription returns the authoritative subscription for a user:
	// the most-recently-created active/trialing row, falling back to the
	// most recent row of any status. ErrNoSubscription when none exist.
	GetUserSubscription(ctx context.Context, userID uint) (*models.Subscription, error)
	FindSubscriptionByNaturalKey(ctx context.Context, provider, subscriptionID string) (*models.Subscription, error)
	FindPaymentByNaturalKey(ctx context.Context, provider, paymentID string) (*models.Payment, error)

	FindUserIDForCustomer(ctx context.Context, customerID string) (uint, error)
	SaveUserBillingCustomer(ctx context.Context, userID uint, customerID string) error

	// Credit side effects applied during reconciliation, inside the same
	// transaction as the entity upserts.
	AddCredits(ctx context.Context, userID uint, delta int64) error
	SetCreditAllowance(ctx context.Context, userID uint, total int64) error
	SetUserPlan(ctx context.Context, userID uint, plan string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"customer_id",
			"product_id",
			"internal_plan",
			"billing_interval",
			"status",
			"current_period_start",
			"current_period_end",
			"canceled_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.WithContext(ctx).
		Where("provider = ? AND subscription_id = ?", sub.Provider, sub.SubscriptionID).
		First(sub).Error
}

func (r *gormRepository) UpsertPayment(ctx context.Context, payment *models.Payment) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "payment_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"customer_id",
			"subscription_id",
			"product_id",
			"amount",
			"currency",
			"status",
			"payment_type",
			"updated_at",
		}),
	}).Create(payment).Error; err != nil {
		return err
	}

	return r.db.WithContext(ctx).
		Where("provider = ? AND payment_id = ?", payment.Provider, payment.PaymentID).
		First(payment).Error
}

func (r *gormRepository) RecordEvent(ctx context.Context, event *models.ProcessedWebhookEvent) (bool, error) {
	now := time.Now()
	event.Processed = true
	event.ProcessedAt = &now

	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) IsEventProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessedWebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) GetUserSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNoSubscription
	}

	entitling := 0
	var best *models.Subscription
	for i := range subs {
		if subs[i].IsEntitling() {
			entitling++
			if best == nil {
				best = &subs[i]
			}
		}
	}
	if entitling > 1 {
		// Data-consistency anomaly; the most recent row still wins, but we
		// surface it instead of silently fixing anything.
		log.Printf("[Billing] user %d has %d concurrently active subscriptions, using most recent", userID, entitling)
	}
	if best != nil {
		return best, nil
	}
	return &subs[0], nil
}

func (r *gormRepository) FindSubscriptionByNaturalKey(ctx context.Context, provider, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("provider = ? AND subscription_id = ?", provider, subscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindPaymentByNaturalKey(ctx context.Context, provider, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND payment_id = ?", provider, paymentID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *gormRepository) FindUserIDForCustomer(ctx context.Context, customerID string) (uint, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("billing_customer_id = ?", customerID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return user.ID, nil
}

func (r *gormRepository) SaveUserBillingCustomer(ctx context.Context, userID uint, customerID string) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("billing_customer_id", customerID).Error
}

func (r *gormRepository) AddCredits(ctx context.Context, userID uint, delta int64) error {
	if _, err := models.GetOrCreateCreditBalance(r.db.WithContext(ctx), userID, 0); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.CreditBalance{}).
		Where("user_id = ?", userID).
		Update("total", gorm.Expr("total + ?", delta)).Error
}

func (r *gormRepository) SetCreditAllowance(ctx context.Context, userID uint, total int64) error {
	if _, err := models.GetOrCreateCreditBalance(r.db.WithContext(ctx), userID, 0); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.CreditBalance{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"total": total, "used": 0}).Error
}

func (r *gormRepository) SetUserPlan(ctx context.Context, userID uint, plan string) error {
	us, err := models.GetOrCreateUserSettings(r.db.WithContext(ctx), userID)
	if err != nil {
		return err
	}
	if us.Plan == plan {
		return nil
	}
	us.Plan = plan
	return r.db.WithContext(ctx).Save(us).Error
}
