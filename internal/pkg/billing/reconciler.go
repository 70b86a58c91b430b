package billing

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/artspark/artspark/app/models"
	"github.com/artspark/artspark/internal/pkg/entitlements"
)

// Outcome classifies how a delivery was handled. All three map to a 2xx
// response: the provider must never be told to retry an event we have.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeIgnored          Outcome = "ignored"
)

// Result reports what the reconciler did with one delivery.
type Result struct {
	Outcome   Outcome
	EventID   string
	EventType string
}

// Reconciler applies verified provider events to local subscription, payment
// and credit state. Each event is handled inside a single transaction with
// the idempotency-ledger insert as the atomic duplicate gate: either the
// ledger row and every entity write commit together, or none do, and a
// provider retry reprocesses from scratch.
type Reconciler struct {
	repo Repository
	cfg  *Config
}

// NewReconciler creates a reconciler over the given repository.
func NewReconciler(repo Repository, cfg *Config) *Reconciler {
	return &Reconciler{repo: repo, cfg: cfg}
}

// Reconcile routes one verified event to its handler. Malformed payloads
// roll the transaction back, so the ledger never records them and a
// corrected redelivery with the same event ID still goes through.
func (r *Reconciler) Reconcile(ctx context.Context, ev *Event, raw []byte) (Result, error) {
	res := Result{Outcome: OutcomeProcessed, EventID: ev.ID, EventType: ev.Type}

	// Fast path for redeliveries: a committed ledger row means the event is
	// done, no transaction needed. Lookup errors fall through to the
	// transactional insert, which stays the authoritative gate.
	if done, err := r.repo.IsEventProcessed(ctx, r.cfg.Provider, ev.ID); err == nil && done {
		res.Outcome = OutcomeAlreadyProcessed
		return res, nil
	}

	err := r.repo.Transaction(ctx, func(tx Repository) error {
		created, err := tx.RecordEvent(ctx, &models.ProcessedWebhookEvent{
			Provider:    r.cfg.Provider,
			EventID:     ev.ID,
			EventType:   ev.Type,
			PayloadJSON: string(raw),
		})
		if err != nil {
			return err
		}
		if !created {
			res.Outcome = OutcomeAlreadyProcessed
			return nil
		}

		var outcome Outcome
		switch ev.Type {
		case EventCheckoutCompleted:
			outcome, err = r.applyCheckoutCompleted(ctx, tx, ev)
		case EventSubscriptionActive, EventSubscriptionUpdated:
			outcome, err = r.applySubscriptionEvent(ctx, tx, ev, false)
		case EventSubscriptionCanceled:
			outcome, err = r.applySubscriptionEvent(ctx, tx, ev, true)
		case EventPaymentSucceeded, EventPaymentFailed:
			outcome, err = r.applyPaymentEvent(ctx, tx, ev)
		default:
			// Unknown event types are acknowledged and recorded so the
			// provider stops redelivering them.
			log.Printf("[Billing] unhandled webhook event type %s (%s), recording as handled", ev.Type, ev.ID)
			outcome, err = OutcomeIgnored, nil
		}
		if err != nil {
			return err
		}
		res.Outcome = outcome
		return nil
	})
	if err != nil {
		return Result{Outcome: res.Outcome, EventID: ev.ID, EventType: ev.Type}, err
	}
	return res, nil
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, tx Repository, ev *Event) (Outcome, error) {
	co, err := ev.CheckoutObject()
	if err != nil {
		return OutcomeProcessed, err
	}

	switch co.Mode {
	case CheckoutModeSubscription:
		if co.Subscription == nil {
			return OutcomeProcessed, malformedf(nil, "event %s: subscription checkout without subscription object", ev.ID)
		}
		sub := *co.Subscription
		if sub.Customer == "" {
			sub.Customer = co.Customer
		}
		if sub.Metadata == nil {
			sub.Metadata = co.Metadata
		}
		return r.upsertSubscriptionState(ctx, tx, ev, &sub, false)

	case CheckoutModeOneTime:
		if co.Payment == nil {
			return OutcomeProcessed, malformedf(nil, "event %s: one-time checkout without payment object", ev.ID)
		}
		payment := *co.Payment
		if payment.Customer == "" {
			payment.Customer = co.Customer
		}
		if payment.Metadata == nil {
			payment.Metadata = co.Metadata
		}
		if payment.Status == "" {
			payment.Status = models.PaymentStatusSucceeded
		}
		return r.upsertPaymentState(ctx, tx, ev, &payment)

	default:
		return OutcomeProcessed, malformedf(nil, "event %s: unknown checkout mode %q", ev.ID, co.Mode)
	}
}

func (r *Reconciler) applySubscriptionEvent(ctx context.Context, tx Repository, ev *Event, canceled bool) (Outcome, error) {
	sub, err := ev.SubscriptionObject()
	if err != nil {
		return OutcomeProcessed, err
	}
	return r.upsertSubscriptionState(ctx, tx, ev, sub, canceled)
}

func (r *Reconciler) upsertSubscriptionState(ctx context.Context, tx Repository, ev *Event, obj *SubscriptionObject, canceled bool) (Outcome, error) {
	userID, err := r.resolveUserID(ctx, tx, obj.Metadata, obj.Customer, obj.ID)
	if err != nil {
		return OutcomeProcessed, err
	}
	if userID == 0 {
		log.Printf("[Billing] event %s references unknown customer %s, recording without state change", ev.ID, obj.Customer)
		return OutcomeIgnored, nil
	}

	status := normalizeSubscriptionStatus(obj.Status)
	if canceled {
		status = models.SubscriptionStatusCanceled
	}

	// Last provider state wins; canceled_at is set on cancellation and
	// cleared by any later non-canceled update.
	var canceledAt *time.Time
	if status == models.SubscriptionStatusCanceled {
		if canceledAt = parseEventDate(obj.CanceledAtDate); canceledAt == nil {
			now := time.Now()
			canceledAt = &now
		}
	}

	plan := r.cfg.PlanForProduct(obj.Product)
	row := &models.Subscription{
		UserID:             userID,
		Provider:           r.cfg.Provider,
		SubscriptionID:     obj.ID,
		CustomerID:         obj.Customer,
		ProductID:          obj.Product,
		InternalPlan:       plan,
		BillingInterval:    normalizeInterval(obj.Interval),
		Status:             status,
		CurrentPeriodStart: parseEventDate(obj.CurrentPeriodStartDate),
		CurrentPeriodEnd:   parseEventDate(obj.CurrentPeriodEndDate),
		CanceledAt:         canceledAt,
	}
	if err := tx.UpsertSubscription(ctx, row); err != nil {
		return OutcomeProcessed, err
	}

	return OutcomeProcessed, r.reconcileEntitlements(ctx, tx, userID)
}

func (r *Reconciler) applyPaymentEvent(ctx context.Context, tx Repository, ev *Event) (Outcome, error) {
	obj, err := ev.PaymentObject()
	if err != nil {
		return OutcomeProcessed, err
	}
	if ev.Type == EventPaymentSucceeded {
		obj.Status = models.PaymentStatusSucceeded
	} else {
		obj.Status = models.PaymentStatusFailed
	}
	return r.upsertPaymentState(ctx, tx, ev, obj)
}

func (r *Reconciler) upsertPaymentState(ctx context.Context, tx Repository, ev *Event, obj *PaymentObject) (Outcome, error) {
	userID, err := r.resolveUserID(ctx, tx, obj.Metadata, obj.Customer, obj.Subscription)
	if err != nil {
		return OutcomeProcessed, err
	}
	if userID == 0 {
		log.Printf("[Billing] event %s references unknown customer %s, recording without state change", ev.ID, obj.Customer)
		return OutcomeIgnored, nil
	}

	paymentType := models.PaymentTypeOneTime
	var subscriptionID *string
	if s := strings.TrimSpace(obj.Subscription); s != "" {
		subscriptionID = &s
		paymentType = models.PaymentTypeSubscription
	}

	// The same purchase can surface under more than one event type (a
	// one-time checkout completion followed by its payment confirmation),
	// each with its own event ID. The ledger only dedups per event, so the
	// grant keys on the payment row's first transition into succeeded.
	alreadySucceeded := false
	prior, err := tx.FindPaymentByNaturalKey(ctx, r.cfg.Provider, obj.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return OutcomeProcessed, err
	}
	if prior != nil && prior.Status == models.PaymentStatusSucceeded {
		alreadySucceeded = true
	}

	row := &models.Payment{
		UserID:         userID,
		Provider:       r.cfg.Provider,
		PaymentID:      obj.ID,
		CustomerID:     obj.Customer,
		SubscriptionID: subscriptionID,
		ProductID:      obj.Product,
		Amount:         obj.Amount,
		Currency:       strings.ToLower(obj.Currency),
		Status:         normalizePaymentStatus(obj.Status),
		PaymentType:    paymentType,
	}
	if err := tx.UpsertPayment(ctx, row); err != nil {
		return OutcomeProcessed, err
	}

	// One-time credit packs grant inside the same transaction as the
	// payment write, and only on the first transition into succeeded.
	if row.Status == models.PaymentStatusSucceeded && subscriptionID == nil && !alreadySucceeded {
		if credits := r.cfg.PackCredits(obj.Product); credits > 0 {
			if err := tx.AddCredits(ctx, userID, credits); err != nil {
				return OutcomeProcessed, err
			}
		}
	}
	return OutcomeProcessed, nil
}

// reconcileEntitlements recomputes the user's effective plan and credit
// allowance from the authoritative subscription after any subscription
// mutation.
func (r *Reconciler) reconcileEntitlements(ctx context.Context, tx Repository, userID uint) error {
	plan := string(entitlements.PlanFree)
	sub, err := tx.GetUserSubscription(ctx, userID)
	if err != nil && err != ErrNoSubscription {
		return err
	}
	if sub != nil && sub.IsEntitling() {
		plan = sub.InternalPlan
	}

	if err := tx.SetUserPlan(ctx, userID, plan); err != nil {
		return err
	}
	return tx.SetCreditAllowance(ctx, userID, entitlements.MonthlyCredits(entitlements.Plan(plan)))
}

// resolveUserID maps a provider event to a local user. Resolution order:
// explicit metadata set at checkout creation, then an existing subscription
// row for the natural key, then the linked billing customer. Zero means no
// local owner.
func (r *Reconciler) resolveUserID(ctx context.Context, tx Repository, metadata map[string]string, customerID, subscriptionID string) (uint, error) {
	if raw, ok := metadata["user_id"]; ok {
		if id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32); err == nil && id > 0 {
			return uint(id), nil
		}
	}
	if subscriptionID != "" {
		sub, err := tx.FindSubscriptionByNaturalKey(ctx, r.cfg.Provider, subscriptionID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			// A transient lookup failure must fail the delivery so the
			// provider retries, not end as a recorded ignore.
			return 0, err
		}
		if sub != nil {
			return sub.UserID, nil
		}
	}
	if customerID != "" {
		return tx.FindUserIDForCustomer(ctx, customerID)
	}
	return 0, nil
}

func normalizeSubscriptionStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive:
		return models.SubscriptionStatusActive
	case models.SubscriptionStatusTrialing:
		return models.SubscriptionStatusTrialing
	case models.SubscriptionStatusPastDue:
		return models.SubscriptionStatusPastDue
	case models.SubscriptionStatusUnpaid:
		return models.SubscriptionStatusUnpaid
	case models.SubscriptionStatusCanceled:
		return models.SubscriptionStatusCanceled
	case "":
		return models.SubscriptionStatusActive
	default:
		return models.SubscriptionStatusIncomplete
	}
}

func normalizePaymentStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.PaymentStatusSucceeded:
		return models.PaymentStatusSucceeded
	case models.PaymentStatusFailed:
		return models.PaymentStatusFailed
	case models.PaymentStatusCanceled:
		return models.PaymentStatusCanceled
	default:
		return models.PaymentStatusPending
	}
}

func normalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case models.BillingIntervalMonth, models.BillingIntervalYear:
		return strings.ToLower(strings.TrimSpace(interval))
	default:
		return models.BillingIntervalUnknown
	}
}
