package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/artspark/artspark/app/models"
	"github.com/artspark/artspark/internal/pkg/billing"
	"github.com/artspark/artspark/internal/pkg/credits"
	"github.com/artspark/artspark/internal/pkg/database"
	"github.com/artspark/artspark/internal/pkg/entitlements"
	"github.com/artspark/artspark/internal/pkg/session"
	"github.com/artspark/artspark/internal/pkg/usercontext"
)

const webhookTimeout = 15 * time.Second

var (
	billingConfig       *billing.Config
	billingOrchestrator *billing.Orchestrator
	billingReconciler   *billing.Reconciler
)

// InitializeBillingController wires the billing stack. Called once from the
// router after the database is up.
func InitializeBillingController() {
	billingConfig = billing.ConfigFromEnv()
	repo := billing.NewRepository(database.GetDB())
	billingReconciler = billing.NewReconciler(repo, billingConfig)
	billingOrchestrator = billing.NewOrchestrator(repo, billing.NewStripeClient(billingConfig), billingConfig)
}

// SetBillingDependencies replaces the billing stack, used by tests.
func SetBillingDependencies(cfg *billing.Config, reconciler *billing.Reconciler, orchestrator *billing.Orchestrator) {
	billingConfig = cfg
	billingReconciler = reconciler
	billingOrchestrator = orchestrator
}

// HandleBillingWebhook receives provider webhook deliveries. Ordering:
// verify the signature over the raw bytes, parse, then reconcile inside one
// transaction. Any 2xx tells the provider to stop redelivering, so only
// fully handled or safely recorded events return 200.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get(billing.SignatureHeader)

	if err := billing.VerifySignature(rawBody, signature, billingConfig.WebhookSecret); err != nil {
		log.Warnf("[Billing] webhook signature rejected: %v", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ev, err := billing.ParseEvent(rawBody)
	if err != nil {
		log.Warnf("[Billing] webhook payload rejected: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	result, err := billingReconciler.Reconcile(ctx, ev, rawBody)
	if err != nil {
		if billing.IsMalformedPayload(err) {
			log.Warnf("[Billing] event %s rejected: %v", ev.ID, err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		log.Errorf("[Billing] event %s failed: %v", ev.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
	}

	switch result.Outcome {
	case billing.OutcomeAlreadyProcessed:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case billing.OutcomeIgnored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	}
}

// HandleBillingCheckout starts a checkout session for the logged-in user.
func HandleBillingCheckout(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req billing.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}
	if req.TierID == "" || req.PaymentMode == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tier_id and payment_mode are required"})
	}

	sessionData, err := billingOrchestrator.CreateCheckoutSession(c.UserContext(), user, req)
	if err != nil {
		var conflict *billing.ConflictError
		if errors.As(err, &conflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":          "subscription_exists",
				"message":        conflict.Message,
				"management_url": conflict.ManagementURL,
			})
		}
		if billing.IsProviderError(err) {
			log.Errorf("[Billing] checkout for user %d failed: %v", user.ID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable"})
		}
		log.Errorf("[Billing] checkout for user %d failed: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(sessionData)
}

// HandleBillingPortal returns a provider-hosted subscription management URL.
func HandleBillingPortal(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	url, err := billingOrchestrator.CreateCustomerPortalURL(c.UserContext(), user)
	if err != nil {
		if errors.Is(err, billing.ErrNoBillingCustomer) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_billing_customer"})
		}
		log.Errorf("[Billing] portal for user %d failed: %v", user.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"portal_url": url})
}

// HandleBillingSubscription returns the user's authoritative subscription
// plus the current credit balance.
func HandleBillingSubscription(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	balance, err := credits.NewService(database.GetDB()).Balance(c.UserContext(), user.ID)
	if err != nil {
		log.Errorf("[Billing] balance lookup for user %d failed: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "balance_lookup_failed"})
	}

	// Reconciliation may have changed the plan since login; refresh the
	// session cache while we are here.
	refreshSessionPlan(c, user.ID)

	plan := "free"
	if us, err := models.GetOrCreateUserSettings(database.GetDB(), user.ID); err == nil {
		plan = us.Plan
	}

	resp := fiber.Map{
		"plan":           plan,
		"max_image_size": entitlements.MaxImageSize(entitlements.ParsePlan(plan)),
		"credits": fiber.Map{
			"total":     balance.Total,
			"used":      balance.Used,
			"remaining": balance.Remaining(),
		},
	}

	sub, err := billingOrchestrator.GetUserSubscription(c.UserContext(), user.ID)
	if err != nil {
		if !errors.Is(err, billing.ErrNoSubscription) {
			log.Errorf("[Billing] subscription lookup for user %d failed: %v", user.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_lookup_failed"})
		}
		resp["subscription"] = nil
		return c.Status(fiber.StatusOK).JSON(resp)
	}

	resp["subscription"] = sub
	return c.Status(fiber.StatusOK).JSON(resp)
}

// HandleBillingCancel asks the provider to cancel the active subscription.
// Local state changes when the cancellation webhook arrives.
func HandleBillingCancel(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	if err := billingOrchestrator.CancelSubscription(c.UserContext(), user); err != nil {
		if errors.Is(err, billing.ErrNoSubscription) || billing.IsConflict(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_active_subscription"})
		}
		log.Errorf("[Billing] cancel for user %d failed: %v", user.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// currentUser loads the logged-in user or writes a 401.
func currentUser(c *fiber.Ctx) (*models.User, error) {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var user models.User
	if err := database.GetDB().First(&user, userCtx.UserID).Error; err != nil {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	return &user, nil
}

// refreshSessionPlan re-reads the user's plan into the session cache after
// billing changes it.
func refreshSessionPlan(c *fiber.Ctx, userID uint) {
	if us, err := models.GetOrCreateUserSettings(database.GetDB(), userID); err == nil {
		_ = session.SetSessionValue(c, "user_plan", us.Plan)
	}
}
