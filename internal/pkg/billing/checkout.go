package billing

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/artspark/artspark/app/models"
)

// CheckoutRequest is the validated input for a checkout session.
type CheckoutRequest struct {
	TierID       string `json:"tier_id" validate:"required"`
	PaymentMode  string `json:"payment_mode" validate:"required,oneof=subscription one_time"`
	BillingCycle string `json:"billing_cycle" validate:"omitempty,oneof=monthly yearly"`
}

// CheckoutSession is the provider redirect handed back to the UI.
type CheckoutSession struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CheckoutParams is the provider-facing request for a new checkout session.
type CheckoutParams struct {
	CustomerID string
	PriceRef   string
	Mode       string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// ProviderClient is the remote payment provider surface used by the
// synchronous flows. The webhook path never calls it.
type ProviderClient interface {
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	CreateCustomerPortalURL(ctx context.Context, customerID, returnURL string) (string, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// Orchestrator drives the synchronous checkout and portal flows. It only
// reads subscription state; all subscription writes happen in the
// reconciler when the provider's webhooks arrive.
type Orchestrator struct {
	repo     Repository
	provider ProviderClient
	cfg      *Config
}

// NewOrchestrator creates a checkout/portal orchestrator.
func NewOrchestrator(repo Repository, provider ProviderClient, cfg *Config) *Orchestrator {
	return &Orchestrator{repo: repo, provider: provider, cfg: cfg}
}

// CreateCheckoutSession starts a provider checkout for the user. For
// subscription mode it first refuses with a ConflictError carrying a portal
// URL when the user already has an entitling subscription, so the UI can
// send them to manage the existing plan instead.
func (o *Orchestrator) CreateCheckoutSession(ctx context.Context, user *models.User, req CheckoutRequest) (*CheckoutSession, error) {
	mode := strings.ToLower(strings.TrimSpace(req.PaymentMode))

	if mode == CheckoutModeSubscription && !o.cfg.AllowMultipleActive {
		sub, err := o.repo.GetUserSubscription(ctx, user.ID)
		if err != nil && !errors.Is(err, ErrNoSubscription) {
			return nil, err
		}
		if sub != nil && sub.IsEntitling() {
			managementURL := ""
			if user.HasBillingCustomer() {
				if url, perr := o.provider.CreateCustomerPortalURL(ctx, *user.BillingCustomerID, o.cfg.ReturnURL); perr == nil {
					managementURL = url
				}
			}
			return nil, &ConflictError{
				Message:       "user already has an active subscription",
				ManagementURL: managementURL,
			}
		}
	}

	customerID, err := o.ensureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	priceRef := strings.TrimSpace(req.TierID)
	if mode == CheckoutModeSubscription {
		if ref, ok := o.cfg.PriceForTier(req.TierID, req.BillingCycle); ok {
			priceRef = ref
		}
	}

	session, err := o.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceRef:   priceRef,
		Mode:       mode,
		SuccessURL: o.cfg.SuccessURL,
		CancelURL:  o.cfg.CancelURL,
		Metadata:   map[string]string{"user_id": uintToString(user.ID)},
	})
	if err != nil {
		return nil, &ProviderError{Op: "create checkout session", Cause: err}
	}
	return session, nil
}

// CreateCustomerPortalURL returns a provider-hosted management URL.
// ErrNoBillingCustomer when the user never went through a checkout.
func (o *Orchestrator) CreateCustomerPortalURL(ctx context.Context, user *models.User) (string, error) {
	if !user.HasBillingCustomer() {
		return "", ErrNoBillingCustomer
	}
	url, err := o.provider.CreateCustomerPortalURL(ctx, *user.BillingCustomerID, o.cfg.ReturnURL)
	if err != nil {
		return "", &ProviderError{Op: "create portal session", Cause: err}
	}
	return url, nil
}

// CancelSubscription asks the provider to cancel; local state changes only
// when the resulting subscription.canceled webhook is reconciled.
func (o *Orchestrator) CancelSubscription(ctx context.Context, user *models.User) error {
	sub, err := o.repo.GetUserSubscription(ctx, user.ID)
	if err != nil {
		return err
	}
	if !sub.IsEntitling() {
		return &ConflictError{Message: "no active subscription to cancel"}
	}
	if err := o.provider.CancelSubscription(ctx, sub.SubscriptionID); err != nil {
		return &ProviderError{Op: "cancel subscription", Cause: err}
	}
	return nil
}

// GetUserSubscription exposes the authoritative subscription for read-only
// API consumers.
func (o *Orchestrator) GetUserSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	return o.repo.GetUserSubscription(ctx, userID)
}

func (o *Orchestrator) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.HasBillingCustomer() {
		return *user.BillingCustomerID, nil
	}
	customerID, err := o.provider.CreateCustomer(ctx, user.Email, user.Name, map[string]string{
		"user_id": uintToString(user.ID),
	})
	if err != nil {
		return "", &ProviderError{Op: "create customer", Cause: err}
	}
	if err := o.repo.SaveUserBillingCustomer(ctx, user.ID, customerID); err != nil {
		return "", err
	}
	user.BillingCustomerID = &customerID
	return customerID, nil
}

func uintToString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
