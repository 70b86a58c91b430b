package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/artspark/artspark/app/models"
)

type fakeProvider struct {
	customerCalls int
	checkoutCalls int
	portalCalls   int
	cancelCalls   int

	lastCheckout CheckoutParams
	checkoutErr  error
}

func (p *fakeProvider) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	p.customerCalls++
	return "cus_new", nil
}

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	p.checkoutCalls++
	p.lastCheckout = params
	if p.checkoutErr != nil {
		return nil, p.checkoutErr
	}
	return &CheckoutSession{SessionID: "cs_1", CheckoutURL: "https://pay.example/cs_1"}, nil
}

func (p *fakeProvider) CreateCustomerPortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	p.portalCalls++
	return "https://portal.example/" + customerID, nil
}

func (p *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	p.cancelCalls++
	return nil
}

func strPtr(s string) *string { return &s }

func TestCreateCheckoutSession_NewCustomer(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{}
	cfg := testConfig()
	cfg.PriceCreatorMonthly = "price_creator_m"
	orch := NewOrchestrator(repo, provider, cfg)

	user := &models.User{ID: 7, Email: "artist@example.com", Name: "artist"}
	session, err := orch.CreateCheckoutSession(context.Background(), user, CheckoutRequest{
		TierID:      "creator",
		PaymentMode: CheckoutModeSubscription,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.CheckoutURL == "" {
		t.Fatalf("expected checkout URL")
	}
	if provider.customerCalls != 1 {
		t.Fatalf("expected one customer creation, got %d", provider.customerCalls)
	}
	if repo.st.customers["cus_new"] != 7 {
		t.Fatalf("expected customer link persisted")
	}
	if user.BillingCustomerID == nil || *user.BillingCustomerID != "cus_new" {
		t.Fatalf("expected in-memory user updated with customer ID")
	}
	if provider.lastCheckout.PriceRef != "price_creator_m" {
		t.Fatalf("expected tier mapped to price ref, got %q", provider.lastCheckout.PriceRef)
	}
	if provider.lastCheckout.Metadata["user_id"] != "7" {
		t.Fatalf("expected user_id metadata, got %v", provider.lastCheckout.Metadata)
	}
}

func TestCreateCheckoutSession_ExistingCustomerReused(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{}
	orch := NewOrchestrator(repo, provider, testConfig())

	user := &models.User{ID: 7, Email: "artist@example.com", BillingCustomerID: strPtr("cus_7")}
	if _, err := orch.CreateCheckoutSession(context.Background(), user, CheckoutRequest{
		TierID:      "prod_credits_100",
		PaymentMode: CheckoutModeOneTime,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.customerCalls != 0 {
		t.Fatalf("existing customer must be reused, got %d creations", provider.customerCalls)
	}
	if provider.lastCheckout.CustomerID != "cus_7" {
		t.Fatalf("expected checkout on existing customer, got %q", provider.lastCheckout.CustomerID)
	}
	if provider.lastCheckout.Mode != CheckoutModeOneTime {
		t.Fatalf("expected one_time mode, got %q", provider.lastCheckout.Mode)
	}
}

func TestCreateCheckoutSession_ActiveSubscriptionConflict(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{}
	orch := NewOrchestrator(repo, provider, testConfig())

	user := &models.User{ID: 7, Email: "artist@example.com", BillingCustomerID: strPtr("cus_7")}
	repo.st.subs["stripe|sub_1"] = models.Subscription{
		ID: 1, UserID: 7, Provider: "stripe", SubscriptionID: "sub_1",
		Status: models.SubscriptionStatusActive,
	}
	repo.st.subSeq["stripe|sub_1"] = 1

	_, err := orch.CreateCheckoutSession(context.Background(), user, CheckoutRequest{
		TierID:      "studio",
		PaymentMode: CheckoutModeSubscription,
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.ManagementURL != "https://portal.example/cus_7" {
		t.Fatalf("expected conflict with management URL, got %+v", ce)
	}
	// The conflict is detected before any checkout call reaches the provider.
	if provider.checkoutCalls != 0 {
		t.Fatalf("conflict must not open a checkout session, got %d calls", provider.checkoutCalls)
	}
}

func TestCreateCheckoutSession_CanceledSubscriptionAllowsNewCheckout(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{}
	orch := NewOrchestrator(repo, provider, testConfig())

	user := &models.User{ID: 7, Email: "artist@example.com", BillingCustomerID: strPtr("cus_7")}
	repo.st.subs["stripe|sub_1"] = models.Subscription{
		ID: 1, UserID: 7, Provider: "stripe", SubscriptionID: "sub_1",
		Status: models.SubscriptionStatusCanceled,
	}
	repo.st.subSeq["stripe|sub_1"] = 1

	if _, err := orch.CreateCheckoutSession(context.Background(), user, CheckoutRequest{
		TierID:      "creator",
		PaymentMode: CheckoutModeSubscription,
	}); err != nil {
		t.Fatalf("canceled subscription must not block checkout: %v", err)
	}
	if provider.checkoutCalls != 1 {
		t.Fatalf("expected checkout to reach provider, got %d calls", provider.checkoutCalls)
	}
}

func TestCreateCheckoutSession_AllowMultipleActive(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{}
	cfg := testConfig()
	cfg.AllowMultipleActive = true
	orch := NewOrchestrator(repo, provider, cfg)

	user := &models.User{ID: 7, Email: "artist@example.com", BillingCustomerID: strPtr("cus_7")}
	repo.st.subs["stripe|sub_1"] = models.Subscription{
		ID: 1, UserID: 7, Provider: "stripe", SubscriptionID: "sub_1",
		Status: models.SubscriptionStatusActive,
	}
	repo.st.subSeq["stripe|sub_1"] = 1

	if _, err := orch.CreateCheckoutSession(context.Background(), user, CheckoutRequest{
		TierID:      "studio",
		PaymentMode: CheckoutModeSubscription,
	}); err != nil {
		t.Fatalf("multiple-active policy must allow checkout: %v", err)
	}
}

func TestCreateCheckoutSession_ProviderFailure(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{checkoutErr: errors.New("upstream 500")}
	orch := NewOrchestrator(repo, provider, testConfig())

	user := &models.User{ID: 7, Email: "artist@example.com", BillingCustomerID: strPtr("cus_7")}
	_, err := orch.CreateCheckoutSession(context.Background(), user, CheckoutRequest{
		TierID:      "creator",
		PaymentMode: CheckoutModeSubscription,
	})
	if !IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestCreateCustomerPortalURL(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{}
	orch := NewOrchestrator(repo, provider, testConfig())

	if _, err := orch.CreateCustomerPortalURL(context.Background(), &models.User{ID: 7}); !errors.Is(err, ErrNoBillingCustomer) {
		t.Fatalf("expected ErrNoBillingCustomer, got %v", err)
	}

	url, err := orch.CreateCustomerPortalURL(context.Background(), &models.User{ID: 7, BillingCustomerID: strPtr("cus_7")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://portal.example/cus_7" {
		t.Fatalf("unexpected portal URL %q", url)
	}
}

func TestCancelSubscription(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{}
	orch := NewOrchestrator(repo, provider, testConfig())
	user := &models.User{ID: 7, BillingCustomerID: strPtr("cus_7")}

	if err := orch.CancelSubscription(context.Background(), user); !errors.Is(err, ErrNoSubscription) {
		t.Fatalf("expected ErrNoSubscription, got %v", err)
	}

	repo.st.subs["stripe|sub_1"] = models.Subscription{
		ID: 1, UserID: 7, Provider: "stripe", SubscriptionID: "sub_1",
		Status: models.SubscriptionStatusActive,
	}
	repo.st.subSeq["stripe|sub_1"] = 1

	if err := orch.CancelSubscription(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.cancelCalls != 1 {
		t.Fatalf("expected provider cancel call, got %d", provider.cancelCalls)
	}
	// Local state is untouched until the cancellation webhook arrives.
	if repo.st.subs["stripe|sub_1"].Status != models.SubscriptionStatusActive {
		t.Fatalf("cancel must not mutate local state directly")
	}
}
