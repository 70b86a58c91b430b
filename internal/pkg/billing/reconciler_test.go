package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/artspark/artspark/app/models"
	"gorm.io/gorm"
)

// fakeRepository is an in-memory Repository with snapshot-rollback
// transactions. The mutex is held for the whole transaction, so concurrent
// Reconcile calls serialize the same way conflicting database transactions
// would.
type fakeRepository struct {
	mu sync.Mutex
	st fakeState

	// txCalls counts opened transactions so tests can assert that a
	// redelivery short-circuited before reaching one.
	txCalls int
	// subLookupErr, when set, makes FindSubscriptionByNaturalKey fail the
	// way a dropped database connection would.
	subLookupErr error
}

type fakeState struct {
	events    map[string]models.ProcessedWebhookEvent
	subs      map[string]models.Subscription
	subSeq    map[string]int64
	payments  map[string]models.Payment
	plans     map[uint]string
	credits   map[uint]models.CreditBalance
	customers map[string]uint
	nextID    uint
	seq       int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{st: fakeState{
		events:    map[string]models.ProcessedWebhookEvent{},
		subs:      map[string]models.Subscription{},
		subSeq:    map[string]int64{},
		payments:  map[string]models.Payment{},
		plans:     map[uint]string{},
		credits:   map[uint]models.CreditBalance{},
		customers: map[string]uint{},
		nextID:    1,
	}}
}

func (s fakeState) clone() fakeState {
	out := fakeState{
		events:    make(map[string]models.ProcessedWebhookEvent, len(s.events)),
		subs:      make(map[string]models.Subscription, len(s.subs)),
		subSeq:    make(map[string]int64, len(s.subSeq)),
		payments:  make(map[string]models.Payment, len(s.payments)),
		plans:     make(map[uint]string, len(s.plans)),
		credits:   make(map[uint]models.CreditBalance, len(s.credits)),
		customers: make(map[string]uint, len(s.customers)),
		nextID:    s.nextID,
		seq:       s.seq,
	}
	for k, v := range s.events {
		out.events[k] = v
	}
	for k, v := range s.subs {
		out.subs[k] = v
	}
	for k, v := range s.subSeq {
		out.subSeq[k] = v
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	for k, v := range s.plans {
		out.plans[k] = v
	}
	for k, v := range s.credits {
		out.credits[k] = v
	}
	for k, v := range s.customers {
		out.customers[k] = v
	}
	return out
}

func (f *fakeRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.txCalls++
	snapshot := f.st.clone()
	if err := fn(f); err != nil {
		f.st = snapshot
		return err
	}
	return nil
}

func (f *fakeRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	key := sub.Provider + "|" + sub.SubscriptionID
	if existing, ok := f.st.subs[key]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.ID = f.st.nextID
		f.st.nextID++
		f.st.seq++
		f.st.subSeq[key] = f.st.seq
	}
	f.st.subs[key] = *sub
	return nil
}

func (f *fakeRepository) UpsertPayment(ctx context.Context, payment *models.Payment) error {
	key := payment.Provider + "|" + payment.PaymentID
	if existing, ok := f.st.payments[key]; ok {
		payment.ID = existing.ID
	} else {
		payment.ID = f.st.nextID
		f.st.nextID++
	}
	f.st.payments[key] = *payment
	return nil
}

func (f *fakeRepository) RecordEvent(ctx context.Context, event *models.ProcessedWebhookEvent) (bool, error) {
	key := event.Provider + "|" + event.EventID
	if _, ok := f.st.events[key]; ok {
		return false, nil
	}
	event.ID = f.st.nextID
	f.st.nextID++
	f.st.events[key] = *event
	return true, nil
}

// IsEventProcessed is called outside a transaction, so it takes the lock
// itself.
func (f *fakeRepository) IsEventProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.st.events[provider+"|"+eventID]
	return ok, nil
}

func (f *fakeRepository) GetUserSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	var best, latest *models.Subscription
	var bestSeq, latestSeq int64 = -1, -1
	for key, sub := range f.st.subs {
		if sub.UserID != userID {
			continue
		}
		seq := f.st.subSeq[key]
		s := sub
		if seq > latestSeq {
			latest, latestSeq = &s, seq
		}
		if s.IsEntitling() && seq > bestSeq {
			best, bestSeq = &s, seq
		}
	}
	if best != nil {
		return best, nil
	}
	if latest != nil {
		return latest, nil
	}
	return nil, ErrNoSubscription
}

func (f *fakeRepository) FindSubscriptionByNaturalKey(ctx context.Context, provider, subscriptionID string) (*models.Subscription, error) {
	if f.subLookupErr != nil {
		return nil, f.subLookupErr
	}
	if sub, ok := f.st.subs[provider+"|"+subscriptionID]; ok {
		return &sub, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) FindPaymentByNaturalKey(ctx context.Context, provider, paymentID string) (*models.Payment, error) {
	if payment, ok := f.st.payments[provider+"|"+paymentID]; ok {
		return &payment, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) FindUserIDForCustomer(ctx context.Context, customerID string) (uint, error) {
	return f.st.customers[customerID], nil
}

func (f *fakeRepository) SaveUserBillingCustomer(ctx context.Context, userID uint, customerID string) error {
	f.st.customers[customerID] = userID
	return nil
}

func (f *fakeRepository) AddCredits(ctx context.Context, userID uint, delta int64) error {
	cb := f.st.credits[userID]
	cb.UserID = userID
	cb.Total += delta
	f.st.credits[userID] = cb
	return nil
}

func (f *fakeRepository) SetCreditAllowance(ctx context.Context, userID uint, total int64) error {
	cb := f.st.credits[userID]
	cb.UserID = userID
	cb.Total = total
	cb.Used = 0
	f.st.credits[userID] = cb
	return nil
}

func (f *fakeRepository) SetUserPlan(ctx context.Context, userID uint, plan string) error {
	f.st.plans[userID] = plan
	return nil
}

func testConfig() *Config {
	return &Config{
		Provider:      models.BillingProviderStripe,
		WebhookSecret: "whsec_test",
		SuccessURL:    "https://artspark.test/billing/success",
		CancelURL:     "https://artspark.test/pricing",
		ReturnURL:     "https://artspark.test/user/settings/billing",
		ProductPlans: map[string]string{
			"prod_creator": "creator",
			"prod_studio":  "studio",
		},
		CreditPacks: map[string]int64{
			"prod_credits_100": 100,
		},
	}
}

func mustParseEvent(t *testing.T, raw string) *Event {
	t.Helper()
	ev, err := ParseEvent([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return ev
}

func subscriptionEventJSON(eventID, eventType, subID, status string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"type": %q,
		"object": {
			"id": %q,
			"customer": "cus_1",
			"product": "prod_creator",
			"status": %q,
			"interval": "month",
			"current_period_start_date": "2026-08-01",
			"current_period_end_date": "2026-09-01",
			"metadata": { "user_id": "7" }
		}
	}`, eventID, eventType, subID, status)
}

func TestReconcile_SubscriptionActive(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	raw := subscriptionEventJSON("evt_1", EventSubscriptionActive, "sub_1", "active")
	res, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %s", res.Outcome)
	}

	sub, ok := repo.st.subs["stripe|sub_1"]
	if !ok {
		t.Fatalf("expected subscription row")
	}
	if sub.UserID != 7 || sub.Status != models.SubscriptionStatusActive || sub.InternalPlan != "creator" {
		t.Fatalf("unexpected subscription state: %+v", sub)
	}
	if repo.st.plans[7] != "creator" {
		t.Fatalf("expected user plan creator, got %q", repo.st.plans[7])
	}
	if cb := repo.st.credits[7]; cb.Total != 200 {
		t.Fatalf("expected creator allowance of 200 credits, got %d", cb.Total)
	}
	if _, ok := repo.st.events["stripe|evt_1"]; !ok {
		t.Fatalf("expected event recorded in ledger")
	}
}

func TestReconcile_DuplicateDelivery(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	raw := subscriptionEventJSON("evt_1", EventSubscriptionActive, "sub_1", "active")
	ev := mustParseEvent(t, raw)

	if _, err := rec.Reconcile(ctx, ev, []byte(raw)); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	res, err := rec.Reconcile(ctx, ev, []byte(raw))
	if err != nil {
		t.Fatalf("duplicate delivery errored: %v", err)
	}
	if res.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed, got %s", res.Outcome)
	}
	if len(repo.st.subs) != 1 {
		t.Fatalf("expected a single subscription row, got %d", len(repo.st.subs))
	}
}

func TestReconcile_ConcurrentDuplicates(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	raw := subscriptionEventJSON("evt_race", EventSubscriptionActive, "sub_1", "active")

	const workers = 16
	outcomes := make(chan Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := mustParseEvent(t, raw)
			res, err := rec.Reconcile(context.Background(), ev, []byte(raw))
			if err != nil {
				t.Errorf("reconcile failed: %v", err)
				return
			}
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	processed := 0
	for outcome := range outcomes {
		if outcome == OutcomeProcessed {
			processed++
		}
	}
	if processed != 1 {
		t.Fatalf("expected exactly one delivery to process, got %d", processed)
	}
	if len(repo.st.events) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(repo.st.events))
	}
}

func TestReconcile_LastProviderStateWins(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	first := subscriptionEventJSON("evt_1", EventSubscriptionActive, "sub_1", "active")
	if _, err := rec.Reconcile(ctx, mustParseEvent(t, first), []byte(first)); err != nil {
		t.Fatalf("active event failed: %v", err)
	}
	canceled := subscriptionEventJSON("evt_2", EventSubscriptionCanceled, "sub_1", "canceled")
	if _, err := rec.Reconcile(ctx, mustParseEvent(t, canceled), []byte(canceled)); err != nil {
		t.Fatalf("cancel event failed: %v", err)
	}

	sub := repo.st.subs["stripe|sub_1"]
	if sub.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled status, got %q", sub.Status)
	}
	if sub.CanceledAt == nil {
		t.Fatalf("expected canceled_at to be set")
	}
	if repo.st.plans[7] != "free" {
		t.Fatalf("expected downgrade to free, got %q", repo.st.plans[7])
	}
	if cb := repo.st.credits[7]; cb.Total != 10 {
		t.Fatalf("expected free allowance of 10 credits, got %d", cb.Total)
	}

	// A later reactivation clears canceled_at again.
	reactivated := subscriptionEventJSON("evt_3", EventSubscriptionUpdated, "sub_1", "active")
	if _, err := rec.Reconcile(ctx, mustParseEvent(t, reactivated), []byte(reactivated)); err != nil {
		t.Fatalf("reactivation event failed: %v", err)
	}
	sub = repo.st.subs["stripe|sub_1"]
	if sub.Status != models.SubscriptionStatusActive || sub.CanceledAt != nil {
		t.Fatalf("expected reactivated subscription, got status=%q canceled_at=%v", sub.Status, sub.CanceledAt)
	}
	if repo.st.plans[7] != "creator" {
		t.Fatalf("expected plan restored to creator, got %q", repo.st.plans[7])
	}
}

func TestReconcile_MalformedObjectRollsBack(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	// Envelope parses, but the object is missing its natural key. The
	// transaction rolls back and the ledger stays empty.
	bad := `{"id": "evt_bad", "type": "subscription.active", "object": {"status": "active"}}`
	_, err := rec.Reconcile(ctx, mustParseEvent(t, bad), []byte(bad))
	if !IsMalformedPayload(err) {
		t.Fatalf("expected malformed payload error, got %v", err)
	}
	if len(repo.st.events) != 0 {
		t.Fatalf("malformed delivery must not be recorded, ledger has %d rows", len(repo.st.events))
	}

	// A corrected redelivery with the same event ID now succeeds.
	good := subscriptionEventJSON("evt_bad", EventSubscriptionActive, "sub_1", "active")
	res, err := rec.Reconcile(ctx, mustParseEvent(t, good), []byte(good))
	if err != nil {
		t.Fatalf("corrected redelivery failed: %v", err)
	}
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("expected corrected redelivery to process, got %s", res.Outcome)
	}
}

func TestReconcile_UnknownEventTypeRecorded(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	raw := `{"id": "evt_odd", "type": "invoice.finalized", "object": {"id": "inv_1"}}`
	res, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", res.Outcome)
	}
	if _, ok := repo.st.events["stripe|evt_odd"]; !ok {
		t.Fatalf("unknown event types must still be recorded")
	}

	res, err = rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw))
	if err != nil || res.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected redelivery to dedupe, got outcome=%s err=%v", res.Outcome, err)
	}
}

func TestReconcile_UnknownCustomerIgnored(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	// No metadata, no known customer, no prior subscription row.
	raw := `{
		"id": "evt_orphan",
		"type": "subscription.active",
		"object": { "id": "sub_x", "customer": "cus_unknown", "product": "prod_creator", "status": "active" }
	}`
	res, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", res.Outcome)
	}
	if len(repo.st.subs) != 0 {
		t.Fatalf("expected no subscription rows for unknown customer")
	}
	// The delivery is still acknowledged in the ledger.
	if _, ok := repo.st.events["stripe|evt_orphan"]; !ok {
		t.Fatalf("expected orphan event recorded")
	}
}

func TestReconcile_CustomerLinkResolution(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()
	repo.st.customers["cus_9"] = 9

	raw := `{
		"id": "evt_linked",
		"type": "subscription.active",
		"object": { "id": "sub_9", "customer": "cus_9", "product": "prod_studio", "status": "active" }
	}`
	if _, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub := repo.st.subs["stripe|sub_9"]; sub.UserID != 9 || sub.InternalPlan != "studio" {
		t.Fatalf("expected customer-linked resolution, got %+v", sub)
	}

	// Follow-up event without metadata or a known customer resolves through
	// the existing subscription row.
	followup := `{
		"id": "evt_followup",
		"type": "subscription.canceled",
		"object": { "id": "sub_9", "customer": "", "product": "prod_studio", "status": "canceled" }
	}`
	if _, err := rec.Reconcile(ctx, mustParseEvent(t, followup), []byte(followup)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub := repo.st.subs["stripe|sub_9"]; sub.UserID != 9 || sub.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("expected natural-key resolution on followup, got %+v", sub)
	}
}

func TestReconcile_CreditPackGrantedOnce(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	raw := `{
		"id": "evt_pack",
		"type": "payment.succeeded",
		"object": {
			"id": "pay_1",
			"customer": "cus_1",
			"product": "prod_credits_100",
			"amount": 999,
			"currency": "USD",
			"metadata": { "user_id": "7" }
		}
	}`
	if _, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payment := repo.st.payments["stripe|pay_1"]
	if payment.UserID != 7 || payment.Status != models.PaymentStatusSucceeded || payment.PaymentType != models.PaymentTypeOneTime {
		t.Fatalf("unexpected payment state: %+v", payment)
	}
	if payment.Currency != "usd" {
		t.Fatalf("expected normalized currency, got %q", payment.Currency)
	}
	if cb := repo.st.credits[7]; cb.Total != 100 {
		t.Fatalf("expected 100 granted credits, got %d", cb.Total)
	}

	// Replay must not grant again.
	res, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw))
	if err != nil || res.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected dedup on replay, got outcome=%s err=%v", res.Outcome, err)
	}
	if cb := repo.st.credits[7]; cb.Total != 100 {
		t.Fatalf("replayed pack must not double-grant, got %d", cb.Total)
	}
}

func TestReconcile_SubscriptionPaymentNoCreditGrant(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	raw := `{
		"id": "evt_renewal",
		"type": "payment.succeeded",
		"object": {
			"id": "pay_2",
			"customer": "cus_1",
			"subscription": "sub_1",
			"product": "prod_credits_100",
			"amount": 1500,
			"currency": "usd",
			"metadata": { "user_id": "7" }
		}
	}`
	if _, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payment := repo.st.payments["stripe|pay_2"]
	if payment.PaymentType != models.PaymentTypeSubscription || payment.SubscriptionID == nil {
		t.Fatalf("expected subscription payment, got %+v", payment)
	}
	if cb := repo.st.credits[7]; cb.Total != 0 {
		t.Fatalf("subscription payments must not grant pack credits, got %d", cb.Total)
	}
}

func TestReconcile_CheckoutCompletedSubscription(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	raw := `{
		"id": "evt_checkout",
		"type": "checkout.completed",
		"object": {
			"id": "cs_1",
			"mode": "subscription",
			"customer": "cus_1",
			"metadata": { "user_id": "7" },
			"subscription": {
				"id": "sub_new",
				"product": "prod_creator",
				"status": "active",
				"interval": "month"
			}
		}
	}`
	res, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %s", res.Outcome)
	}

	sub := repo.st.subs["stripe|sub_new"]
	if sub.UserID != 7 || sub.CustomerID != "cus_1" || sub.InternalPlan != "creator" {
		t.Fatalf("expected checkout metadata and customer to flow into subscription, got %+v", sub)
	}
	if repo.st.plans[7] != "creator" {
		t.Fatalf("expected plan creator after checkout, got %q", repo.st.plans[7])
	}
}

func TestReconcile_CheckoutCompletedMissingObject(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	raw := `{
		"id": "evt_checkout_bad",
		"type": "checkout.completed",
		"object": { "id": "cs_2", "mode": "subscription", "customer": "cus_1" }
	}`
	_, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw))
	if !IsMalformedPayload(err) {
		t.Fatalf("expected malformed payload, got %v", err)
	}
	if len(repo.st.events) != 0 {
		t.Fatalf("malformed checkout must not be recorded")
	}
}

func TestReconcile_CheckoutThenPaymentGrantsOnce(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	// The same one-time purchase arrives twice under distinct event IDs:
	// first as the checkout completion, then as the payment confirmation.
	// Both pass the ledger, but the pack must only grant once.
	checkout := `{
		"id": "evt_checkout_pack",
		"type": "checkout.completed",
		"object": {
			"id": "cs_pack",
			"mode": "one_time",
			"customer": "cus_1",
			"metadata": { "user_id": "7" },
			"payment": {
				"id": "pay_1",
				"product": "prod_credits_100",
				"amount": 999,
				"currency": "usd"
			}
		}
	}`
	res, err := rec.Reconcile(ctx, mustParseEvent(t, checkout), []byte(checkout))
	if err != nil || res.Outcome != OutcomeProcessed {
		t.Fatalf("checkout delivery failed: outcome=%s err=%v", res.Outcome, err)
	}
	if cb := repo.st.credits[7]; cb.Total != 100 {
		t.Fatalf("expected 100 credits after checkout, got %d", cb.Total)
	}

	payment := `{
		"id": "evt_pay_pack",
		"type": "payment.succeeded",
		"object": {
			"id": "pay_1",
			"customer": "cus_1",
			"product": "prod_credits_100",
			"amount": 999,
			"currency": "usd",
			"metadata": { "user_id": "7" }
		}
	}`
	res, err = rec.Reconcile(ctx, mustParseEvent(t, payment), []byte(payment))
	if err != nil || res.Outcome != OutcomeProcessed {
		t.Fatalf("payment delivery failed: outcome=%s err=%v", res.Outcome, err)
	}

	if len(repo.st.payments) != 1 {
		t.Fatalf("expected a single payment row, got %d", len(repo.st.payments))
	}
	if cb := repo.st.credits[7]; cb.Total != 100 {
		t.Fatalf("pack granted twice across distinct events: credits=%d", cb.Total)
	}
	if len(repo.st.events) != 2 {
		t.Fatalf("expected both events ledgered, got %d", len(repo.st.events))
	}
}

func TestReconcile_SubscriptionLookupFailureRetries(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	// Resolution has to go through the subscription natural key: no
	// metadata and no linked customer.
	raw := `{
		"id": "evt_flaky",
		"type": "subscription.updated",
		"object": { "id": "sub_1", "customer": "", "product": "prod_creator", "status": "active" }
	}`
	repo.subLookupErr = fmt.Errorf("driver: bad connection")

	_, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw))
	if err == nil {
		t.Fatalf("expected lookup failure to propagate")
	}
	if len(repo.st.events) != 0 {
		t.Fatalf("failed delivery must roll back the ledger, got %d rows", len(repo.st.events))
	}

	// Once the database recovers, the retry processes normally.
	repo.subLookupErr = nil
	repo.st.subs["stripe|sub_1"] = models.Subscription{UserID: 7, Provider: "stripe", SubscriptionID: "sub_1"}
	res, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw))
	if err != nil || res.Outcome != OutcomeProcessed {
		t.Fatalf("retry after recovery failed: outcome=%s err=%v", res.Outcome, err)
	}
}

func TestReconcile_RedeliverySkipsTransaction(t *testing.T) {
	repo := newFakeRepository()
	rec := NewReconciler(repo, testConfig())
	ctx := context.Background()

	raw := subscriptionEventJSON("evt_1", EventSubscriptionActive, "sub_1", "active")
	if _, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw)); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	res, err := rec.Reconcile(ctx, mustParseEvent(t, raw), []byte(raw))
	if err != nil || res.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected dedup, got outcome=%s err=%v", res.Outcome, err)
	}
	if repo.txCalls != 1 {
		t.Fatalf("redelivery should answer from the ledger without a transaction, opened %d", repo.txCalls)
	}
}
