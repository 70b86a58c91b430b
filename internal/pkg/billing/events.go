package billing

import (
	"encoding/json"
	"strings"
	"time"
)

// Webhook event types emitted by the payment provider. Unknown types are
// acknowledged and recorded without touching entity state.
const (
	EventCheckoutCompleted    = "checkout.completed"
	EventSubscriptionActive   = "subscription.active"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventPaymentSucceeded     = "payment.succeeded"
	EventPaymentFailed        = "payment.failed"
)

// Checkout session modes.
const (
	CheckoutModeSubscription = "subscription"
	CheckoutModeOneTime      = "one_time"
)

// Event is the verified webhook envelope. Object stays raw until the
// dispatcher knows which shape to decode it into.
type Event struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

// SubscriptionObject is the provider's subscription representation inside
// subscription.* events.
type SubscriptionObject struct {
	ID                     string            `json:"id"`
	Customer               string            `json:"customer"`
	Product                string            `json:"product"`
	Status                 string            `json:"status"`
	Interval               string            `json:"interval"`
	CurrentPeriodStartDate string            `json:"current_period_start_date"`
	CurrentPeriodEndDate   string            `json:"current_period_end_date"`
	CanceledAtDate         string            `json:"canceled_at_date"`
	Metadata               map[string]string `json:"metadata"`
}

// CheckoutObject is the provider's checkout session inside
// checkout.completed events. Subscription mode carries a subscription
// reference; one-time mode carries a payment reference instead.
type CheckoutObject struct {
	ID           string              `json:"id"`
	Mode         string              `json:"mode"`
	Customer     string              `json:"customer"`
	Subscription *SubscriptionObject `json:"subscription"`
	Payment      *PaymentObject      `json:"payment"`
	Metadata     map[string]string   `json:"metadata"`
}

// PaymentObject is the provider's payment representation inside payment.*
// events and one-time checkouts.
type PaymentObject struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Product      string            `json:"product"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
}

// ParseEvent decodes a verified raw body into the event envelope. Decode
// failures classify as MalformedPayloadError and must not reach the ledger.
func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, malformedf(err, "event envelope is not valid JSON")
	}
	if strings.TrimSpace(ev.ID) == "" {
		return nil, malformedf(nil, "event is missing id")
	}
	if strings.TrimSpace(ev.Type) == "" {
		return nil, malformedf(nil, "event %s is missing type", ev.ID)
	}
	return &ev, nil
}

// SubscriptionObject decodes the event object as a subscription.
func (ev *Event) SubscriptionObject() (*SubscriptionObject, error) {
	var sub SubscriptionObject
	if err := json.Unmarshal(ev.Object, &sub); err != nil {
		return nil, malformedf(err, "event %s: object is not a subscription", ev.ID)
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, malformedf(nil, "event %s: subscription object is missing id", ev.ID)
	}
	return &sub, nil
}

// CheckoutObject decodes the event object as a checkout session.
func (ev *Event) CheckoutObject() (*CheckoutObject, error) {
	var co CheckoutObject
	if err := json.Unmarshal(ev.Object, &co); err != nil {
		return nil, malformedf(err, "event %s: object is not a checkout session", ev.ID)
	}
	if strings.TrimSpace(co.ID) == "" {
		return nil, malformedf(nil, "event %s: checkout object is missing id", ev.ID)
	}
	return &co, nil
}

// PaymentObject decodes the event object as a payment.
func (ev *Event) PaymentObject() (*PaymentObject, error) {
	var p PaymentObject
	if err := json.Unmarshal(ev.Object, &p); err != nil {
		return nil, malformedf(err, "event %s: object is not a payment", ev.ID)
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, malformedf(nil, "event %s: payment object is missing id", ev.ID)
	}
	return &p, nil
}

// parseEventDate accepts the provider's date-only and RFC3339 timestamp
// formats. Empty strings map to nil.
func parseEventDate(value string) *time.Time {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}
