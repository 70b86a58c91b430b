package billing

import (
	"errors"
	"fmt"
)

// Signature verification failures. Both reject the request before any
// transaction opens.
var (
	ErrMissingSignature = errors.New("billing: missing webhook signature")
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
)

// ErrNoSubscription is returned when a user has no subscription rows at all.
var ErrNoSubscription = errors.New("billing: no subscription for user")

// ErrNoBillingCustomer is returned when a portal URL is requested for a user
// without a linked provider customer.
var ErrNoBillingCustomer = errors.New("billing: user has no billing customer")

// MalformedPayloadError marks payloads that verified fine but cannot be
// decoded into the expected event shape. These are never recorded in the
// idempotency ledger so a corrected redelivery can still succeed.
type MalformedPayloadError struct {
	Reason string
	Cause  error
}

func (e *MalformedPayloadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("billing: malformed payload: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("billing: malformed payload: %s", e.Reason)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Cause }

func malformedf(cause error, format string, args ...interface{}) error {
	return &MalformedPayloadError{Reason: fmt.Sprintf(format, args...), Cause: cause}
}

// IsMalformedPayload reports whether err is a payload decode failure.
func IsMalformedPayload(err error) bool {
	var mp *MalformedPayloadError
	return errors.As(err, &mp)
}

// ConflictError is a business rule violation surfaced to the caller with
// actionable data, e.g. "already subscribed" with a management URL. It is
// not retried.
type ConflictError struct {
	Message       string
	ManagementURL string
}

func (e *ConflictError) Error() string { return "billing: " + e.Message }

// IsConflict reports whether err is a business conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ProviderError wraps failures talking to the remote payment provider, kept
// distinct from business conflicts so callers can render different messages.
type ProviderError struct {
	Op    string
	Cause error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("billing: provider %s failed: %v", e.Op, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// IsProviderError reports whether err came from the remote provider call.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
