package billing

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestVerifySignature_Valid(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment.succeeded"}`)
	secret := "whsec_test"
	now := time.Unix(1700000000, 0)

	header := ComputeSignatureHeader(payload, secret, now)
	if err := VerifySignatureWithTolerance(payload, header, secret, DefaultSignatureTolerance, now); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifySignature_Missing(t *testing.T) {
	err := VerifySignature([]byte(`{}`), "", "whsec_test")
	if !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)

	header := ComputeSignatureHeader(payload, "whsec_a", now)
	err := VerifySignatureWithTolerance(payload, header, "whsec_b", DefaultSignatureTolerance, now)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	secret := "whsec_test"
	now := time.Unix(1700000000, 0)

	header := ComputeSignatureHeader([]byte(`{"amount":100}`), secret, now)
	err := VerifySignatureWithTolerance([]byte(`{"amount":999}`), header, secret, DefaultSignatureTolerance, now)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignature_ReplayOutsideTolerance(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	signedAt := time.Unix(1700000000, 0)

	header := ComputeSignatureHeader(payload, secret, signedAt)

	// Within the window it still validates.
	if err := VerifySignatureWithTolerance(payload, header, secret, DefaultSignatureTolerance, signedAt.Add(4*time.Minute)); err != nil {
		t.Fatalf("expected signature within tolerance to validate, got %v", err)
	}
	// Past the window it is rejected even though the MAC matches.
	err := VerifySignatureWithTolerance(payload, header, secret, DefaultSignatureTolerance, signedAt.Add(6*time.Minute))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected replay to be rejected, got %v", err)
	}
}

func TestVerifySignature_MalformedHeader(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Unix(1700000000, 0)

	for _, header := range []string{
		"garbage",
		"t=abc,v1=deadbeef",
		fmt.Sprintf("t=%d", now.Unix()),
		"v1=deadbeef",
	} {
		err := VerifySignatureWithTolerance(payload, header, "whsec_test", DefaultSignatureTolerance, now)
		if !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("header %q: expected ErrInvalidSignature, got %v", header, err)
		}
	}
}

func TestVerifySignature_SecondSignatureCandidate(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	now := time.Unix(1700000000, 0)

	// Header carries the valid v1 plus a stale candidate; verification
	// accepts any matching one.
	header := fmt.Sprintf("%s,v1=deadbeef", ComputeSignatureHeader(payload, secret, now))
	if err := VerifySignatureWithTolerance(payload, header, secret, DefaultSignatureTolerance, now); err != nil {
		t.Fatalf("expected any matching v1 candidate to validate, got %v", err)
	}
}
