package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the provider's webhook signature. Format:
//
//	t=<unix seconds>,v1=<hex hmac-sha256("<t>.<raw body>")>
//
// The MAC is computed over the exact request bytes, never a reparsed form.
const SignatureHeader = "X-ArtSpark-Signature"

// DefaultSignatureTolerance bounds how old a signed timestamp may be before
// the delivery is rejected as a potential replay.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifySignature checks the webhook signature header against the raw body
// using the shared secret. Returns ErrMissingSignature or
// ErrInvalidSignature; nil means the payload is authentic.
func VerifySignature(payload []byte, signatureHeader, secret string) error {
	return VerifySignatureWithTolerance(payload, signatureHeader, secret, DefaultSignatureTolerance, time.Now())
}

// VerifySignatureWithTolerance is VerifySignature with an explicit replay
// window and clock, for tests. A tolerance of 0 disables the timestamp check.
func VerifySignatureWithTolerance(payload []byte, signatureHeader, secret string, tolerance time.Duration, now time.Time) error {
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return ErrMissingSignature
	}
	if strings.TrimSpace(secret) == "" {
		return ErrInvalidSignature
	}

	timestamp, sigs := parseSignatureHeader(header)
	if timestamp == 0 || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	if tolerance > 0 {
		ts := time.Unix(timestamp, 0)
		if now.Sub(ts) > tolerance {
			return ErrInvalidSignature
		}
	}

	expected := computeSignature(payload, timestamp, secret)
	for _, sig := range sigs {
		decoded, err := hex.DecodeString(strings.ToLower(sig))
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ComputeSignatureHeader builds a valid header for the given payload. It is
// the counterpart to VerifySignature and is exercised by the signature and
// webhook tests.
func ComputeSignatureHeader(payload []byte, secret string, now time.Time) string {
	ts := now.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature(payload, ts, secret)))
}

func computeSignature(payload []byte, timestamp int64, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, []string) {
	var timestamp int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			if ts, err := strconv.ParseInt(kv[1], 10, 64); err == nil {
				timestamp = ts
			}
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	return timestamp, sigs
}
