package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

// WebhookHeaders are the signature headers attached to each Resend webhook
// delivery (svix scheme: the signed content is "id.timestamp.payload").
type WebhookHeaders struct {
	ID        string
	Timestamp string
	Signature string
}

// WebhookVerifier authenticates an incoming webhook payload.
type WebhookVerifier interface {
	Verify(payload []byte, headers WebhookHeaders) error
}

type svixVerifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier builds a verifier for a "whsec_"-prefixed base64 signing
// secret. Tolerance bounds how far a delivery timestamp may drift from local
// time before the delivery is rejected as a possible replay.
func NewWebhookVerifier(secret string, tolerance time.Duration) (WebhookVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook signing secret is required")
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, fmt.Errorf("decoding webhook signing secret: %w", err)
	}

	return &svixVerifier{
		key:       key,
		tolerance: tolerance,
		now:       time.Now,
	}, nil
}

func (v *svixVerifier) Verify(payload []byte, headers WebhookHeaders) error {
	if headers.ID == "" || headers.Timestamp == "" || headers.Signature == "" {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(headers.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if v.tolerance > 0 {
		drift := v.now().Sub(time.Unix(ts, 0))
		if drift > v.tolerance || drift < -v.tolerance {
			return ErrStaleTimestamp
		}
	}

	mac := hmac.New(sha256.New, v.key)
	fmt.Fprintf(mac, "%s.%s.", headers.ID, headers.Timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	// The signature header may carry several space-separated versioned
	// signatures ("v1,<base64>"); any match authenticates the delivery.
	for _, candidate := range strings.Fields(headers.Signature) {
		version, sig, found := strings.Cut(candidate, ",")
		if !found || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}

	return ErrInvalidSignature
}
