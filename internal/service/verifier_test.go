package service_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"stratos.app/sendguard/internal/service"
)

var _ = Describe("WebhookVerifier", func() {
	const secretKey = "c2VjcmV0LXNpZ25pbmcta2V5" // base64 of "secret-signing-key"

	var (
		verifier service.WebhookVerifier
		payload  []byte
	)

	sign := func(id, timestamp string, payload []byte) string {
		key, err := base64.StdEncoding.DecodeString(secretKey)
		Expect(err).NotTo(HaveOccurred())
		mac := hmac.New(sha256.New, key)
		fmt.Fprintf(mac, "%s.%s.", id, timestamp)
		mac.Write(payload)
		return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}

	freshTimestamp := func() string {
		return strconv.FormatInt(time.Now().Unix(), 10)
	}

	BeforeEach(func() {
		var err error
		verifier, err = service.NewWebhookVerifier("whsec_"+secretKey, 5*time.Minute)
		Expect(err).NotTo(HaveOccurred())
		payload = []byte(`{"type":"email.delivered"}`)
	})

	It("accepts a correctly signed payload", func() {
		ts := freshTimestamp()
		err := verifier.Verify(payload, service.WebhookHeaders{
			ID:        "evt_1",
			Timestamp: ts,
			Signature: sign("evt_1", ts, payload),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("accepts when any of several signatures matches", func() {
		ts := freshTimestamp()
		err := verifier.Verify(payload, service.WebhookHeaders{
			ID:        "evt_1",
			Timestamp: ts,
			Signature: "v1,Z2FyYmFnZQ== " + sign("evt_1", ts, payload),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a tampered payload", func() {
		ts := freshTimestamp()
		err := verifier.Verify([]byte(`{"type":"email.bounced"}`), service.WebhookHeaders{
			ID:        "evt_1",
			Timestamp: ts,
			Signature: sign("evt_1", ts, payload),
		})
		Expect(err).To(MatchError(service.ErrInvalidSignature))
	})

	It("rejects a signature minted for a different event id", func() {
		ts := freshTimestamp()
		err := verifier.Verify(payload, service.WebhookHeaders{
			ID:        "evt_2",
			Timestamp: ts,
			Signature: sign("evt_1", ts, payload),
		})
		Expect(err).To(MatchError(service.ErrInvalidSignature))
	})

	It("rejects missing signature headers", func() {
		err := verifier.Verify(payload, service.WebhookHeaders{})
		Expect(err).To(MatchError(service.ErrInvalidSignature))
	})

	It("rejects a timestamp outside the tolerance window", func() {
		stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
		err := verifier.Verify(payload, service.WebhookHeaders{
			ID:        "evt_1",
			Timestamp: stale,
			Signature: sign("evt_1", stale, payload),
		})
		Expect(err).To(MatchError(service.ErrStaleTimestamp))
	})

	It("rejects a non-numeric timestamp", func() {
		err := verifier.Verify(payload, service.WebhookHeaders{
			ID:        "evt_1",
			Timestamp: "yesterday",
			Signature: "v1,abc",
		})
		Expect(err).To(MatchError(service.ErrInvalidSignature))
	})

	It("refuses to build a verifier from a malformed secret", func() {
		_, err := service.NewWebhookVerifier("whsec_!!!not-base64!!!", time.Minute)
		Expect(err).To(HaveOccurred())
	})
})
