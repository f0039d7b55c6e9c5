package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vaultproxy/pkg/ingestor"
)

func stripeSign(secret string, ts int64, body []byte) string {
	signed := fmt.Sprintf("%d.%s", ts, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newStripeWebhook(secret string, now time.Time) *Webhook {
	base := ingestor.NewBase("acme-stripe", "", "webhook", "stripe", 10, 1000)
	return &Webhook{
		Base:     base,
		provider: &stripeProvider{secret: secret, path: "stripe", now: func() time.Time { return now }},
	}
}

func TestStripeAcceptsFreshValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	w := newStripeWebhook("whsec", now)
	body := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)
	headers := http.Header{}
	headers.Set("Stripe-Signature", stripeSign("whsec", now.Unix(), body))

	accepted, reason := w.Accept(headers, body)
	assert.True(t, accepted, reason)

	events := w.GetEvents(0)
	if assert.Len(t, events, 1) {
		assert.Equal(t, "charge.succeeded", events[0].EventType)
		assert.Equal(t, "stripe:evt_1", events[0].IdempotencyKey)
	}
}

func TestStripeRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	w := newStripeWebhook("whsec", now)
	body := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)
	staleTs := now.Add(-10 * time.Minute).Unix()
	headers := http.Header{}
	headers.Set("Stripe-Signature", stripeSign("whsec", staleTs, body))

	accepted, reason := w.Accept(headers, body)
	assert.False(t, accepted)
	assert.Equal(t, "signature timestamp outside tolerance", reason)
}

func TestStripeAcceptsAnyMatchingV1InMultiSecretRotation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	w := newStripeWebhook("whsec", now)
	body := []byte(`{"id":"evt_2","type":"charge.failed"}`)

	validSig := stripeSign("whsec", now.Unix(), body)
	combined := validSig + ",v1=deadbeef"
	headers := http.Header{}
	headers.Set("Stripe-Signature", combined)

	accepted, reason := w.Accept(headers, body)
	assert.True(t, accepted, reason)
}
