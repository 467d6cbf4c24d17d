package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
)

func signRazorpay(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRazorpayAdapter_Resolve_ValidSignature(t *testing.T) {
	a := NewRazorpayAdapter("rzp_key", "rzp_secret", "whsec")
	sig := signRazorpay("whsec", "order_1|pay_1")

	result, err := a.Resolve(context.Background(), ResolveRequest{
		ProviderOrderID:   "order_1",
		ProviderPaymentID: "pay_1",
		Signature:         sig,
	})

	assert.NoError(t, err)
	assert.True(t, result.IsVerified)
	assert.Equal(t, "captured", result.ProviderStatus)
	assert.Equal(t, "pay_1", result.ProviderPaymentID)
}

func TestRazorpayAdapter_Resolve_InvalidSignature(t *testing.T) {
	a := NewRazorpayAdapter("rzp_key", "rzp_secret", "whsec")

	result, err := a.Resolve(context.Background(), ResolveRequest{
		ProviderOrderID:   "order_1",
		ProviderPaymentID: "pay_1",
		Signature:         "not-the-right-signature",
	})

	assert.NoError(t, err)
	assert.False(t, result.IsVerified)
	assert.Equal(t, "failed", result.ProviderStatus)
}

func TestRazorpayAdapter_VerifyWebhookSignature(t *testing.T) {
	a := NewRazorpayAdapter("rzp_key", "rzp_secret", "whsec")
	payload := []byte(`{"event":"payment.captured"}`)
	sig := signRazorpay("whsec", string(payload))

	assert.True(t, a.VerifyWebhookSignature(payload, sig))
	assert.False(t, a.VerifyWebhookSignature(payload, "garbage"))
	assert.False(t, a.VerifyWebhookSignature([]byte(`{"event":"tampered"}`), sig))
}

func TestRazorpayAdapter_SupportedCurrencies(t *testing.T) {
	a := NewRazorpayAdapter("rzp_key", "rzp_secret", "whsec")

	assert.True(t, a.IsCurrencySupported("INR"))
	assert.True(t, a.IsCurrencySupported("USD"))
	assert.False(t, a.IsCurrencySupported("EUR"))
	assert.Equal(t, domain.ProviderRazorpay, a.Provider())
}
