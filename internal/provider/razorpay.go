package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/attaboy/payment-orchestrator/internal/domain"
	razorpay "github.com/razorpay/razorpay-go"
)

var razorpaySupportedCurrencies = []string{"INR", "USD"}

// RazorpayAdapter implements Adapter against the official razorpay-go SDK
// for order creation, and hand-rolled HMAC verification for resolve (the SDK
// does not wrap Razorpay's signature scheme).
type RazorpayAdapter struct {
	client        *razorpay.Client
	keyID         string
	webhookSecret string
}

// NewRazorpayAdapter builds an adapter around a razorpay.Client.
func NewRazorpayAdapter(keyID, keySecret, webhookSecret string) *RazorpayAdapter {
	return &RazorpayAdapter{
		client:        razorpay.NewClient(keyID, keySecret),
		keyID:         keyID,
		webhookSecret: webhookSecret,
	}
}

func (a *RazorpayAdapter) Provider() domain.Provider { return domain.ProviderRazorpay }

// CreateSession creates a Razorpay order. Razorpay has no hosted checkout
// page of its own; the returned KeyID lets the client render Razorpay's
// checkout widget against this order.
func (a *RazorpayAdapter) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error) {
	orderData := map[string]interface{}{
		"amount":          req.Amount,
		"currency":        req.Currency,
		"receipt":         req.OrderID,
		"payment_capture": 1,
		"notes": map[string]interface{}{
			"idempotencyKey": req.IdempotencyKey,
			"userId":         req.UserID,
		},
	}

	rzOrder, err := a.client.Order.Create(orderData, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay order create: %w", err)
	}

	providerOrderID, _ := rzOrder["id"].(string)
	metadata, _ := json.Marshal(rzOrder)

	return &CreateSessionResult{
		ProviderOrderID:  providerOrderID,
		ProviderAmount:   req.Amount,
		ProviderCurrency: req.Currency,
		Metadata:         metadata,
		KeyID:            a.keyID,
	}, nil
}

// Resolve verifies an HMAC-SHA256 signature over "orderId|paymentId" using
// the webhook secret, per §4.3.
func (a *RazorpayAdapter) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	data := req.ProviderOrderID + "|" + req.ProviderPaymentID
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write([]byte(data))
	expected := hex.EncodeToString(mac.Sum(nil))

	verified := hmac.Equal([]byte(expected), []byte(req.Signature))
	status := "failed"
	if verified {
		status = "captured"
	}

	return &ResolveResult{
		ProviderStatus:    status,
		IsVerified:        verified,
		ProviderPaymentID: req.ProviderPaymentID,
	}, nil
}

// Cancel attempts a zero-capture on an authorized payment, or a full refund
// on a captured one. Best-effort: the local cancel proceeds regardless.
func (a *RazorpayAdapter) Cancel(ctx context.Context, providerOrderID, reason string) (*CancelResult, error) {
	payments, err := a.client.Order.Payments(providerOrderID, nil, nil)
	if err != nil {
		return &CancelResult{Success: false, Reason: err.Error()}, nil
	}
	items, _ := payments["items"].([]interface{})
	for _, item := range items {
		p, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		paymentID, _ := p["id"].(string)
		status, _ := p["status"].(string)
		switch status {
		case "authorized":
			if _, err := a.client.Payment.Capture(paymentID, 0, nil, nil); err != nil {
				return &CancelResult{Success: false, Reason: err.Error()}, nil
			}
		case "captured":
			if _, err := a.client.Payment.Refund(paymentID, 0, nil, nil); err != nil {
				return &CancelResult{Success: false, Reason: err.Error()}, nil
			}
		}
	}
	return &CancelResult{Success: true}, nil
}

// Refund is out of scope for orchestration; kept for contract completeness.
func (a *RazorpayAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	resp, err := a.client.Payment.Refund(req.ProviderPaymentID, int(req.Amount), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay refund: %w", err)
	}
	refundID, _ := resp["id"].(string)
	return &RefundResult{ProviderRefundID: refundID, Status: domain.RefundStatusPending}, nil
}

func (a *RazorpayAdapter) SupportedCurrencies() []string { return razorpaySupportedCurrencies }

func (a *RazorpayAdapter) IsCurrencySupported(code string) bool {
	return supportsCurrency(razorpaySupportedCurrencies, code)
}

func (a *RazorpayAdapter) IsAvailable(ctx context.Context) bool {
	_, err := a.client.Order.All(map[string]interface{}{"count": 1}, nil)
	return err == nil
}

// VerifyWebhookSignature verifies the x-razorpay-signature header: HMAC-
// SHA256 of the raw body, hex-encoded, constant-time compared, per §4.5.
func (a *RazorpayAdapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
