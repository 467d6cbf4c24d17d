// Package provider implements the uniform adapter port over Stripe, PayPal,
// and Razorpay: one contract, three variants, no deep type hierarchy.
package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/attaboy/payment-orchestrator/internal/domain"
)

// CreateSessionRequest is the uniform shape for createSession across every
// provider variant (§4.3).
type CreateSessionRequest struct {
	UserID         string
	OrderID        string
	IdempotencyKey string
	Amount         int64
	Currency       string
	LineItems      []domain.LineItem
	SuccessURL     string
	CancelURL      string
	Description    string
	CustomerEmail  string
}

// CreateSessionResult is the provider-shaped session handed back to the
// caller: a tagged union in spirit (only the fields a given provider
// populates are non-zero), mapped at the RPC boundary rather than modeled as
// a type hierarchy.
type CreateSessionResult struct {
	ProviderOrderID  string
	ProviderAmount   int64
	ProviderCurrency string
	Metadata         json.RawMessage

	// Stripe
	ClientSecret string
	HostedURL    string
	// PayPal
	ApprovalURL string
	// Razorpay
	KeyID string
}

// ResolveRequest carries whatever a client-driven resolve needs per variant:
// PayPal captures by order ID, Razorpay verifies a signature over
// orderId|paymentId, Stripe looks up a checkout session by ID.
type ResolveRequest struct {
	ProviderOrderID   string
	ProviderPaymentID string
	Signature         string
}

// ResolveResult reports what the provider told us about a session's state.
type ResolveResult struct {
	ProviderStatus    string
	IsVerified        bool
	ProviderPaymentID string
}

// CancelResult reports whether the provider honored a cancel request.
type CancelResult struct {
	Success bool
	Reason  string
}

// RefundRequest/RefundResult are listed for completeness per §4.3; the
// refund use case itself is out of scope (refund authorization policy is a
// non-goal).
type RefundRequest struct {
	ProviderOrderID   string
	ProviderPaymentID string
	Amount            int64
	Currency          string
	IdempotencyKey    string
}

type RefundResult struct {
	ProviderRefundID string
	Status           domain.RefundStatus
	ProviderFee      *int64
}

// Adapter is the uniform port every provider implements.
type Adapter interface {
	Provider() domain.Provider
	CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error)
	Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error)
	Cancel(ctx context.Context, providerOrderID, reason string) (*CancelResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	SupportedCurrencies() []string
	IsCurrencySupported(code string) bool
	IsAvailable(ctx context.Context) bool
}

// supportsCurrency is the shared helper every adapter's IsCurrencySupported
// delegates to.
func supportsCurrency(supported []string, code string) bool {
	for _, c := range supported {
		if c == code {
			return true
		}
	}
	return false
}

// httpTimeout is the per-call timeout provider HTTP clients use, per §5
// ("15s per-call timeout").
const httpTimeout = 15 * time.Second
