package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

var stripeSupportedCurrencies = []string{"USD", "EUR", "GBP", "CAD", "AUD", "JPY"}

// StripeAdapter implements Adapter against the official Stripe SDK.
type StripeAdapter struct {
	client        *client.API
	webhookSecret string
}

// NewStripeAdapter builds an adapter around a client.API initialized with
// the given secret key, mirroring the "own client instance, not global
// state" discipline the SDK recommends.
func NewStripeAdapter(secretKey, webhookSecret string) *StripeAdapter {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeAdapter{client: sc, webhookSecret: webhookSecret}
}

func (a *StripeAdapter) Provider() domain.Provider { return domain.ProviderStripe }

// CreateSession creates a Stripe Checkout Session in payment mode, one line
// item per requested item, and returns its ID + hosted URL + client secret.
func (a *StripeAdapter) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	params.Context = ctx

	for _, item := range req.LineItems {
		priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(item.Currency),
			UnitAmount: stripe.Int64(item.UnitAmount),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(item.Name),
			},
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: priceData,
			Quantity:  stripe.Int64(item.Quantity),
		})
	}

	sess, err := a.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	metadata, _ := json.Marshal(map[string]string{"paymentIntent": sess.PaymentIntent.ID})

	return &CreateSessionResult{
		ProviderOrderID:  sess.ID,
		ProviderAmount:   sess.AmountTotal,
		ProviderCurrency: string(sess.Currency),
		Metadata:         metadata,
		ClientSecret:     sess.ClientSecret,
		HostedURL:        sess.URL,
	}, nil
}

// Resolve fetches the checkout session and reports its terminal state.
func (a *StripeAdapter) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := a.client.CheckoutSessions.Get(req.ProviderOrderID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	providerPaymentID := ""
	if sess.PaymentIntent != nil {
		providerPaymentID = sess.PaymentIntent.ID
	}

	return &ResolveResult{
		ProviderStatus:    string(sess.Status),
		IsVerified:        sess.Status == stripe.CheckoutSessionStatusComplete,
		ProviderPaymentID: providerPaymentID,
	}, nil
}

// Cancel voids (expires) the checkout session. Best-effort: a failure here
// does not block local cancellation of a PENDING payment.
func (a *StripeAdapter) Cancel(ctx context.Context, providerOrderID, reason string) (*CancelResult, error) {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	_, err := a.client.CheckoutSessions.Expire(providerOrderID, params)
	if err != nil {
		return &CancelResult{Success: false, Reason: err.Error()}, nil
	}
	return &CancelResult{Success: true}, nil
}

// Refund is out of scope for orchestration (refund authorization policy is a
// non-goal); this exists only to satisfy the Adapter contract.
func (a *StripeAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProviderPaymentID),
		Amount:        stripe.Int64(req.Amount),
	}
	params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	params.Context = ctx

	r, err := a.client.Refunds.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	status := domain.RefundStatusPending
	if r.Status == "succeeded" {
		status = domain.RefundStatusSuccess
	} else if r.Status == "failed" {
		status = domain.RefundStatusFailed
	}
	return &RefundResult{ProviderRefundID: r.ID, Status: status}, nil
}

func (a *StripeAdapter) SupportedCurrencies() []string { return stripeSupportedCurrencies }

func (a *StripeAdapter) IsCurrencySupported(code string) bool {
	return supportsCurrency(stripeSupportedCurrencies, code)
}

func (a *StripeAdapter) IsAvailable(ctx context.Context) bool {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	_, err := a.client.Balance.Get(params)
	return err == nil
}

// VerifyWebhookSignature verifies the stripe-signature header over the raw
// request body using the SDK's own signature construction, per §4.5.
func (a *StripeAdapter) VerifyWebhookSignature(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, a.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe error (%s): %s", stripeErr.Code, stripeErr.Msg)
	}
	return fmt.Errorf("stripe api call failed: %w", err)
}
