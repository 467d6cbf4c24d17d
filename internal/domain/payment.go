package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Provider identifies which third-party checkout provider a session runs against.
type Provider string

const (
	ProviderStripe   Provider = "STRIPE"
	ProviderPayPal   Provider = "PAYPAL"
	ProviderRazorpay Provider = "RAZORPAY"
)

// PaymentStatus is the lifecycle state of a Payment aggregate. See TransitionTo
// for the allowed edges between these states.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusResolved  PaymentStatus = "RESOLVED"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition may leave this status.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	default:
		return false
	}
}

// ProviderSessionStatus is the lifecycle state of one attempt at a provider.
type ProviderSessionStatus string

const (
	SessionStatusCreated         ProviderSessionStatus = "CREATED"
	SessionStatusPendingApproval ProviderSessionStatus = "PENDING_APPROVAL"
	SessionStatusApproved        ProviderSessionStatus = "APPROVED"
	SessionStatusCaptured        ProviderSessionStatus = "CAPTURED"
	SessionStatusFailed          ProviderSessionStatus = "FAILED"
)

// RefundStatus is the lifecycle state of a ProviderRefund record.
type RefundStatus string

const (
	RefundStatusPending RefundStatus = "PENDING"
	RefundStatusSuccess RefundStatus = "SUCCESS"
	RefundStatusFailed  RefundStatus = "FAILED"
)

// Payment is the aggregate root for a single checkout attempt on an order.
// Sessions are held for convenience only; persistence writes the aggregate
// and its touched session atomically, the aggregate does not own them.
type Payment struct {
	ID              uuid.UUID     `json:"id"`
	UserID          string        `json:"userId"`
	OrderID         string        `json:"orderId"`
	AmountMinor     int64         `json:"amount"`
	Currency        string        `json:"currency"`
	Status          PaymentStatus `json:"status"`
	IdempotencyKey  string        `json:"idempotencyKey"`
	ProviderOrderID *string       `json:"providerOrderId,omitempty"`
	ExpiresAt       time.Time     `json:"expiresAt"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`

	Sessions []ProviderSession `json:"sessions,omitempty"`
}

// CapturedSession returns the at-most-one session currently CAPTURED, if any.
func (p *Payment) CapturedSession() *ProviderSession {
	for i := range p.Sessions {
		if p.Sessions[i].Status == SessionStatusCaptured {
			return &p.Sessions[i]
		}
	}
	return nil
}

// SessionByProviderOrderID finds the session matching a provider-assigned order ID.
func (p *Payment) SessionByProviderOrderID(providerOrderID string) *ProviderSession {
	for i := range p.Sessions {
		if p.Sessions[i].ProviderOrderID == providerOrderID {
			return &p.Sessions[i]
		}
	}
	return nil
}

// ProviderSession is one attempt at charging a Payment through a named provider.
// Sessions are append-only within a Payment; they are never deleted.
type ProviderSession struct {
	ID                uuid.UUID             `json:"id"`
	PaymentID         uuid.UUID             `json:"paymentId"`
	Provider          Provider              `json:"provider"`
	ProviderOrderID   string                `json:"providerOrderId"`
	ProviderPaymentID *string               `json:"providerPaymentId,omitempty"`
	ProviderAmount    int64                 `json:"providerAmount"`
	ProviderCurrency  string                `json:"providerCurrency"`
	FXRate            *float64              `json:"fxRate,omitempty"`
	FXTimestamp       *time.Time            `json:"fxTimestamp,omitempty"`
	Status            ProviderSessionStatus `json:"status"`
	Metadata          json.RawMessage       `json:"metadata,omitempty"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

// ProviderRefund is referenced but not orchestrated by this service: the
// refund write path is out of scope, only the record shape is specified
// where it interacts with a CAPTURED session.
type ProviderRefund struct {
	ID                uuid.UUID       `json:"id"`
	PaymentID         uuid.UUID       `json:"paymentId"`
	ProviderSessionID uuid.UUID       `json:"providerSessionId"`
	ProviderRefundID  *string         `json:"providerRefundId,omitempty"`
	RequestedAmount   int64           `json:"requestedAmount"`
	RequestedCurrency string          `json:"requestedCurrency"`
	IdempotencyKey    string          `json:"idempotencyKey"`
	ProviderFee       *int64          `json:"providerFee,omitempty"`
	Status            RefundStatus    `json:"status"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// LineItem is one priced entry in a checkout session, as presented to the provider.
type LineItem struct {
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
	UnitAmount int64  `json:"unitAmount"`
	Currency   string `json:"currency"`
	ImageURL   string `json:"imageUrl,omitempty"`
}
