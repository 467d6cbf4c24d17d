package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// lifecyclePayload is the common shape of the four payment lifecycle events;
// fields absent for a given event (e.g. providerOrderId before a session
// exists) are simply omitted from the marshaled payload.
type lifecyclePayload struct {
	PaymentID       string `json:"paymentId"`
	UserID          string `json:"userId"`
	OrderID         string `json:"orderId"`
	Provider        string `json:"provider,omitempty"`
	ProviderOrderID string `json:"providerOrderId,omitempty"`
	PaymentStatus   string `json:"paymentStatus"`
}

func newLifecycleDraft(evtType EventType, p *Payment) OutboxDraft {
	providerOrderID := ""
	if p.ProviderOrderID != nil {
		providerOrderID = *p.ProviderOrderID
	}
	provider := ""
	if sess := p.CapturedSession(); sess != nil {
		provider = string(sess.Provider)
	} else if len(p.Sessions) > 0 {
		provider = string(p.Sessions[len(p.Sessions)-1].Provider)
	}
	payload, _ := json.Marshal(lifecyclePayload{
		PaymentID:       p.ID.String(),
		UserID:          p.UserID,
		OrderID:         p.OrderID,
		Provider:        provider,
		ProviderOrderID: providerOrderID,
		PaymentStatus:   string(p.Status),
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregatePayment,
		AggregateID:   p.ID.String(),
		EventType:     evtType,
		PartitionKey:  p.UserID,
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// NewOrderPaymentInitiatedEvent is published once CreatePayment persists the
// new Payment + first ProviderSession.
func NewOrderPaymentInitiatedEvent(p *Payment) OutboxDraft {
	return newLifecycleDraft(EventOrderPaymentInitiated, p)
}

// NewOrderPaymentSucceededEvent is published by SuccessPayment.
func NewOrderPaymentSucceededEvent(p *Payment) OutboxDraft {
	return newLifecycleDraft(EventOrderPaymentSucceeded, p)
}

// NewOrderPaymentFailedEvent is published by CancelPayment and FailurePayment.
// source is stamped unconditionally on every variant, unlike the
// inconsistency the upstream system carried on one revision of this event.
func NewOrderPaymentFailedEvent(p *Payment) OutboxDraft {
	return newLifecycleDraft(EventOrderPaymentFailed, p)
}

// NewOrderPaymentTimeoutEvent is published by HandlePaymentTimeout.
func NewOrderPaymentTimeoutEvent(p *Payment) OutboxDraft {
	return newLifecycleDraft(EventOrderPaymentTimeout, p)
}

// NewProviderEventDraft wraps a normalized ProviderEvent for the webhook
// ingress path, keyed by provider so all events for one provider get
// per-partition FIFO on the bus.
func NewProviderEventDraft(evt ProviderEvent) OutboxDraft {
	payload, _ := json.Marshal(evt)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregatePayment,
		AggregateID:   evt.ProviderEventID,
		EventType:     EventProviderEvent,
		PartitionKey:  string(evt.Provider),
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// Envelope wraps an OutboxDraft's payload in the {eventId, eventType,
// source, timestamp, payload} shape every bus message carries, per the
// publisher boundary.
func NewEnvelope(d OutboxDraft) Envelope {
	return Envelope{
		EventID:   d.EventID,
		EventType: d.EventType,
		Source:    eventSource,
		Timestamp: d.OccurredAt.UnixMilli(),
		Payload:   d.Payload,
	}
}
