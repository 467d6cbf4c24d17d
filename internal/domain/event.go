package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates every event this service publishes, on the bus
// envelope's eventType field and as the event_outbox row's eventType column.
type EventType string

const (
	EventOrderPaymentInitiated EventType = "payment.order.initiated.v1"
	EventOrderPaymentSucceeded EventType = "payment.order.succeeded.v1"
	EventOrderPaymentFailed    EventType = "payment.order.failed.v1"
	EventOrderPaymentTimeout   EventType = "payment.order.timeout.v1"
	EventProviderEvent         EventType = "payment.provider-events.v1"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregatePayment AggregateType = "payment"
)

// eventSource is stamped on every outbound envelope without exception.
const eventSource = "payment-service"

// OutboxDraft is the payload written to the event_outbox table by a use case
// in the same transaction as its aggregate mutation. A separate poller reads
// unpublished rows and publishes them to the bus.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Envelope is the shape every outbox row's Payload marshals into before
// reaching the bus: {eventId, eventType, source, timestamp, payload}.
type Envelope struct {
	EventID   uuid.UUID       `json:"eventId"`
	EventType EventType       `json:"eventType"`
	Source    string          `json:"source"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// ProviderEvent is the uniform shape every provider webhook is normalized to
// before publication on payment.provider-events.v1.
type ProviderEvent struct {
	Provider          Provider        `json:"provider"`
	ProviderEventID   string          `json:"providerEventId"`
	ProviderEventType string          `json:"providerEventType"`
	ProviderPaymentID string          `json:"providerPaymentId,omitempty"`
	OrderID           string          `json:"orderId,omitempty"`
	OccurredAt        time.Time       `json:"occurredAt"`
	Raw               json.RawMessage `json:"raw"`
}
