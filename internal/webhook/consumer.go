package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/attaboy/payment-orchestrator/internal/infra"
)

// processedEventTTL is how long a dispatched event's dedup marker survives,
// per §4.5 ("mark processed:{…} with TTL 30d").
const processedEventTTL = 30 * 24 * time.Hour

// PaymentUseCases is the slice of PaymentService the consumer dispatches
// into, declared here to avoid importing the whole service package surface.
type PaymentUseCases interface {
	SuccessPayment(ctx context.Context, provider domain.Provider, providerOrderID string) error
	FailurePayment(ctx context.Context, provider domain.Provider, providerOrderID string) error
}

// dispatchKey identifies one (provider, eventType) entry in the table below.
type dispatchKey struct {
	provider  domain.Provider
	eventType string
}

type dispatchFn func(ctx context.Context, uc PaymentUseCases, evt domain.ProviderEvent) error

// dispatchTable is exactly the table in §4.5's webhook consumer section.
var dispatchTable = map[dispatchKey]dispatchFn{
	{domain.ProviderStripe, "checkout.session.completed"}: success,
	{domain.ProviderStripe, "payment_intent.succeeded"}:   success,
	{domain.ProviderStripe, "payment_intent.payment_failed"}: failure,

	{domain.ProviderPayPal, "PAYMENT.CAPTURE.COMPLETED"}: success,
	{domain.ProviderPayPal, "PAYMENT.CAPTURE.DENIED"}:    failure,
	{domain.ProviderPayPal, "PAYMENT.CAPTURE.FAILED"}:    failure,

	{domain.ProviderRazorpay, "payment.captured"}: success,
	{domain.ProviderRazorpay, "order.paid"}:        success,
	{domain.ProviderRazorpay, "payment.failed"}:    failure,
	{domain.ProviderRazorpay, "order.failed"}:      failure,
}

func success(ctx context.Context, uc PaymentUseCases, evt domain.ProviderEvent) error {
	return uc.SuccessPayment(ctx, evt.Provider, evt.OrderID)
}

func failure(ctx context.Context, uc PaymentUseCases, evt domain.ProviderEvent) error {
	return uc.FailurePayment(ctx, evt.Provider, evt.OrderID)
}

// Consumer reads ProviderEvent envelopes off the bus and dispatches them
// into the lifecycle use cases, deduping by providerEventId.
type Consumer struct {
	reader  *infra.KafkaConsumer
	redis   *infra.RedisClient
	useCase PaymentUseCases
	logger  *slog.Logger
}

// NewConsumer builds a Consumer over a kafka-go reader already configured
// for the payment.provider-events.v1 topic and consumer group.
func NewConsumer(reader *infra.KafkaConsumer, redis *infra.RedisClient, useCase PaymentUseCases, logger *slog.Logger) *Consumer {
	return &Consumer{reader: reader, redis: redis, useCase: useCase, logger: logger}
}

// Run blocks, consuming and dispatching messages until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("webhook consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("webhook consumer read failed", "error", err)
			continue
		}

		var envelope domain.Envelope
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			c.logger.Error("webhook consumer envelope decode failed", "error", err)
			continue
		}

		var evt domain.ProviderEvent
		if err := json.Unmarshal(envelope.Payload, &evt); err != nil {
			c.logger.Error("webhook consumer event decode failed", "error", err)
			continue
		}

		c.dispatch(ctx, evt)
	}
}

func (c *Consumer) dispatch(ctx context.Context, evt domain.ProviderEvent) {
	processed, err := c.redis.IsProcessed(ctx, string(evt.Provider), evt.ProviderEventID)
	if err != nil {
		c.logger.Error("processed-event lookup failed", "provider", evt.Provider, "event_id", evt.ProviderEventID, "error", err)
		return
	}
	if processed {
		return
	}

	fn, ok := dispatchTable[dispatchKey{evt.Provider, evt.ProviderEventType}]
	if !ok {
		c.logger.Info("provider event has no dispatch mapping", "provider", evt.Provider, "type", evt.ProviderEventType)
		return
	}

	if err := fn(ctx, c.useCase, evt); err != nil {
		c.logger.Error("dispatch use case failed, leaving unprocessed for redelivery", "provider", evt.Provider, "type", evt.ProviderEventType, "error", err)
		return
	}

	if err := c.redis.MarkProcessed(ctx, string(evt.Provider), evt.ProviderEventID, processedEventTTL); err != nil {
		c.logger.Warn("mark processed failed", "provider", evt.Provider, "event_id", evt.ProviderEventID, "error", err)
	}
}
