// Package timeout implements the two paths that expire stale PENDING
// payments: a primary cache-notification listener and a safety-net sweeper
// (§4.5).
package timeout

import (
	"context"
	"log/slog"

	"github.com/attaboy/payment-orchestrator/internal/infra"
	"github.com/google/uuid"
)

// PaymentTimeoutHandler is the slice of PaymentService the timeout system
// needs, declared here so listener/sweeper don't import the whole service
// package surface.
type PaymentTimeoutHandler interface {
	HandlePaymentTimeout(ctx context.Context, paymentID uuid.UUID) error
}

// Listener subscribes to the cache's expired-key notifications and
// dispatches HandlePaymentTimeout for each payments:timeout:{id} key that
// fires. Best-effort: the sweeper closes the gap left by any missed event.
type Listener struct {
	redis   *infra.RedisClient
	service PaymentTimeoutHandler
	logger  *slog.Logger
}

// NewListener builds a Listener over a live Redis client.
func NewListener(redis *infra.RedisClient, service PaymentTimeoutHandler, logger *slog.Logger) *Listener {
	return &Listener{redis: redis, service: service, logger: logger}
}

// Run blocks, dispatching timeouts until ctx is canceled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("timeout listener started")
	ch := l.redis.SubscribeExpired(ctx)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("timeout listener stopped")
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			paymentID := infra.TimeoutKeyPaymentID(msg.Payload)
			if paymentID == "" {
				continue
			}
			l.dispatch(ctx, paymentID)
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, paymentID string) {
	id, err := uuid.Parse(paymentID)
	if err != nil {
		l.logger.Warn("timeout event with malformed payment id", "payment_id", paymentID, "error", err)
		return
	}
	if err := l.service.HandlePaymentTimeout(ctx, id); err != nil {
		l.logger.Error("handle payment timeout failed", "payment_id", paymentID, "error", err)
	}
}
