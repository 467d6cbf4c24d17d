package timeout

import (
	"context"
	"log/slog"
	"time"

	"github.com/attaboy/payment-orchestrator/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	sweepInterval  = time.Minute
	sweepBatchSize = 50
)

// Sweeper is the safety-net path for §4.5: a fixed-interval batch query
// catching any PENDING payment the primary listener's best-effort delivery
// missed. Idempotent with the listener because HandlePaymentTimeout no-ops
// on any non-PENDING payment.
type Sweeper struct {
	pool     *pgxpool.Pool
	payments repository.PaymentRepository
	service  PaymentTimeoutHandler
	logger   *slog.Logger
}

// NewSweeper builds a Sweeper.
func NewSweeper(pool *pgxpool.Pool, payments repository.PaymentRepository, service PaymentTimeoutHandler, logger *slog.Logger) *Sweeper {
	return &Sweeper{pool: pool, payments: payments, service: service, logger: logger}
}

// Run blocks, sweeping at sweepInterval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("timeout sweeper started", "interval", sweepInterval, "batch_size", sweepBatchSize)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeout sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("timeout sweep error", "error", err)
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	expired, err := s.payments.ListExpiredPending(ctx, s.pool, sweepBatchSize)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	for _, p := range expired {
		if err := s.service.HandlePaymentTimeout(ctx, p.ID); err != nil {
			s.logger.Error("sweep timeout dispatch failed", "payment_id", p.ID, "error", err)
		}
	}
	s.logger.Debug("timeout sweep complete", "swept", len(expired))
	return nil
}
