package repository

import (
	"context"

	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PaymentRepository provides access to the payments and
// payment_provider_sessions tables.
type PaymentRepository interface {
	// Create inserts a payment and its first provider session atomically.
	Create(ctx context.Context, db DBTX, payment *domain.Payment, session *domain.ProviderSession) error

	// FindByID returns a payment with its sessions, or nil if not found.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payment, error)

	// FindByIdempotencyKey returns a payment with its sessions, or nil.
	FindByIdempotencyKey(ctx context.Context, db DBTX, key string) (*domain.Payment, error)

	// FindByProviderOrderID returns a payment with its sessions, or nil.
	FindByProviderOrderID(ctx context.Context, db DBTX, providerOrderID string) (*domain.Payment, error)

	// AppendSession inserts a new provider session for an existing payment and
	// updates the payment's providerOrderId.
	AppendSession(ctx context.Context, db DBTX, paymentID uuid.UUID, providerOrderID string, session *domain.ProviderSession) error

	// UpdateStatus writes a new payment status and the matching session's
	// status in one transaction, so no observer ever sees a mismatched pair.
	UpdateStatus(ctx context.Context, db DBTX, paymentID uuid.UUID, status domain.PaymentStatus, sessionProviderOrderID string, sessionStatus domain.ProviderSessionStatus, providerPaymentID *string) error

	// ListExpiredPending returns up to limit PENDING payments whose expiresAt
	// has passed, oldest first — the sweeper's batch query.
	ListExpiredPending(ctx context.Context, db DBTX, limit int) ([]domain.Payment, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the
	// aggregate mutation it records).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events for the outbox poller.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error)

	// MarkPublished stamps publishedAt for the given event IDs.
	MarkPublished(ctx context.Context, db DBTX, ids []uuid.UUID) error
}
