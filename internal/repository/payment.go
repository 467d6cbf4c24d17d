package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/attaboy/payment-orchestrator/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type paymentRepo struct{}

// NewPaymentRepository returns a pgx-backed PaymentRepository.
func NewPaymentRepository() PaymentRepository {
	return &paymentRepo{}
}

func (r *paymentRepo) Create(ctx context.Context, db DBTX, p *domain.Payment, s *domain.ProviderSession) error {
	_, err := db.Exec(ctx, `
		INSERT INTO payments (id, "userId", "orderId", amount, currency, status,
			"idempotencyKey", "providerOrderId", "expiresAt", "createdAt", "updatedAt")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.UserID, p.OrderID, infra.Int64ToNumeric(p.AmountMinor), p.Currency, string(p.Status),
		p.IdempotencyKey, p.ProviderOrderID, p.ExpiresAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	if err := insertSession(ctx, db, p.ID, s); err != nil {
		return err
	}
	return nil
}

func insertSession(ctx context.Context, db DBTX, paymentID uuid.UUID, s *domain.ProviderSession) error {
	metadata := s.Metadata
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO payment_provider_sessions (id, "paymentId", provider, "providerOrderId",
			"providerPaymentId", "providerAmount", "providerCurrency", "fxRate", "fxTimestamp",
			status, metadata, "createdAt", "updatedAt")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, paymentID, string(s.Provider), s.ProviderOrderID,
		s.ProviderPaymentID, infra.Int64ToNumeric(s.ProviderAmount), s.ProviderCurrency, s.FXRate, s.FXTimestamp,
		string(s.Status), metadata, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert provider session: %w", err)
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payment, error) {
	return r.findOne(ctx, db, `id = $1`, id)
}

func (r *paymentRepo) FindByIdempotencyKey(ctx context.Context, db DBTX, key string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `"idempotencyKey" = $1`, key)
}

func (r *paymentRepo) FindByProviderOrderID(ctx context.Context, db DBTX, providerOrderID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `"providerOrderId" = $1`, providerOrderID)
}

func (r *paymentRepo) findOne(ctx context.Context, db DBTX, where string, arg interface{}) (*domain.Payment, error) {
	row := db.QueryRow(ctx, `
		SELECT id, "userId", "orderId", amount, currency, status,
		       "idempotencyKey", "providerOrderId", "expiresAt", "createdAt", "updatedAt"
		FROM payments WHERE `+where, arg)

	p, err := scanPayment(row)
	if err != nil || p == nil {
		return p, err
	}

	sessions, err := r.sessionsForPayment(ctx, db, p.ID)
	if err != nil {
		return nil, err
	}
	p.Sessions = sessions
	return p, nil
}

func (r *paymentRepo) sessionsForPayment(ctx context.Context, db DBTX, paymentID uuid.UUID) ([]domain.ProviderSession, error) {
	rows, err := db.Query(ctx, `
		SELECT id, "paymentId", provider, "providerOrderId", "providerPaymentId",
		       "providerAmount", "providerCurrency", "fxRate", "fxTimestamp",
		       status, metadata, "createdAt", "updatedAt"
		FROM payment_provider_sessions
		WHERE "paymentId" = $1
		ORDER BY "createdAt" ASC`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("query provider sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.ProviderSession
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *paymentRepo) AppendSession(ctx context.Context, db DBTX, paymentID uuid.UUID, providerOrderID string, s *domain.ProviderSession) error {
	if err := insertSession(ctx, db, paymentID, s); err != nil {
		return err
	}
	_, err := db.Exec(ctx, `UPDATE payments SET "providerOrderId" = $2, "updatedAt" = now() WHERE id = $1`,
		paymentID, providerOrderID)
	if err != nil {
		return fmt.Errorf("update payment provider order id: %w", err)
	}
	return nil
}

func (r *paymentRepo) UpdateStatus(ctx context.Context, db DBTX, paymentID uuid.UUID, status domain.PaymentStatus, sessionProviderOrderID string, sessionStatus domain.ProviderSessionStatus, providerPaymentID *string) error {
	_, err := db.Exec(ctx, `UPDATE payments SET status = $2, "updatedAt" = now() WHERE id = $1`,
		paymentID, string(status))
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	if sessionProviderOrderID == "" {
		return nil
	}
	_, err = db.Exec(ctx, `
		UPDATE payment_provider_sessions
		SET status = $3, "providerPaymentId" = COALESCE($4, "providerPaymentId"), "updatedAt" = now()
		WHERE "paymentId" = $1 AND "providerOrderId" = $2`,
		paymentID, sessionProviderOrderID, string(sessionStatus), providerPaymentID)
	if err != nil {
		return fmt.Errorf("update provider session status: %w", err)
	}
	return nil
}

func (r *paymentRepo) ListExpiredPending(ctx context.Context, db DBTX, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
		SELECT id, "userId", "orderId", amount, currency, status,
		       "idempotencyKey", "providerOrderId", "expiresAt", "createdAt", "updatedAt"
		FROM payments
		WHERE status = $1 AND "expiresAt" <= now()
		ORDER BY "expiresAt" ASC
		LIMIT $2`, string(domain.PaymentStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("query expired pending payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPaymentRow(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var amountNum pgtype.Numeric
	err := row.Scan(
		&p.ID, &p.UserID, &p.OrderID, &amountNum, &p.Currency, &p.Status,
		&p.IdempotencyKey, &p.ProviderOrderID, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	amount, err := infra.NumericToInt64(amountNum)
	if err != nil {
		return nil, fmt.Errorf("convert payment amount: %w", err)
	}
	p.AmountMinor = amount
	return &p, nil
}

func scanPaymentRow(rows pgx.Rows) (*domain.Payment, error) {
	var p domain.Payment
	var amountNum pgtype.Numeric
	err := rows.Scan(
		&p.ID, &p.UserID, &p.OrderID, &amountNum, &p.Currency, &p.Status,
		&p.IdempotencyKey, &p.ProviderOrderID, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan payment row: %w", err)
	}
	amount, err := infra.NumericToInt64(amountNum)
	if err != nil {
		return nil, fmt.Errorf("convert payment amount: %w", err)
	}
	p.AmountMinor = amount
	return &p, nil
}

func scanSessionRow(rows pgx.Rows) (*domain.ProviderSession, error) {
	var s domain.ProviderSession
	var amountNum pgtype.Numeric
	err := rows.Scan(
		&s.ID, &s.PaymentID, &s.Provider, &s.ProviderOrderID, &s.ProviderPaymentID,
		&amountNum, &s.ProviderCurrency, &s.FXRate, &s.FXTimestamp,
		&s.Status, &s.Metadata, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan provider session row: %w", err)
	}
	amount, err := infra.NumericToInt64(amountNum)
	if err != nil {
		return nil, fmt.Errorf("convert provider session amount: %w", err)
	}
	s.ProviderAmount = amount
	return &s, nil
}
