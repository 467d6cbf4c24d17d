package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/payment-orchestrator/internal/client"
	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/attaboy/payment-orchestrator/internal/guard"
	"github.com/attaboy/payment-orchestrator/internal/infra"
	"github.com/attaboy/payment-orchestrator/internal/provider"
	"github.com/attaboy/payment-orchestrator/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// payableOrderStatuses is the set of Order statuses CreatePayment will act
// on; anything else is rejected with InvalidOrderState.
var payableOrderStatuses = map[string]bool{
	"created":         true,
	"processing":      true,
	"pending":         true,
	"pending_payment": true,
}

// TimeoutScheduler is the slice of infra.RedisClient CreatePayment needs to
// arm the primary timeout path.
type TimeoutScheduler interface {
	ScheduleTimeout(ctx context.Context, rec infra.TimeoutRecord) error
}

// Tx is the slice of pgx.Tx PaymentService needs to close out a unit of work
// it opened itself: DBTX so it can hand the transaction straight through to
// repositories, Commit/Rollback to end it. pgx.Tx satisfies this already.
type Tx interface {
	repository.DBTX
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// dbPool is the slice of *pgxpool.Pool PaymentService depends on: DBTX for
// read-only lookups, Begin for its own write transactions. Unit tests supply
// a fake directly; NewPaymentService wraps a real *pgxpool.Pool into one via
// pgxPool below.
type dbPool interface {
	repository.DBTX
	Begin(ctx context.Context) (Tx, error)
}

// pgxPool adapts *pgxpool.Pool to dbPool. pgx.Tx already implements Tx, but
// Go requires the declared return type to match exactly for a method to
// satisfy an interface, so Begin needs a one-line passthrough.
type pgxPool struct {
	*pgxpool.Pool
}

func (p pgxPool) Begin(ctx context.Context) (Tx, error) {
	return p.Pool.Begin(ctx)
}

// PaymentService implements the use-case orchestration layer (§4.4): one
// method per use case, each backed by the same pool/repository/adapter set.
type PaymentService struct {
	pool     dbPool
	payments repository.PaymentRepository
	outbox   repository.OutboxRepository
	adapters map[domain.Provider]provider.Adapter
	orders   *client.OrderClient
	courses  *client.CourseClient
	exchange *client.ExchangeClient
	timeouts TimeoutScheduler
	idem     *guard.IdempotencyEngine
	circuit  *guard.CircuitBreaker
	logger   *slog.Logger
}

// NewPaymentService wires the orchestration layer onto its dependencies.
func NewPaymentService(
	pool *pgxpool.Pool,
	payments repository.PaymentRepository,
	outbox repository.OutboxRepository,
	adapters map[domain.Provider]provider.Adapter,
	orders *client.OrderClient,
	courses *client.CourseClient,
	exchange *client.ExchangeClient,
	timeouts TimeoutScheduler,
	idem *guard.IdempotencyEngine,
	circuit *guard.CircuitBreaker,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		pool:     pgxPool{pool},
		payments: payments,
		outbox:   outbox,
		adapters: adapters,
		orders:   orders,
		courses:  courses,
		exchange: exchange,
		timeouts: timeouts,
		idem:     idem,
		circuit:  circuit,
		logger:   logger,
	}
}

func (s *PaymentService) adapterFor(p domain.Provider) (provider.Adapter, error) {
	a, ok := s.adapters[p]
	if !ok {
		return nil, domain.ErrValidation(fmt.Sprintf("unsupported provider %s", p))
	}
	return a, nil
}

// callAdapter runs fn against a provider through the shared circuit breaker,
// making up to attempts calls in all, with exponential backoff (100ms base)
// between them.
// Circuit outcome is recorded once, on the final attempt's result.
func (s *PaymentService) callAdapter(ctx context.Context, p domain.Provider, attempts int, fn func(ctx context.Context) error) error {
	key := string(p)
	if res := s.circuit.Check(ctx, key); !res.Allowed {
		return domain.ErrProviderUnavailable(p, res.Reason)
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond):
			}
		}
		if lastErr = fn(ctx); lastErr == nil {
			s.circuit.RecordSuccess(key)
			return nil
		}
	}
	s.circuit.RecordFailure(key)
	return lastErr
}

// CreatePaymentRequest is the input to CreatePayment (§4.4).
type CreatePaymentRequest struct {
	UserID     string
	OrderID    string
	Provider   domain.Provider
	SuccessURL string
	CancelURL  string
}

// CreatePaymentResult is the provider-shaped session handed back to the
// caller once CreatePayment completes.
type CreatePaymentResult struct {
	PaymentID        string `json:"paymentId"`
	ProviderOrderID  string `json:"providerOrderId"`
	ProviderAmount   int64  `json:"providerAmount"`
	ProviderCurrency string `json:"providerCurrency"`
	ClientSecret     string `json:"clientSecret,omitempty"`
	HostedURL        string `json:"hostedUrl,omitempty"`
	ApprovalURL      string `json:"approvalUrl,omitempty"`
	KeyID            string `json:"keyId,omitempty"`
}

// CreatePayment is the checkout-session creation use case, §4.4.
func (s *PaymentService) CreatePayment(ctx context.Context, idempotencyKey string, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	var result CreatePaymentResult
	err := s.idem.Run(ctx, "create_payment:"+idempotencyKey, &result, func(ctx context.Context) (any, error) {
		return s.doCreatePayment(ctx, idempotencyKey, req)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *PaymentService) doCreatePayment(ctx context.Context, idempotencyKey string, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	adapter, err := s.adapterFor(req.Provider)
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Step 1: fetch the order, retry 2x exponential.
	var order *client.Order
	err = retryN(fetchCtx, 2, func() error {
		var e error
		order, e = s.orders.GetOrderById(fetchCtx, req.OrderID, req.UserID)
		return e
	})
	if err != nil {
		return nil, domain.ErrOrderNotFound(req.OrderID)
	}
	if !payableOrderStatuses[order.Status] {
		return nil, domain.ErrInvalidOrderState(order.Status)
	}
	if err := domain.ValidateCurrency(order.Amount.Currency); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidatePositiveAmount(order.Amount.Total); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	// Step 2: fetch course metadata for line items.
	courseIDs := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		courseIDs = append(courseIDs, item.CourseID)
	}
	var courses map[string]client.Course
	err = retryN(fetchCtx, 2, func() error {
		var e error
		courses, e = s.courses.GetCoursesByIds(fetchCtx, courseIDs)
		return e
	})
	if err != nil {
		return nil, domain.ErrInternal("fetch course metadata", err)
	}

	// Step 3: convert currency if the provider does not support the order's.
	targetCurrency := order.Amount.Currency
	convertedTotal := order.Amount.Total
	var fxRate *float64
	var fxTimestamp *time.Time
	if !adapter.IsCurrencySupported(order.Amount.Currency) {
		rate, err := s.exchange.GetRate(fetchCtx, order.Amount.Currency, "USD")
		if err != nil {
			return nil, domain.ErrCurrencyConversion(err)
		}
		targetCurrency = "USD"
		convertedTotal = domain.ConvertMinorUnits(order.Amount.Total, rate.Rate, 100)
		fxRate = &rate.Rate
		ts, parseErr := time.Parse("2006-01-02", rate.TimestampDate)
		if parseErr == nil {
			fxTimestamp = &ts
		}
	}

	// Step 4: build provider line items with the converted unit price, then
	// validate against the converted total.
	lineItems := make([]domain.LineItem, 0, len(order.Items))
	var lineItemTotal int64
	for _, item := range order.Items {
		unitAmount := item.Price
		if fxRate != nil {
			unitAmount = domain.ConvertMinorUnits(item.Price, *fxRate, 100)
		}
		course := courses[item.CourseID]
		li := domain.LineItem{
			Name:       course.Title,
			Quantity:   1,
			UnitAmount: unitAmount,
			Currency:   targetCurrency,
		}
		if course.Thumbnail != nil {
			li.ImageURL = *course.Thumbnail
		}
		lineItems = append(lineItems, li)
		lineItemTotal += unitAmount
	}
	if !domain.AmountsMatch(lineItemTotal, convertedTotal) {
		return nil, domain.ErrAmountMismatch(convertedTotal, lineItemTotal)
	}

	// Step 5: reuse an existing payment for this idempotency key, if one
	// already exists (e.g. a prior attempt crashed after persisting but
	// before the lock/result cache observed success).
	existing, err := s.payments.FindByIdempotencyKey(ctx, s.pool, idempotencyKey)
	if err != nil {
		return nil, domain.ErrInternal("lookup payment by idempotency key", err)
	}

	now := time.Now()
	isNew := existing == nil
	payment := existing
	if isNew {
		payment = &domain.Payment{
			ID:             uuid.New(),
			UserID:         req.UserID,
			OrderID:        req.OrderID,
			AmountMinor:    convertedTotal,
			Currency:       targetCurrency,
			Status:         domain.PaymentStatusPending,
			IdempotencyKey: idempotencyKey,
			ExpiresAt:      now.Add(10 * time.Minute),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	// Step 6: create the provider session, retry 2x.
	var sessionResult *provider.CreateSessionResult
	err = s.callAdapter(ctx, req.Provider, 2, func(ctx context.Context) error {
		var e error
		sessionResult, e = adapter.CreateSession(ctx, provider.CreateSessionRequest{
			UserID:         req.UserID,
			OrderID:        req.OrderID,
			IdempotencyKey: idempotencyKey,
			Amount:         convertedTotal,
			Currency:       targetCurrency,
			LineItems:      lineItems,
			SuccessURL:     req.SuccessURL,
			CancelURL:      req.CancelURL,
			Description:    fmt.Sprintf("order %s", req.OrderID),
			CustomerEmail:  "",
		})
		return e
	})
	if err != nil {
		return nil, domain.ErrInternal("create provider session", err)
	}

	// Step 7: validate the provider's own amount against the converted total
	// and the order amount.
	if !domain.AmountsMatch(sessionResult.ProviderAmount, convertedTotal) ||
		!domain.AmountsMatch(sessionResult.ProviderAmount, order.Amount.Total) {
		return nil, domain.ErrAmountMismatch(convertedTotal, sessionResult.ProviderAmount)
	}

	// Step 8: append the new ProviderSession.
	session := &domain.ProviderSession{
		ID:                uuid.New(),
		PaymentID:         payment.ID,
		Provider:          req.Provider,
		ProviderOrderID:   sessionResult.ProviderOrderID,
		ProviderAmount:    sessionResult.ProviderAmount,
		ProviderCurrency:  sessionResult.ProviderCurrency,
		FXRate:            fxRate,
		FXTimestamp:       fxTimestamp,
		Status:            domain.SessionStatusCreated,
		Metadata:          sessionResult.Metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// Step 9: stamp the payment's providerOrderId.
	payment.ProviderOrderID = &sessionResult.ProviderOrderID

	// Step 10: persist atomically.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if isNew {
		if err := s.payments.Create(ctx, tx, payment, session); err != nil {
			return nil, domain.ErrInternal("persist payment", err)
		}
	} else {
		if err := s.payments.AppendSession(ctx, tx, payment.ID, sessionResult.ProviderOrderID, session); err != nil {
			return nil, domain.ErrInternal("persist provider session", err)
		}
	}

	// Step 12: enqueue OrderPaymentInitiated in the same transaction.
	payment.Sessions = append(payment.Sessions, *session)
	if err := s.outbox.Insert(ctx, tx, domain.NewOrderPaymentInitiatedEvent(payment)); err != nil {
		return nil, domain.ErrInternal("enqueue outbox event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.ErrInternal("commit tx", err)
	}

	// Step 11: arm the primary timeout path once persistence has committed.
	if err := s.timeouts.ScheduleTimeout(ctx, infra.TimeoutRecord{
		PaymentID: payment.ID.String(),
		OrderID:   payment.OrderID,
		UserID:    payment.UserID,
		ExpiresAt: payment.ExpiresAt,
	}); err != nil {
		s.logger.Warn("schedule payment timeout failed", "payment_id", payment.ID, "error", err)
	}

	// Step 13: return the provider-shaped session result.
	return &CreatePaymentResult{
		PaymentID:        payment.ID.String(),
		ProviderOrderID:  sessionResult.ProviderOrderID,
		ProviderAmount:   sessionResult.ProviderAmount,
		ProviderCurrency: sessionResult.ProviderCurrency,
		ClientSecret:     sessionResult.ClientSecret,
		HostedURL:        sessionResult.HostedURL,
		ApprovalURL:      sessionResult.ApprovalURL,
		KeyID:            sessionResult.KeyID,
	}, nil
}

// ResolvePaymentRequest is the input to ResolvePayment (§4.4).
type ResolvePaymentRequest struct {
	Provider          domain.Provider
	ProviderOrderID   string
	ProviderPaymentID string
	Signature         string
}

// ResolvePaymentResult reports what the provider told the caller.
type ResolvePaymentResult struct {
	ProviderStatus string `json:"providerStatus"`
	IsVerified     bool   `json:"isVerified"`
	PaymentID      string `json:"paymentId"`
	OrderID        string `json:"orderId"`
	Provider       string `json:"provider"`
}

// ResolvePayment is the client-driven resolve use case, §4.4.
func (s *PaymentService) ResolvePayment(ctx context.Context, idempotencyKey string, req ResolvePaymentRequest) (*ResolvePaymentResult, error) {
	var result ResolvePaymentResult
	err := s.idem.Run(ctx, "resolve_payment:"+idempotencyKey, &result, func(ctx context.Context) (any, error) {
		return s.doResolvePayment(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *PaymentService) doResolvePayment(ctx context.Context, req ResolvePaymentRequest) (*ResolvePaymentResult, error) {
	adapter, err := s.adapterFor(req.Provider)
	if err != nil {
		return nil, err
	}

	// Step 2: load payment by providerOrderId.
	payment, err := s.payments.FindByProviderOrderID(ctx, s.pool, req.ProviderOrderID)
	if err != nil {
		return nil, domain.ErrInternal("lookup payment", err)
	}
	if payment == nil {
		return nil, domain.ErrNotFound("payment", req.ProviderOrderID)
	}

	// Step 3: resolve, retry 3x exponential.
	var resolveResult *provider.ResolveResult
	err = s.callAdapter(ctx, req.Provider, 3, func(ctx context.Context) error {
		var e error
		resolveResult, e = adapter.Resolve(ctx, provider.ResolveRequest{
			ProviderOrderID:   req.ProviderOrderID,
			ProviderPaymentID: req.ProviderPaymentID,
			Signature:         req.Signature,
		})
		return e
	})
	if err != nil {
		return nil, domain.ErrInternal("resolve provider session", err)
	}

	sessionStatus := domain.SessionStatusCaptured
	var providerPaymentID *string
	if resolveResult.ProviderPaymentID != "" {
		providerPaymentID = &resolveResult.ProviderPaymentID
	}

	// Step 5: PENDING -> RESOLVED unless already terminal or past it.
	newStatus := payment.Status
	if !payment.Status.IsTerminal() {
		if _, err := domain.TransitionTo(payment.Status, domain.PaymentStatusResolved); err == nil {
			newStatus = domain.PaymentStatusResolved
		}
	}

	// Step 4 & 6: persist the session capture and (if applicable) the
	// payment transition in one write. No bus event: SUCCESS is
	// authoritative only via webhook.
	if err := s.payments.UpdateStatus(ctx, s.pool, payment.ID, newStatus, req.ProviderOrderID, sessionStatus, providerPaymentID); err != nil {
		return nil, domain.ErrInternal("persist resolve outcome", err)
	}

	return &ResolvePaymentResult{
		ProviderStatus: resolveResult.ProviderStatus,
		IsVerified:     resolveResult.IsVerified,
		PaymentID:      payment.ID.String(),
		OrderID:        payment.OrderID,
		Provider:       string(req.Provider),
	}, nil
}

// CancelPaymentRequest is the input to CancelPayment (§4.4).
type CancelPaymentRequest struct {
	Provider        domain.Provider
	ProviderOrderID string
	Reason          string
}

// CancelPaymentResult confirms a cancellation.
type CancelPaymentResult struct {
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
}

// CancelPayment is the explicit cancel use case, §4.4.
func (s *PaymentService) CancelPayment(ctx context.Context, idempotencyKey string, req CancelPaymentRequest) (*CancelPaymentResult, error) {
	var result CancelPaymentResult
	err := s.idem.Run(ctx, "cancel_payment:"+idempotencyKey, &result, func(ctx context.Context) (any, error) {
		return s.doCancelPayment(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *PaymentService) doCancelPayment(ctx context.Context, req CancelPaymentRequest) (*CancelPaymentResult, error) {
	adapter, err := s.adapterFor(req.Provider)
	if err != nil {
		return nil, err
	}

	payment, err := s.payments.FindByProviderOrderID(ctx, s.pool, req.ProviderOrderID)
	if err != nil {
		return nil, domain.ErrInternal("lookup payment", err)
	}
	if payment == nil {
		return nil, domain.ErrNotFound("payment", req.ProviderOrderID)
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, domain.ErrInvalidTransition(payment.Status, domain.PaymentStatusCancelled)
	}

	// Step 2: cancel, retry 3x. A remote failure is reported by the adapter
	// via CancelResult.Success rather than an error in the happy path.
	var cancelResult *provider.CancelResult
	err = s.callAdapter(ctx, req.Provider, 3, func(ctx context.Context) error {
		var e error
		cancelResult, e = adapter.Cancel(ctx, req.ProviderOrderID, req.Reason)
		return e
	})
	if err != nil {
		return nil, domain.ErrInternal("cancel provider session", err)
	}
	if !cancelResult.Success {
		return nil, domain.ErrProviderCancelFailed(req.Provider)
	}

	if _, err := domain.TransitionTo(payment.Status, domain.PaymentStatusCancelled); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := s.payments.UpdateStatus(ctx, tx, payment.ID, domain.PaymentStatusCancelled, req.ProviderOrderID, domain.SessionStatusFailed, nil); err != nil {
		return nil, domain.ErrInternal("persist cancellation", err)
	}
	payment.Status = domain.PaymentStatusCancelled
	if err := s.outbox.Insert(ctx, tx, domain.NewOrderPaymentFailedEvent(payment)); err != nil {
		return nil, domain.ErrInternal("enqueue outbox event", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, domain.ErrInternal("commit tx", err)
	}

	return &CancelPaymentResult{PaymentID: payment.ID.String(), Status: string(domain.PaymentStatusCancelled)}, nil
}

// SuccessPayment is invoked by the webhook consumer (§4.4), keyed by the
// provider's own event ID rather than the idempotency engine.
func (s *PaymentService) SuccessPayment(ctx context.Context, p domain.Provider, providerOrderID string) error {
	payment, err := s.payments.FindByProviderOrderID(ctx, s.pool, providerOrderID)
	if err != nil {
		return domain.ErrInternal("lookup payment", err)
	}
	if payment == nil {
		return domain.ErrOrderNotFound(providerOrderID)
	}
	if payment.Status == domain.PaymentStatusSuccess {
		return nil
	}
	if payment.Status != domain.PaymentStatusPending && payment.Status != domain.PaymentStatusResolved {
		return domain.ErrInvalidTransition(payment.Status, domain.PaymentStatusSuccess)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := s.payments.UpdateStatus(ctx, tx, payment.ID, domain.PaymentStatusSuccess, providerOrderID, domain.SessionStatusCaptured, nil); err != nil {
		return domain.ErrInternal("persist success", err)
	}
	payment.Status = domain.PaymentStatusSuccess
	if err := s.outbox.Insert(ctx, tx, domain.NewOrderPaymentSucceededEvent(payment)); err != nil {
		return domain.ErrInternal("enqueue outbox event", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ErrInternal("commit tx", err)
	}
	return nil
}

// FailurePayment is invoked by the webhook consumer (§4.4).
func (s *PaymentService) FailurePayment(ctx context.Context, p domain.Provider, providerOrderID string) error {
	payment, err := s.payments.FindByProviderOrderID(ctx, s.pool, providerOrderID)
	if err != nil {
		return domain.ErrInternal("lookup payment", err)
	}
	if payment == nil {
		return domain.ErrOrderNotFound(providerOrderID)
	}
	if payment.Status == domain.PaymentStatusFailed {
		return nil
	}
	if payment.Status != domain.PaymentStatusPending {
		return domain.ErrInvalidTransition(payment.Status, domain.PaymentStatusFailed)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := s.payments.UpdateStatus(ctx, tx, payment.ID, domain.PaymentStatusFailed, providerOrderID, domain.SessionStatusFailed, nil); err != nil {
		return domain.ErrInternal("persist failure", err)
	}
	payment.Status = domain.PaymentStatusFailed
	if err := s.outbox.Insert(ctx, tx, domain.NewOrderPaymentFailedEvent(payment)); err != nil {
		return domain.ErrInternal("enqueue outbox event", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ErrInternal("commit tx", err)
	}
	return nil
}

// HandlePaymentTimeout is dispatched by both the primary keyspace-expiry
// listener and the safety-net sweeper (§4.5); naturally idempotent via the
// PENDING guard, no caller-supplied idempotency key needed.
func (s *PaymentService) HandlePaymentTimeout(ctx context.Context, paymentID uuid.UUID) error {
	payment, err := s.payments.FindByID(ctx, s.pool, paymentID)
	if err != nil {
		return domain.ErrInternal("lookup payment", err)
	}
	if payment == nil || payment.Status != domain.PaymentStatusPending {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := s.payments.UpdateStatus(ctx, tx, payment.ID, domain.PaymentStatusExpired, "", "", nil); err != nil {
		return domain.ErrInternal("persist expiry", err)
	}
	payment.Status = domain.PaymentStatusExpired
	if err := s.outbox.Insert(ctx, tx, domain.NewOrderPaymentTimeoutEvent(payment)); err != nil {
		return domain.ErrInternal("enqueue outbox event", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ErrInternal("commit tx", err)
	}
	return nil
}

// retryN runs fn up to attempts times with exponential backoff (100ms base),
// stopping early on success or context cancellation.
func retryN(ctx context.Context, attempts int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond):
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
