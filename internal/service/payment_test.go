package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/attaboy/payment-orchestrator/internal/client"
	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/attaboy/payment-orchestrator/internal/guard"
	"github.com/attaboy/payment-orchestrator/internal/infra"
	"github.com/attaboy/payment-orchestrator/internal/provider"
	"github.com/attaboy/payment-orchestrator/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeResultCache is an in-memory guard.ResultCache for exercising
// IdempotencyEngine.Run without a live Redis instance.
type fakeResultCache struct {
	mu      sync.Mutex
	locks   map[string]bool
	results map[string][]byte
}

func newFakeResultCache() *fakeResultCache {
	return &fakeResultCache{locks: map[string]bool{}, results: map[string][]byte{}}
}

func (c *fakeResultCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] {
		return false, nil
	}
	c.locks[key] = true
	return true, nil
}

func (c *fakeResultCache) ReleaseLock(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

func (c *fakeResultCache) GetResult(ctx context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.results[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *fakeResultCache) PutResult(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = raw
	return nil
}

// fakePaymentRepository is a minimal in-memory repository.PaymentRepository.
// Create/FindByID/FindByIdempotencyKey/UpdateStatus all share one set of
// payment pointers across the three lookup maps, so a status mutation made
// through one lookup path is visible through the others.
type fakePaymentRepository struct {
	byProviderOrderID map[string]*domain.Payment
	byIdempotencyKey  map[string]*domain.Payment
	byID              map[uuid.UUID]*domain.Payment
	createErr         error
	updateErr         error
	updatedStatus     domain.PaymentStatus
}

func newFakePaymentRepository() *fakePaymentRepository {
	return &fakePaymentRepository{
		byProviderOrderID: map[string]*domain.Payment{},
		byIdempotencyKey:  map[string]*domain.Payment{},
		byID:              map[uuid.UUID]*domain.Payment{},
	}
}

// put indexes a payment under all three lookup keys, as the real repository's
// tables would via their respective indexes.
func (f *fakePaymentRepository) put(p *domain.Payment, providerOrderID string) {
	f.byProviderOrderID[providerOrderID] = p
	f.byIdempotencyKey[p.IdempotencyKey] = p
	f.byID[p.ID] = p
}

func (f *fakePaymentRepository) Create(ctx context.Context, db repository.DBTX, p *domain.Payment, s *domain.ProviderSession) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.put(p, s.ProviderOrderID)
	return nil
}

func (f *fakePaymentRepository) FindByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.Payment, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (f *fakePaymentRepository) FindByIdempotencyKey(ctx context.Context, db repository.DBTX, key string) (*domain.Payment, error) {
	p, ok := f.byIdempotencyKey[key]
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (f *fakePaymentRepository) FindByProviderOrderID(ctx context.Context, db repository.DBTX, providerOrderID string) (*domain.Payment, error) {
	p, ok := f.byProviderOrderID[providerOrderID]
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (f *fakePaymentRepository) AppendSession(ctx context.Context, db repository.DBTX, paymentID uuid.UUID, providerOrderID string, s *domain.ProviderSession) error {
	p, ok := f.byID[paymentID]
	if !ok {
		return errors.New("payment not found")
	}
	f.put(p, providerOrderID)
	return nil
}

func (f *fakePaymentRepository) UpdateStatus(ctx context.Context, db repository.DBTX, paymentID uuid.UUID, status domain.PaymentStatus, sessionProviderOrderID string, sessionStatus domain.ProviderSessionStatus, providerPaymentID *string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updatedStatus = status
	if p, ok := f.byID[paymentID]; ok {
		p.Status = status
		return nil
	}
	for _, p := range f.byProviderOrderID {
		if p.ID == paymentID {
			p.Status = status
		}
	}
	return nil
}

func (f *fakePaymentRepository) ListExpiredPending(ctx context.Context, db repository.DBTX, limit int) ([]domain.Payment, error) {
	return nil, errors.New("not implemented")
}

// fakeAdapter is a minimal provider.Adapter for resolve/create/cancel-path
// tests.
type fakeAdapter struct {
	provider       domain.Provider
	resolveResult  *provider.ResolveResult
	resolveErr     error
	createResult   *provider.CreateSessionResult
	createErr      error
	cancelResult   *provider.CancelResult
	cancelErr      error
	supportedCodes []string
}

func (a *fakeAdapter) Provider() domain.Provider { return a.provider }

func (a *fakeAdapter) CreateSession(ctx context.Context, req provider.CreateSessionRequest) (*provider.CreateSessionResult, error) {
	if a.createResult == nil && a.createErr == nil {
		return nil, errors.New("not implemented")
	}
	return a.createResult, a.createErr
}

func (a *fakeAdapter) Resolve(ctx context.Context, req provider.ResolveRequest) (*provider.ResolveResult, error) {
	return a.resolveResult, a.resolveErr
}

func (a *fakeAdapter) Cancel(ctx context.Context, providerOrderID, reason string) (*provider.CancelResult, error) {
	if a.cancelResult == nil && a.cancelErr == nil {
		return nil, errors.New("not implemented")
	}
	return a.cancelResult, a.cancelErr
}

func (a *fakeAdapter) Refund(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) SupportedCurrencies() []string {
	if a.supportedCodes != nil {
		return a.supportedCodes
	}
	return []string{"USD"}
}

func (a *fakeAdapter) IsCurrencySupported(code string) bool {
	for _, c := range a.SupportedCurrencies() {
		if c == code {
			return true
		}
	}
	return false
}

func (a *fakeAdapter) IsAvailable(ctx context.Context) bool { return true }

func newTestService(payments repository.PaymentRepository, adapters map[domain.Provider]provider.Adapter) *PaymentService {
	idem := guard.NewIdempotencyEngine(newFakeResultCache())
	circuit := guard.NewCircuitBreaker(5, 30*time.Second)
	return NewPaymentService(nil, payments, nil, adapters, nil, nil, nil, nil, idem, circuit, noopLogger())
}

// fakeOutboxRepo is a minimal in-memory repository.OutboxRepository.
type fakeOutboxRepo struct {
	inserted []domain.OutboxDraft
}

func (o *fakeOutboxRepo) Insert(ctx context.Context, db repository.DBTX, draft domain.OutboxDraft) error {
	o.inserted = append(o.inserted, draft)
	return nil
}

func (o *fakeOutboxRepo) FetchUnpublished(ctx context.Context, db repository.DBTX, limit int) ([]domain.OutboxDraft, error) {
	return nil, nil
}

func (o *fakeOutboxRepo) MarkPublished(ctx context.Context, db repository.DBTX, ids []uuid.UUID) error {
	return nil
}

// fakeTx is a minimal service.Tx: the DBTX methods are never exercised
// because the fake repositories above ignore the db argument entirely, only
// Commit/Rollback bookkeeping is asserted on.
type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// fakeDBPool is a minimal dbPool: Begin hands out a fresh fakeTx per call so
// each use case's commit/rollback can be inspected independently.
type fakeDBPool struct {
	beginErr error
	lastTx   *fakeTx
}

func (p *fakeDBPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (p *fakeDBPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (p *fakeDBPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return nil
}

func (p *fakeDBPool) Begin(ctx context.Context) (Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	p.lastTx = &fakeTx{}
	return p.lastTx, nil
}

// fakeTimeoutScheduler is a minimal TimeoutScheduler.
type fakeTimeoutScheduler struct {
	scheduled []infra.TimeoutRecord
	err       error
}

func (s *fakeTimeoutScheduler) ScheduleTimeout(ctx context.Context, rec infra.TimeoutRecord) error {
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, rec)
	return nil
}

// fakeFXCache is a minimal client.FXCache that always misses, forcing a live
// fetch through the ExchangeClient under test.
type fakeFXCache struct{}

func (fakeFXCache) GetCachedFXRate(ctx context.Context, base, target string) (*infra.FXRate, bool, error) {
	return nil, false, nil
}

func (fakeFXCache) PutCachedFXRate(ctx context.Context, base, target string, rate infra.FXRate) error {
	return nil
}

// newFullTestService builds a PaymentService with every dependency faked, for
// use cases (CreatePayment, CancelPayment, SuccessPayment, FailurePayment,
// HandlePaymentTimeout) that open their own transaction via s.pool.Begin.
func newFullTestService(
	pool *fakeDBPool,
	payments repository.PaymentRepository,
	outbox repository.OutboxRepository,
	adapters map[domain.Provider]provider.Adapter,
	orders *client.OrderClient,
	courses *client.CourseClient,
	exchange *client.ExchangeClient,
	timeouts TimeoutScheduler,
) *PaymentService {
	return &PaymentService{
		pool:     pool,
		payments: payments,
		outbox:   outbox,
		adapters: adapters,
		orders:   orders,
		courses:  courses,
		exchange: exchange,
		timeouts: timeouts,
		idem:     guard.NewIdempotencyEngine(newFakeResultCache()),
		circuit:  guard.NewCircuitBreaker(5, 30*time.Second),
		logger:   noopLogger(),
	}
}

func TestResolvePayment_VerifiedCapture_TransitionsToResolved(t *testing.T) {
	paymentID := uuid.New()
	repo := newFakePaymentRepository()
	repo.byProviderOrderID["order_1"] = &domain.Payment{
		ID:      paymentID,
		OrderID: "order-abc",
		Status:  domain.PaymentStatusPending,
	}
	adapter := &fakeAdapter{
		provider: domain.ProviderStripe,
		resolveResult: &provider.ResolveResult{
			ProviderStatus:    "complete",
			IsVerified:        true,
			ProviderPaymentID: "pi_123",
		},
	}
	svc := newTestService(repo, map[domain.Provider]provider.Adapter{domain.ProviderStripe: adapter})

	result, err := svc.ResolvePayment(context.Background(), "idem-1", ResolvePaymentRequest{
		Provider:        domain.ProviderStripe,
		ProviderOrderID: "order_1",
	})

	require.NoError(t, err)
	assert.True(t, result.IsVerified)
	assert.Equal(t, paymentID.String(), result.PaymentID)
	assert.Equal(t, domain.PaymentStatusResolved, repo.byProviderOrderID["order_1"].Status)
}

func TestResolvePayment_UnknownProviderOrderID_ReturnsNotFound(t *testing.T) {
	repo := newFakePaymentRepository()
	adapter := &fakeAdapter{provider: domain.ProviderStripe, resolveResult: &provider.ResolveResult{}}
	svc := newTestService(repo, map[domain.Provider]provider.Adapter{domain.ProviderStripe: adapter})

	_, err := svc.ResolvePayment(context.Background(), "idem-2", ResolvePaymentRequest{
		Provider:        domain.ProviderStripe,
		ProviderOrderID: "missing-order",
	})

	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, 404, appErr.Status)
}

func TestResolvePayment_UnsupportedProvider_ReturnsValidationError(t *testing.T) {
	repo := newFakePaymentRepository()
	svc := newTestService(repo, map[domain.Provider]provider.Adapter{})

	_, err := svc.ResolvePayment(context.Background(), "idem-3", ResolvePaymentRequest{
		Provider:        domain.Provider("UNKNOWN"),
		ProviderOrderID: "order_1",
	})

	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "INVALID_ARGUMENT", appErr.Code)
}

func TestResolvePayment_AlreadyTerminal_StatusUnchanged(t *testing.T) {
	paymentID := uuid.New()
	repo := newFakePaymentRepository()
	repo.byProviderOrderID["order_1"] = &domain.Payment{
		ID:      paymentID,
		OrderID: "order-abc",
		Status:  domain.PaymentStatusSuccess,
	}
	adapter := &fakeAdapter{
		provider: domain.ProviderStripe,
		resolveResult: &provider.ResolveResult{
			ProviderStatus: "complete",
			IsVerified:     true,
		},
	}
	svc := newTestService(repo, map[domain.Provider]provider.Adapter{domain.ProviderStripe: adapter})

	_, err := svc.ResolvePayment(context.Background(), "idem-4", ResolvePaymentRequest{
		Provider:        domain.ProviderStripe,
		ProviderOrderID: "order_1",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSuccess, repo.byProviderOrderID["order_1"].Status)
}

func TestResolvePayment_IsIdempotentOnRetry(t *testing.T) {
	paymentID := uuid.New()
	repo := newFakePaymentRepository()
	repo.byProviderOrderID["order_1"] = &domain.Payment{
		ID:      paymentID,
		OrderID: "order-abc",
		Status:  domain.PaymentStatusPending,
	}
	adapter := &fakeAdapter{
		provider: domain.ProviderStripe,
		resolveResult: &provider.ResolveResult{
			ProviderStatus:    "complete",
			IsVerified:        true,
			ProviderPaymentID: "pi_123",
		},
	}
	svc := newTestService(repo, map[domain.Provider]provider.Adapter{domain.ProviderStripe: adapter})

	req := ResolvePaymentRequest{Provider: domain.ProviderStripe, ProviderOrderID: "order_1"}
	first, err := svc.ResolvePayment(context.Background(), "idem-shared", req)
	require.NoError(t, err)

	second, err := svc.ResolvePayment(context.Background(), "idem-shared", req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRetryN_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := retryN(context.Background(), 3, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryN_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := retryN(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryN_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retryN(context.Background(), 2, func() error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestAdapterFor_UnknownProvider(t *testing.T) {
	svc := newTestService(newFakePaymentRepository(), map[domain.Provider]provider.Adapter{})
	_, err := svc.adapterFor(domain.Provider("NOPE"))
	require.Error(t, err)
}

func TestAdapterFor_KnownProvider(t *testing.T) {
	adapter := &fakeAdapter{provider: domain.ProviderStripe}
	svc := newTestService(newFakePaymentRepository(), map[domain.Provider]provider.Adapter{domain.ProviderStripe: adapter})
	a, err := svc.adapterFor(domain.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, adapter, a)
}

func TestCallAdapter_OpensCircuitAfterThreshold(t *testing.T) {
	svc := newTestService(newFakePaymentRepository(), map[domain.Provider]provider.Adapter{})

	// circuit threshold is 5; five failures trips it open for this key.
	for i := 0; i < 5; i++ {
		_ = svc.callAdapter(context.Background(), domain.ProviderStripe, 1, func(ctx context.Context) error {
			return errors.New("boom")
		})
	}

	err := svc.callAdapter(context.Background(), domain.ProviderStripe, 1, func(ctx context.Context) error {
		return nil
	})
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "UNAVAILABLE", appErr.Code)
}

// --- CreatePayment / CancelPayment / SuccessPayment / FailurePayment /
// HandlePaymentTimeout: the five write-path use cases that open their own
// transaction via s.pool.Begin, exercised against the real method bodies
// with every dependency faked. ---

// orderCourseServer fakes the Order and Course services CreatePayment calls
// out to, counting requests to the order endpoint so idempotent-replay tests
// can assert the second call never re-fetches.
type orderCourseServer struct {
	*httptest.Server
	orderRequests int
}

func newOrderCourseServer(t *testing.T, order client.Order, courses map[string]client.Course) *orderCourseServer {
	s := &orderCourseServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		s.orderRequests++
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(order))
	})
	mux.HandleFunc("/courses", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(courses))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newExchangeServer(t *testing.T, target string, rate float64) *httptest.Server {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"date":"2024-01-01","rates":{"%s":%v}}`, target, rate)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestCreatePayment_HappyPath_PersistsSessionAndSchedulesTimeout(t *testing.T) {
	srv := newOrderCourseServer(t,
		client.Order{
			ID:     "order-1",
			Status: "created",
			Amount: client.OrderAmount{Total: 1000, Currency: "USD"},
			Items:  []client.OrderItem{{CourseID: "course-1", Price: 1000, Currency: "USD"}},
		},
		map[string]client.Course{"course-1": {Title: "Intro to Go"}},
	)
	orders := client.NewOrderClient(srv.URL, noopLogger())
	courses := client.NewCourseClient(srv.URL, noopLogger())

	adapter := &fakeAdapter{
		provider: domain.ProviderStripe,
		createResult: &provider.CreateSessionResult{
			ProviderOrderID:  "po_1",
			ProviderAmount:   1000,
			ProviderCurrency: "USD",
			ClientSecret:     "cs_test_1",
		},
	}
	repo := newFakePaymentRepository()
	outbox := &fakeOutboxRepo{}
	pool := &fakeDBPool{}
	scheduler := &fakeTimeoutScheduler{}
	svc := newFullTestService(pool, repo, outbox, map[domain.Provider]provider.Adapter{domain.ProviderStripe: adapter}, orders, courses, nil, scheduler)

	result, err := svc.CreatePayment(context.Background(), "idem-create-1", CreatePaymentRequest{
		UserID:   "user-1",
		OrderID:  "order-1",
		Provider: domain.ProviderStripe,
	})

	require.NoError(t, err)
	assert.Equal(t, "po_1", result.ProviderOrderID)
	assert.Equal(t, "cs_test_1", result.ClientSecret)

	payment := repo.byProviderOrderID["po_1"]
	require.NotNil(t, payment)
	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	require.Len(t, outbox.inserted, 1)
	assert.Equal(t, domain.EventOrderPaymentInitiated, outbox.inserted[0].EventType)
	require.Len(t, scheduler.scheduled, 1)
	assert.Equal(t, payment.ID.String(), scheduler.scheduled[0].PaymentID)
	require.NotNil(t, pool.lastTx)
	assert.True(t, pool.lastTx.committed)
}

func TestCreatePayment_DuplicateIdempotencyKey_DoesNotRefetchOrder(t *testing.T) {
	srv := newOrderCourseServer(t,
		client.Order{
			ID:     "order-2",
			Status: "created",
			Amount: client.OrderAmount{Total: 500, Currency: "USD"},
			Items:  []client.OrderItem{{CourseID: "course-2", Price: 500, Currency: "USD"}},
		},
		map[string]client.Course{"course-2": {Title: "Advanced Go"}},
	)
	orders := client.NewOrderClient(srv.URL, noopLogger())
	courses := client.NewCourseClient(srv.URL, noopLogger())

	adapter := &fakeAdapter{
		provider: domain.ProviderStripe,
		createResult: &provider.CreateSessionResult{
			ProviderOrderID:  "po_2",
			ProviderAmount:   500,
			ProviderCurrency: "USD",
		},
	}
	svc := newFullTestService(&fakeDBPool{}, newFakePaymentRepository(), &fakeOutboxRepo{}, map[domain.Provider]provider.Adapter{domain.ProviderStripe: adapter}, orders, courses, nil, &fakeTimeoutScheduler{})

	req := CreatePaymentRequest{UserID: "user-2", OrderID: "order-2", Provider: domain.ProviderStripe}
	first, err := svc.CreatePayment(context.Background(), "idem-shared-create", req)
	require.NoError(t, err)

	second, err := svc.CreatePayment(context.Background(), "idem-shared-create", req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, srv.orderRequests)
}

func TestCreatePayment_CrossCurrencyOrder_ConvertsThroughExchangeClient(t *testing.T) {
	srv := newOrderCourseServer(t,
		client.Order{
			ID:     "order-3",
			Status: "created",
			Amount: client.OrderAmount{Total: 1000, Currency: "EUR"},
			Items:  []client.OrderItem{{CourseID: "course-3", Price: 1000, Currency: "EUR"}},
		},
		map[string]client.Course{"course-3": {Title: "Go for Europeans"}},
	)
	orders := client.NewOrderClient(srv.URL, noopLogger())
	courses := client.NewCourseClient(srv.URL, noopLogger())
	fxSrv := newExchangeServer(t, "USD", 1.0)
	exchange := client.NewExchangeClient(fxSrv.URL, fakeFXCache{}, noopLogger())

	adapter := &fakeAdapter{
		provider:       domain.ProviderStripe,
		supportedCodes: []string{"USD"},
		createResult: &provider.CreateSessionResult{
			ProviderOrderID:  "po_3",
			ProviderAmount:   1000,
			ProviderCurrency: "USD",
		},
	}
	repo := newFakePaymentRepository()
	svc := newFullTestService(&fakeDBPool{}, repo, &fakeOutboxRepo{}, map[domain.Provider]provider.Adapter{domain.ProviderStripe: adapter}, orders, courses, exchange, &fakeTimeoutScheduler{})

	result, err := svc.CreatePayment(context.Background(), "idem-create-fx", CreatePaymentRequest{
		UserID:   "user-3",
		OrderID:  "order-3",
		Provider: domain.ProviderStripe,
	})

	require.NoError(t, err)
	assert.Equal(t, "po_3", result.ProviderOrderID)
	payment := repo.byProviderOrderID["po_3"]
	require.NotNil(t, payment)
	assert.Equal(t, "USD", payment.Currency)
	require.Len(t, payment.Sessions, 1)
	require.NotNil(t, payment.Sessions[0].FXRate)
	assert.Equal(t, 1.0, *payment.Sessions[0].FXRate)
}

func TestCreatePayment_OrderNotPayable_ReturnsInvalidOrderState(t *testing.T) {
	srv := newOrderCourseServer(t,
		client.Order{ID: "order-4", Status: "refunded", Amount: client.OrderAmount{Total: 100, Currency: "USD"}},
		nil,
	)
	orders := client.NewOrderClient(srv.URL, noopLogger())
	courses := client.NewCourseClient(srv.URL, noopLogger())
	adapter := &fakeAdapter{provider: domain.ProviderStripe}
	svc := newFullTestService(&fakeDBPool{}, newFakePaymentRepository(), &fakeOutboxRepo{}, map[domain.Provider]provider.Adapter{domain.ProviderStripe: adapter}, orders, courses, nil, &fakeTimeoutScheduler{})

	_, err := svc.CreatePayment(context.Background(), "idem-create-bad-state", CreatePaymentRequest{
		UserID:   "user-4",
		OrderID:  "order-4",
		Provider: domain.ProviderStripe,
	})

	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "FAILED_PRECONDITION", appErr.Code)
}

func TestCancelPayment_PendingPayment_TransitionsToCancelled(t *testing.T) {
	repo := newFakePaymentRepository()
	paymentID := uuid.New()
	repo.put(&domain.Payment{
		ID:             paymentID,
		OrderID:        "order-5",
		Status:         domain.PaymentStatusPending,
		IdempotencyKey: "n/a",
	}, "po_5")

	adapter := &fakeAdapter{
		provider:     domain.ProviderStripe,
		cancelResult: &provider.CancelResult{Success: true},
	}
	outbox := &fakeOutboxRepo{}
	pool := &fakeDBPool{}
	svc := newFullTestService(pool, repo, outbox, map[domain.Provider]provider.Adapter{domain.ProviderStripe: adapter}, nil, nil, nil, nil)

	result, err := svc.CancelPayment(context.Background(), "idem-cancel-1", CancelPaymentRequest{
		Provider:        domain.ProviderStripe,
		ProviderOrderID: "po_5",
		Reason:          "user requested",
	})

	require.NoError(t, err)
	assert.Equal(t, string(domain.PaymentStatusCancelled), result.Status)
	assert.Equal(t, domain.PaymentStatusCancelled, repo.byProviderOrderID["po_5"].Status)
	require.Len(t, outbox.inserted, 1)
	assert.Equal(t, domain.EventOrderPaymentFailed, outbox.inserted[0].EventType)
	require.NotNil(t, pool.lastTx)
	assert.True(t, pool.lastTx.committed)
}

func TestCancelPayment_AlreadyResolved_ReturnsInvalidTransition(t *testing.T) {
	repo := newFakePaymentRepository()
	repo.put(&domain.Payment{ID: uuid.New(), Status: domain.PaymentStatusResolved}, "po_6")

	adapter := &fakeAdapter{provider: domain.ProviderStripe}
	svc := newFullTestService(&fakeDBPool{}, repo, &fakeOutboxRepo{}, map[domain.Provider]provider.Adapter{domain.ProviderStripe: adapter}, nil, nil, nil, nil)

	_, err := svc.CancelPayment(context.Background(), "idem-cancel-2", CancelPaymentRequest{
		Provider:        domain.ProviderStripe,
		ProviderOrderID: "po_6",
	})

	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "FAILED_PRECONDITION", appErr.Code)
}

func TestSuccessPayment_PendingPayment_TransitionsToSuccessAndPublishes(t *testing.T) {
	repo := newFakePaymentRepository()
	repo.put(&domain.Payment{ID: uuid.New(), Status: domain.PaymentStatusPending}, "po_7")

	outbox := &fakeOutboxRepo{}
	pool := &fakeDBPool{}
	svc := newFullTestService(pool, repo, outbox, nil, nil, nil, nil, nil)

	err := svc.SuccessPayment(context.Background(), domain.ProviderStripe, "po_7")

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSuccess, repo.byProviderOrderID["po_7"].Status)
	require.Len(t, outbox.inserted, 1)
	assert.Equal(t, domain.EventOrderPaymentSucceeded, outbox.inserted[0].EventType)
	assert.True(t, pool.lastTx.committed)
}

func TestSuccessPayment_AlreadySuccess_IsNoop(t *testing.T) {
	repo := newFakePaymentRepository()
	repo.put(&domain.Payment{ID: uuid.New(), Status: domain.PaymentStatusSuccess}, "po_8")
	outbox := &fakeOutboxRepo{}
	pool := &fakeDBPool{}
	svc := newFullTestService(pool, repo, outbox, nil, nil, nil, nil, nil)

	err := svc.SuccessPayment(context.Background(), domain.ProviderStripe, "po_8")

	require.NoError(t, err)
	assert.Empty(t, outbox.inserted)
	assert.Nil(t, pool.lastTx)
}

func TestFailurePayment_PendingPayment_TransitionsToFailedAndPublishes(t *testing.T) {
	repo := newFakePaymentRepository()
	repo.put(&domain.Payment{ID: uuid.New(), Status: domain.PaymentStatusPending}, "po_9")
	outbox := &fakeOutboxRepo{}
	pool := &fakeDBPool{}
	svc := newFullTestService(pool, repo, outbox, nil, nil, nil, nil, nil)

	err := svc.FailurePayment(context.Background(), domain.ProviderStripe, "po_9")

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, repo.byProviderOrderID["po_9"].Status)
	require.Len(t, outbox.inserted, 1)
	assert.Equal(t, domain.EventOrderPaymentFailed, outbox.inserted[0].EventType)
	assert.True(t, pool.lastTx.committed)
}

func TestFailurePayment_UnknownProviderOrderID_ReturnsOrderNotFound(t *testing.T) {
	repo := newFakePaymentRepository()
	pool := &fakeDBPool{}
	svc := newFullTestService(pool, repo, &fakeOutboxRepo{}, nil, nil, nil, nil, nil)

	err := svc.FailurePayment(context.Background(), domain.ProviderStripe, "missing")

	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, 404, appErr.Status)
	assert.Nil(t, pool.lastTx)
}

func TestHandlePaymentTimeout_PendingPayment_ExpiresAndPublishes(t *testing.T) {
	repo := newFakePaymentRepository()
	paymentID := uuid.New()
	repo.put(&domain.Payment{ID: paymentID, OrderID: "order-10", Status: domain.PaymentStatusPending}, "po_10")
	outbox := &fakeOutboxRepo{}
	pool := &fakeDBPool{}
	svc := newFullTestService(pool, repo, outbox, nil, nil, nil, nil, nil)

	err := svc.HandlePaymentTimeout(context.Background(), paymentID)

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusExpired, repo.byID[paymentID].Status)
	require.Len(t, outbox.inserted, 1)
	assert.Equal(t, domain.EventOrderPaymentTimeout, outbox.inserted[0].EventType)
	assert.True(t, pool.lastTx.committed)
}

func TestHandlePaymentTimeout_AlreadyResolved_IsNoopAndDoesNotOpenTransaction(t *testing.T) {
	repo := newFakePaymentRepository()
	paymentID := uuid.New()
	repo.put(&domain.Payment{ID: paymentID, Status: domain.PaymentStatusResolved}, "po_11")
	pool := &fakeDBPool{}
	svc := newFullTestService(pool, repo, &fakeOutboxRepo{}, nil, nil, nil, nil, nil)

	err := svc.HandlePaymentTimeout(context.Background(), paymentID)

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusResolved, repo.byID[paymentID].Status)
	assert.Nil(t, pool.lastTx)
}
