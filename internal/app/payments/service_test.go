package payments

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"billing/internal/domain"
	"billing/internal/infrastructure/database/dbtest"
	"billing/internal/provider"
	"billing/internal/provider/sandbox"
)

// fakeIdempotencyRepo mirrors the key-constraint semantics of the real table.
type fakeIdempotencyRepo struct {
	records map[string]*domain.IdempotencyRecord
}

func newFakeIdempotencyRepo() *fakeIdempotencyRepo {
	return &fakeIdempotencyRepo{records: make(map[string]*domain.IdempotencyRecord)}
}

func (r *fakeIdempotencyRepo) Reserve(ctx context.Context, querier domain.Querier, record *domain.IdempotencyRecord) (*domain.IdempotencyRecord, error) {
	if existing, ok := r.records[record.Key]; ok {
		if !existing.Expired(time.Now()) {
			copied := *existing
			return &copied, nil
		}
		delete(r.records, record.Key)
	}
	stored := *record
	r.records[record.Key] = &stored
	return nil, nil
}

func (r *fakeIdempotencyRepo) Commit(ctx context.Context, querier domain.Querier, key string, responseStatus int, responseBody []byte) error {
	record, ok := r.records[key]
	if !ok {
		return errors.New("no reservation for key " + key)
	}
	record.ResponseStatus = responseStatus
	record.ResponseBody = responseBody
	return nil
}

func (r *fakeIdempotencyRepo) Release(ctx context.Context, querier domain.Querier, key string) error {
	if record, ok := r.records[key]; ok && !record.Committed() {
		delete(r.records, key)
	}
	return nil
}

func newIdempotencyTestService(t *testing.T, idemRepo *fakeIdempotencyRepo) PaymentService {
	t.Helper()
	selector, err := provider.NewSelector(provider.SelectorConfig{DefaultProvider: sandbox.Name}, sandbox.New())
	require.NoError(t, err)
	return NewPaymentService(nil, nil, nil, idemRepo, nil, selector,
		Config{EventsTopic: "payment_events", CallTimeout: time.Second, IdempotencyTTL: domain.DefaultIdempotencyTTL},
		zap.NewNop())
}

func createRequest(key string, body []byte) CreatePaymentRequest {
	amount, _ := domain.MoneyFromString("10.00", "USD")
	return CreatePaymentRequest{
		IdempotencyKey: key,
		Fingerprint:    domain.RequestFingerprint("POST", "/payments", body),
		UserID:         "user-1",
		Amount:         amount,
	}
}

func TestCreatePaymentRequiresIdempotencyKey(t *testing.T) {
	service := newIdempotencyTestService(t, newFakeIdempotencyRepo())
	_, err := service.CreatePayment(context.Background(), createRequest("", nil))
	require.Error(t, err)
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestCreatePaymentReplaysCommittedResponse(t *testing.T) {
	idemRepo := newFakeIdempotencyRepo()
	service := newIdempotencyTestService(t, idemRepo)
	body := []byte(`{"amount":"10.00","currency":"USD"}`)
	storedBody := []byte(`{"id":"pay-1","status":"SUCCEEDED"}`)

	// A previous request with this key already committed its response.
	idemRepo.records["key-1"] = &domain.IdempotencyRecord{
		Key:            "key-1",
		Fingerprint:    domain.RequestFingerprint("POST", "/payments", body),
		ResponseStatus: 201,
		ResponseBody:   storedBody,
		ExpiresAt:      time.Now().Add(time.Hour),
	}

	result, err := service.CreatePayment(context.Background(), createRequest("key-1", body))
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, 201, result.StoredStatus)
	assert.Equal(t, storedBody, result.StoredBody)
	assert.Nil(t, result.Payment, "replay must not create a second payment")
}

func TestCreatePaymentRejectsKeyReuseWithDifferentBody(t *testing.T) {
	idemRepo := newFakeIdempotencyRepo()
	service := newIdempotencyTestService(t, idemRepo)

	idemRepo.records["key-1"] = &domain.IdempotencyRecord{
		Key:            "key-1",
		Fingerprint:    domain.RequestFingerprint("POST", "/payments", []byte(`{"amount":"10.00"}`)),
		ResponseStatus: 201,
		ResponseBody:   []byte(`{}`),
		ExpiresAt:      time.Now().Add(time.Hour),
	}

	_, err := service.CreatePayment(context.Background(), createRequest("key-1", []byte(`{"amount":"999.00"}`)))
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestCreatePaymentReportsInFlightDuplicate(t *testing.T) {
	idemRepo := newFakeIdempotencyRepo()
	service := newIdempotencyTestService(t, idemRepo)
	body := []byte(`{"amount":"10.00"}`)

	// Reserved but not committed: the first request is still running.
	idemRepo.records["key-1"] = &domain.IdempotencyRecord{
		Key:         "key-1",
		Fingerprint: domain.RequestFingerprint("POST", "/payments", body),
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	_, err := service.CreatePayment(context.Background(), createRequest("key-1", body))
	assert.ErrorIs(t, err, domain.ErrIdempotencyInFlight)
}

func TestExpiredIdempotencyRecordIsNotReplayed(t *testing.T) {
	idemRepo := newFakeIdempotencyRepo()
	service := newIdempotencyTestService(t, idemRepo)
	body := []byte(`{"amount":"10.00"}`)

	idemRepo.records["key-1"] = &domain.IdempotencyRecord{
		Key:            "key-1",
		Fingerprint:    domain.RequestFingerprint("POST", "/payments", body),
		ResponseStatus: 201,
		ResponseBody:   []byte(`{}`),
		ExpiresAt:      time.Now().Add(-time.Minute),
	}

	// The expired record is evicted and the key treated as fresh. The request
	// is steered into a pre-persistence failure (unregistered provider) so it
	// must reach the fresh path, not replay the stale response.
	req := createRequest("key-1", body)
	req.Provider = "unregistered"
	result, err := service.CreatePayment(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.NotErrorIs(t, err, domain.ErrIdempotencyConflict)
	assert.NotErrorIs(t, err, domain.ErrIdempotencyInFlight)
}

func TestFailedRequestReleasesReservation(t *testing.T) {
	idemRepo := newFakeIdempotencyRepo()
	service := newIdempotencyTestService(t, idemRepo)
	body := []byte(`{"amount":"10.00"}`)

	req := createRequest("key-1", body)
	req.Provider = "unregistered"
	_, err := service.CreatePayment(context.Background(), req)
	require.Error(t, err)

	// The failed attempt must not leave an in-flight marker behind; a retry
	// with the same key reserves fresh instead of getting a 409.
	_, ok := idemRepo.records["key-1"]
	assert.False(t, ok)
}

// fakePaymentRepo enforces the optimistic version check of the real table and
// is safe for concurrent callers.
type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*domain.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[string]*domain.Payment)}
}

func (r *fakePaymentRepo) CreateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *payment
	r.payments[payment.ID] = &stored
	return nil
}

func (r *fakePaymentRepo) GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	copied := *payment
	return &copied, nil
}

func (r *fakePaymentRepo) GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	return r.GetByIDTx(ctx, querier, id)
}

func (r *fakePaymentRepo) GetByProviderPaymentIDTx(ctx context.Context, querier domain.Querier, providerName, providerPaymentID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, payment := range r.payments {
		if payment.Provider == providerName && payment.ProviderPaymentID == providerPaymentID {
			copied := *payment
			return &copied, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *fakePaymentRepo) UpdateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.payments[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if stored.Version != payment.Version {
		return domain.ErrVersionConflict
	}
	updated := *payment
	updated.Version++
	r.payments[payment.ID] = &updated
	payment.Version++
	return nil
}

type fakeTransactionRepo struct {
	mu           sync.Mutex
	transactions []domain.Transaction
}

func (r *fakeTransactionRepo) CreateTx(ctx context.Context, querier domain.Querier, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions = append(r.transactions, *tx)
	return nil
}

func (r *fakeTransactionRepo) ListByPaymentID(ctx context.Context, querier domain.Querier, paymentID string) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.transactions {
		if tx.PaymentID == paymentID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *fakeTransactionRepo) ListBySubscriptionID(ctx context.Context, querier domain.Querier, subscriptionID string) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.transactions {
		if tx.SubscriptionID == subscriptionID {
			out = append(out, tx)
		}
	}
	return out, nil
}

type fakeOutboxRepo struct {
	mu       sync.Mutex
	messages []domain.OutboxMessage
}

func (r *fakeOutboxRepo) CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *fakeOutboxRepo) ClaimPendingTx(ctx context.Context, tx *sql.Tx, limit int) ([]domain.OutboxMessage, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) MarkSentTx(ctx context.Context, tx *sql.Tx, ids []string) error {
	return nil
}

// stubGateway acknowledges every provider call.
type stubGateway struct{ name string }

func (g *stubGateway) Name() string { return g.name }

func (g *stubGateway) CreatePayment(ctx context.Context, req provider.CreatePaymentRequest) (*provider.PaymentResult, error) {
	return &provider.PaymentResult{ProviderPaymentID: "gw_" + req.PaymentID, Status: provider.ResultSucceeded}, nil
}

func (g *stubGateway) VerifyPayment(ctx context.Context, providerPaymentID string) (*provider.PaymentResult, error) {
	return &provider.PaymentResult{ProviderPaymentID: providerPaymentID, Status: provider.ResultSucceeded}, nil
}

func (g *stubGateway) Refund(ctx context.Context, providerPaymentID string, amount domain.Money) (*provider.RefundResult, error) {
	return &provider.RefundResult{ProviderRefundID: "re_" + providerPaymentID}, nil
}

func (g *stubGateway) ParseWebhook(payload []byte) (*provider.WebhookEvent, error) {
	return nil, errors.New("stub gateway emits no webhooks")
}

func TestConcurrentRefundsExactlyOneSucceeds(t *testing.T) {
	db := dbtest.Open()
	t.Cleanup(func() { db.Close() })

	selector, err := provider.NewSelector(provider.SelectorConfig{DefaultProvider: "testpay"}, &stubGateway{name: "testpay"})
	require.NoError(t, err)

	paymentRepo := newFakePaymentRepo()
	txRepo := &fakeTransactionRepo{}
	service := NewPaymentService(db, paymentRepo, txRepo, newFakeIdempotencyRepo(), &fakeOutboxRepo{}, selector,
		Config{EventsTopic: "payment_events", CallTimeout: time.Second, IdempotencyTTL: domain.DefaultIdempotencyTTL},
		zap.NewNop())

	amount, err := domain.MoneyFromString("100.00", "USD")
	require.NoError(t, err)
	p, _, err := domain.NewPayment("pay-1", "user-1", amount, "testpay", nil, time.Now())
	require.NoError(t, err)
	_, err = p.MarkSucceeded("gw_pay-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, paymentRepo.CreateTx(context.Background(), nil, p))

	refund, err := domain.MoneyFromString("60.00", "USD")
	require.NoError(t, err)

	start := make(chan struct{})
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, err := service.RefundPayment(context.Background(), "pay-1", &refund)
			errs <- err
		}()
	}
	close(start)

	successes := 0
	var loserErr error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			loserErr = err
		} else {
			successes++
		}
	}

	// Both contenders pass the domain check against their own snapshot; the
	// version check at persist time serializes them and the loser's re-check
	// rejects the over-refund.
	require.Equal(t, 1, successes)
	require.Error(t, loserErr)
	assert.True(t, domain.IsDomainViolation(loserErr) || errors.Is(loserErr, domain.ErrConcurrencyConflict),
		"loser must surface a domain violation or a concurrency conflict, got: %v", loserErr)

	stored, err := paymentRepo.GetByIDTx(context.Background(), nil, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartiallyRefunded, stored.Status)
	assert.True(t, stored.RefundedAmount.Equal(refund.Amount), "exactly one refund of 60 applied, got %s", stored.RefundedAmount)

	refunds, err := txRepo.ListByPaymentID(context.Background(), nil, "pay-1")
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.TransactionTypePartialRefund, refunds[0].Type)
}
