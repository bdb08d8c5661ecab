package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"billing/internal/backoff"
	"billing/internal/domain"
	"billing/internal/provider"
	"billing/internal/repository/idempotency_repo"
	"billing/internal/repository/outbox_repo"
	"billing/internal/repository/payments_repo"
	"billing/internal/repository/transactions_repo"
	"billing/internal/util"
)

// maxVersionRetries bounds reload-and-retry on optimistic version conflicts.
const maxVersionRetries = 3

type CreatePaymentRequest struct {
	IdempotencyKey string
	Fingerprint    string
	UserID         string
	Amount         domain.Money
	// Provider is an explicit caller preference; empty means the selector
	// routes by currency/region.
	Provider string
	Region   string
	Metadata map[string]string
}

// CreatePaymentResult carries either a freshly created payment or the stored
// response of an idempotent replay.
type CreatePaymentResult struct {
	Payment      *domain.Payment
	Replayed     bool
	StoredStatus int
	StoredBody   []byte
}

type PaymentService interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	// VerifyPayment reconciles local state with the provider's authoritative
	// answer and applies any resulting transition.
	VerifyPayment(ctx context.Context, id string) (*domain.Payment, error)
	// RefundPayment refunds the given amount, or the full remaining
	// refundable balance when amount is nil.
	RefundPayment(ctx context.Context, id string, amount *domain.Money) (*domain.Payment, error)
	CancelPayment(ctx context.Context, id string) (*domain.Payment, error)
	// ListTransactions returns the append-only money-movement ledger of a
	// payment, oldest first.
	ListTransactions(ctx context.Context, id string) ([]domain.Transaction, error)
}

type Config struct {
	EventsTopic    string
	CallTimeout    time.Duration
	IdempotencyTTL time.Duration
}

type paymentService struct {
	db          *sql.DB
	paymentRepo payments_repo.PaymentRepository
	txRepo      transactions_repo.TransactionRepository
	idemRepo    idempotency_repo.IdempotencyRepository
	outboxRepo  outbox_repo.OutboxRepository
	selector    *provider.Selector
	cfg         Config
	logger      *zap.Logger
}

func NewPaymentService(
	db *sql.DB,
	paymentRepo payments_repo.PaymentRepository,
	txRepo transactions_repo.TransactionRepository,
	idemRepo idempotency_repo.IdempotencyRepository,
	outboxRepo outbox_repo.OutboxRepository,
	selector *provider.Selector,
	cfg Config,
	logger *zap.Logger,
) PaymentService {
	return &paymentService{
		db:          db,
		paymentRepo: paymentRepo,
		txRepo:      txRepo,
		idemRepo:    idemRepo,
		outboxRepo:  outboxRepo,
		selector:    selector,
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *paymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if req.IdempotencyKey == "" {
		return nil, domain.NewValidationError("idempotency_key", "must not be empty")
	}

	now := time.Now()
	reservation := &domain.IdempotencyRecord{
		Key:         req.IdempotencyKey,
		UserID:      req.UserID,
		Method:      "POST",
		Path:        "/payments",
		Fingerprint: req.Fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.IdempotencyTTL),
	}
	existing, err := s.idemRepo.Reserve(ctx, s.db, reservation)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if existing != nil {
		if existing.Fingerprint != req.Fingerprint {
			return nil, domain.ErrIdempotencyConflict
		}
		if !existing.Committed() {
			return nil, domain.ErrIdempotencyInFlight
		}
		s.logger.Info("Replaying stored response for idempotency key",
			zap.String("idempotency_key", req.IdempotencyKey))
		return &CreatePaymentResult{
			Replayed:     true,
			StoredStatus: existing.ResponseStatus,
			StoredBody:   existing.ResponseBody,
		}, nil
	}

	payment, err := s.executeCreate(ctx, req, now)
	if err != nil {
		// The reservation must not wedge retries behind a request that never
		// produced a payment.
		if payment == nil {
			if relErr := s.idemRepo.Release(ctx, s.db, req.IdempotencyKey); relErr != nil {
				s.logger.Error("Failed to release idempotency reservation",
					zap.String("idempotency_key", req.IdempotencyKey), zap.Error(relErr))
			}
			return nil, err
		}
	}

	// The stored response must replay the original outcome, including a
	// declined payment, so the status is derived from the result.
	status := http.StatusCreated
	if err != nil {
		status = http.StatusBadGateway
		if provider.IsPermanent(err) {
			status = http.StatusPaymentRequired
		}
	}
	body, marshalErr := json.Marshal(NewPaymentView(payment))
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal payment view: %w", marshalErr)
	}
	if commitErr := s.idemRepo.Commit(ctx, s.db, req.IdempotencyKey, status, body); commitErr != nil {
		s.logger.Error("Failed to commit idempotency record",
			zap.String("idempotency_key", req.IdempotencyKey), zap.Error(commitErr))
	}
	return &CreatePaymentResult{Payment: payment}, err
}

// executeCreate persists the new PENDING payment, invokes the provider and
// feeds the outcome back as a transition. The returned payment is always the
// authoritative state, also on error.
func (s *paymentService) executeCreate(ctx context.Context, req CreatePaymentRequest, now time.Time) (*domain.Payment, error) {
	gateway, err := s.selector.Select(req.Provider, req.Amount.Currency, req.Region)
	if err != nil {
		return nil, domain.NewValidationError("provider", "%s", err)
	}

	payment, result, err := domain.NewPayment(util.GenerateUUID(), req.UserID, req.Amount, gateway.Name(), req.Metadata, now)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.paymentRepo.CreateTx(ctx, tx, payment); err != nil {
			return err
		}
		return s.stageResultTx(ctx, tx, result)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist new payment: %w", err)
	}
	s.logger.Info("Payment created",
		zap.String("payment_id", payment.ID),
		zap.String("provider", payment.Provider),
		zap.String("amount", payment.Amount.String()))

	var providerResult *provider.PaymentResult
	callErr := backoff.Retry(ctx, backoff.DefaultPolicy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		res, err := gateway.CreatePayment(callCtx, provider.CreatePaymentRequest{
			PaymentID: payment.ID,
			UserID:    payment.UserID,
			Amount:    payment.Amount,
			Metadata:  payment.Metadata,
		})
		if err != nil {
			return err
		}
		providerResult = res
		return nil
	}, provider.IsTransient)

	if callErr != nil {
		return s.settleFailedCreate(ctx, payment, callErr)
	}
	updated, err := s.applyProviderResult(ctx, payment.ID, providerResult)
	if err != nil {
		return payment, err
	}
	return updated, nil
}

// settleFailedCreate decides the payment's fate after the provider call
// failed. A local timeout is not proof of remote failure; when the outcome is
// ambiguous a verify call settles it before FAILED is recorded.
func (s *paymentService) settleFailedCreate(ctx context.Context, payment *domain.Payment, callErr error) (*domain.Payment, error) {
	if provider.IsAmbiguous(callErr) && payment.ProviderPaymentID != "" {
		if verified, err := s.VerifyPayment(ctx, payment.ID); err == nil {
			return verified, nil
		}
	}

	code := provider.CodeOf(callErr)
	if code == "" {
		code = "provider_unavailable"
	}
	updated, err := s.applyTransition(ctx, payment.ID, func(p *domain.Payment, now time.Time) (*domain.TransitionResult, error) {
		return p.MarkFailed(code, provider.MessageOf(callErr), now)
	})
	if err != nil {
		return payment, err
	}
	if provider.IsPermanent(callErr) {
		return updated, callErr
	}
	return updated, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, callErr)
}

func (s *paymentService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.paymentRepo.GetByIDTx(ctx, s.db, id)
}

func (s *paymentService) VerifyPayment(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := s.paymentRepo.GetByIDTx(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() || payment.ProviderPaymentID == "" {
		return payment, nil
	}

	gateway, err := s.selector.Get(payment.Provider)
	if err != nil {
		return payment, fmt.Errorf("payment %s pinned to unknown provider: %w", id, err)
	}

	var providerResult *provider.PaymentResult
	callErr := backoff.Retry(ctx, backoff.DefaultPolicy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		res, err := gateway.VerifyPayment(callCtx, payment.ProviderPaymentID)
		if err != nil {
			return err
		}
		providerResult = res
		return nil
	}, provider.IsTransient)
	if callErr != nil {
		return payment, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, callErr)
	}

	return s.applyProviderResult(ctx, id, providerResult)
}

func (s *paymentService) RefundPayment(ctx context.Context, id string, amount *domain.Money) (*domain.Payment, error) {
	var instruction *domain.Instruction
	payment, err := s.applyTransition(ctx, id, func(p *domain.Payment, now time.Time) (*domain.TransitionResult, error) {
		refundAmount := domain.Money{Amount: p.RemainingRefundable(), Currency: p.Amount.Currency}
		if amount != nil {
			refundAmount = *amount
		}
		result, err := p.Refund(refundAmount, now)
		if err != nil {
			return nil, err
		}
		instruction = result.Instruction
		return result, nil
	})
	if err != nil {
		return payment, err
	}
	s.logger.Info("Refund recorded",
		zap.String("payment_id", id),
		zap.String("amount", instruction.Amount.String()),
		zap.String("status", string(payment.Status)))

	return s.executeRefundCall(ctx, payment, instruction)
}

// executeRefundCall performs the provider refund staged by the transition.
// Permanent provider rejection reverses the local refund; an unacknowledged
// call after retries stays recorded locally, since the remote refund may have
// gone through, and is surfaced for reconciliation.
func (s *paymentService) executeRefundCall(ctx context.Context, payment *domain.Payment, instruction *domain.Instruction) (*domain.Payment, error) {
	gateway, err := s.selector.Get(instruction.Provider)
	if err != nil {
		return payment, fmt.Errorf("payment %s pinned to unknown provider: %w", payment.ID, err)
	}

	callErr := backoff.Retry(ctx, backoff.DefaultPolicy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		_, err := gateway.Refund(callCtx, instruction.ProviderPaymentID, *instruction.Amount)
		return err
	}, provider.IsTransient)
	if callErr == nil {
		return payment, nil
	}

	if provider.IsPermanent(callErr) {
		s.logger.Warn("Provider rejected refund, reversing local state",
			zap.String("payment_id", payment.ID), zap.Error(callErr))
		reversed, revErr := s.applyTransition(ctx, payment.ID, func(p *domain.Payment, now time.Time) (*domain.TransitionResult, error) {
			return p.ReverseRefund(*instruction.Amount, provider.CodeOf(callErr), provider.MessageOf(callErr), now)
		})
		if revErr != nil {
			return payment, fmt.Errorf("refund rejected and reversal failed: %v: %w", revErr, callErr)
		}
		return reversed, callErr
	}

	s.logger.Error("Refund call not acknowledged by provider, keeping local refund for reconciliation",
		zap.String("payment_id", payment.ID), zap.Error(callErr))
	return payment, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, callErr)
}

func (s *paymentService) CancelPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.applyTransition(ctx, id, func(p *domain.Payment, now time.Time) (*domain.TransitionResult, error) {
		return p.Cancel(now)
	})
}

func (s *paymentService) ListTransactions(ctx context.Context, id string) ([]domain.Transaction, error) {
	if _, err := s.paymentRepo.GetByIDTx(ctx, s.db, id); err != nil {
		return nil, err
	}
	return s.txRepo.ListByPaymentID(ctx, s.db, id)
}

// applyProviderResult maps a provider outcome onto the matching transition.
func (s *paymentService) applyProviderResult(ctx context.Context, id string, res *provider.PaymentResult) (*domain.Payment, error) {
	return s.applyTransition(ctx, id, func(p *domain.Payment, now time.Time) (*domain.TransitionResult, error) {
		switch res.Status {
		case provider.ResultProcessing:
			return p.MarkProcessing(res.ProviderPaymentID, now)
		case provider.ResultRequiresAction:
			return p.MarkRequiresAction(res.ProviderPaymentID, res.ClientSecret, now)
		case provider.ResultSucceeded:
			return p.MarkSucceeded(res.ProviderPaymentID, now)
		case provider.ResultFailed:
			return p.MarkFailed(res.ErrorCode, res.ErrorMessage, now)
		default:
			return nil, fmt.Errorf("unknown provider result status %q", res.Status)
		}
	})
}

// applyTransition runs load -> transition -> persist under the optimistic
// version check, reloading on conflict up to maxVersionRetries times. The
// transition result is persisted atomically with the aggregate update.
func (s *paymentService) applyTransition(ctx context.Context, id string, transition func(*domain.Payment, time.Time) (*domain.TransitionResult, error)) (*domain.Payment, error) {
	var payment *domain.Payment
	for attempt := 1; attempt <= maxVersionRetries; attempt++ {
		var err error
		payment, err = s.paymentRepo.GetByIDTx(ctx, s.db, id)
		if err != nil {
			return nil, err
		}

		result, err := transition(payment, time.Now())
		if err != nil {
			return payment, err
		}
		if result.IsEcho() {
			return payment, nil
		}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if err := s.paymentRepo.UpdateTx(ctx, tx, payment); err != nil {
				return err
			}
			return s.stageResultTx(ctx, tx, result)
		})
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return payment, err
		}
		s.logger.Debug("Version conflict applying payment transition, retrying",
			zap.String("payment_id", id), zap.Int("attempt", attempt))
	}
	return payment, domain.ErrConcurrencyConflict
}

// stageResultTx writes the transaction record and outbox message staged by a
// transition, inside the same database transaction as the aggregate update.
func (s *paymentService) stageResultTx(ctx context.Context, tx *sql.Tx, result *domain.TransitionResult) error {
	if result.Transaction != nil {
		if err := s.txRepo.CreateTx(ctx, tx, result.Transaction); err != nil {
			return err
		}
	}
	if result.Event != nil {
		msg, err := domain.NewOutboxMessage(util.GenerateUUID(), result.Event, s.cfg.EventsTopic)
		if err != nil {
			return err
		}
		if err := s.outboxRepo.CreateMessageTx(ctx, tx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *paymentService) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
