package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"billing/internal/domain"
	"billing/internal/provider"
	"billing/internal/repository/outbox_repo"
	"billing/internal/repository/payments_repo"
	"billing/internal/repository/subscriptions_repo"
	"billing/internal/repository/transactions_repo"
	"billing/internal/repository/webhooks_repo"
	"billing/internal/util"
)

// AdmitResult acknowledges a webhook delivery. Duplicate deliveries resolve to
// the event recorded on first sight.
type AdmitResult struct {
	EventID   string
	Duplicate bool
}

type WebhookService interface {
	// Admit verifies the signature and durably records the event. It is the
	// fast phase: no business logic runs before the caller can be
	// acknowledged. Duplicate deliveries are acknowledged without recording.
	Admit(ctx context.Context, providerName string, payload []byte, signatureHeader string) (*AdmitResult, error)
	// Process applies the recorded event to its aggregate. Failures are
	// recorded against the event's retry budget, never lost.
	Process(ctx context.Context, eventID string) error
	// ProcessPending retries events whose earlier processing attempt failed.
	ProcessPending(ctx context.Context) error
}

type Config struct {
	PaymentEventsTopic      string
	SubscriptionEventsTopic string
	RetryBatchSize          int
}

// retryGrace keeps the reprocessor off freshly admitted events whose first
// synchronous processing attempt may still be in flight. Events older than
// this are fair game even with retry_count zero: an attempt that crashed
// before recording its failure must not strand the event.
const retryGrace = 30 * time.Second

type webhookService struct {
	db          *sql.DB
	webhookRepo webhooks_repo.WebhookRepository
	paymentRepo payments_repo.PaymentRepository
	subRepo     subscriptions_repo.SubscriptionRepository
	txRepo      transactions_repo.TransactionRepository
	outboxRepo  outbox_repo.OutboxRepository
	selector    *provider.Selector
	verifier    *provider.Verifier
	cfg         Config
	logger      *zap.Logger
}

func NewWebhookService(
	db *sql.DB,
	webhookRepo webhooks_repo.WebhookRepository,
	paymentRepo payments_repo.PaymentRepository,
	subRepo subscriptions_repo.SubscriptionRepository,
	txRepo transactions_repo.TransactionRepository,
	outboxRepo outbox_repo.OutboxRepository,
	selector *provider.Selector,
	verifier *provider.Verifier,
	cfg Config,
	logger *zap.Logger,
) WebhookService {
	return &webhookService{
		db:          db,
		webhookRepo: webhookRepo,
		paymentRepo: paymentRepo,
		subRepo:     subRepo,
		txRepo:      txRepo,
		outboxRepo:  outboxRepo,
		selector:    selector,
		verifier:    verifier,
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *webhookService) Admit(ctx context.Context, providerName string, payload []byte, signatureHeader string) (*AdmitResult, error) {
	if !s.verifier.Verify(providerName, payload, signatureHeader) {
		return nil, domain.ErrSignatureInvalid
	}

	gateway, err := s.selector.Get(providerName)
	if err != nil {
		return nil, domain.NewValidationError("provider", "unknown provider %q", providerName)
	}
	parsed, err := gateway.ParseWebhook(payload)
	if err != nil {
		return nil, domain.NewValidationError("payload", "unparseable webhook payload: %s", err)
	}

	event := &domain.WebhookEvent{
		ID:              util.GenerateUUID(),
		Provider:        providerName,
		ProviderEventID: parsed.ProviderEventID,
		EventType:       string(parsed.Type),
		Payload:         payload,
		Signature:       signatureHeader,
		Status:          domain.WebhookStatusReceived,
		ReceivedAt:      time.Now(),
	}
	if err := s.webhookRepo.InsertTx(ctx, s.db, event); err != nil {
		if !errors.Is(err, domain.ErrDuplicateWebhook) {
			return nil, fmt.Errorf("failed to record webhook event: %w", err)
		}
		existing, lookupErr := s.webhookRepo.GetByProviderEventID(ctx, s.db, providerName, parsed.ProviderEventID)
		if lookupErr != nil {
			return nil, fmt.Errorf("failed to resolve duplicate webhook: %w", lookupErr)
		}
		s.logger.Info("Duplicate webhook delivery acknowledged",
			zap.String("provider", providerName),
			zap.String("provider_event_id", parsed.ProviderEventID))
		return &AdmitResult{EventID: existing.ID, Duplicate: true}, nil
	}

	s.logger.Info("Webhook admitted",
		zap.String("webhook_id", event.ID),
		zap.String("provider", providerName),
		zap.String("event_type", event.EventType))
	return &AdmitResult{EventID: event.ID}, nil
}

func (s *webhookService) Process(ctx context.Context, eventID string) error {
	event, err := s.webhookRepo.GetByID(ctx, s.db, eventID)
	if err != nil {
		return err
	}
	if event.Status != domain.WebhookStatusReceived {
		return nil
	}

	if err := s.apply(ctx, event); err != nil {
		s.logger.Warn("Webhook processing failed",
			zap.String("webhook_id", event.ID),
			zap.String("event_type", event.EventType),
			zap.Int("retry_count", event.RetryCount),
			zap.Error(err))
		if recErr := s.webhookRepo.RecordFailure(ctx, s.db, event.ID, err.Error(), domain.MaxWebhookRetries); recErr != nil {
			return recErr
		}
		return err
	}
	return nil
}

func (s *webhookService) ProcessPending(ctx context.Context) error {
	events, err := s.webhookRepo.ListUnprocessed(ctx, s.db, domain.MaxWebhookRetries, time.Now().Add(-retryGrace), s.cfg.RetryBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list unprocessed webhooks: %w", err)
	}
	for i := range events {
		if err := s.Process(ctx, events[i].ID); err != nil && !domain.IsDomainViolation(err) {
			s.logger.Debug("Webhook retry failed, will try again",
				zap.String("webhook_id", events[i].ID), zap.Error(err))
		}
	}
	return nil
}

// apply runs the event's business effect and the PROCESSED mark in one
// database transaction, with the target aggregate row-locked so concurrent
// deliveries for the same aggregate serialize.
func (s *webhookService) apply(ctx context.Context, event *domain.WebhookEvent) error {
	gateway, err := s.selector.Get(event.Provider)
	if err != nil {
		return err
	}
	parsed, err := gateway.ParseWebhook(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse stored webhook payload: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		switch parsed.Type {
		case provider.WebhookPaymentSucceeded, provider.WebhookPaymentFailed, provider.WebhookPaymentRequiresAction:
			if err := s.applyPaymentEvent(ctx, tx, event.Provider, parsed); err != nil {
				return err
			}
		case provider.WebhookSubscriptionRenewed, provider.WebhookSubscriptionRenewalFailed, provider.WebhookSubscriptionCancelled:
			if err := s.applySubscriptionEvent(ctx, tx, event.Provider, parsed); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unhandled webhook event type %q", parsed.Type)
		}
		return s.webhookRepo.MarkProcessedTx(ctx, tx, event.ID)
	})
}

func (s *webhookService) applyPaymentEvent(ctx context.Context, tx *sql.Tx, providerName string, parsed *provider.WebhookEvent) error {
	payment, err := s.paymentRepo.GetByProviderPaymentIDTx(ctx, tx, providerName, parsed.ProviderPaymentID)
	if err != nil {
		return err
	}
	payment, err = s.paymentRepo.GetByIDForUpdateTx(ctx, tx, payment.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	var result *domain.TransitionResult
	switch parsed.Type {
	case provider.WebhookPaymentSucceeded:
		result, err = payment.MarkSucceeded(parsed.ProviderPaymentID, now)
	case provider.WebhookPaymentFailed:
		result, err = payment.MarkFailed("provider_reported_failure", parsed.Reason, now)
	case provider.WebhookPaymentRequiresAction:
		result, err = payment.MarkRequiresAction(parsed.ProviderPaymentID, "", now)
	}
	if err != nil {
		return err
	}
	if result.IsEcho() {
		return nil
	}

	if err := s.paymentRepo.UpdateTx(ctx, tx, payment); err != nil {
		return err
	}
	return s.stageResultTx(ctx, tx, result, s.cfg.PaymentEventsTopic)
}

func (s *webhookService) applySubscriptionEvent(ctx context.Context, tx *sql.Tx, providerName string, parsed *provider.WebhookEvent) error {
	sub, err := s.subRepo.GetByProviderSubscriptionIDTx(ctx, tx, providerName, parsed.ProviderSubscriptionID)
	if err != nil {
		return err
	}
	sub, err = s.subRepo.GetByIDForUpdateTx(ctx, tx, sub.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	var result *domain.TransitionResult
	switch parsed.Type {
	case provider.WebhookSubscriptionRenewed:
		if sub.Status == domain.SubscriptionStatusIncomplete {
			// First successful charge activates the subscription.
			result, err = sub.Activate(parsed.ProviderSubscriptionID, now)
			break
		}
		periodStart, periodEnd := renewalPeriod(sub, parsed, now)
		result, err = sub.RenewalSucceeded(periodStart, periodEnd, parsed.ProviderSubscriptionID, now)
	case provider.WebhookSubscriptionRenewalFailed:
		result, err = sub.RenewalFailed(parsed.Reason, now)
	case provider.WebhookSubscriptionCancelled:
		result, err = sub.Cancel(false, parsed.Reason, now)
	}
	if err != nil {
		return err
	}
	if result.IsEcho() {
		return nil
	}

	if err := s.subRepo.UpdateTx(ctx, tx, sub); err != nil {
		return err
	}
	return s.stageResultTx(ctx, tx, result, s.cfg.SubscriptionEventsTopic)
}

// renewalPeriod prefers the provider-reported billing period and falls back to
// advancing the current period by the subscription's interval.
func renewalPeriod(sub *domain.Subscription, parsed *provider.WebhookEvent, now time.Time) (time.Time, time.Time) {
	if parsed.PeriodStart != nil && parsed.PeriodEnd != nil {
		return *parsed.PeriodStart, *parsed.PeriodEnd
	}
	start := sub.CurrentPeriodEnd
	if start.After(now) {
		start = now
	}
	if sub.BillingInterval == domain.BillingIntervalYearly {
		return start, start.AddDate(1, 0, 0)
	}
	return start, start.AddDate(0, 1, 0)
}

func (s *webhookService) stageResultTx(ctx context.Context, tx *sql.Tx, result *domain.TransitionResult, topic string) error {
	if result.Transaction != nil {
		if err := s.txRepo.CreateTx(ctx, tx, result.Transaction); err != nil {
			return err
		}
	}
	if result.Event != nil {
		msg, err := domain.NewOutboxMessage(util.GenerateUUID(), result.Event, topic)
		if err != nil {
			return err
		}
		if err := s.outboxRepo.CreateMessageTx(ctx, tx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *webhookService) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
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
