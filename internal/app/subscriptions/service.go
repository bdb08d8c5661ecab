package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"billing/internal/domain"
	"billing/internal/repository/outbox_repo"
	"billing/internal/repository/subscriptions_repo"
	"billing/internal/repository/transactions_repo"
	"billing/internal/util"
)

const maxVersionRetries = 3

type CreateSubscriptionRequest struct {
	UserID          string
	PlanID          string
	Provider        string
	BillingInterval domain.BillingInterval
	Amount          domain.Money
	TrialDays       int
	Metadata        map[string]string
}

type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	// CancelSubscription cancels immediately, or at period end when
	// atPeriodEnd is set. Cancel-at-period-end keeps the subscription ACTIVE
	// until the period-end sweep materializes the cancellation.
	CancelSubscription(ctx context.Context, id string, atPeriodEnd bool, reason string) (*domain.Subscription, error)
	// RunPeriodEndSweep materializes elapsed cancel-at-period-end flags.
	RunPeriodEndSweep(ctx context.Context) error
	ListTransactions(ctx context.Context, id string) ([]domain.Transaction, error)
}

type Config struct {
	EventsTopic    string
	SweepBatchSize int
}

type subscriptionService struct {
	db         *sql.DB
	subRepo    subscriptions_repo.SubscriptionRepository
	txRepo     transactions_repo.TransactionRepository
	outboxRepo outbox_repo.OutboxRepository
	cfg        Config
	logger     *zap.Logger
}

func NewSubscriptionService(
	db *sql.DB,
	subRepo subscriptions_repo.SubscriptionRepository,
	txRepo transactions_repo.TransactionRepository,
	outboxRepo outbox_repo.OutboxRepository,
	cfg Config,
	logger *zap.Logger,
) SubscriptionService {
	return &subscriptionService{
		db:         db,
		subRepo:    subRepo,
		txRepo:     txRepo,
		outboxRepo: outboxRepo,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *subscriptionService) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*domain.Subscription, error) {
	if req.TrialDays < 0 {
		return nil, domain.NewValidationError("trial_days", "must not be negative")
	}

	now := time.Now()
	periodStart := now
	periodEnd := advancePeriod(periodStart, req.BillingInterval)

	var trialStart, trialEnd *time.Time
	if req.TrialDays > 0 {
		end := now.AddDate(0, 0, req.TrialDays)
		trialStart, trialEnd = &now, &end
	}

	sub, result, err := domain.NewSubscription(
		util.GenerateUUID(), req.UserID, req.PlanID, req.Provider,
		req.BillingInterval, req.Amount, periodStart, periodEnd,
		trialStart, trialEnd, req.Metadata, now,
	)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.subRepo.CreateTx(ctx, tx, sub); err != nil {
			return err
		}
		return s.stageResultTx(ctx, tx, result)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist new subscription: %w", err)
	}
	s.logger.Info("Subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("plan_id", sub.PlanID),
		zap.String("interval", string(sub.BillingInterval)))
	return sub, nil
}

func (s *subscriptionService) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return s.subRepo.GetByIDTx(ctx, s.db, id)
}

func (s *subscriptionService) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool, reason string) (*domain.Subscription, error) {
	sub, err := s.applyTransition(ctx, id, func(sub *domain.Subscription, now time.Time) (*domain.TransitionResult, error) {
		return sub.Cancel(atPeriodEnd, reason, now)
	})
	if err != nil {
		return sub, err
	}
	s.logger.Info("Subscription cancelled",
		zap.String("subscription_id", id),
		zap.Bool("at_period_end", atPeriodEnd))
	return sub, nil
}

func (s *subscriptionService) RunPeriodEndSweep(ctx context.Context) error {
	ids, err := s.subRepo.ListDueForPeriodEnd(ctx, s.db, s.cfg.SweepBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions due for period end: %w", err)
	}
	for _, id := range ids {
		_, err := s.applyTransition(ctx, id, func(sub *domain.Subscription, now time.Time) (*domain.TransitionResult, error) {
			return sub.MaterializePeriodEnd(now)
		})
		if err != nil {
			s.logger.Error("Failed to materialize period-end cancellation",
				zap.String("subscription_id", id), zap.Error(err))
			continue
		}
		s.logger.Info("Cancel-at-period-end materialized", zap.String("subscription_id", id))
	}
	return nil
}

func (s *subscriptionService) ListTransactions(ctx context.Context, id string) ([]domain.Transaction, error) {
	if _, err := s.subRepo.GetByIDTx(ctx, s.db, id); err != nil {
		return nil, err
	}
	return s.txRepo.ListBySubscriptionID(ctx, s.db, id)
}

func (s *subscriptionService) applyTransition(ctx context.Context, id string, transition func(*domain.Subscription, time.Time) (*domain.TransitionResult, error)) (*domain.Subscription, error) {
	var sub *domain.Subscription
	for attempt := 1; attempt <= maxVersionRetries; attempt++ {
		var err error
		sub, err = s.subRepo.GetByIDTx(ctx, s.db, id)
		if err != nil {
			return nil, err
		}

		result, err := transition(sub, time.Now())
		if err != nil {
			return sub, err
		}
		if result.IsEcho() {
			return sub, nil
		}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if err := s.subRepo.UpdateTx(ctx, tx, sub); err != nil {
				return err
			}
			return s.stageResultTx(ctx, tx, result)
		})
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return sub, err
		}
		s.logger.Debug("Version conflict applying subscription transition, retrying",
			zap.String("subscription_id", id), zap.Int("attempt", attempt))
	}
	return sub, domain.ErrConcurrencyConflict
}

func (s *subscriptionService) stageResultTx(ctx context.Context, tx *sql.Tx, result *domain.TransitionResult) error {
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

func (s *subscriptionService) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
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

// advancePeriod returns the end of a billing period that starts at from.
func advancePeriod(from time.Time, interval domain.BillingInterval) time.Time {
	if interval == domain.BillingIntervalYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}
