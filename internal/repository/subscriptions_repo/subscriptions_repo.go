package subscriptions_repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"billing/internal/domain"
)

type subscriptionRepository struct{}

func NewSubscriptionRepository() SubscriptionRepository {
	return &subscriptionRepository{}
}

const subscriptionColumns = `id, user_id, plan_id, status, provider, provider_subscription_id, billing_interval,
		amount, currency, current_period_start, current_period_end, trial_start, trial_end,
		cancel_at_period_end, cancel_reason, cancelled_at, ended_at, failed_renewal_count,
		metadata, version, created_at, updated_at`

func (r *subscriptionRepository) CreateTx(ctx context.Context, querier domain.Querier, sub *domain.Subscription) error {
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription metadata: %w", err)
	}
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`
	_, err = querier.ExecContext(ctx, query,
		sub.ID,
		sub.UserID,
		sub.PlanID,
		sub.Status,
		sub.Provider,
		sub.ProviderSubscriptionID,
		sub.BillingInterval,
		sub.Amount.Amount,
		sub.Amount.Currency,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.TrialStart,
		sub.TrialEnd,
		sub.CancelAtPeriodEnd,
		sub.CancelReason,
		sub.CancelledAt,
		sub.EndedAt,
		sub.FailedRenewalCount,
		metadata,
		sub.Version,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription %s: %w", sub.ID, err)
	}
	return nil
}

func (r *subscriptionRepository) GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return r.scanSubscription(querier.QueryRowContext(ctx, query, id))
}

func (r *subscriptionRepository) GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 FOR UPDATE`
	return r.scanSubscription(querier.QueryRowContext(ctx, query, id))
}

func (r *subscriptionRepository) GetByProviderSubscriptionIDTx(ctx context.Context, querier domain.Querier, providerName, providerSubscriptionID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE provider = $1 AND provider_subscription_id = $2 FOR UPDATE`
	return r.scanSubscription(querier.QueryRowContext(ctx, query, providerName, providerSubscriptionID))
}

func (r *subscriptionRepository) UpdateTx(ctx context.Context, querier domain.Querier, sub *domain.Subscription) error {
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription metadata: %w", err)
	}
	query := `
		UPDATE subscriptions
		SET status = $1, provider_subscription_id = NULLIF($2, ''), current_period_start = $3,
			current_period_end = $4, cancel_at_period_end = $5, cancel_reason = $6,
			cancelled_at = $7, ended_at = $8, failed_renewal_count = $9, metadata = $10,
			updated_at = $11, version = version + 1
		WHERE id = $12 AND version = $13
	`
	res, err := querier.ExecContext(ctx, query,
		sub.Status,
		sub.ProviderSubscriptionID,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.CancelReason,
		sub.CancelledAt,
		sub.EndedAt,
		sub.FailedRenewalCount,
		metadata,
		sub.UpdatedAt,
		sub.ID,
		sub.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription %s: %w", sub.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for subscription update: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	sub.Version++
	return nil
}

func (r *subscriptionRepository) ListDueForPeriodEnd(ctx context.Context, querier domain.Querier, limit int) ([]string, error) {
	query := `
		SELECT id FROM subscriptions
		WHERE status = $1 AND cancel_at_period_end = TRUE AND current_period_end <= NOW()
		ORDER BY current_period_end ASC
		LIMIT $2
	`
	rows, err := querier.QueryContext(ctx, query, domain.SubscriptionStatusActive, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions due for period end: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subscription id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions due for period end: %w", err)
	}
	return ids, nil
}

func (r *subscriptionRepository) scanSubscription(row *sql.Row) (*domain.Subscription, error) {
	sub := &domain.Subscription{}
	var (
		providerSubID sql.NullString
		trialStart    sql.NullTime
		trialEnd      sql.NullTime
		cancelledAt   sql.NullTime
		endedAt       sql.NullTime
		metadata      []byte
	)
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanID,
		&sub.Status,
		&sub.Provider,
		&providerSubID,
		&sub.BillingInterval,
		&sub.Amount.Amount,
		&sub.Amount.Currency,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&trialStart,
		&trialEnd,
		&sub.CancelAtPeriodEnd,
		&sub.CancelReason,
		&cancelledAt,
		&endedAt,
		&sub.FailedRenewalCount,
		&metadata,
		&sub.Version,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	if providerSubID.Valid {
		sub.ProviderSubscriptionID = providerSubID.String
	}
	if trialStart.Valid {
		sub.TrialStart = &trialStart.Time
	}
	if trialEnd.Valid {
		sub.TrialEnd = &trialEnd.Time
	}
	if cancelledAt.Valid {
		sub.CancelledAt = &cancelledAt.Time
	}
	if endedAt.Valid {
		sub.EndedAt = &endedAt.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sub.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscription metadata: %w", err)
		}
	}
	return sub, nil
}
