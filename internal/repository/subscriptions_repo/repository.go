package subscriptions_repo

import (
	"context"

	"billing/internal/domain"
)

type SubscriptionRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, sub *domain.Subscription) error
	GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Subscription, error)
	GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Subscription, error)
	GetByProviderSubscriptionIDTx(ctx context.Context, querier domain.Querier, providerName, providerSubscriptionID string) (*domain.Subscription, error)
	// UpdateTx persists with an optimistic version check; see
	// payments_repo.PaymentRepository.UpdateTx.
	UpdateTx(ctx context.Context, querier domain.Querier, sub *domain.Subscription) error
	// ListDueForPeriodEnd returns subscriptions flagged cancel-at-period-end
	// whose current period has elapsed.
	ListDueForPeriodEnd(ctx context.Context, querier domain.Querier, limit int) ([]string, error)
}
