package payments_repo

import (
	"context"

	"billing/internal/domain"
)

type PaymentRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error
	GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error)
	// GetByIDForUpdateTx loads the payment with a row lock, serializing
	// webhook processing against the aggregate.
	GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error)
	GetByProviderPaymentIDTx(ctx context.Context, querier domain.Querier, providerName, providerPaymentID string) (*domain.Payment, error)
	// UpdateTx persists the aggregate with an optimistic version check. On
	// success the in-memory Version is incremented; if another writer got
	// there first it returns domain.ErrVersionConflict.
	UpdateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error
}
