package transactions_repo

import (
	"context"

	"billing/internal/domain"
)

type TransactionRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, tx *domain.Transaction) error
	ListByPaymentID(ctx context.Context, querier domain.Querier, paymentID string) ([]domain.Transaction, error)
	ListBySubscriptionID(ctx context.Context, querier domain.Querier, subscriptionID string) ([]domain.Transaction, error)
}
