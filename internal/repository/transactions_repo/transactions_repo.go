package transactions_repo

import (
	"context"
	"database/sql"
	"fmt"

	"billing/internal/domain"
)

type transactionRepository struct{}

func NewTransactionRepository() TransactionRepository {
	return &transactionRepository{}
}

const transactionColumns = `id, payment_id, subscription_id, type, amount, currency, provider, provider_ref, created_at`

func (r *transactionRepository) CreateTx(ctx context.Context, querier domain.Querier, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
	`
	_, err := querier.ExecContext(ctx, query,
		tx.ID,
		tx.PaymentID,
		tx.SubscriptionID,
		tx.Type,
		tx.Amount.Amount,
		tx.Amount.Currency,
		tx.Provider,
		tx.ProviderRef,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (r *transactionRepository) ListByPaymentID(ctx context.Context, querier domain.Querier, paymentID string) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE payment_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, querier, query, paymentID)
}

func (r *transactionRepository) ListBySubscriptionID(ctx context.Context, querier domain.Querier, subscriptionID string) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE subscription_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, querier, query, subscriptionID)
}

func (r *transactionRepository) list(ctx context.Context, querier domain.Querier, query, arg string) ([]domain.Transaction, error) {
	rows, err := querier.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var (
			tx             domain.Transaction
			paymentID      sql.NullString
			subscriptionID sql.NullString
		)
		err := rows.Scan(
			&tx.ID,
			&paymentID,
			&subscriptionID,
			&tx.Type,
			&tx.Amount.Amount,
			&tx.Amount.Currency,
			&tx.Provider,
			&tx.ProviderRef,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.PaymentID = paymentID.String
		tx.SubscriptionID = subscriptionID.String
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}
