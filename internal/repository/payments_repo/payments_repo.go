package payments_repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"billing/internal/domain"
)

type paymentRepository struct{}

func NewPaymentRepository() PaymentRepository {
	return &paymentRepository{}
}

const paymentColumns = `id, user_id, amount, currency, status, provider, provider_payment_id, client_secret,
		metadata, refunded_amount, error_code, error_message, version,
		created_at, updated_at, succeeded_at, failed_at, refunded_at`

func (r *paymentRepository) CreateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	metadata, err := json.Marshal(payment.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal payment metadata: %w", err)
	}
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = querier.ExecContext(ctx, query,
		payment.ID,
		payment.UserID,
		payment.Amount.Amount,
		payment.Amount.Currency,
		payment.Status,
		payment.Provider,
		payment.ProviderPaymentID,
		payment.ClientSecret,
		metadata,
		payment.RefundedAmount,
		payment.ErrorCode,
		payment.ErrorMessage,
		payment.Version,
		payment.CreatedAt,
		payment.UpdatedAt,
		payment.SucceededAt,
		payment.FailedAt,
		payment.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment %s: %w", payment.ID, err)
	}
	return nil
}

func (r *paymentRepository) GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.scanPayment(querier.QueryRowContext(ctx, query, id))
}

func (r *paymentRepository) GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return r.scanPayment(querier.QueryRowContext(ctx, query, id))
}

func (r *paymentRepository) GetByProviderPaymentIDTx(ctx context.Context, querier domain.Querier, providerName, providerPaymentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider = $1 AND provider_payment_id = $2 FOR UPDATE`
	return r.scanPayment(querier.QueryRowContext(ctx, query, providerName, providerPaymentID))
}

func (r *paymentRepository) UpdateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	metadata, err := json.Marshal(payment.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal payment metadata: %w", err)
	}
	query := `
		UPDATE payments
		SET status = $1, provider_payment_id = NULLIF($2, ''), client_secret = $3, metadata = $4,
			refunded_amount = $5, error_code = $6, error_message = $7,
			updated_at = $8, succeeded_at = $9, failed_at = $10, refunded_at = $11,
			version = version + 1
		WHERE id = $12 AND version = $13
	`
	res, err := querier.ExecContext(ctx, query,
		payment.Status,
		payment.ProviderPaymentID,
		payment.ClientSecret,
		metadata,
		payment.RefundedAmount,
		payment.ErrorCode,
		payment.ErrorMessage,
		payment.UpdatedAt,
		payment.SucceededAt,
		payment.FailedAt,
		payment.RefundedAt,
		payment.ID,
		payment.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", payment.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for payment update: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	payment.Version++
	return nil
}

func (r *paymentRepository) scanPayment(row *sql.Row) (*domain.Payment, error) {
	payment := &domain.Payment{}
	var (
		providerPaymentID sql.NullString
		metadata          []byte
		succeededAt       sql.NullTime
		failedAt          sql.NullTime
		refundedAt        sql.NullTime
	)
	err := row.Scan(
		&payment.ID,
		&payment.UserID,
		&payment.Amount.Amount,
		&payment.Amount.Currency,
		&payment.Status,
		&payment.Provider,
		&providerPaymentID,
		&payment.ClientSecret,
		&metadata,
		&payment.RefundedAmount,
		&payment.ErrorCode,
		&payment.ErrorMessage,
		&payment.Version,
		&payment.CreatedAt,
		&payment.UpdatedAt,
		&succeededAt,
		&failedAt,
		&refundedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	if providerPaymentID.Valid {
		payment.ProviderPaymentID = providerPaymentID.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &payment.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment metadata: %w", err)
		}
	}
	if succeededAt.Valid {
		payment.SucceededAt = &succeededAt.Time
	}
	if failedAt.Valid {
		payment.FailedAt = &failedAt.Time
	}
	if refundedAt.Valid {
		payment.RefundedAt = &refundedAt.Time
	}
	return payment, nil
}
