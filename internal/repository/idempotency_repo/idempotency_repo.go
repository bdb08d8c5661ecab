package idempotency_repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"billing/internal/domain"
)

type idempotencyRepository struct{}

func NewIdempotencyRepository() IdempotencyRepository {
	return &idempotencyRepository{}
}

func (r *idempotencyRepository) Reserve(ctx context.Context, querier domain.Querier, record *domain.IdempotencyRecord) (*domain.IdempotencyRecord, error) {
	// Expired reservations are dead weight; clearing the key first lets the
	// insert below treat it as fresh.
	if _, err := querier.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE key = $1 AND expires_at <= NOW()`, record.Key); err != nil {
		return nil, fmt.Errorf("failed to clear expired idempotency record: %w", err)
	}

	res, err := querier.ExecContext(ctx, `
		INSERT INTO idempotency_records (key, user_id, method, path, fingerprint, response_status, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, 0, NULL, $6, $7)
		ON CONFLICT (key) DO NOTHING
	`,
		record.Key,
		record.UserID,
		record.Method,
		record.Path,
		record.Fingerprint,
		record.CreatedAt,
		record.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected for idempotency reserve: %w", err)
	}
	if rowsAffected == 1 {
		return nil, nil
	}

	existing, err := r.getByKey(ctx, querier, record.Key)
	if err != nil {
		if err == sql.ErrNoRows {
			// The competing record expired between insert and read; let the
			// caller retry the reservation.
			return nil, domain.ErrIdempotencyInFlight
		}
		return nil, err
	}
	return existing, nil
}

func (r *idempotencyRepository) Commit(ctx context.Context, querier domain.Querier, key string, responseStatus int, responseBody []byte) error {
	res, err := querier.ExecContext(ctx, `
		UPDATE idempotency_records
		SET response_status = $1, response_body = $2
		WHERE key = $3
	`, responseStatus, responseBody, key)
	if err != nil {
		return fmt.Errorf("failed to commit idempotency record %s: %w", key, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for idempotency commit: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("idempotency record %s not found for commit", key)
	}
	return nil
}

func (r *idempotencyRepository) Release(ctx context.Context, querier domain.Querier, key string) error {
	if _, err := querier.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE key = $1 AND response_status = 0`, key); err != nil {
		return fmt.Errorf("failed to release idempotency record %s: %w", key, err)
	}
	return nil
}

func (r *idempotencyRepository) getByKey(ctx context.Context, querier domain.Querier, key string) (*domain.IdempotencyRecord, error) {
	record := &domain.IdempotencyRecord{}
	var (
		responseBody []byte
		createdAt    time.Time
	)
	err := querier.QueryRowContext(ctx, `
		SELECT key, user_id, method, path, fingerprint, response_status, response_body, created_at, expires_at
		FROM idempotency_records
		WHERE key = $1 AND expires_at > NOW()
	`, key).Scan(
		&record.Key,
		&record.UserID,
		&record.Method,
		&record.Path,
		&record.Fingerprint,
		&record.ResponseStatus,
		&responseBody,
		&createdAt,
		&record.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	record.ResponseBody = responseBody
	record.CreatedAt = createdAt
	return record, nil
}
