package webhooks_repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"billing/internal/domain"
)

type webhookRepository struct{}

func NewWebhookRepository() WebhookRepository {
	return &webhookRepository{}
}

const webhookColumns = `id, provider, provider_event_id, event_type, payload, signature, status,
		processing_error, retry_count, received_at, processed_at`

func (r *webhookRepository) InsertTx(ctx context.Context, querier domain.Querier, event *domain.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (` + webhookColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`
	res, err := querier.ExecContext(ctx, query,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.Signature,
		event.Status,
		event.ProcessingError,
		event.RetryCount,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook event: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for webhook insert: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrDuplicateWebhook
	}
	return nil
}

func (r *webhookRepository) GetByID(ctx context.Context, querier domain.Querier, id string) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_events WHERE id = $1`
	event := &domain.WebhookEvent{}
	var processedAt sql.NullTime
	err := querier.QueryRowContext(ctx, query, id).Scan(
		&event.ID,
		&event.Provider,
		&event.ProviderEventID,
		&event.EventType,
		&event.Payload,
		&event.Signature,
		&event.Status,
		&event.ProcessingError,
		&event.RetryCount,
		&event.ReceivedAt,
		&processedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("failed to get webhook event %s: %w", id, err)
	}
	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}
	return event, nil
}

func (r *webhookRepository) GetByProviderEventID(ctx context.Context, querier domain.Querier, providerName, providerEventID string) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_events WHERE provider = $1 AND provider_event_id = $2`
	event := &domain.WebhookEvent{}
	var processedAt sql.NullTime
	err := querier.QueryRowContext(ctx, query, providerName, providerEventID).Scan(
		&event.ID,
		&event.Provider,
		&event.ProviderEventID,
		&event.EventType,
		&event.Payload,
		&event.Signature,
		&event.Status,
		&event.ProcessingError,
		&event.RetryCount,
		&event.ReceivedAt,
		&processedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("failed to get webhook event %s/%s: %w", providerName, providerEventID, err)
	}
	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}
	return event, nil
}

func (r *webhookRepository) MarkProcessedTx(ctx context.Context, querier domain.Querier, id string) error {
	query := `
		UPDATE webhook_events
		SET status = $1, processing_error = '', processed_at = NOW()
		WHERE id = $2
	`
	res, err := querier.ExecContext(ctx, query, domain.WebhookStatusProcessed, id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event %s processed: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for webhook update: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

func (r *webhookRepository) RecordFailure(ctx context.Context, querier domain.Querier, id, processingError string, maxRetries int) error {
	query := `
		UPDATE webhook_events
		SET retry_count = retry_count + 1,
			processing_error = $1,
			status = CASE WHEN retry_count + 1 >= $2 THEN $3 ELSE status END
		WHERE id = $4
	`
	res, err := querier.ExecContext(ctx, query, processingError, maxRetries, domain.WebhookStatusFailed, id)
	if err != nil {
		return fmt.Errorf("failed to record webhook failure for %s: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for webhook failure: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

func (r *webhookRepository) ListUnprocessed(ctx context.Context, querier domain.Querier, maxRetries int, olderThan time.Time, limit int) ([]domain.WebhookEvent, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhook_events
		WHERE status = $1 AND retry_count < $2 AND received_at < $3
		ORDER BY received_at ASC
		LIMIT $4
	`
	rows, err := querier.QueryContext(ctx, query, domain.WebhookStatusReceived, maxRetries, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed webhook events: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		var (
			event       domain.WebhookEvent
			processedAt sql.NullTime
		)
		err := rows.Scan(
			&event.ID,
			&event.Provider,
			&event.ProviderEventID,
			&event.EventType,
			&event.Payload,
			&event.Signature,
			&event.Status,
			&event.ProcessingError,
			&event.RetryCount,
			&event.ReceivedAt,
			&processedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		if processedAt.Valid {
			event.ProcessedAt = &processedAt.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}
	return events, nil
}
