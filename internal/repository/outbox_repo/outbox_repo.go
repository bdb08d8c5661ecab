package outbox_repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"billing/internal/domain"
)

type outboxRepository struct{}

func NewOutboxRepository() OutboxRepository {
	return &outboxRepository{}
}

func (r *outboxRepository) CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (id, event_id, event_type, aggregate_id, aggregate_type, topic, key_value, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := querier.ExecContext(ctx, query,
		msg.ID,
		msg.EventID,
		msg.EventType,
		msg.AggregateID,
		msg.AggregateType,
		msg.Topic,
		msg.Key,
		msg.Payload,
		msg.Status,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}
	return nil
}

func (r *outboxRepository) ClaimPendingTx(ctx context.Context, tx *sql.Tx, limit int) ([]domain.OutboxMessage, error) {
	query := `
		SELECT id, event_id, event_type, aggregate_id, aggregate_type, topic, key_value, payload, status, created_at, sent_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, query, domain.OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.OutboxMessage
	for rows.Next() {
		var (
			msg    domain.OutboxMessage
			sentAt sql.NullTime
		)
		err := rows.Scan(
			&msg.ID,
			&msg.EventID,
			&msg.EventType,
			&msg.AggregateID,
			&msg.AggregateType,
			&msg.Topic,
			&msg.Key,
			&msg.Payload,
			&msg.Status,
			&msg.CreatedAt,
			&sentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		if sentAt.Valid {
			msg.SentAt = &sentAt.Time
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}
	return messages, nil
}

func (r *outboxRepository) MarkSentTx(ctx context.Context, tx *sql.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE outbox_messages
		SET status = $1, sent_at = $2
		WHERE id = ANY($3)
	`
	res, err := tx.ExecContext(ctx, query, domain.OutboxStatusSent, time.Now(), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark outbox messages as sent: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for outbox sent: %w", err)
	}
	if rowsAffected != int64(len(ids)) {
		return fmt.Errorf("not all outbox messages were marked as sent; expected %d, got %d", len(ids), rowsAffected)
	}
	return nil
}
