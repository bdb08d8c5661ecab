package outbox_repo

import (
	"context"
	"database/sql"

	"billing/internal/domain"
)

type OutboxRepository interface {
	CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error
	// ClaimPendingTx locks a batch of pending messages inside the given
	// transaction (FOR UPDATE SKIP LOCKED) so concurrent drain workers never
	// claim the same rows. Creation order is preserved.
	ClaimPendingTx(ctx context.Context, tx *sql.Tx, limit int) ([]domain.OutboxMessage, error)
	MarkSentTx(ctx context.Context, tx *sql.Tx, ids []string) error
}
