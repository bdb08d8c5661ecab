package webhooks_repo

import (
	"context"
	"time"

	"billing/internal/domain"
)

type WebhookRepository interface {
	// InsertTx records a webhook on first sight. Inserting an already-known
	// (provider, provider_event_id) pair returns domain.ErrDuplicateWebhook
	// without touching the existing row; the insert is unique-constraint
	// backed, never a read-then-write race.
	InsertTx(ctx context.Context, querier domain.Querier, event *domain.WebhookEvent) error
	GetByID(ctx context.Context, querier domain.Querier, id string) (*domain.WebhookEvent, error)
	// GetByProviderEventID resolves a re-delivered event to the row recorded
	// on first sight.
	GetByProviderEventID(ctx context.Context, querier domain.Querier, providerName, providerEventID string) (*domain.WebhookEvent, error)
	MarkProcessedTx(ctx context.Context, querier domain.Querier, id string) error
	// RecordFailure increments the retry count and stores the processing
	// error; once the retry budget is exhausted the event is marked FAILED.
	RecordFailure(ctx context.Context, querier domain.Querier, id, processingError string, maxRetries int) error
	// ListUnprocessed returns RECEIVED events still within the retry budget
	// that were received before olderThan, oldest first, for the background
	// reprocessor. The cutoff keeps the reprocessor off events whose first
	// synchronous attempt may still be running, while still picking up events
	// stranded before any attempt could record a failure.
	ListUnprocessed(ctx context.Context, querier domain.Querier, maxRetries int, olderThan time.Time, limit int) ([]domain.WebhookEvent, error)
}
