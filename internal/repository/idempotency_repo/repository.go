package idempotency_repo

import (
	"context"

	"billing/internal/domain"
)

type IdempotencyRepository interface {
	// Reserve atomically claims the key for the given record. It returns
	// (nil, nil) when the key was fresh and is now reserved, or the existing
	// record when the key was already taken. Expired records are removed and
	// the key is treated as fresh. First writer wins; the insert is backed by
	// the primary-key constraint.
	Reserve(ctx context.Context, querier domain.Querier, record *domain.IdempotencyRecord) (*domain.IdempotencyRecord, error)
	// Commit stores the response for a reserved key.
	Commit(ctx context.Context, querier domain.Querier, key string, responseStatus int, responseBody []byte) error
	// Release drops a reservation whose request failed before producing a
	// storable response, so a retry is not stuck behind an in-flight marker.
	Release(ctx context.Context, querier domain.Querier, key string) error
}
