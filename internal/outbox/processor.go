// Package outbox drains staged domain events to Kafka. Events are claimed
// under a row lock, published synchronously and only then marked sent, so a
// broker outage leaves them pending for the next pass instead of losing them.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	kafka_infra "billing/internal/infrastructure/kafka"
	"billing/internal/repository/outbox_repo"
)

type Processor struct {
	db           *sql.DB
	outboxRepo   outbox_repo.OutboxRepository
	producer     kafka_infra.Producer
	pollInterval time.Duration
	pollTimeout  time.Duration
	batchSize    int
	logger       *zap.Logger
	stopOnce     sync.Once
	stopCh       chan struct{}
	doneCh       chan struct{}
}

func NewProcessor(
	db *sql.DB,
	outboxRepo outbox_repo.OutboxRepository,
	producer kafka_infra.Producer,
	pollInterval, pollTimeout time.Duration,
	batchSize int,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		db:           db,
		outboxRepo:   outboxRepo,
		producer:     producer,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		batchSize:    batchSize,
		logger:       logger,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Outbox processor started",
		zap.Duration("poll_interval", p.pollInterval),
		zap.Int("batch_size", p.batchSize))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	defer close(p.doneCh)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox processor stopping: context cancelled")
			return
		case <-p.stopCh:
			p.logger.Info("Outbox processor stopping")
			return
		case <-ticker.C:
			if err := p.drainOnce(ctx); err != nil {
				p.logger.Error("Outbox drain pass failed", zap.Error(err))
			}
		}
	}
}

func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

// drainOnce claims one batch and publishes it. The claim transaction commits
// only after every message in the batch is acknowledged by the broker; on any
// publish failure the transaction rolls back and the whole batch stays
// pending. Duplicate publication after a crash between ack and commit is
// possible; consumers deduplicate on event id.
func (p *Processor) drainOnce(ctx context.Context) error {
	claimCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()

	tx, err := p.db.BeginTx(claimCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin outbox transaction: %w", err)
	}
	defer tx.Rollback()

	messages, err := p.outboxRepo.ClaimPendingTx(claimCtx, tx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending outbox messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	ids := make([]string, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		if err := p.producer.Produce(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			return fmt.Errorf("failed to publish outbox message %s: %w", msg.ID, err)
		}
		ids = append(ids, msg.ID)
	}

	if err := p.outboxRepo.MarkSentTx(claimCtx, tx, ids); err != nil {
		return fmt.Errorf("failed to mark outbox messages sent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outbox transaction: %w", err)
	}

	p.logger.Debug("Outbox batch published", zap.Int("count", len(ids)))
	return nil
}
