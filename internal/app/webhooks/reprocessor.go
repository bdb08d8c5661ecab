package webhooks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reprocessor periodically retries webhooks whose processing failed, until
// each either succeeds or exhausts its retry budget.
type Reprocessor struct {
	service  WebhookService
	interval time.Duration
	logger   *zap.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewReprocessor(service WebhookService, interval time.Duration, logger *zap.Logger) *Reprocessor {
	return &Reprocessor{
		service:  service,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *Reprocessor) Start(ctx context.Context) {
	r.logger.Info("Webhook reprocessor started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.doneCh)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Webhook reprocessor stopping: context cancelled")
			return
		case <-r.stopCh:
			r.logger.Info("Webhook reprocessor stopping")
			return
		case <-ticker.C:
			if err := r.service.ProcessPending(ctx); err != nil {
				r.logger.Error("Webhook retry pass failed", zap.Error(err))
			}
		}
	}
}

func (r *Reprocessor) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}
