package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/ridepulse/ridepulse/pkg/logger"
	"go.uber.org/zap"
)

// OutboxRelay drains the payment outbox to the event bus. Entries go out in
// insertion order; a publish failure bumps the retry counter and leaves the
// entry for the next cycle.
type OutboxRelay struct {
	store      OutboxStore
	bus        eventbus.Publisher
	interval   time.Duration
	batchSize  int
	maxRetries int
}

// NewOutboxRelay creates the outbox poller.
func NewOutboxRelay(store OutboxStore, bus eventbus.Publisher, interval time.Duration, batchSize, maxRetries int) *OutboxRelay {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &OutboxRelay{
		store:      store,
		bus:        bus,
		interval:   interval,
		batchSize:  batchSize,
		maxRetries: maxRetries,
	}
}

// Run loops until the context is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Info("outbox relay started",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

func (r *OutboxRelay) drain(ctx context.Context) {
	entries, err := r.store.PendingOutbox(ctx, r.batchSize)
	if err != nil {
		logger.ErrorContext(ctx, "outbox scan failed", zap.Error(err))
		return
	}

	for _, entry := range entries {
		var event eventbus.Event
		if err := json.Unmarshal(entry.Payload, &event); err != nil {
			// Unparseable payloads can never publish; park the entry.
			logger.ErrorContext(ctx, "outbox payload corrupt",
				zap.String("outbox_id", entry.ID.String()),
				zap.Error(err),
			)
			if err := r.store.BumpOutboxRetry(ctx, entry.ID, 1); err != nil {
				logger.ErrorContext(ctx, "outbox bump failed", zap.Error(err))
			}
			continue
		}

		if err := r.bus.Publish(ctx, entry.Subject, &event); err != nil {
			outboxRetriesTotal.Inc()
			logger.WarnContext(ctx, "outbox publish failed",
				zap.String("outbox_id", entry.ID.String()),
				zap.String("subject", entry.Subject),
				zap.Int("retry_count", entry.RetryCount),
				zap.Error(err),
			)
			if err := r.store.BumpOutboxRetry(ctx, entry.ID, r.maxRetries); err != nil {
				logger.ErrorContext(ctx, "outbox bump failed", zap.Error(err))
			}
			// Preserve ordering: stop the batch on the first failure.
			return
		}

		if err := r.store.MarkOutboxPublished(ctx, entry.ID); err != nil {
			// The broker dedupes on event id, so a re-publish next
			// cycle is harmless.
			logger.ErrorContext(ctx, "outbox mark published failed",
				zap.String("outbox_id", entry.ID.String()),
				zap.Error(err),
			)
			return
		}
		outboxPublishedTotal.Inc()
	}
}
