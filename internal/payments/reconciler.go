package payments

import (
	"context"
	"time"

	"github.com/ridepulse/ridepulse/pkg/config"
	"github.com/ridepulse/ridepulse/pkg/logger"
	"go.uber.org/zap"
)

const reconcileBatchSize = 100

// Charger is the slice of the orchestrator the reconciler needs.
type Charger interface {
	Charge(ctx context.Context, p *Payment) error
}

// Reconciler re-drives payments that got stuck: FAILED payments still under
// the retry ceiling, and PENDING payments whose charge never concluded.
// Re-charges go through the real provider path, breaker included, so an
// unhealthy provider keeps the sweeps cheap.
type Reconciler struct {
	store   PaymentStore
	charger Charger
	cfg     config.PaymentConfig
}

// NewReconciler creates a payment reconciler.
func NewReconciler(store PaymentStore, charger Charger, cfg config.PaymentConfig) *Reconciler {
	return &Reconciler{store: store, charger: charger, cfg: cfg}
}

// Run loops both sweeps until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	failedTicker := time.NewTicker(r.cfg.FailedSweepInterval)
	staleTicker := time.NewTicker(r.cfg.StaleSweepInterval)
	defer failedTicker.Stop()
	defer staleTicker.Stop()

	logger.Info("payment reconciler started",
		zap.Duration("failed_interval", r.cfg.FailedSweepInterval),
		zap.Duration("stale_interval", r.cfg.StaleSweepInterval),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("payment reconciler stopped")
			return
		case <-failedTicker.C:
			r.SweepFailed(ctx)
		case <-staleTicker.C:
			r.SweepStale(ctx)
		}
	}
}

// SweepFailed retries FAILED payments that have attempts left.
func (r *Reconciler) SweepFailed(ctx context.Context) {
	reconcileSweepsTotal.WithLabelValues("failed").Inc()

	payments, err := r.store.FailedPayments(ctx, r.cfg.MaxReconcileRetries, reconcileBatchSize)
	if err != nil {
		logger.ErrorContext(ctx, "failed payment sweep query failed", zap.Error(err))
		return
	}
	r.recharge(ctx, payments, "failed")
}

// SweepStale retries PENDING payments whose charge never concluded, typically
// after a crash between the insert and the provider call.
func (r *Reconciler) SweepStale(ctx context.Context) {
	reconcileSweepsTotal.WithLabelValues("stale").Inc()

	payments, err := r.store.StalePending(ctx, r.cfg.StalePendingThreshold, reconcileBatchSize)
	if err != nil {
		logger.ErrorContext(ctx, "stale payment sweep query failed", zap.Error(err))
		return
	}
	r.recharge(ctx, payments, "stale")
}

func (r *Reconciler) recharge(ctx context.Context, payments []Payment, kind string) {
	for i := range payments {
		p := payments[i]
		logger.InfoContext(ctx, "reconciling payment",
			zap.String("payment_id", p.ID.String()),
			zap.String("kind", kind),
			zap.Int("retry_count", p.RetryCount),
		)
		if err := r.charger.Charge(ctx, &p); err != nil {
			logger.ErrorContext(ctx, "payment reconcile failed",
				zap.String("payment_id", p.ID.String()),
				zap.Error(err),
			)
		}
	}
}
