package dispatch

import (
	"context"
	"time"

	"github.com/ridepulse/ridepulse/pkg/logger"
	"go.uber.org/zap"
)

// TimeoutScheduler sweeps open offers whose TTL elapsed, closes them as
// TIMEOUT and re-dispatches the ride with the timed-out driver excluded.
// Multiple instances coordinate through the per-ride dispatch lock.
type TimeoutScheduler struct {
	service  *Service
	store    RideStore
	interval time.Duration
}

// NewTimeoutScheduler creates the offer-timeout sweeper.
func NewTimeoutScheduler(service *Service, store RideStore, interval time.Duration) *TimeoutScheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &TimeoutScheduler{service: service, store: store, interval: interval}
}

// Run loops until the context is cancelled.
func (t *TimeoutScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	logger.Info("offer timeout scheduler started", zap.Duration("interval", t.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("offer timeout scheduler stopped")
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

func (t *TimeoutScheduler) sweep(ctx context.Context) {
	expired, err := t.store.ExpiredOpenOffers(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "expired offer scan failed", zap.Error(err))
		return
	}

	for _, e := range expired {
		closed, err := t.store.TimeoutOffer(ctx, e.OfferID)
		if err != nil {
			logger.ErrorContext(ctx, "offer timeout failed",
				zap.String("offer_id", e.OfferID.String()),
				zap.Error(err),
			)
			continue
		}
		if !closed {
			// The driver responded between the scan and the close.
			continue
		}
		offersClosedTotal.WithLabelValues(string(OfferTimeout)).Inc()

		logger.InfoContext(ctx, "offer timed out",
			zap.String("ride_id", e.RideID.String()),
			zap.String("driver_id", e.DriverID),
		)

		tried := t.service.triedSet(ctx, e.RideID)
		tried[e.DriverID] = struct{}{}
		t.service.Dispatch(ctx, e.RideID, tried)
	}
}
