package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ridepulse/ridepulse/internal/flags"
	"github.com/ridepulse/ridepulse/pkg/config"
	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/ridepulse/ridepulse/pkg/logger"
	"github.com/ridepulse/ridepulse/pkg/resilience"
	"go.uber.org/zap"
)

// Orchestrator drives the payment lifecycle: it creates a payment when a trip
// ends and pushes it through the provider behind a circuit breaker. All state
// changes land together with their domain event via the transactional outbox.
type Orchestrator struct {
	store   PaymentStore
	gateway Gateway
	flags   FlagStore
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	cfg     config.PaymentConfig
}

// NewOrchestrator creates a payment orchestrator with the PSP retry and
// breaker policy.
func NewOrchestrator(store PaymentStore, gateway Gateway, flagStore FlagStore, cfg config.PaymentConfig) *Orchestrator {
	breaker := resilience.NewCircuitBreaker(resilience.PSPSettings("psp-charge"), resilience.NoopFallback)
	return &Orchestrator{
		store:   store,
		gateway: gateway,
		flags:   flagStore,
		breaker: breaker,
		retry:   resilience.PSPRetryConfig(IsProviderError),
		cfg:     cfg,
	}
}

// HandleTripEnded creates the PENDING payment for a finished trip and, when
// auto-charge is enabled for the tenant, charges it immediately. Replays of
// the same trip are no-ops.
func (o *Orchestrator) HandleTripEnded(ctx context.Context, tenantID string, data *eventbus.TripEventData) error {
	tripID, err := uuid.Parse(data.TripID)
	if err != nil {
		return fmt.Errorf("invalid trip id %q: %w", data.TripID, err)
	}

	existing, err := o.store.GetByTripID(ctx, tripID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	payment := &Payment{
		ID:       uuid.New(),
		TripID:   tripID,
		RiderID:  data.RiderID,
		TenantID: tenantID,
		Amount:   data.FareAmount,
		Currency: data.Currency,
		Status:   PaymentPending,
	}

	payload, err := o.eventPayload(eventbus.SubjectPaymentInitiated, payment, "")
	if err != nil {
		return err
	}

	if err := o.store.CreatePaymentWithOutbox(ctx, payment, eventbus.SubjectPaymentInitiated, payload); err != nil {
		if errors.Is(err, ErrDuplicateTrip) {
			// Lost the race to a concurrent delivery of the same event.
			return nil
		}
		return err
	}
	paymentsInitiatedTotal.WithLabelValues(tenantID).Inc()

	logger.InfoContext(ctx, "payment initiated",
		zap.String("payment_id", payment.ID.String()),
		zap.String("trip_id", tripID.String()),
		zap.Float64("amount", payment.Amount),
	)

	if !o.flags.Enabled(ctx, tenantID, flags.AutoPaymentCharge, true) {
		return nil
	}
	return o.Charge(ctx, payment)
}

// Charge runs one charge cycle for the payment: retries transient provider
// errors through the circuit breaker, then records the terminal outcome. A
// failed charge is recorded, not returned; the reconciler owns further
// attempts.
func (o *Orchestrator) Charge(ctx context.Context, p *Payment) error {
	start := time.Now()
	defer func() { chargeDuration.Observe(time.Since(start).Seconds()) }()

	result, err := resilience.RetryWithBreaker(ctx, o.retry, o.breaker, func(ctx context.Context) (interface{}, error) {
		return o.gateway.Charge(ctx, ChargeRequest{
			PaymentID: p.ID,
			TripID:    p.TripID,
			RiderID:   p.RiderID,
			TenantID:  p.TenantID,
			Amount:    p.Amount,
			Currency:  p.Currency,
		})
	}, "psp-charge")

	if err != nil {
		return o.recordFailure(ctx, p, err)
	}

	reference := result.(ChargeResult).Reference
	payload, err := o.eventPayload(eventbus.SubjectPaymentCaptured, p, "")
	if err != nil {
		return err
	}
	if err := o.store.MarkCaptured(ctx, p.ID, reference, eventbus.SubjectPaymentCaptured, payload); err != nil {
		return err
	}
	paymentsCapturedTotal.Inc()

	logger.InfoContext(ctx, "payment captured",
		zap.String("payment_id", p.ID.String()),
		zap.String("psp_reference", reference),
	)
	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, p *Payment, chargeErr error) error {
	stage := "provider"
	if errors.Is(chargeErr, resilience.ErrCircuitOpen) {
		stage = "breaker_open"
	} else if !IsProviderError(chargeErr) {
		stage = "declined"
	}
	paymentsFailedTotal.WithLabelValues(stage).Inc()

	payload, err := o.eventPayload(eventbus.SubjectPaymentFailed, p, chargeErr.Error())
	if err != nil {
		return err
	}
	if err := o.store.MarkFailed(ctx, p.ID, chargeErr.Error(), eventbus.SubjectPaymentFailed, payload); err != nil {
		return err
	}

	logger.WarnContext(ctx, "payment charge failed",
		zap.String("payment_id", p.ID.String()),
		zap.String("stage", stage),
		zap.Error(chargeErr),
	)
	return nil
}

// eventPayload serializes the full event envelope so the relay can publish it
// byte for byte, keeping the event id stable for broker-side dedupe.
func (o *Orchestrator) eventPayload(subject string, p *Payment, failureReason string) ([]byte, error) {
	status := p.Status
	switch subject {
	case eventbus.SubjectPaymentCaptured:
		status = PaymentCaptured
	case eventbus.SubjectPaymentFailed:
		status = PaymentFailed
	}

	event, err := eventbus.NewEvent(subject, "payments", p.ID.String(), p.TenantID, eventbus.PaymentEventData{
		PaymentID:     p.ID.String(),
		TripID:        p.TripID.String(),
		RiderID:       p.RiderID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        string(status),
		FailureReason: failureReason,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(event)
}
