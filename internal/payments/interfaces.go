package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PaymentStore is the persistence surface the orchestrator depends on.
type PaymentStore interface {
	CreatePaymentWithOutbox(ctx context.Context, p *Payment, subject string, payload []byte) error
	MarkCaptured(ctx context.Context, paymentID uuid.UUID, pspReference, subject string, payload []byte) error
	MarkFailed(ctx context.Context, paymentID uuid.UUID, reason, subject string, payload []byte) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByTripID(ctx context.Context, tripID uuid.UUID) (*Payment, error)
	FailedPayments(ctx context.Context, maxRetries, limit int) ([]Payment, error)
	StalePending(ctx context.Context, threshold time.Duration, limit int) ([]Payment, error)
}

// OutboxStore is the persistence surface the relay depends on.
type OutboxStore interface {
	PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkOutboxPublished(ctx context.Context, id uuid.UUID) error
	BumpOutboxRetry(ctx context.Context, id uuid.UUID, maxRetries int) error
}

// FlagStore resolves per-tenant feature flags.
type FlagStore interface {
	Enabled(ctx context.Context, tenant, flag string, fallback bool) bool
}
