package payments

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the payment lifecycle state
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentCaptured PaymentStatus = "CAPTURED"
	PaymentFailed   PaymentStatus = "FAILED"
)

// OutboxStatus is the outbox entry lifecycle state
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// Payment represents a charge for a completed trip. At most one payment
// exists per trip, enforced by a unique index on trip_id.
type Payment struct {
	ID            uuid.UUID     `json:"id"`
	TripID        uuid.UUID     `json:"trip_id"`
	RiderID       string        `json:"rider_id"`
	TenantID      string        `json:"tenant_id"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	Status        PaymentStatus `json:"status"`
	PSPReference  *string       `json:"psp_reference,omitempty"`
	FailureReason *string       `json:"failure_reason,omitempty"`
	RetryCount    int           `json:"retry_count"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// OutboxEntry is a domain event persisted in the same transaction as the
// payment state change it describes. The relay publishes entries in FIFO
// order and marks them PUBLISHED.
type OutboxEntry struct {
	ID          uuid.UUID       `json:"id"`
	PaymentID   uuid.UUID       `json:"payment_id"`
	TenantID    string          `json:"tenant_id"`
	Subject     string          `json:"subject"`
	Payload     json.RawMessage `json:"payload"`
	Status      OutboxStatus    `json:"status"`
	RetryCount  int             `json:"retry_count"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}
