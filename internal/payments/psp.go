package payments

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// ChargeRequest is the provider-agnostic charge instruction.
type ChargeRequest struct {
	PaymentID uuid.UUID
	TripID    uuid.UUID
	RiderID   string
	TenantID  string
	Amount    float64
	Currency  string
}

// ChargeResult carries the provider's reference for a captured charge.
type ChargeResult struct {
	Reference string
}

// ProviderError marks a transient provider-side failure. Only these are
// worth retrying; card declines and validation errors are final.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("psp provider error: %v", e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether the charge failed on the provider side.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// Gateway is the payment service provider surface.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// StubGateway simulates a provider for local development and tests. A
// configurable fraction of charges fails with a transient provider error.
type StubGateway struct {
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewStubGateway creates a stub provider with the given failure rate in [0,1].
func NewStubGateway(failureRate float64, seed int64) *StubGateway {
	if failureRate < 0 {
		failureRate = 0
	}
	if failureRate > 1 {
		failureRate = 1
	}
	return &StubGateway{
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Charge succeeds with probability 1-failureRate.
func (s *StubGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return ChargeResult{}, err
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	if roll < s.failureRate {
		return ChargeResult{}, &ProviderError{Err: errors.New("simulated provider outage")}
	}
	return ChargeResult{Reference: "stub_" + uuid.New().String()}, nil
}
