package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/ridepulse/ridepulse/pkg/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker refuses a request because it is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Operation represents a call wrapped by the circuit breaker.
type Operation func(ctx context.Context) (interface{}, error)

// Settings defines runtime options for the circuit breaker.
type Settings struct {
	Name string
	// Window is how long counts accumulate before they reset while closed.
	Window time.Duration
	// OpenDuration is how long the breaker stays open before probing.
	OpenDuration time.Duration
	// MinRequests is the minimum number of calls in a window before the
	// failure rate is evaluated.
	MinRequests uint32
	// FailureRate in [0,1] that trips the breaker once MinRequests is met.
	FailureRate float64
	// HalfOpenProbes is how many trial calls are admitted while half-open.
	HalfOpenProbes uint32
}

// PSPSettings returns the breaker configuration for payment provider calls:
// evaluate over 10 calls, trip at 50% failures, stay open 10s, then admit
// 3 probes.
func PSPSettings(name string) Settings {
	return Settings{
		Name:           name,
		Window:         30 * time.Second,
		OpenDuration:   10 * time.Second,
		MinRequests:    10,
		FailureRate:    0.5,
		HalfOpenProbes: 3,
	}
}

// CircuitBreaker wraps gobreaker with defaults suitable for our services.
type CircuitBreaker struct {
	breaker  *gobreaker.CircuitBreaker
	fallback FallbackFunc
}

// NewCircuitBreaker constructs a breaker with logging, metrics and optional
// fallback behaviour.
func NewCircuitBreaker(settings Settings, fallback FallbackFunc) *CircuitBreaker {
	name := nextBreakerName(settings.Name)

	minRequests := settings.MinRequests
	if minRequests == 0 {
		minRequests = 10
	}
	failureRate := settings.FailureRate
	if failureRate <= 0 || failureRate > 1 {
		failureRate = 0.5
	}

	readyToTrip := func(counts gobreaker.Counts) bool {
		if counts.Requests < minRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= failureRate
	}

	breakerSettings := gobreaker.Settings{
		Name:        name,
		Timeout:     settings.OpenDuration,
		Interval:    settings.Window,
		MaxRequests: settings.HalfOpenProbes,
		ReadyToTrip: readyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Get().Info("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			recordBreakerStateChange(name, from, to)
		},
	}

	cb := &CircuitBreaker{
		breaker:  gobreaker.NewCircuitBreaker(breakerSettings),
		fallback: fallback,
	}
	recordBreakerState(name, cb.breaker.State())
	return cb
}

// Execute runs the supplied operation through the breaker.
func (c *CircuitBreaker) Execute(ctx context.Context, operation Operation) (interface{}, error) {
	if operation == nil {
		return nil, errors.New("operation cannot be nil")
	}

	if c == nil || c.breaker == nil {
		return operation(ctx)
	}

	recordBreakerRequest(c.breaker.Name())

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return operation(ctx)
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		recordBreakerFallback(c.breaker.Name())
		if c.fallback != nil {
			return c.fallback(ctx, err)
		}
		return nil, ErrCircuitOpen
	}

	recordBreakerFailure(c.breaker.Name())
	return nil, err
}

// Allow reports whether the breaker would allow a request without executing it.
func (c *CircuitBreaker) Allow() bool {
	if c == nil || c.breaker == nil {
		return true
	}
	return c.breaker.State() != gobreaker.StateOpen
}

// State returns the current breaker state.
func (c *CircuitBreaker) State() gobreaker.State {
	return c.breaker.State()
}
