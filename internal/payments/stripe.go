package payments

import (
	"context"
	"fmt"
	"math"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
)

// StripeGateway charges riders through Stripe PaymentIntents.
type StripeGateway struct {
	apiKey string
}

// NewStripeGateway creates a Stripe-backed gateway.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{apiKey: apiKey}
}

// Charge creates and confirms a PaymentIntent for the trip fare. Transient
// Stripe failures come back wrapped as ProviderError so the retry policy can
// tell them apart from card declines.
func (s *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(toMinorUnits(req.Amount)),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String("trip fare"),
		Confirm:     stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.AddMetadata("payment_id", req.PaymentID.String())
	params.AddMetadata("trip_id", req.TripID.String())
	params.AddMetadata("rider_id", req.RiderID)
	params.AddMetadata("tenant_id", req.TenantID)
	params.SetIdempotencyKey(req.PaymentID.String())

	pi, err := paymentintent.New(params)
	if err != nil {
		if isStripeTransient(err) {
			return ChargeResult{}, &ProviderError{Err: err}
		}
		return ChargeResult{}, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return ChargeResult{Reference: pi.ID}, nil
}

// toMinorUnits converts a decimal amount to cents.
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// isStripeTransient reports whether the error is a provider-side condition
// worth retrying. Card errors and invalid requests are final.
func isStripeTransient(err error) bool {
	stripeErr, ok := err.(*stripe.Error)
	if !ok {
		// Network-level failures never reached Stripe.
		return true
	}

	if stripeErr.Type == stripe.ErrorTypeCard || stripeErr.Type == stripe.ErrorTypeInvalidRequest {
		return false
	}
	if stripeErr.Type == stripe.ErrorTypeAPI {
		return true
	}
	if stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode == 408 {
		return true
	}
	return stripeErr.HTTPStatusCode >= 500
}
