package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// RideStatus is the dispatch-side ride state machine.
type RideStatus string

const (
	StatusPending       RideStatus = "PENDING"
	StatusDispatching   RideStatus = "DISPATCHING"
	StatusAccepted      RideStatus = "ACCEPTED"
	StatusDriverArrived RideStatus = "DRIVER_ARRIVED"
	StatusInProgress    RideStatus = "IN_PROGRESS"
	StatusCompleted     RideStatus = "COMPLETED"
	StatusCancelled     RideStatus = "CANCELLED"
	StatusNoDriverFound RideStatus = "NO_DRIVER_FOUND"
)

// Terminal reports whether the status is absorbing.
func (s RideStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoDriverFound:
		return true
	}
	return false
}

// VehicleTier orders vehicle classes; a driver can serve any ride whose
// required tier ranks at or below the driver's own.
type VehicleTier string

const (
	TierEconomy  VehicleTier = "ECONOMY"
	TierStandard VehicleTier = "STANDARD"
	TierPremium  VehicleTier = "PREMIUM"
	TierLuxury   VehicleTier = "LUXURY"
)

var tierRanks = map[VehicleTier]int{
	TierEconomy:  1,
	TierStandard: 2,
	TierPremium:  3,
	TierLuxury:   4,
}

// Rank returns the tier's position in the ordering; unknown tiers rank 0 and
// therefore never satisfy a requirement.
func (t VehicleTier) Rank() int {
	return tierRanks[t]
}

// Serves reports whether a driver of this tier can take a ride requiring the
// given tier.
func (t VehicleTier) Serves(required VehicleTier) bool {
	return t.Rank() >= required.Rank()
}

// Ride is one dispatch request.
type Ride struct {
	ID               uuid.UUID   `json:"id"`
	RiderID          string      `json:"rider_id"`
	TenantID         string      `json:"tenant_id"`
	Region           string      `json:"region"`
	PickupLatitude   float64     `json:"pickup_latitude"`
	PickupLongitude  float64     `json:"pickup_longitude"`
	DropoffLatitude  float64     `json:"dropoff_latitude"`
	DropoffLongitude float64     `json:"dropoff_longitude"`
	VehicleTier      VehicleTier `json:"vehicle_tier"`
	PaymentMethod    string      `json:"payment_method"`
	Status           RideStatus  `json:"status"`
	IdempotencyKey   *string     `json:"idempotency_key,omitempty"`
	AssignedDriverID *string     `json:"assigned_driver_id,omitempty"`
	AttemptCount     int         `json:"attempt_count"`
	Version          int64       `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// OfferResponse closes a driver offer exactly once.
type OfferResponse string

const (
	OfferAccepted OfferResponse = "ACCEPTED"
	OfferDeclined OfferResponse = "DECLINED"
	OfferTimeout  OfferResponse = "TIMEOUT"
)

// DriverOffer is an append-only audit row; only response and responded_at
// are ever set after insert, and only once.
type DriverOffer struct {
	ID            uuid.UUID      `json:"id"`
	RideID        uuid.UUID      `json:"ride_id"`
	DriverID      string         `json:"driver_id"`
	AttemptNumber int            `json:"attempt_number"`
	OfferedAt     time.Time      `json:"offered_at"`
	RespondedAt   *time.Time     `json:"responded_at,omitempty"`
	TTLSeconds    int            `json:"ttl_seconds"`
	Response      *OfferResponse `json:"response,omitempty"`
}

// CreateRideRequest is the POST /rides body.
type CreateRideRequest struct {
	RiderID          string      `json:"rider_id" binding:"required"`
	Region           string      `json:"region" binding:"required"`
	PickupLatitude   float64     `json:"pickup_latitude" binding:"required"`
	PickupLongitude  float64     `json:"pickup_longitude" binding:"required"`
	DropoffLatitude  float64     `json:"dropoff_latitude" binding:"required"`
	DropoffLongitude float64     `json:"dropoff_longitude" binding:"required"`
	VehicleTier      VehicleTier `json:"vehicle_tier" binding:"required"`
	PaymentMethod    string      `json:"payment_method" binding:"required"`
}

// RideSummary is what the REST surface returns.
type RideSummary struct {
	RideID           uuid.UUID   `json:"ride_id"`
	Status           RideStatus  `json:"status"`
	VehicleTier      VehicleTier `json:"vehicle_tier"`
	AssignedDriverID *string     `json:"assigned_driver_id,omitempty"`
	AttemptCount     int         `json:"attempt_count"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Summary converts a ride row to its REST shape.
func (r *Ride) Summary() *RideSummary {
	return &RideSummary{
		RideID:           r.ID,
		Status:           r.Status,
		VehicleTier:      r.VehicleTier,
		AssignedDriverID: r.AssignedDriverID,
		AttemptCount:     r.AttemptCount,
		UpdatedAt:        r.UpdatedAt,
	}
}
