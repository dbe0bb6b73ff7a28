package trips

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus is the trip lifecycle state
type TripStatus string

const (
	TripInProgress TripStatus = "IN_PROGRESS"
	TripPaused     TripStatus = "PAUSED"
	TripCompleted  TripStatus = "COMPLETED"
)

// Trip is an accepted ride being driven. One trip exists per ride.
type Trip struct {
	ID             uuid.UUID  `json:"id"`
	RideID         uuid.UUID  `json:"ride_id"`
	RiderID        string     `json:"rider_id"`
	DriverID       string     `json:"driver_id"`
	TenantID       string     `json:"tenant_id"`
	Region         string     `json:"region"`
	Status         TripStatus `json:"status"`
	StartLatitude  float64    `json:"start_latitude"`
	StartLongitude float64    `json:"start_longitude"`
	EndLatitude    *float64   `json:"end_latitude,omitempty"`
	EndLongitude   *float64   `json:"end_longitude,omitempty"`
	DistanceKm     float64    `json:"distance_km"`
	DurationMin    float64    `json:"duration_min"`
	SurgeFactor    float64    `json:"surge_factor"`
	FareAmount     float64    `json:"fare_amount"`
	Currency       string     `json:"currency"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// StartTripRequest begins a trip for an accepted ride.
type StartTripRequest struct {
	RideID         uuid.UUID `json:"ride_id" binding:"required"`
	RiderID        string    `json:"rider_id" binding:"required"`
	DriverID       string    `json:"driver_id" binding:"required"`
	Region         string    `json:"region" binding:"required"`
	StartLatitude  float64   `json:"start_latitude" binding:"required"`
	StartLongitude float64   `json:"start_longitude" binding:"required"`
	Currency       string    `json:"currency"`
}

// EndTripRequest completes a trip. Distance and duration are measured by the
// driver app; when absent they are derived from the endpoints and clock.
type EndTripRequest struct {
	EndLatitude  float64  `json:"end_latitude" binding:"required"`
	EndLongitude float64  `json:"end_longitude" binding:"required"`
	DistanceKm   *float64 `json:"distance_km"`
	DurationMin  *float64 `json:"duration_min"`
}
