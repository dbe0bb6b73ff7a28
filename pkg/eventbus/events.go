package eventbus

import (
	"context"
	"time"
)

// Publisher is the subset of Bus used by services that only emit events.
type Publisher interface {
	Publish(ctx context.Context, subject string, event *Event) error
}

// RideRequestedData is emitted when a rider submits a ride request.
type RideRequestedData struct {
	RideID      string  `json:"ride_id"`
	RiderID     string  `json:"rider_id"`
	Region      string  `json:"region"`
	PickupLat   float64 `json:"pickup_lat"`
	PickupLng   float64 `json:"pickup_lng"`
	DropoffLat  float64 `json:"dropoff_lat"`
	DropoffLng  float64 `json:"dropoff_lng"`
	VehicleTier string  `json:"vehicle_tier"`
}

// RideStatusChangedData is emitted on every ride state transition.
type RideStatusChangedData struct {
	RideID     string `json:"ride_id"`
	RiderID    string `json:"rider_id"`
	DriverID   string `json:"driver_id,omitempty"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Reason     string `json:"reason,omitempty"`
}

// DriverOfferSentData is emitted when an offer goes out to a driver.
type DriverOfferSentData struct {
	OfferID       string  `json:"offer_id"`
	RideID        string  `json:"ride_id"`
	DriverID      string  `json:"driver_id"`
	AttemptNumber int     `json:"attempt_number"`
	Score         float64 `json:"score"`
	TTLSeconds    int     `json:"ttl_seconds"`
}

// DriverLocationUpdatedData is emitted on each location ping.
type DriverLocationUpdatedData struct {
	DriverID    string  `json:"driver_id"`
	Region      string  `json:"region"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Status      string  `json:"status"`
	VehicleTier string  `json:"vehicle_tier"`
	Rating      float64 `json:"rating"`
	DeclineRate float64 `json:"decline_rate"`
}

// TripEventData covers trip.started, trip.paused and trip.ended.
type TripEventData struct {
	TripID      string     `json:"trip_id"`
	RideID      string     `json:"ride_id"`
	RiderID     string     `json:"rider_id"`
	DriverID    string     `json:"driver_id"`
	Region      string     `json:"region"`
	DistanceKm  float64    `json:"distance_km,omitempty"`
	DurationMin float64    `json:"duration_min,omitempty"`
	FareAmount  float64    `json:"fare_amount,omitempty"`
	Currency    string     `json:"currency,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// PaymentEventData covers payment.initiated, payment.captured and
// payment.failed; carried through the transactional outbox.
type PaymentEventData struct {
	PaymentID     string  `json:"payment_id"`
	TripID        string  `json:"trip_id"`
	RiderID       string  `json:"rider_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	FailureReason string  `json:"failure_reason,omitempty"`
}

// SupplyDemandSnapshotData is one per-cell observation consumed by the
// surge calculator.
type SupplyDemandSnapshotData struct {
	CellID         string    `json:"cell_id"`
	Region         string    `json:"region"`
	DriverCount    int       `json:"driver_count"`
	OpenRideCount  int       `json:"open_ride_count"`
	ObservedAtUnix int64     `json:"observed_at_unix"`
	ObservedAt     time.Time `json:"observed_at"`
}
