package geoindex

import "time"

// DriverStatus is the ephemeral availability state kept in driver metadata.
type DriverStatus string

const (
	DriverIdle        DriverStatus = "IDLE"
	DriverDispatching DriverStatus = "DISPATCHING"
	DriverOnTrip      DriverStatus = "ON_TRIP"
	DriverOffline     DriverStatus = "OFFLINE"
)

// DriverLocation is one location ping with the metadata refreshed alongside
// it. Rating and DeclineRate are pointers so a ping that omits them leaves
// the hash fields unwritten rather than storing a literal zero.
type DriverLocation struct {
	DriverID    string       `json:"driver_id" binding:"required"`
	Region      string       `json:"region" binding:"required"`
	Latitude    float64      `json:"latitude" binding:"required"`
	Longitude   float64      `json:"longitude" binding:"required"`
	Status      DriverStatus `json:"status"`
	VehicleTier string       `json:"vehicle_tier"`
	Rating      *float64     `json:"rating"`
	DeclineRate *float64     `json:"decline_rate"`
}

// DriverMetadata is the parsed per-driver metadata map. Zero value means
// expired or never seen. RatingKnown and DeclineRateKnown report whether the
// hash actually carried a parseable value; a stored "0" is a known zero, not
// a missing field.
type DriverMetadata struct {
	DriverID         string
	Region           string
	Status           DriverStatus
	VehicleTier      string
	Rating           float64
	RatingKnown      bool
	DeclineRate      float64
	DeclineRateKnown bool
	Latitude         float64
	Longitude        float64
	LastSeen         time.Time
	Found            bool
}

// Candidate is one radius query result, ascending by distance.
type Candidate struct {
	DriverID   string
	DistanceKm float64
}
