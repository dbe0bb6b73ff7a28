package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ridepulse/ridepulse/internal/geoindex"
	"github.com/ridepulse/ridepulse/internal/lock"
)

// RideStore is the persistence surface the service depends on.
type RideStore interface {
	CreateRide(ctx context.Context, ride *Ride) error
	GetRideByID(ctx context.Context, id uuid.UUID) (*Ride, error)
	FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*Ride, error)
	TryAcceptRide(ctx context.Context, id uuid.UUID, driverID string, version int64) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to RideStatus, from ...RideStatus) (bool, error)
	CreateOfferAndMarkDispatching(ctx context.Context, rideID uuid.UUID, driverID string, ttlSeconds int) (*DriverOffer, *Ride, error)
	OpenOffer(ctx context.Context, rideID uuid.UUID) (*DriverOffer, error)
	CloseOffer(ctx context.Context, rideID uuid.UUID, driverID string, response OfferResponse) (bool, error)
	ExpiredOpenOffers(ctx context.Context) ([]ExpiredOffer, error)
	TimeoutOffer(ctx context.Context, offerID uuid.UUID) (bool, error)
	TriedDrivers(ctx context.Context, rideID uuid.UUID) ([]string, error)
}

// DriverIndex is the geo-index surface used for candidate search.
type DriverIndex interface {
	Radius(ctx context.Context, region string, lat, lng, radiusKm float64, limit int) ([]geoindex.Candidate, error)
	Metadata(ctx context.Context, driverID string) (geoindex.DriverMetadata, error)
	SetStatus(ctx context.Context, driverID string, status geoindex.DriverStatus) error
}

// FlagStore resolves per-tenant feature flags.
type FlagStore interface {
	Enabled(ctx context.Context, tenant, flag string, fallback bool) bool
}

// MutexProvider is the distributed lock surface used by the dispatch loop.
type MutexProvider interface {
	TryAcquire(ctx context.Context, name string, wait, lease time.Duration) (lock.ReleaseFunc, bool, error)
	Sentinel(ctx context.Context, name string, ttl time.Duration) (bool, error)
}
