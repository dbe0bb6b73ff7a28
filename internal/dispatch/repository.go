package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ridepulse/ridepulse/internal/geoindex"
)

// ErrRideNotFound is returned when a ride id resolves to nothing.
var ErrRideNotFound = errors.New("ride not found")

// ErrRideNotDispatchable is returned when the offer transaction finds the
// ride no longer open for offers.
var ErrRideNotDispatchable = errors.New("ride is not dispatchable")

// ErrDuplicateIdempotencyKey is returned when an insert loses the
// idempotency-key unique-index race.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

const rideColumns = `id, rider_id, tenant_id, region, pickup_latitude, pickup_longitude,
	dropoff_latitude, dropoff_longitude, vehicle_tier, payment_method, status,
	idempotency_key, assigned_driver_id, attempt_count, version, created_at, updated_at`

// Repository handles database operations for rides and driver offers
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new dispatch repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateRide inserts a new ride row at PENDING.
func (r *Repository) CreateRide(ctx context.Context, ride *Ride) error {
	query := `
		INSERT INTO rides (
			id, rider_id, tenant_id, region, pickup_latitude, pickup_longitude,
			dropoff_latitude, dropoff_longitude, vehicle_tier, payment_method,
			status, idempotency_key, attempt_count, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, 0)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		ride.ID,
		ride.RiderID,
		ride.TenantID,
		ride.Region,
		ride.PickupLatitude,
		ride.PickupLongitude,
		ride.DropoffLatitude,
		ride.DropoffLongitude,
		ride.VehicleTier,
		ride.PaymentMethod,
		ride.Status,
		ride.IdempotencyKey,
	).Scan(&ride.CreatedAt, &ride.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to create ride: %w", err)
	}
	return nil
}

func scanRide(row pgx.Row) (*Ride, error) {
	ride := &Ride{}
	err := row.Scan(
		&ride.ID,
		&ride.RiderID,
		&ride.TenantID,
		&ride.Region,
		&ride.PickupLatitude,
		&ride.PickupLongitude,
		&ride.DropoffLatitude,
		&ride.DropoffLongitude,
		&ride.VehicleTier,
		&ride.PaymentMethod,
		&ride.Status,
		&ride.IdempotencyKey,
		&ride.AssignedDriverID,
		&ride.AttemptCount,
		&ride.Version,
		&ride.CreatedAt,
		&ride.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return ride, nil
}

// GetRideByID retrieves a ride by ID.
func (r *Repository) GetRideByID(ctx context.Context, id uuid.UUID) (*Ride, error) {
	query := fmt.Sprintf(`SELECT %s FROM rides WHERE id = $1`, rideColumns)

	ride, err := scanRide(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRideNotFound
		}
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}
	return ride, nil
}

// FindByIdempotencyKey returns the ride created under the key, or nil.
func (r *Repository) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*Ride, error) {
	query := fmt.Sprintf(`SELECT %s FROM rides WHERE tenant_id = $1 AND idempotency_key = $2`, rideColumns)

	ride, err := scanRide(r.db.QueryRow(ctx, query, tenantID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find ride by idempotency key: %w", err)
	}
	return ride, nil
}

// TryAcceptRide performs the optimistic-lock accept. The UPDATE guards on
// the version the caller read; zero rows means another driver won the race.
func (r *Repository) TryAcceptRide(ctx context.Context, id uuid.UUID, driverID string, version int64) (bool, error) {
	query := `
		UPDATE rides
		SET status = $1, assigned_driver_id = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4
	`

	tag, err := r.db.Exec(ctx, query, StatusAccepted, driverID, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to accept ride: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatus transitions the ride to the target status only when it is
// currently in one of the expected states.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, to RideStatus, from ...RideStatus) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	query := `
		UPDATE rides
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`

	tag, err := r.db.Exec(ctx, query, to, id, states)
	if err != nil {
		return false, fmt.Errorf("failed to update ride status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateOfferAndMarkDispatching runs the offer insert and the ride update in
// one transaction: re-reads the ride with a row lock, verifies it is still
// open for offers, inserts the DriverOffer at attempt_count+1, and moves the
// ride to DISPATCHING with the attempt counter bumped.
func (r *Repository) CreateOfferAndMarkDispatching(ctx context.Context, rideID uuid.UUID, driverID string, ttlSeconds int) (*DriverOffer, *Ride, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin offer transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`SELECT %s FROM rides WHERE id = $1 FOR UPDATE`, rideColumns)
	ride, err := scanRide(tx.QueryRow(ctx, query, rideID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrRideNotFound
		}
		return nil, nil, fmt.Errorf("failed to lock ride: %w", err)
	}

	if ride.Status != StatusPending && ride.Status != StatusDispatching {
		return nil, nil, ErrRideNotDispatchable
	}

	offer := &DriverOffer{
		ID:            uuid.New(),
		RideID:        rideID,
		DriverID:      driverID,
		AttemptNumber: ride.AttemptCount + 1,
		TTLSeconds:    ttlSeconds,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO driver_offers (id, ride_id, driver_id, attempt_number, ttl_seconds, offered_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING offered_at
	`, offer.ID, offer.RideID, offer.DriverID, offer.AttemptNumber, offer.TTLSeconds).Scan(&offer.OfferedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert offer: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE rides
		SET status = $1, attempt_count = attempt_count + 1, version = version + 1, updated_at = NOW()
		WHERE id = $2
		RETURNING attempt_count, version, updated_at
	`, StatusDispatching, rideID).Scan(&ride.AttemptCount, &ride.Version, &ride.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to mark ride dispatching: %w", err)
	}
	ride.Status = StatusDispatching

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit offer transaction: %w", err)
	}
	return offer, ride, nil
}

// OpenOffer returns the ride's offer with no response yet, or nil.
func (r *Repository) OpenOffer(ctx context.Context, rideID uuid.UUID) (*DriverOffer, error) {
	query := `
		SELECT id, ride_id, driver_id, attempt_number, offered_at, responded_at, ttl_seconds, response
		FROM driver_offers
		WHERE ride_id = $1 AND response IS NULL
		ORDER BY attempt_number DESC
		LIMIT 1
	`

	offer := &DriverOffer{}
	err := r.db.QueryRow(ctx, query, rideID).Scan(
		&offer.ID,
		&offer.RideID,
		&offer.DriverID,
		&offer.AttemptNumber,
		&offer.OfferedAt,
		&offer.RespondedAt,
		&offer.TTLSeconds,
		&offer.Response,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open offer: %w", err)
	}
	return offer, nil
}

// CloseOffer records the response on the ride's open offer for the driver.
// The response IS NULL guard makes the close single-shot.
func (r *Repository) CloseOffer(ctx context.Context, rideID uuid.UUID, driverID string, response OfferResponse) (bool, error) {
	query := `
		UPDATE driver_offers
		SET response = $1, responded_at = NOW()
		WHERE ride_id = $2 AND driver_id = $3 AND response IS NULL
	`

	tag, err := r.db.Exec(ctx, query, response, rideID, driverID)
	if err != nil {
		return false, fmt.Errorf("failed to close offer: %w", err)
	}
	return tag.RowsAffected() >= 1, nil
}

// ExpiredOffer is an open offer whose TTL window has elapsed.
type ExpiredOffer struct {
	OfferID  uuid.UUID
	RideID   uuid.UUID
	DriverID string
}

// ExpiredOpenOffers finds open offers on DISPATCHING rides whose TTL has
// elapsed.
func (r *Repository) ExpiredOpenOffers(ctx context.Context) ([]ExpiredOffer, error) {
	query := `
		SELECT o.id, o.ride_id, o.driver_id
		FROM driver_offers o
		JOIN rides r ON r.id = o.ride_id
		WHERE r.status = $1
		  AND o.response IS NULL
		  AND o.offered_at <= NOW() - make_interval(secs => o.ttl_seconds)
		ORDER BY o.offered_at
	`

	rows, err := r.db.Query(ctx, query, StatusDispatching)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired offers: %w", err)
	}
	defer rows.Close()

	var expired []ExpiredOffer
	for rows.Next() {
		var e ExpiredOffer
		if err := rows.Scan(&e.OfferID, &e.RideID, &e.DriverID); err != nil {
			return nil, fmt.Errorf("failed to scan expired offer: %w", err)
		}
		expired = append(expired, e)
	}
	return expired, rows.Err()
}

// TimeoutOffer force-closes an open offer as TIMEOUT. Returns false when the
// driver responded in the meantime.
func (r *Repository) TimeoutOffer(ctx context.Context, offerID uuid.UUID) (bool, error) {
	query := `
		UPDATE driver_offers
		SET response = $1, responded_at = NOW()
		WHERE id = $2 AND response IS NULL
	`

	tag, err := r.db.Exec(ctx, query, OfferTimeout, offerID)
	if err != nil {
		return false, fmt.Errorf("failed to timeout offer: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TriedDrivers lists every driver already offered this ride, for seeding the
// dispatch loop's tried-set.
func (r *Repository) TriedDrivers(ctx context.Context, rideID uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT driver_id FROM driver_offers WHERE ride_id = $1`, rideID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tried drivers: %w", err)
	}
	defer rows.Close()

	var drivers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tried driver: %w", err)
		}
		drivers = append(drivers, id)
	}
	return drivers, rows.Err()
}

// DispatchingRides lists rides currently waiting on a driver response.
func (r *Repository) DispatchingRides(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM rides WHERE status = $1`, StatusDispatching)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatching rides: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ride id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OpenRideLocations supplies pickup points of rides still waiting for a
// driver; the supply/demand snapshot publisher consumes it.
func (r *Repository) OpenRideLocations(ctx context.Context) ([]geoindex.RidePoint, error) {
	query := `
		SELECT pickup_latitude, pickup_longitude, region, tenant_id
		FROM rides
		WHERE status = ANY($1)
		  AND created_at > NOW() - INTERVAL '30 minutes'
	`

	rows, err := r.db.Query(ctx, query, []string{string(StatusPending), string(StatusDispatching)})
	if err != nil {
		return nil, fmt.Errorf("failed to query open rides: %w", err)
	}
	defer rows.Close()

	var points []geoindex.RidePoint
	for rows.Next() {
		var p geoindex.RidePoint
		if err := rows.Scan(&p.Latitude, &p.Longitude, &p.Region, &p.TenantID); err != nil {
			return nil, fmt.Errorf("failed to scan open ride: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
