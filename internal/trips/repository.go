package trips

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrTripNotFound indicates no trip exists for the lookup key.
	ErrTripNotFound = errors.New("trip not found")
	// ErrDuplicateRide indicates a trip already exists for the ride.
	ErrDuplicateRide = errors.New("trip already exists for ride")
)

const tripColumns = `id, ride_id, rider_id, driver_id, tenant_id, region, status,
	start_latitude, start_longitude, end_latitude, end_longitude,
	distance_km, duration_min, surge_factor, fare_amount, currency,
	started_at, ended_at, created_at, updated_at`

// Repository is the Postgres persistence layer for trips.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new trips repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateTrip inserts a new IN_PROGRESS trip. The unique index on ride_id
// rejects a second trip for the same ride.
func (r *Repository) CreateTrip(ctx context.Context, t *Trip) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO trips (id, ride_id, rider_id, driver_id, tenant_id, region, status,
			start_latitude, start_longitude, surge_factor, currency, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		t.ID, t.RideID, t.RiderID, t.DriverID, t.TenantID, t.Region, t.Status,
		t.StartLatitude, t.StartLongitude, t.SurgeFactor, t.Currency, t.StartedAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRide
		}
		return fmt.Errorf("failed to insert trip: %w", err)
	}
	return nil
}

// GetByID returns the trip with the given id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Trip, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	return scanTrip(row)
}

// GetByRideID returns the trip for the ride, or (nil, nil) when none exists.
func (r *Repository) GetByRideID(ctx context.Context, rideID uuid.UUID) (*Trip, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE ride_id = $1`, rideID)
	t, err := scanTrip(row)
	if errors.Is(err, ErrTripNotFound) {
		return nil, nil
	}
	return t, err
}

// SetStatus moves the trip between IN_PROGRESS and PAUSED with a from-state
// guard. Returns false when the trip was not in the expected state.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, to, from TripStatus) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE trips
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, to, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update trip status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteTrip finalizes the trip with measured distance, duration and fare.
// The status guard makes completion idempotent: a second call affects no rows.
func (r *Repository) CompleteTrip(ctx context.Context, t *Trip) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE trips
		SET status = $2, end_latitude = $3, end_longitude = $4,
		    distance_km = $5, duration_min = $6, surge_factor = $7,
		    fare_amount = $8, ended_at = $9, updated_at = NOW()
		WHERE id = $1 AND status = ANY($10)`,
		t.ID, TripCompleted, t.EndLatitude, t.EndLongitude,
		t.DistanceKm, t.DurationMin, t.SurgeFactor,
		t.FareAmount, t.EndedAt, []TripStatus{TripInProgress, TripPaused},
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete trip: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	err := row.Scan(
		&t.ID, &t.RideID, &t.RiderID, &t.DriverID, &t.TenantID, &t.Region, &t.Status,
		&t.StartLatitude, &t.StartLongitude, &t.EndLatitude, &t.EndLongitude,
		&t.DistanceKm, &t.DurationMin, &t.SurgeFactor, &t.FareAmount, &t.Currency,
		&t.StartedAt, &t.EndedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trip: %w", err)
	}
	return &t, nil
}
