package trips

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ridepulse/ridepulse/pkg/common"
	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/ridepulse/ridepulse/pkg/geo"
	"github.com/ridepulse/ridepulse/pkg/logger"
	redisclient "github.com/ridepulse/ridepulse/pkg/redis"
	"go.uber.org/zap"
)

// TripStore is the persistence surface the service depends on.
type TripStore interface {
	CreateTrip(ctx context.Context, t *Trip) error
	GetByID(ctx context.Context, id uuid.UUID) (*Trip, error)
	GetByRideID(ctx context.Context, rideID uuid.UUID) (*Trip, error)
	SetStatus(ctx context.Context, id uuid.UUID, to, from TripStatus) (bool, error)
	CompleteTrip(ctx context.Context, t *Trip) (bool, error)
}

// SurgeSource resolves the surge factor for a location.
type SurgeSource interface {
	Factor(ctx context.Context, lat, lng float64) float64
}

// RedisSurgeSource reads the surge cache written by the surge service. A
// missing or unparseable entry means neutral pricing.
type RedisSurgeSource struct {
	redis *redisclient.Client
}

// NewRedisSurgeSource creates a cache-backed surge source.
func NewRedisSurgeSource(redis *redisclient.Client) *RedisSurgeSource {
	return &RedisSurgeSource{redis: redis}
}

// Factor returns the cached surge factor for the cell covering (lat, lng),
// falling back to 1.0.
func (s *RedisSurgeSource) Factor(ctx context.Context, lat, lng float64) float64 {
	cell := geo.SurgeCell(lat, lng)
	raw, err := s.redis.GetString(ctx, "surge:cell:"+cell)
	if err != nil {
		return 1.0
	}
	factor, err := strconv.ParseFloat(raw, 64)
	if err != nil || factor < 1.0 {
		return 1.0
	}
	return factor
}

// Service manages the trip lifecycle and fare calculation.
type Service struct {
	store TripStore
	surge SurgeSource
	bus   eventbus.Publisher
	now   func() time.Time
}

// NewService creates a trips service.
func NewService(store TripStore, surge SurgeSource, bus eventbus.Publisher) *Service {
	return &Service{store: store, surge: surge, bus: bus, now: time.Now}
}

// Start begins a trip for an accepted ride. The surge factor is locked in at
// pickup so the rider pays the price quoted when the trip began. Starting the
// same ride twice returns the existing trip.
func (s *Service) Start(ctx context.Context, tenantID string, req *StartTripRequest) (*Trip, error) {
	existing, err := s.store.GetByRideID(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	trip := &Trip{
		ID:             uuid.New(),
		RideID:         req.RideID,
		RiderID:        req.RiderID,
		DriverID:       req.DriverID,
		TenantID:       tenantID,
		Region:         req.Region,
		Status:         TripInProgress,
		StartLatitude:  req.StartLatitude,
		StartLongitude: req.StartLongitude,
		SurgeFactor:    s.surge.Factor(ctx, req.StartLatitude, req.StartLongitude),
		Currency:       currency,
		StartedAt:      s.now().UTC(),
	}

	if err := s.store.CreateTrip(ctx, trip); err != nil {
		if errors.Is(err, ErrDuplicateRide) {
			return s.store.GetByRideID(ctx, req.RideID)
		}
		return nil, err
	}
	tripsStartedTotal.WithLabelValues(trip.Region).Inc()

	s.publishTripEvent(ctx, eventbus.SubjectTripStarted, trip)
	return trip, nil
}

// Pause suspends an in-progress trip, e.g. a rider-requested stop.
func (s *Service) Pause(ctx context.Context, tripID uuid.UUID) (*Trip, error) {
	trip, err := s.getTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	moved, err := s.store.SetStatus(ctx, tripID, TripPaused, TripInProgress)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, common.NewPreconditionError(common.CodeInvalidState, "trip is not in progress")
	}

	trip.Status = TripPaused
	s.publishTripEvent(ctx, eventbus.SubjectTripPaused, trip)
	return trip, nil
}

// Resume continues a paused trip.
func (s *Service) Resume(ctx context.Context, tripID uuid.UUID) (*Trip, error) {
	trip, err := s.getTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	moved, err := s.store.SetStatus(ctx, tripID, TripInProgress, TripPaused)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, common.NewPreconditionError(common.CodeInvalidState, "trip is not paused")
	}

	trip.Status = TripInProgress
	return trip, nil
}

// End completes the trip and computes the fare. Ending an already completed
// trip returns it unchanged.
func (s *Service) End(ctx context.Context, tripID uuid.UUID, req *EndTripRequest) (*Trip, error) {
	trip, err := s.getTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status == TripCompleted {
		return trip, nil
	}

	distanceKm := geo.Haversine(trip.StartLatitude, trip.StartLongitude, req.EndLatitude, req.EndLongitude)
	if req.DistanceKm != nil && *req.DistanceKm > 0 {
		distanceKm = *req.DistanceKm
	}

	endedAt := s.now().UTC()
	durationMin := math.Round(endedAt.Sub(trip.StartedAt).Minutes()*100) / 100
	if req.DurationMin != nil && *req.DurationMin > 0 {
		durationMin = *req.DurationMin
	}

	trip.Status = TripCompleted
	trip.EndLatitude = &req.EndLatitude
	trip.EndLongitude = &req.EndLongitude
	trip.DistanceKm = distanceKm
	trip.DurationMin = durationMin
	trip.FareAmount = Fare(distanceKm, durationMin, trip.SurgeFactor)
	trip.EndedAt = &endedAt

	completed, err := s.store.CompleteTrip(ctx, trip)
	if err != nil {
		return nil, err
	}
	if !completed {
		// Lost a completion race; the stored row is authoritative.
		return s.getTrip(ctx, tripID)
	}

	tripsCompletedTotal.WithLabelValues(trip.Region).Inc()
	fareAmounts.Observe(trip.FareAmount)

	s.publishTripEvent(ctx, eventbus.SubjectTripEnded, trip)

	logger.InfoContext(ctx, "trip completed",
		zap.String("trip_id", trip.ID.String()),
		zap.Float64("distance_km", trip.DistanceKm),
		zap.Float64("duration_min", trip.DurationMin),
		zap.Float64("surge_factor", trip.SurgeFactor),
		zap.Float64("fare", trip.FareAmount),
	)
	return trip, nil
}

// Get returns a trip by id.
func (s *Service) Get(ctx context.Context, tripID uuid.UUID) (*Trip, error) {
	return s.getTrip(ctx, tripID)
}

func (s *Service) getTrip(ctx context.Context, tripID uuid.UUID) (*Trip, error) {
	trip, err := s.store.GetByID(ctx, tripID)
	if err != nil {
		if errors.Is(err, ErrTripNotFound) {
			return nil, common.NewNotFoundError("TRIP_NOT_FOUND", "trip not found")
		}
		return nil, err
	}
	return trip, nil
}

func (s *Service) publishTripEvent(ctx context.Context, subject string, trip *Trip) {
	event, err := eventbus.NewEvent(subject, "trips", trip.ID.String(), trip.TenantID, eventbus.TripEventData{
		TripID:      trip.ID.String(),
		RideID:      trip.RideID.String(),
		RiderID:     trip.RiderID,
		DriverID:    trip.DriverID,
		Region:      trip.Region,
		DistanceKm:  trip.DistanceKm,
		DurationMin: trip.DurationMin,
		FareAmount:  trip.FareAmount,
		Currency:    trip.Currency,
		StartedAt:   trip.StartedAt,
		EndedAt:     trip.EndedAt,
	})
	if err != nil {
		logger.ErrorContext(ctx, "event build failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
