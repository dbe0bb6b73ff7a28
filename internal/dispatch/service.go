package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ridepulse/ridepulse/internal/flags"
	"github.com/ridepulse/ridepulse/internal/geoindex"
	"github.com/ridepulse/ridepulse/internal/lock"
	"github.com/ridepulse/ridepulse/pkg/common"
	"github.com/ridepulse/ridepulse/pkg/config"
	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/ridepulse/ridepulse/pkg/logger"
	"go.uber.org/zap"
)

// Service implements the dispatch engine: ride lifecycle, candidate
// selection, offer management.
type Service struct {
	store   RideStore
	drivers DriverIndex
	flags   FlagStore
	locks   MutexProvider
	bus     eventbus.Publisher
	cfg     config.DispatchConfig
}

// NewService creates a dispatch service.
func NewService(store RideStore, drivers DriverIndex, flagStore FlagStore, locks MutexProvider, bus eventbus.Publisher, cfg config.DispatchConfig) *Service {
	return &Service{
		store:   store,
		drivers: drivers,
		flags:   flagStore,
		locks:   locks,
		bus:     bus,
		cfg:     cfg,
	}
}

// CreateRide is the dispatch entry point. Replays of the same idempotency
// key return the original ride untouched.
func (s *Service) CreateRide(ctx context.Context, tenantID, idempotencyKey string, req *CreateRideRequest) (*RideSummary, error) {
	if s.flags.Enabled(ctx, tenantID, flags.DispatchKillSwitch, false) {
		ridesRejectedKillSwitch.WithLabelValues(tenantID).Inc()
		return nil, common.NewUnavailableError("dispatch is temporarily disabled")
	}

	if idempotencyKey != "" {
		existing, err := s.store.FindByIdempotencyKey(ctx, tenantID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing.Summary(), nil
		}
	}

	ride := &Ride{
		ID:               uuid.New(),
		RiderID:          req.RiderID,
		TenantID:         tenantID,
		Region:           req.Region,
		PickupLatitude:   req.PickupLatitude,
		PickupLongitude:  req.PickupLongitude,
		DropoffLatitude:  req.DropoffLatitude,
		DropoffLongitude: req.DropoffLongitude,
		VehicleTier:      req.VehicleTier,
		PaymentMethod:    req.PaymentMethod,
		Status:           StatusPending,
	}
	if idempotencyKey != "" {
		ride.IdempotencyKey = &idempotencyKey
	}

	if err := s.store.CreateRide(ctx, ride); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			// Lost the unique-index race to a concurrent replay
			existing, ferr := s.store.FindByIdempotencyKey(ctx, tenantID, idempotencyKey)
			if ferr == nil && existing != nil {
				return existing.Summary(), nil
			}
		}
		return nil, err
	}

	ridesCreatedTotal.WithLabelValues(tenantID, ride.Region).Inc()

	s.publish(ctx, eventbus.SubjectRideRequested, ride.ID.String(), tenantID, eventbus.RideRequestedData{
		RideID:      ride.ID.String(),
		RiderID:     ride.RiderID,
		Region:      ride.Region,
		PickupLat:   ride.PickupLatitude,
		PickupLng:   ride.PickupLongitude,
		DropoffLat:  ride.DropoffLatitude,
		DropoffLng:  ride.DropoffLongitude,
		VehicleTier: string(ride.VehicleTier),
	})

	s.Dispatch(ctx, ride.ID, map[string]struct{}{})

	// Re-read: the dispatch pass just moved the ride on.
	current, err := s.store.GetRideByID(ctx, ride.ID)
	if err != nil {
		return ride.Summary(), nil
	}
	return current.Summary(), nil
}

// GetRide returns the ride summary.
func (s *Service) GetRide(ctx context.Context, rideID uuid.UUID) (*RideSummary, error) {
	ride, err := s.store.GetRideByID(ctx, rideID)
	if err != nil {
		if errors.Is(err, ErrRideNotFound) {
			return nil, common.NewNotFoundError(common.CodeRideNotFound, "ride not found")
		}
		return nil, err
	}
	return ride.Summary(), nil
}

// Accept lets a driver claim a DISPATCHING ride. The version-guarded UPDATE
// decides races: the losing driver gets RIDE_ALREADY_ACCEPTED.
func (s *Service) Accept(ctx context.Context, rideID uuid.UUID, driverID string) (*RideSummary, error) {
	ride, err := s.store.GetRideByID(ctx, rideID)
	if err != nil {
		if errors.Is(err, ErrRideNotFound) {
			return nil, common.NewNotFoundError(common.CodeRideNotFound, "ride not found")
		}
		return nil, err
	}

	switch ride.Status {
	case StatusDispatching:
	case StatusAccepted:
		return nil, common.NewConflictError(common.CodeRideAlreadyAccepted, "ride has already been accepted")
	default:
		return nil, common.NewPreconditionError(common.CodeInvalidState, "ride is not awaiting a driver")
	}

	won, err := s.store.TryAcceptRide(ctx, rideID, driverID, ride.Version)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, common.NewConflictError(common.CodeRideAlreadyAccepted, "another driver accepted first")
	}

	if _, err := s.store.CloseOffer(ctx, rideID, driverID, OfferAccepted); err != nil {
		logger.ErrorContext(ctx, "failed to close offer on accept", zap.String("ride_id", rideID.String()), zap.Error(err))
	}
	offersClosedTotal.WithLabelValues(string(OfferAccepted)).Inc()

	if err := s.drivers.SetStatus(ctx, driverID, geoindex.DriverOnTrip); err != nil {
		logger.WarnContext(ctx, "failed to mark driver on trip", zap.String("driver_id", driverID), zap.Error(err))
	}

	s.publishStatusChange(ctx, eventbus.SubjectRideAccepted, ride, StatusAccepted, driverID, "")

	ride.Status = StatusAccepted
	ride.AssignedDriverID = &driverID
	ride.Version++
	return ride.Summary(), nil
}

// Decline records the driver's refusal and immediately re-dispatches with
// every previously offered driver excluded.
func (s *Service) Decline(ctx context.Context, rideID uuid.UUID, driverID string) (*RideSummary, error) {
	ride, err := s.store.GetRideByID(ctx, rideID)
	if err != nil {
		if errors.Is(err, ErrRideNotFound) {
			return nil, common.NewNotFoundError(common.CodeRideNotFound, "ride not found")
		}
		return nil, err
	}

	if _, err := s.store.CloseOffer(ctx, rideID, driverID, OfferDeclined); err != nil {
		return nil, err
	}
	offersClosedTotal.WithLabelValues(string(OfferDeclined)).Inc()

	if err := s.drivers.SetStatus(ctx, driverID, geoindex.DriverIdle); err != nil {
		logger.WarnContext(ctx, "failed to mark driver idle", zap.String("driver_id", driverID), zap.Error(err))
	}

	s.publishStatusChange(ctx, eventbus.SubjectRideDeclined, ride, ride.Status, driverID, "driver declined")

	tried := s.triedSet(ctx, rideID)
	tried[driverID] = struct{}{}
	s.Dispatch(ctx, rideID, tried)

	current, err := s.store.GetRideByID(ctx, rideID)
	if err != nil {
		return ride.Summary(), nil
	}
	return current.Summary(), nil
}

// DriverArrived transitions ACCEPTED to DRIVER_ARRIVED for the assigned driver.
func (s *Service) DriverArrived(ctx context.Context, rideID uuid.UUID, driverID string) (*RideSummary, error) {
	return s.driverTransition(ctx, rideID, driverID, StatusAccepted, StatusDriverArrived, eventbus.SubjectRideDriverArrived)
}

// Start transitions DRIVER_ARRIVED to IN_PROGRESS for the assigned driver.
func (s *Service) Start(ctx context.Context, rideID uuid.UUID, driverID string) (*RideSummary, error) {
	return s.driverTransition(ctx, rideID, driverID, StatusDriverArrived, StatusInProgress, eventbus.SubjectRideInProgress)
}

func (s *Service) driverTransition(ctx context.Context, rideID uuid.UUID, driverID string, from, to RideStatus, subject string) (*RideSummary, error) {
	ride, err := s.store.GetRideByID(ctx, rideID)
	if err != nil {
		if errors.Is(err, ErrRideNotFound) {
			return nil, common.NewNotFoundError(common.CodeRideNotFound, "ride not found")
		}
		return nil, err
	}

	if ride.Status != from {
		return nil, common.NewPreconditionError(common.CodeInvalidState, "ride is not in the required state")
	}
	if ride.AssignedDriverID == nil || *ride.AssignedDriverID != driverID {
		return nil, common.NewPreconditionError(common.CodeUnauthorizedDriver, "driver is not assigned to this ride")
	}

	moved, err := s.store.UpdateStatus(ctx, rideID, to, from)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, common.NewPreconditionError(common.CodeInvalidState, "ride moved on concurrently")
	}

	s.publishStatusChange(ctx, subject, ride, to, driverID, "")

	ride.Status = to
	ride.Version++
	return ride.Summary(), nil
}

// Cancel cancels a ride unless it is already in progress or finished.
func (s *Service) Cancel(ctx context.Context, rideID uuid.UUID, requesterID string) (*RideSummary, error) {
	ride, err := s.store.GetRideByID(ctx, rideID)
	if err != nil {
		if errors.Is(err, ErrRideNotFound) {
			return nil, common.NewNotFoundError(common.CodeRideNotFound, "ride not found")
		}
		return nil, err
	}

	if ride.Status == StatusInProgress {
		return nil, common.NewPreconditionError(common.CodeCannotCancel, "ride is already in progress")
	}
	if ride.Status.Terminal() {
		return nil, common.NewPreconditionError(common.CodeInvalidState, "ride is already finished")
	}

	moved, err := s.store.UpdateStatus(ctx, rideID, StatusCancelled,
		StatusPending, StatusDispatching, StatusAccepted, StatusDriverArrived)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, common.NewPreconditionError(common.CodeCannotCancel, "ride can no longer be cancelled")
	}

	if ride.AssignedDriverID != nil {
		if err := s.drivers.SetStatus(ctx, *ride.AssignedDriverID, geoindex.DriverIdle); err != nil {
			logger.WarnContext(ctx, "failed to free driver on cancel", zap.Error(err))
		}
	}

	s.publishStatusChange(ctx, eventbus.SubjectRideCancelled, ride, StatusCancelled, requesterID, "cancelled by requester")

	ride.Status = StatusCancelled
	ride.Version++
	return ride.Summary(), nil
}

// Dispatch runs one pass of the dispatch loop for the ride. The per-ride
// mutex serializes concurrent passes; losing the lock skips silently.
func (s *Service) Dispatch(ctx context.Context, rideID uuid.UUID, tried map[string]struct{}) {
	start := time.Now()
	defer func() { dispatchAttemptDuration.Observe(time.Since(start).Seconds()) }()

	release, acquired, err := s.locks.TryAcquire(ctx, lock.RideDispatchKey(rideID.String()), s.cfg.LockWait, s.cfg.LockLease)
	if err != nil {
		logger.ErrorContext(ctx, "dispatch lock error", zap.String("ride_id", rideID.String()), zap.Error(err))
		return
	}
	if !acquired {
		logger.InfoContext(ctx, "dispatch attempt skipped, lock held elsewhere", zap.String("ride_id", rideID.String()))
		return
	}
	defer release(ctx)

	ride, err := s.store.GetRideByID(ctx, rideID)
	if err != nil {
		logger.ErrorContext(ctx, "dispatch re-read failed", zap.String("ride_id", rideID.String()), zap.Error(err))
		return
	}

	if ride.Status == StatusAccepted || ride.Status.Terminal() {
		return
	}

	if ride.AttemptCount >= s.cfg.MaxAttempts {
		s.giveUp(ctx, ride)
		return
	}

	candidates, err := s.candidates(ctx, ride, tried)
	if err != nil {
		logger.ErrorContext(ctx, "candidate search failed", zap.String("ride_id", rideID.String()), zap.Error(err))
		return
	}
	candidatesConsidered.Observe(float64(len(candidates)))

	if len(candidates) == 0 {
		s.giveUp(ctx, ride)
		return
	}

	weights := StandardWeights
	if s.flags.Enabled(ctx, ride.TenantID, flags.NewScoringAlgo, false) {
		weights = VariantWeights
	}
	ranked := Rank(candidates, weights)
	best := ranked[0]

	offer, updated, err := s.store.CreateOfferAndMarkDispatching(ctx, rideID, best.DriverID, int(s.cfg.OfferTTL.Seconds()))
	if err != nil {
		if errors.Is(err, ErrRideNotDispatchable) {
			return
		}
		logger.ErrorContext(ctx, "offer transaction failed", zap.String("ride_id", rideID.String()), zap.Error(err))
		return
	}

	if err := s.drivers.SetStatus(ctx, best.DriverID, geoindex.DriverDispatching); err != nil {
		logger.WarnContext(ctx, "failed to mark driver dispatching", zap.String("driver_id", best.DriverID), zap.Error(err))
	}

	if _, err := s.locks.Sentinel(ctx, lock.OfferSentinelKey(rideID.String(), best.DriverID), s.cfg.OfferTTL); err != nil {
		logger.WarnContext(ctx, "offer sentinel failed", zap.String("ride_id", rideID.String()), zap.Error(err))
	}

	offersSentTotal.WithLabelValues(ride.Region).Inc()
	s.publish(ctx, eventbus.SubjectDriverOfferSent, rideID.String(), ride.TenantID, eventbus.DriverOfferSentData{
		OfferID:       offer.ID.String(),
		RideID:        rideID.String(),
		DriverID:      best.DriverID,
		AttemptNumber: offer.AttemptNumber,
		Score:         best.Score,
		TTLSeconds:    offer.TTLSeconds,
	})

	logger.InfoContext(ctx, "offer sent",
		zap.String("ride_id", rideID.String()),
		zap.String("driver_id", best.DriverID),
		zap.Int("attempt", updated.AttemptCount),
		zap.Float64("score", best.Score),
	)
}

// candidates queries the geo radius around pickup and filters by
// availability, tier compatibility and the tried-set.
func (s *Service) candidates(ctx context.Context, ride *Ride, tried map[string]struct{}) ([]ScoredCandidate, error) {
	nearby, err := s.drivers.Radius(ctx, ride.Region, ride.PickupLatitude, ride.PickupLongitude, s.cfg.SearchRadiusKm, s.cfg.CandidateLimit)
	if err != nil {
		return nil, err
	}

	var out []ScoredCandidate
	for _, c := range nearby {
		if _, seen := tried[c.DriverID]; seen {
			continue
		}

		meta, err := s.drivers.Metadata(ctx, c.DriverID)
		if err != nil {
			logger.WarnContext(ctx, "metadata read failed", zap.String("driver_id", c.DriverID), zap.Error(err))
			continue
		}
		if !meta.Found || meta.Status != geoindex.DriverIdle {
			continue
		}
		if !VehicleTier(meta.VehicleTier).Serves(ride.VehicleTier) {
			continue
		}

		out = append(out, ScoredCandidate{
			DriverID:           c.DriverID,
			DistanceKm:         c.DistanceKm,
			Rating:             meta.Rating,
			RatingMissing:      !meta.RatingKnown,
			DeclineRate:        meta.DeclineRate,
			DeclineRateMissing: !meta.DeclineRateKnown,
		})
	}
	return out, nil
}

func (s *Service) giveUp(ctx context.Context, ride *Ride) {
	moved, err := s.store.UpdateStatus(ctx, ride.ID, StatusNoDriverFound, StatusPending, StatusDispatching)
	if err != nil {
		logger.ErrorContext(ctx, "failed to mark no driver found", zap.String("ride_id", ride.ID.String()), zap.Error(err))
		return
	}
	if !moved {
		return
	}

	noDriverFoundTotal.WithLabelValues(ride.Region).Inc()
	s.publishStatusChange(ctx, eventbus.SubjectRideNoDriverFound, ride, StatusNoDriverFound, "", "no driver found")
}

func (s *Service) triedSet(ctx context.Context, rideID uuid.UUID) map[string]struct{} {
	tried := make(map[string]struct{})
	drivers, err := s.store.TriedDrivers(ctx, rideID)
	if err != nil {
		logger.WarnContext(ctx, "failed to load tried drivers", zap.String("ride_id", rideID.String()), zap.Error(err))
		return tried
	}
	for _, d := range drivers {
		tried[d] = struct{}{}
	}
	return tried
}

func (s *Service) publishStatusChange(ctx context.Context, subject string, ride *Ride, to RideStatus, driverID, reason string) {
	s.publish(ctx, subject, ride.ID.String(), ride.TenantID, eventbus.RideStatusChangedData{
		RideID:     ride.ID.String(),
		RiderID:    ride.RiderID,
		DriverID:   driverID,
		FromStatus: string(ride.Status),
		ToStatus:   string(to),
		Reason:     reason,
	})
}

func (s *Service) publish(ctx context.Context, subject, key, tenantID string, data interface{}) {
	event, err := eventbus.NewEvent(subject, "dispatch", key, tenantID, data)
	if err != nil {
		logger.ErrorContext(ctx, "event build failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
