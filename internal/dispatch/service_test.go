package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ridepulse/ridepulse/internal/flags"
	"github.com/ridepulse/ridepulse/internal/geoindex"
	"github.com/ridepulse/ridepulse/internal/lock"
	"github.com/ridepulse/ridepulse/pkg/common"
	"github.com/ridepulse/ridepulse/pkg/config"
	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) CreateRide(ctx context.Context, ride *Ride) error {
	return m.Called(ctx, ride).Error(0)
}

func (m *mockStore) GetRideByID(ctx context.Context, id uuid.UUID) (*Ride, error) {
	args := m.Called(ctx, id)
	if ride := args.Get(0); ride != nil {
		return ride.(*Ride), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*Ride, error) {
	args := m.Called(ctx, tenantID, key)
	if ride := args.Get(0); ride != nil {
		return ride.(*Ride), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) TryAcceptRide(ctx context.Context, id uuid.UUID, driverID string, version int64) (bool, error) {
	args := m.Called(ctx, id, driverID, version)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) UpdateStatus(ctx context.Context, id uuid.UUID, to RideStatus, from ...RideStatus) (bool, error) {
	args := m.Called(ctx, id, to, from)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) CreateOfferAndMarkDispatching(ctx context.Context, rideID uuid.UUID, driverID string, ttlSeconds int) (*DriverOffer, *Ride, error) {
	args := m.Called(ctx, rideID, driverID, ttlSeconds)
	var offer *DriverOffer
	var ride *Ride
	if v := args.Get(0); v != nil {
		offer = v.(*DriverOffer)
	}
	if v := args.Get(1); v != nil {
		ride = v.(*Ride)
	}
	return offer, ride, args.Error(2)
}

func (m *mockStore) OpenOffer(ctx context.Context, rideID uuid.UUID) (*DriverOffer, error) {
	args := m.Called(ctx, rideID)
	if offer := args.Get(0); offer != nil {
		return offer.(*DriverOffer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) CloseOffer(ctx context.Context, rideID uuid.UUID, driverID string, response OfferResponse) (bool, error) {
	args := m.Called(ctx, rideID, driverID, response)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ExpiredOpenOffers(ctx context.Context) ([]ExpiredOffer, error) {
	args := m.Called(ctx)
	if offers := args.Get(0); offers != nil {
		return offers.([]ExpiredOffer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) TimeoutOffer(ctx context.Context, offerID uuid.UUID) (bool, error) {
	args := m.Called(ctx, offerID)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) TriedDrivers(ctx context.Context, rideID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, rideID)
	if drivers := args.Get(0); drivers != nil {
		return drivers.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockIndex struct{ mock.Mock }

func (m *mockIndex) Radius(ctx context.Context, region string, lat, lng, radiusKm float64, limit int) ([]geoindex.Candidate, error) {
	args := m.Called(ctx, region, lat, lng, radiusKm, limit)
	if c := args.Get(0); c != nil {
		return c.([]geoindex.Candidate), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockIndex) Metadata(ctx context.Context, driverID string) (geoindex.DriverMetadata, error) {
	args := m.Called(ctx, driverID)
	return args.Get(0).(geoindex.DriverMetadata), args.Error(1)
}

func (m *mockIndex) SetStatus(ctx context.Context, driverID string, status geoindex.DriverStatus) error {
	return m.Called(ctx, driverID, status).Error(0)
}

type mockFlags struct{ mock.Mock }

func (m *mockFlags) Enabled(ctx context.Context, tenant, flag string, fallback bool) bool {
	return m.Called(ctx, tenant, flag, fallback).Bool(0)
}

type mockLocks struct{ mock.Mock }

func (m *mockLocks) TryAcquire(ctx context.Context, name string, wait, lease time.Duration) (lock.ReleaseFunc, bool, error) {
	args := m.Called(ctx, name, wait, lease)
	var release lock.ReleaseFunc
	if fn := args.Get(0); fn != nil {
		release = fn.(lock.ReleaseFunc)
	}
	return release, args.Bool(1), args.Error(2)
}

func (m *mockLocks) Sentinel(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, name, ttl)
	return args.Bool(0), args.Error(1)
}

type mockBus struct{ mock.Mock }

func (m *mockBus) Publish(ctx context.Context, subject string, event *eventbus.Event) error {
	return m.Called(ctx, subject, event).Error(0)
}

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{
		SearchRadiusKm: 5.0,
		CandidateLimit: 50,
		MaxAttempts:    3,
		OfferTTL:       15 * time.Second,
		TimeoutSweep:   5 * time.Second,
		LockWait:       2 * time.Second,
		LockLease:      5 * time.Second,
	}
}

func newTestService() (*Service, *mockStore, *mockIndex, *mockFlags, *mockLocks, *mockBus) {
	store := &mockStore{}
	index := &mockIndex{}
	flagStore := &mockFlags{}
	locks := &mockLocks{}
	bus := &mockBus{}
	svc := NewService(store, index, flagStore, locks, bus, testConfig())
	return svc, store, index, flagStore, locks, bus
}

func noopRelease() lock.ReleaseFunc {
	return func(context.Context) {}
}

func idleDriver(tier string, rating, decline float64) geoindex.DriverMetadata {
	return geoindex.DriverMetadata{
		Status:           geoindex.DriverIdle,
		VehicleTier:      tier,
		Rating:           rating,
		RatingKnown:      true,
		DeclineRate:      decline,
		DeclineRateKnown: true,
		Found:            true,
	}
}

func pendingRide(id uuid.UUID) *Ride {
	return &Ride{
		ID:              id,
		RiderID:         "rider-1",
		TenantID:        "default",
		Region:          "istanbul",
		PickupLatitude:  41.01,
		PickupLongitude: 28.98,
		VehicleTier:     TierStandard,
		Status:          StatusPending,
	}
}

func TestCreateRideKillSwitchRejects(t *testing.T) {
	svc, store, _, flagStore, _, _ := newTestService()

	flagStore.On("Enabled", mock.Anything, "acme", flags.DispatchKillSwitch, false).Return(true)

	_, err := svc.CreateRide(context.Background(), "acme", "key-1", &CreateRideRequest{})

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeServiceUnavailable, appErr.ErrorCode)
	store.AssertNotCalled(t, "CreateRide", mock.Anything, mock.Anything)
}

func TestCreateRideIdempotentReplayReturnsExisting(t *testing.T) {
	svc, store, _, flagStore, _, _ := newTestService()

	rideID := uuid.New()
	existing := pendingRide(rideID)
	existing.Status = StatusDispatching

	flagStore.On("Enabled", mock.Anything, "default", flags.DispatchKillSwitch, false).Return(false)
	store.On("FindByIdempotencyKey", mock.Anything, "default", "key-1").Return(existing, nil)

	summary, err := svc.CreateRide(context.Background(), "default", "key-1", &CreateRideRequest{})
	require.NoError(t, err)
	assert.Equal(t, rideID, summary.RideID)
	assert.Equal(t, StatusDispatching, summary.Status)
	store.AssertNotCalled(t, "CreateRide", mock.Anything, mock.Anything)
}

func TestCreateRideDispatchesToTopCandidate(t *testing.T) {
	svc, store, index, flagStore, locks, bus := newTestService()

	rideID := uuid.New()
	ride := pendingRide(rideID)
	dispatched := pendingRide(rideID)
	dispatched.Status = StatusDispatching
	dispatched.AttemptCount = 1

	flagStore.On("Enabled", mock.Anything, "default", flags.DispatchKillSwitch, false).Return(false)
	flagStore.On("Enabled", mock.Anything, "default", flags.NewScoringAlgo, false).Return(false)
	store.On("FindByIdempotencyKey", mock.Anything, "default", "key-1").Return(nil, nil)
	store.On("CreateRide", mock.Anything, mock.AnythingOfType("*dispatch.Ride")).Return(nil)
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// The service generates the ride id itself, so match any id and hand
	// back a fixed ride for every re-read.
	store.On("GetRideByID", mock.Anything, mock.Anything).Return(ride, nil)

	locks.On("TryAcquire", mock.Anything, mock.Anything, 2*time.Second, 5*time.Second).
		Return(noopRelease(), true, nil)
	locks.On("Sentinel", mock.Anything, mock.Anything, 15*time.Second).Return(true, nil)

	index.On("Radius", mock.Anything, "istanbul", 41.01, 28.98, 5.0, 50).Return([]geoindex.Candidate{
		{DriverID: "near", DistanceKm: 0.5},
		{DriverID: "far", DistanceKm: 4.0},
	}, nil)
	index.On("Metadata", mock.Anything, "near").Return(idleDriver("STANDARD", 4.9, 0.02), nil)
	index.On("Metadata", mock.Anything, "far").Return(idleDriver("STANDARD", 4.0, 0.3), nil)
	index.On("SetStatus", mock.Anything, "near", geoindex.DriverDispatching).Return(nil)

	store.On("CreateOfferAndMarkDispatching", mock.Anything, mock.Anything, "near", 15).
		Return(&DriverOffer{ID: uuid.New(), RideID: rideID, DriverID: "near", AttemptNumber: 1, TTLSeconds: 15},
			dispatched, nil)

	req := &CreateRideRequest{
		RiderID: "rider-1", Region: "istanbul",
		PickupLatitude: 41.01, PickupLongitude: 28.98,
		DropoffLatitude: 41.05, DropoffLongitude: 29.0,
		VehicleTier: TierStandard, PaymentMethod: "CARD",
	}
	_, err := svc.CreateRide(context.Background(), "default", "key-1", req)
	require.NoError(t, err)

	store.AssertCalled(t, "CreateOfferAndMarkDispatching", mock.Anything, mock.Anything, "near", 15)
	index.AssertNotCalled(t, "SetStatus", mock.Anything, "far", mock.Anything)
}

func TestDispatchSkipsWhenLockHeldElsewhere(t *testing.T) {
	svc, store, _, _, locks, _ := newTestService()

	rideID := uuid.New()
	locks.On("TryAcquire", mock.Anything, lock.RideDispatchKey(rideID.String()), mock.Anything, mock.Anything).
		Return(nil, false, nil)

	svc.Dispatch(context.Background(), rideID, map[string]struct{}{})

	store.AssertNotCalled(t, "GetRideByID", mock.Anything, mock.Anything)
}

func TestDispatchAttemptCapYieldsNoDriverFound(t *testing.T) {
	svc, store, _, _, locks, bus := newTestService()

	rideID := uuid.New()
	ride := pendingRide(rideID)
	ride.Status = StatusDispatching
	ride.AttemptCount = 3

	locks.On("TryAcquire", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(noopRelease(), true, nil)
	store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)
	store.On("UpdateStatus", mock.Anything, rideID, StatusNoDriverFound,
		[]RideStatus{StatusPending, StatusDispatching}).Return(true, nil)
	bus.On("Publish", mock.Anything, eventbus.SubjectRideNoDriverFound, mock.Anything).Return(nil)

	svc.Dispatch(context.Background(), rideID, map[string]struct{}{})

	store.AssertCalled(t, "UpdateStatus", mock.Anything, rideID, StatusNoDriverFound,
		[]RideStatus{StatusPending, StatusDispatching})
	bus.AssertCalled(t, "Publish", mock.Anything, eventbus.SubjectRideNoDriverFound, mock.Anything)
}

func TestDispatchNoCandidatesYieldsNoDriverFound(t *testing.T) {
	svc, store, index, flagStore, locks, bus := newTestService()

	rideID := uuid.New()
	ride := pendingRide(rideID)

	locks.On("TryAcquire", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(noopRelease(), true, nil)
	store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)
	flagStore.On("Enabled", mock.Anything, "default", flags.NewScoringAlgo, false).Return(false).Maybe()
	index.On("Radius", mock.Anything, "istanbul", 41.01, 28.98, 5.0, 50).Return([]geoindex.Candidate{}, nil)
	store.On("UpdateStatus", mock.Anything, rideID, StatusNoDriverFound,
		[]RideStatus{StatusPending, StatusDispatching}).Return(true, nil)
	bus.On("Publish", mock.Anything, eventbus.SubjectRideNoDriverFound, mock.Anything).Return(nil)

	svc.Dispatch(context.Background(), rideID, map[string]struct{}{})

	store.AssertCalled(t, "UpdateStatus", mock.Anything, rideID, StatusNoDriverFound,
		[]RideStatus{StatusPending, StatusDispatching})
}

func TestDispatchFiltersTriedBusyAndUndersizedDrivers(t *testing.T) {
	svc, store, index, flagStore, locks, bus := newTestService()

	rideID := uuid.New()
	ride := pendingRide(rideID)
	ride.VehicleTier = TierPremium

	locks.On("TryAcquire", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(noopRelease(), true, nil)
	locks.On("Sentinel", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)
	flagStore.On("Enabled", mock.Anything, "default", flags.NewScoringAlgo, false).Return(false)
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	index.On("Radius", mock.Anything, "istanbul", 41.01, 28.98, 5.0, 50).Return([]geoindex.Candidate{
		{DriverID: "tried", DistanceKm: 0.1},
		{DriverID: "busy", DistanceKm: 0.2},
		{DriverID: "economy", DistanceKm: 0.3},
		{DriverID: "eligible", DistanceKm: 2.0},
	}, nil)
	index.On("Metadata", mock.Anything, "busy").Return(geoindex.DriverMetadata{
		Status: geoindex.DriverOnTrip, VehicleTier: "PREMIUM", Found: true,
	}, nil)
	index.On("Metadata", mock.Anything, "economy").Return(idleDriver("ECONOMY", 5.0, 0.01), nil)
	index.On("Metadata", mock.Anything, "eligible").Return(idleDriver("LUXURY", 4.2, 0.1), nil)
	index.On("SetStatus", mock.Anything, "eligible", geoindex.DriverDispatching).Return(nil)

	store.On("CreateOfferAndMarkDispatching", mock.Anything, rideID, "eligible", 15).
		Return(&DriverOffer{ID: uuid.New(), RideID: rideID, DriverID: "eligible", AttemptNumber: 1, TTLSeconds: 15},
			ride, nil)

	svc.Dispatch(context.Background(), rideID, map[string]struct{}{"tried": {}})

	// The tried driver's metadata is never even fetched.
	index.AssertNotCalled(t, "Metadata", mock.Anything, "tried")
	store.AssertCalled(t, "CreateOfferAndMarkDispatching", mock.Anything, rideID, "eligible", 15)
}

func TestAcceptVersionConflict(t *testing.T) {
	svc, store, _, _, _, _ := newTestService()

	rideID := uuid.New()
	ride := pendingRide(rideID)
	ride.Status = StatusDispatching
	ride.Version = 4

	store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)
	store.On("TryAcceptRide", mock.Anything, rideID, "slow-driver", int64(4)).Return(false, nil)

	_, err := svc.Accept(context.Background(), rideID, "slow-driver")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeRideAlreadyAccepted, appErr.ErrorCode)
}

func TestAcceptAlreadyAcceptedRide(t *testing.T) {
	svc, store, _, _, _, _ := newTestService()

	rideID := uuid.New()
	winner := "winner"
	ride := pendingRide(rideID)
	ride.Status = StatusAccepted
	ride.AssignedDriverID = &winner

	store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)

	_, err := svc.Accept(context.Background(), rideID, "loser")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeRideAlreadyAccepted, appErr.ErrorCode)
	store.AssertNotCalled(t, "TryAcceptRide", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptWin(t *testing.T) {
	svc, store, index, _, _, bus := newTestService()

	rideID := uuid.New()
	ride := pendingRide(rideID)
	ride.Status = StatusDispatching
	ride.Version = 2

	store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)
	store.On("TryAcceptRide", mock.Anything, rideID, "d1", int64(2)).Return(true, nil)
	store.On("CloseOffer", mock.Anything, rideID, "d1", OfferAccepted).Return(true, nil)
	index.On("SetStatus", mock.Anything, "d1", geoindex.DriverOnTrip).Return(nil)
	bus.On("Publish", mock.Anything, eventbus.SubjectRideAccepted, mock.Anything).Return(nil)

	summary, err := svc.Accept(context.Background(), rideID, "d1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, summary.Status)
	require.NotNil(t, summary.AssignedDriverID)
	assert.Equal(t, "d1", *summary.AssignedDriverID)
}

func TestDeclineNeverReoffersSameDriver(t *testing.T) {
	svc, store, index, flagStore, locks, bus := newTestService()

	rideID := uuid.New()
	ride := pendingRide(rideID)
	ride.Status = StatusDispatching
	ride.AttemptCount = 1

	store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)
	store.On("CloseOffer", mock.Anything, rideID, "d1", OfferDeclined).Return(true, nil)
	store.On("TriedDrivers", mock.Anything, rideID).Return([]string{"d1"}, nil)
	index.On("SetStatus", mock.Anything, "d1", geoindex.DriverIdle).Return(nil)
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	flagStore.On("Enabled", mock.Anything, "default", flags.NewScoringAlgo, false).Return(false)

	locks.On("TryAcquire", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(noopRelease(), true, nil)
	locks.On("Sentinel", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	index.On("Radius", mock.Anything, "istanbul", 41.01, 28.98, 5.0, 50).Return([]geoindex.Candidate{
		{DriverID: "d1", DistanceKm: 0.1}, // the decliner, still closest
		{DriverID: "d2", DistanceKm: 1.0},
	}, nil)
	index.On("Metadata", mock.Anything, "d2").Return(idleDriver("STANDARD", 4.5, 0.05), nil)
	index.On("SetStatus", mock.Anything, "d2", geoindex.DriverDispatching).Return(nil)

	store.On("CreateOfferAndMarkDispatching", mock.Anything, rideID, "d2", 15).
		Return(&DriverOffer{ID: uuid.New(), RideID: rideID, DriverID: "d2", AttemptNumber: 2, TTLSeconds: 15},
			ride, nil)

	_, err := svc.Decline(context.Background(), rideID, "d1")
	require.NoError(t, err)

	index.AssertNotCalled(t, "Metadata", mock.Anything, "d1")
	store.AssertCalled(t, "CreateOfferAndMarkDispatching", mock.Anything, rideID, "d2", 15)
}

func TestDriverArrivedGuards(t *testing.T) {
	svc, store, _, _, _, _ := newTestService()

	rideID := uuid.New()
	assigned := "d1"

	t.Run("wrong state", func(t *testing.T) {
		ride := pendingRide(rideID)
		ride.Status = StatusDispatching
		store.ExpectedCalls = nil
		store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)

		_, err := svc.DriverArrived(context.Background(), rideID, "d1")
		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeInvalidState, appErr.ErrorCode)
	})

	t.Run("wrong driver", func(t *testing.T) {
		ride := pendingRide(rideID)
		ride.Status = StatusAccepted
		ride.AssignedDriverID = &assigned
		store.ExpectedCalls = nil
		store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)

		_, err := svc.DriverArrived(context.Background(), rideID, "imposter")
		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorizedDriver, appErr.ErrorCode)
	})
}

func TestCancelInProgressFails(t *testing.T) {
	svc, store, _, _, _, _ := newTestService()

	rideID := uuid.New()
	ride := pendingRide(rideID)
	ride.Status = StatusInProgress

	store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)

	_, err := svc.Cancel(context.Background(), rideID, "rider-1")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeCannotCancel, appErr.ErrorCode)
}

func TestCancelBeforePickupSucceeds(t *testing.T) {
	svc, store, index, _, _, bus := newTestService()

	rideID := uuid.New()
	assigned := "d1"
	ride := pendingRide(rideID)
	ride.Status = StatusAccepted
	ride.AssignedDriverID = &assigned

	store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)
	store.On("UpdateStatus", mock.Anything, rideID, StatusCancelled,
		[]RideStatus{StatusPending, StatusDispatching, StatusAccepted, StatusDriverArrived}).Return(true, nil)
	index.On("SetStatus", mock.Anything, "d1", geoindex.DriverIdle).Return(nil)
	bus.On("Publish", mock.Anything, eventbus.SubjectRideCancelled, mock.Anything).Return(nil)

	summary, err := svc.Cancel(context.Background(), rideID, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, summary.Status)
}

func TestTimeoutSchedulerSeedsTriedSetAndRedispatches(t *testing.T) {
	svc, store, index, flagStore, locks, bus := newTestService()

	rideID := uuid.New()
	offerID := uuid.New()
	ride := pendingRide(rideID)
	ride.Status = StatusDispatching
	ride.AttemptCount = 1

	store.On("ExpiredOpenOffers", mock.Anything).Return([]ExpiredOffer{
		{OfferID: offerID, RideID: rideID, DriverID: "slow"},
	}, nil)
	store.On("TimeoutOffer", mock.Anything, offerID).Return(true, nil)
	store.On("TriedDrivers", mock.Anything, rideID).Return([]string{"slow"}, nil)
	store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)
	flagStore.On("Enabled", mock.Anything, "default", flags.NewScoringAlgo, false).Return(false)
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	locks.On("TryAcquire", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(noopRelease(), true, nil)
	locks.On("Sentinel", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	index.On("Radius", mock.Anything, "istanbul", 41.01, 28.98, 5.0, 50).Return([]geoindex.Candidate{
		{DriverID: "slow", DistanceKm: 0.1},
		{DriverID: "fresh", DistanceKm: 0.9},
	}, nil)
	index.On("Metadata", mock.Anything, "fresh").Return(idleDriver("STANDARD", 4.7, 0.03), nil)
	index.On("SetStatus", mock.Anything, "fresh", geoindex.DriverDispatching).Return(nil)
	store.On("CreateOfferAndMarkDispatching", mock.Anything, rideID, "fresh", 15).
		Return(&DriverOffer{ID: uuid.New(), RideID: rideID, DriverID: "fresh", AttemptNumber: 2, TTLSeconds: 15},
			ride, nil)

	scheduler := NewTimeoutScheduler(svc, store, time.Second)
	scheduler.sweep(context.Background())

	index.AssertNotCalled(t, "Metadata", mock.Anything, "slow")
	store.AssertCalled(t, "CreateOfferAndMarkDispatching", mock.Anything, rideID, "fresh", 15)
}

func TestTimeoutSchedulerSkipsAnsweredOffers(t *testing.T) {
	svc, store, _, _, locks, _ := newTestService()

	offerID := uuid.New()
	rideID := uuid.New()

	store.On("ExpiredOpenOffers", mock.Anything).Return([]ExpiredOffer{
		{OfferID: offerID, RideID: rideID, DriverID: "d1"},
	}, nil)
	// The driver answered between scan and close.
	store.On("TimeoutOffer", mock.Anything, offerID).Return(false, nil)

	scheduler := NewTimeoutScheduler(svc, store, time.Second)
	scheduler.sweep(context.Background())

	locks.AssertNotCalled(t, "TryAcquire", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchReturnsSilentlyOnAcceptedRide(t *testing.T) {
	svc, store, index, _, locks, _ := newTestService()

	rideID := uuid.New()
	ride := pendingRide(rideID)
	ride.Status = StatusAccepted

	locks.On("TryAcquire", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(noopRelease(), true, nil)
	store.On("GetRideByID", mock.Anything, rideID).Return(ride, nil)

	svc.Dispatch(context.Background(), rideID, map[string]struct{}{})

	index.AssertNotCalled(t, "Radius", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateRideDuplicateKeyRaceReturnsWinner(t *testing.T) {
	svc, store, _, flagStore, _, _ := newTestService()

	rideID := uuid.New()
	winner := pendingRide(rideID)
	winner.Status = StatusDispatching

	flagStore.On("Enabled", mock.Anything, "default", flags.DispatchKillSwitch, false).Return(false)
	store.On("FindByIdempotencyKey", mock.Anything, "default", "key-1").Return(nil, nil).Once()
	store.On("CreateRide", mock.Anything, mock.Anything).Return(ErrDuplicateIdempotencyKey)
	store.On("FindByIdempotencyKey", mock.Anything, "default", "key-1").Return(winner, nil).Once()

	summary, err := svc.CreateRide(context.Background(), "default", "key-1", &CreateRideRequest{})
	require.NoError(t, err)
	assert.Equal(t, rideID, summary.RideID)
}
