package surge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/ridepulse/ridepulse/internal/flags"
	"github.com/ridepulse/ridepulse/pkg/config"
	"github.com/ridepulse/ridepulse/pkg/eventbus"
	redisclient "github.com/ridepulse/ridepulse/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAudit struct{ mock.Mock }

func (m *mockAudit) UpsertCell(ctx context.Context, cell CellAudit) error {
	return m.Called(ctx, cell).Error(0)
}

func (m *mockAudit) GetCell(ctx context.Context, cellID string) (*CellAudit, error) {
	args := m.Called(ctx, cellID)
	if c := args.Get(0); c != nil {
		return c.(*CellAudit), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSurgeFlags struct{ mock.Mock }

func (m *mockSurgeFlags) Enabled(ctx context.Context, tenant, flag string, fallback bool) bool {
	return m.Called(ctx, tenant, flag, fallback).Bool(0)
}

func surgeTestConfig() config.SurgeConfig {
	return config.SurgeConfig{
		Window:   5 * time.Minute,
		CacheTTL: 10 * time.Second,
		Factor:   0.5,
		Max:      3.0,
	}
}

func newSurgeService(t *testing.T) (*Service, redismock.ClientMock, *mockAudit, *mockSurgeFlags) {
	t.Helper()
	db, redisMock := redismock.NewClientMock()
	audit := &mockAudit{}
	flagStore := &mockSurgeFlags{}
	svc := NewService(redisclient.Wrap(db), audit, flagStore, surgeTestConfig())
	return svc, redisMock, audit, flagStore
}

func TestRecordSnapshotFoldsWindowAndCaches(t *testing.T) {
	svc, redisMock, audit, _ := newSurgeService(t)

	ts := int64(1_700_000_000_000)
	observedAt := time.UnixMilli(ts)
	data := &eventbus.SupplyDemandSnapshotData{
		CellID:         "88c2e30881fffff",
		Region:         "istanbul",
		DriverCount:    2,
		OpenRideCount:  4,
		ObservedAtUnix: ts,
		ObservedAt:     observedAt,
	}

	windowKey := "surge:window:88c2e30881fffff"
	member := fmt.Sprintf("%d:2:4", ts)

	redisMock.ExpectZAdd(windowKey, redis.Z{Score: float64(ts), Member: member}).SetVal(1)
	redisMock.ExpectExpire(windowKey, 5*time.Minute+60*time.Second).SetVal(true)
	redisMock.ExpectZRemRangeByScore(windowKey, "0", fmt.Sprintf("%f", float64(ts-300_000))).SetVal(0)
	redisMock.ExpectZRangeWithScores(windowKey, 0, -1).SetVal([]redis.Z{
		{Score: float64(ts), Member: member},
	})
	// 4 rides over 2 drivers: ratio 2 -> 1 + 0.5*(2-1) = 1.5
	redisMock.ExpectSet("surge:cell:88c2e30881fffff", "1.5000", 10*time.Second).SetVal("OK")

	audit.On("UpsertCell", mock.Anything, mock.MatchedBy(func(cell CellAudit) bool {
		return cell.CellID == data.CellID && cell.SurgeFactor == 1.5 && cell.Region == "istanbul"
	})).Return(nil)

	require.NoError(t, svc.RecordSnapshot(context.Background(), data))
	require.NoError(t, redisMock.ExpectationsWereMet())
	audit.AssertExpectations(t)
}

func TestGetDisabledTenantIsNeutral(t *testing.T) {
	svc, redisMock, _, flagStore := newSurgeService(t)

	flagStore.On("Enabled", mock.Anything, "acme", flags.SurgePricingEnabled, true).Return(false)

	quote := svc.Get(context.Background(), "acme", "88c")
	assert.Equal(t, 1.0, quote.Factor)
	assert.Equal(t, "disabled", quote.Source)
	require.NoError(t, redisMock.ExpectationsWereMet())
}

func TestGetServesFromCache(t *testing.T) {
	svc, redisMock, _, flagStore := newSurgeService(t)

	flagStore.On("Enabled", mock.Anything, "default", flags.SurgePricingEnabled, true).Return(true)
	redisMock.ExpectGet("surge:cell:88c").SetVal("1.7500")

	quote := svc.Get(context.Background(), "default", "88c")
	assert.Equal(t, 1.75, quote.Factor)
	assert.Equal(t, "cache", quote.Source)
	require.NoError(t, redisMock.ExpectationsWereMet())
}

func TestGetRecomputesFromWindowOnCacheMiss(t *testing.T) {
	svc, redisMock, _, flagStore := newSurgeService(t)

	flagStore.On("Enabled", mock.Anything, "default", flags.SurgePricingEnabled, true).Return(true)
	redisMock.ExpectGet("surge:cell:88c").RedisNil()

	// Demand exactly twice supply in every sample, so the weighted ratio is
	// 2 regardless of sample age: factor 1.5.
	now := time.Now().UnixMilli()
	redisMock.ExpectZRangeWithScores("surge:window:88c", 0, -1).SetVal([]redis.Z{
		{Score: float64(now - 1000), Member: fmt.Sprintf("%d:3:6", now-1000)},
		{Score: float64(now), Member: fmt.Sprintf("%d:5:10", now)},
	})
	redisMock.ExpectSet("surge:cell:88c", "1.5000", 10*time.Second).SetVal("OK")

	quote := svc.Get(context.Background(), "default", "88c")
	assert.InDelta(t, 1.5, quote.Factor, 1e-9)
	assert.Equal(t, "window", quote.Source)
	require.NoError(t, redisMock.ExpectationsWereMet())
}

func TestGetFallsBackToAuditRow(t *testing.T) {
	svc, redisMock, audit, flagStore := newSurgeService(t)

	flagStore.On("Enabled", mock.Anything, "default", flags.SurgePricingEnabled, true).Return(true)
	redisMock.ExpectGet("surge:cell:88c").RedisNil()
	redisMock.ExpectZRangeWithScores("surge:window:88c", 0, -1).SetVal(nil)
	audit.On("GetCell", mock.Anything, "88c").Return(&CellAudit{CellID: "88c", SurgeFactor: 2.25}, nil)

	quote := svc.Get(context.Background(), "default", "88c")
	assert.Equal(t, 2.25, quote.Factor)
	assert.Equal(t, "audit", quote.Source)
}

func TestGetDefaultsToNeutralWhenNothingKnown(t *testing.T) {
	svc, redisMock, audit, flagStore := newSurgeService(t)

	flagStore.On("Enabled", mock.Anything, "default", flags.SurgePricingEnabled, true).Return(true)
	redisMock.ExpectGet("surge:cell:unknown").RedisNil()
	redisMock.ExpectZRangeWithScores("surge:window:unknown", 0, -1).SetVal(nil)
	audit.On("GetCell", mock.Anything, "unknown").Return(nil, nil)

	quote := svc.Get(context.Background(), "default", "unknown")
	assert.Equal(t, 1.0, quote.Factor)
	assert.Equal(t, "default", quote.Source)
}

func TestParseMember(t *testing.T) {
	obs, ok := parseMember("1700000000000:3:7")
	require.True(t, ok)
	assert.Equal(t, 3, obs.DriverCount)
	assert.Equal(t, 7, obs.OpenRideCount)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), obs.ObservedAt)

	_, ok = parseMember("garbage")
	assert.False(t, ok)
	_, ok = parseMember("a:b:c")
	assert.False(t, ok)
}
