package flags

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	redisclient "github.com/ridepulse/ridepulse/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return NewStore(redisclient.Wrap(db)), mock
}

func TestEnabledTenantValueWins(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectHGet("feature-flags:acme", DispatchKillSwitch).SetVal("true")

	assert.True(t, store.Enabled(context.Background(), "acme", DispatchKillSwitch, false))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnabledFallsBackToGlobal(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectHGet("feature-flags:acme", SurgePricingEnabled).RedisNil()
	mock.ExpectHGet("feature-flags:global", SurgePricingEnabled).SetVal("false")

	assert.False(t, store.Enabled(context.Background(), "acme", SurgePricingEnabled, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnabledFallsBackToCallerDefault(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectHGet("feature-flags:acme", NewScoringAlgo).RedisNil()
	mock.ExpectHGet("feature-flags:global", NewScoringAlgo).RedisNil()

	assert.True(t, store.Enabled(context.Background(), "acme", NewScoringAlgo, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnabledGlobalTenantSkipsDoubleLookup(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectHGet("feature-flags:global", AutoPaymentCharge).RedisNil()

	assert.False(t, store.Enabled(context.Background(), GlobalTenant, AutoPaymentCharge, false))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnabledTreatsMalformedValueAsMissing(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectHGet("feature-flags:acme", SurgePricingEnabled).SetVal("maybe")
	mock.ExpectHGet("feature-flags:global", SurgePricingEnabled).RedisNil()

	assert.True(t, store.Enabled(context.Background(), "acme", SurgePricingEnabled, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetWritesFieldAndRefreshesTTL(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectHSet("feature-flags:acme", DispatchKillSwitch, "true").SetVal(1)
	mock.ExpectExpire("feature-flags:acme", defaultTTL).SetVal(true)

	require.NoError(t, store.Set(context.Background(), "acme", DispatchKillSwitch, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitDefaultsOnlyWritesMissingFields(t *testing.T) {
	store, mock := newTestStore(t)
	mock.MatchExpectationsInOrder(false)

	for flag, value := range Defaults {
		// HSETNX is a no-op for fields that already exist
		mock.ExpectHSetNX("feature-flags:acme", flag, boolString(value)).SetVal(false)
	}
	mock.ExpectExpire("feature-flags:acme", defaultTTL).SetVal(true)

	require.NoError(t, store.InitDefaults(context.Background(), "acme"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllParsesFlags(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectHGetAll("feature-flags:acme").SetVal(map[string]string{
		SurgePricingEnabled: "true",
		DispatchKillSwitch:  "false",
		"garbage":           "nope",
	})

	flags, err := store.All(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{
		SurgePricingEnabled: true,
		DispatchKillSwitch:  false,
	}, flags)
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
