package lock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redisclient "github.com/ridepulse/ridepulse/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return NewLocker(redisclient.Wrap(db)), mock
}

func TestTryAcquireSucceedsFirstAttempt(t *testing.T) {
	locker, mock := newTestLocker(t)

	mock.Regexp().ExpectSetNX("lock:ride:r1", `.+`, 5*time.Second).SetVal(true)

	release, acquired, err := locker.TryAcquire(context.Background(), "lock:ride:r1", 2*time.Second, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.NotNil(t, release)
}

func TestTryAcquireGivesUpAfterWait(t *testing.T) {
	locker, mock := newTestLocker(t)
	mock.MatchExpectationsInOrder(false)

	// Every poll sees the lock held by someone else.
	for i := 0; i < 10; i++ {
		mock.Regexp().ExpectSetNX("lock:ride:r1", `.+`, time.Second).SetVal(false)
	}

	start := time.Now()
	release, acquired, err := locker.TryAcquire(context.Background(), "lock:ride:r1", 300*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.Nil(t, release)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestTryAcquireSucceedsAfterContention(t *testing.T) {
	locker, mock := newTestLocker(t)

	mock.Regexp().ExpectSetNX("lock:ride:r1", `.+`, time.Second).SetVal(false)
	mock.Regexp().ExpectSetNX("lock:ride:r1", `.+`, time.Second).SetVal(true)

	_, acquired, err := locker.TryAcquire(context.Background(), "lock:ride:r1", time.Second, time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestTryAcquireHonoursContextCancellation(t *testing.T) {
	locker, mock := newTestLocker(t)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 10; i++ {
		mock.Regexp().ExpectSetNX("lock:ride:r1", `.+`, time.Second).SetVal(false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, acquired, err := locker.TryAcquire(ctx, "lock:ride:r1", 5*time.Second, time.Second)
	assert.False(t, acquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSentinelNeverReleased(t *testing.T) {
	locker, mock := newTestLocker(t)

	key := OfferSentinelKey("r1", "d1")
	mock.ExpectSetNX(key, "1", 15*time.Second).SetVal(true)
	mock.ExpectExists(key).SetVal(1)

	acquired, err := locker.Sentinel(context.Background(), key, 15*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)

	held, err := locker.SentinelHeld(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, held)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "lock:ride:abc", RideDispatchKey("abc"))
	assert.Equal(t, "offer:ttl:abc:d9", OfferSentinelKey("abc", "d9"))
}
