package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ridepulse/ridepulse/pkg/logger"
	redisclient "github.com/ridepulse/ridepulse/pkg/redis"
	"go.uber.org/zap"
)

// pollInterval is how often TryAcquire re-attempts SET NX while waiting.
const pollInterval = 100 * time.Millisecond

// releaseScript deletes the lock only when the caller still holds it, so a
// slow worker cannot release a lease that has already expired and been
// re-acquired by someone else.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// ReleaseFunc releases a held lock. Safe to call once; errors are logged,
// not returned, because the lease expires on its own anyway.
type ReleaseFunc func(ctx context.Context)

// Locker implements named mutexes over Redis single-writer SET NX PX
// semantics. There is no watchdog renewal: a crashed holder frees the lock
// when the lease expires.
type Locker struct {
	redis *redisclient.Client
}

// NewLocker creates a Locker.
func NewLocker(redis *redisclient.Client) *Locker {
	return &Locker{redis: redis}
}

// TryAcquire attempts to take the named lock, polling for up to wait. The
// lock auto-expires after lease. Returns false without error when another
// holder keeps the lock for the whole wait window.
func (l *Locker) TryAcquire(ctx context.Context, name string, wait, lease time.Duration) (ReleaseFunc, bool, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(wait)

	for {
		acquired, err := l.redis.SetIfAbsent(ctx, name, token, lease)
		if err != nil {
			return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if acquired {
			return l.releaseFunc(name, token), true, nil
		}

		if time.Now().After(deadline) {
			return nil, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (l *Locker) releaseFunc(name, token string) ReleaseFunc {
	return func(ctx context.Context) {
		if err := l.redis.Eval(ctx, releaseScript, []string{name}, token).Err(); err != nil {
			logger.WarnContext(ctx, "lock release failed, lease will expire",
				zap.String("lock", name),
				zap.Error(err),
			)
		}
	}
}

// Sentinel takes the named key for exactly ttl and never releases it. Its
// existence signals that some window (an open driver offer) is still active.
func (l *Locker) Sentinel(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	acquired, err := l.redis.SetIfAbsent(ctx, name, "1", ttl)
	if err != nil {
		return false, fmt.Errorf("acquire sentinel %s: %w", name, err)
	}
	return acquired, nil
}

// SentinelHeld reports whether the sentinel key still exists.
func (l *Locker) SentinelHeld(ctx context.Context, name string) (bool, error) {
	return l.redis.Exists(ctx, name)
}

// RideDispatchKey is the mutex name serializing dispatch attempts per ride.
func RideDispatchKey(rideID string) string {
	return "lock:ride:" + rideID
}

// OfferSentinelKey is the sentinel marking an open offer window.
func OfferSentinelKey(rideID, driverID string) string {
	return fmt.Sprintf("offer:ttl:%s:%s", rideID, driverID)
}
