package flags

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ridepulse/ridepulse/pkg/logger"
	redisclient "github.com/ridepulse/ridepulse/pkg/redis"
	"go.uber.org/zap"
)

// Recognized flags. Adding a flag is a code change; unknown names resolve to
// the caller-supplied default.
const (
	SurgePricingEnabled = "surge_pricing_enabled"
	AutoPaymentCharge   = "auto_payment_charge"
	NewScoringAlgo      = "new_scoring_algo"
	DispatchKillSwitch  = "dispatch_kill_switch"
	RealTimeTracking    = "real_time_tracking"
)

// GlobalTenant is the fallback namespace consulted when a tenant has no
// explicit value for a flag.
const GlobalTenant = "global"

const (
	keyPrefix  = "feature-flags:"
	defaultTTL = 365 * 24 * time.Hour
)

// Defaults applied by InitDefaults for fields not already present.
var Defaults = map[string]bool{
	SurgePricingEnabled: true,
	AutoPaymentCharge:   true,
	NewScoringAlgo:      false,
	DispatchKillSwitch:  false,
	RealTimeTracking:    true,
}

// Store reads and writes per-tenant boolean flags backed by Redis hashes.
// Reads are best-effort: a Redis error resolves to the caller's default.
type Store struct {
	redis *redisclient.Client
}

// NewStore creates a flag store.
func NewStore(redis *redisclient.Client) *Store {
	return &Store{redis: redis}
}

func tenantKey(tenant string) string {
	return keyPrefix + tenant
}

// Enabled resolves a flag with the lookup order: per-tenant value, global
// tenant value, caller-supplied default.
func (s *Store) Enabled(ctx context.Context, tenant, flag string, fallback bool) bool {
	if value, ok := s.lookup(ctx, tenant, flag); ok {
		return value
	}
	if tenant != GlobalTenant {
		if value, ok := s.lookup(ctx, GlobalTenant, flag); ok {
			return value
		}
	}
	return fallback
}

func (s *Store) lookup(ctx context.Context, tenant, flag string) (bool, bool) {
	raw, err := s.redis.HashGetField(ctx, tenantKey(tenant), flag)
	if err != nil {
		if err != redis.Nil {
			logger.WarnContext(ctx, "flag lookup failed",
				zap.String("tenant", tenant),
				zap.String("flag", flag),
				zap.Error(err),
			)
		}
		return false, false
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return value, true
}

// Set writes a flag value for a tenant and refreshes the hash TTL.
func (s *Store) Set(ctx context.Context, tenant, flag string, value bool) error {
	key := tenantKey(tenant)
	if err := s.redis.HashSetField(ctx, key, flag, strconv.FormatBool(value)); err != nil {
		return fmt.Errorf("set flag %s for %s: %w", flag, tenant, err)
	}
	if err := s.redis.Expire(ctx, key, defaultTTL); err != nil {
		return fmt.Errorf("expire flags for %s: %w", tenant, err)
	}
	return nil
}

// InitDefaults writes default values for any flags the tenant is missing.
// Existing fields are left untouched.
func (s *Store) InitDefaults(ctx context.Context, tenant string) error {
	key := tenantKey(tenant)

	for flag, value := range Defaults {
		if err := s.redis.HashSetFieldNX(ctx, key, flag, strconv.FormatBool(value)); err != nil {
			return fmt.Errorf("init flag %s for %s: %w", flag, tenant, err)
		}
	}

	if err := s.redis.Expire(ctx, key, defaultTTL); err != nil {
		return fmt.Errorf("expire flags for %s: %w", tenant, err)
	}

	logger.Info("feature flag defaults ensured", zap.String("tenant", tenant))
	return nil
}

// All returns every flag currently set for a tenant.
func (s *Store) All(ctx context.Context, tenant string) (map[string]bool, error) {
	raw, err := s.redis.HashGetAll(ctx, tenantKey(tenant))
	if err != nil {
		return nil, fmt.Errorf("read flags for %s: %w", tenant, err)
	}

	flags := make(map[string]bool, len(raw))
	for name, value := range raw {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			continue
		}
		flags[name] = parsed
	}
	return flags, nil
}
