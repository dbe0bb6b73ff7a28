package surge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ridepulse/ridepulse/internal/flags"
	"github.com/ridepulse/ridepulse/pkg/config"
	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/ridepulse/ridepulse/pkg/logger"
	redisclient "github.com/ridepulse/ridepulse/pkg/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	cacheKeyPrefix  = "surge:cell:"
	windowKeyPrefix = "surge:window:"

	// windowGrace keeps the zset alive a bit past the window so the trim
	// logic, not key expiry, decides what drops out.
	windowGrace = 60 * time.Second
)

// CellAudit is the last computed factor for a cell, persisted for fallback
// reads when Redis has nothing.
type CellAudit struct {
	CellID        string    `json:"cell_id"`
	Region        string    `json:"region"`
	SurgeFactor   float64   `json:"surge_factor"`
	DriverCount   int       `json:"driver_count"`
	OpenRideCount int       `json:"open_ride_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AuditStore persists per-cell surge state.
type AuditStore interface {
	UpsertCell(ctx context.Context, cell CellAudit) error
	GetCell(ctx context.Context, cellID string) (*CellAudit, error)
}

// FlagStore resolves per-tenant feature flags.
type FlagStore interface {
	Enabled(ctx context.Context, tenant, flag string, fallback bool) bool
}

// Quote is a surge lookup result. Source says where the factor came from:
// cache, window, audit or default.
type Quote struct {
	CellID string  `json:"cell_id"`
	Factor float64 `json:"factor"`
	Source string  `json:"source"`
}

// Service ingests supply/demand snapshots and serves surge factors per cell.
type Service struct {
	redis *redisclient.Client
	audit AuditStore
	flags FlagStore
	cfg   config.SurgeConfig
}

// NewService creates a surge service.
func NewService(redis *redisclient.Client, audit AuditStore, flagStore FlagStore, cfg config.SurgeConfig) *Service {
	return &Service{redis: redis, audit: audit, flags: flagStore, cfg: cfg}
}

// RecordSnapshot folds one supply/demand sample into the cell's window,
// recomputes the factor and refreshes cache and audit row. A fresh cell with
// no window history gets the instantaneous factor so pricing never waits for
// the window to fill.
func (s *Service) RecordSnapshot(ctx context.Context, data *eventbus.SupplyDemandSnapshotData) error {
	windowKey := windowKeyPrefix + data.CellID
	member := fmt.Sprintf("%d:%d:%d", data.ObservedAtUnix, data.DriverCount, data.OpenRideCount)

	if err := s.redis.SortedSetAdd(ctx, windowKey, float64(data.ObservedAtUnix), member); err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	if err := s.redis.Expire(ctx, windowKey, s.cfg.Window+windowGrace); err != nil {
		logger.WarnContext(ctx, "window expire failed", zap.String("cell_id", data.CellID), zap.Error(err))
	}

	cutoff := data.ObservedAtUnix - s.cfg.Window.Milliseconds()
	if err := s.redis.SortedSetTrimBelow(ctx, windowKey, float64(cutoff)); err != nil {
		logger.WarnContext(ctx, "window trim failed", zap.String("cell_id", data.CellID), zap.Error(err))
	}

	factor := Instant(data.DriverCount, data.OpenRideCount, s.cfg.Factor, s.cfg.Max)
	if obs, err := s.windowObservations(ctx, data.CellID); err == nil && len(obs) > 0 {
		factor = Compute(obs, data.ObservedAt, s.cfg.Window, s.cfg.Factor, s.cfg.Max)
	}

	if err := s.cacheFactor(ctx, data.CellID, factor); err != nil {
		logger.WarnContext(ctx, "surge cache write failed", zap.String("cell_id", data.CellID), zap.Error(err))
	}

	if err := s.audit.UpsertCell(ctx, CellAudit{
		CellID:        data.CellID,
		Region:        data.Region,
		SurgeFactor:   factor,
		DriverCount:   data.DriverCount,
		OpenRideCount: data.OpenRideCount,
		UpdatedAt:     data.ObservedAt,
	}); err != nil {
		logger.WarnContext(ctx, "surge audit write failed", zap.String("cell_id", data.CellID), zap.Error(err))
	}

	surgeFactorGauge.WithLabelValues(data.Region).Set(factor)
	snapshotsIngestedTotal.Inc()
	return nil
}

// Get resolves the surge factor for a cell. Lookup order: tenant flag, cache,
// window recompute, audit row, neutral 1.0.
func (s *Service) Get(ctx context.Context, tenantID, cellID string) Quote {
	if !s.flags.Enabled(ctx, tenantID, flags.SurgePricingEnabled, true) {
		return Quote{CellID: cellID, Factor: 1.0, Source: "disabled"}
	}

	if cached, err := s.redis.GetString(ctx, cacheKeyPrefix+cellID); err == nil {
		if factor, perr := strconv.ParseFloat(cached, 64); perr == nil {
			lookupsTotal.WithLabelValues("cache").Inc()
			return Quote{CellID: cellID, Factor: factor, Source: "cache"}
		}
	} else if !errors.Is(err, redis.Nil) {
		logger.WarnContext(ctx, "surge cache read failed", zap.String("cell_id", cellID), zap.Error(err))
	}

	if obs, err := s.windowObservations(ctx, cellID); err == nil && len(obs) > 0 {
		factor := Compute(obs, time.Now(), s.cfg.Window, s.cfg.Factor, s.cfg.Max)
		if err := s.cacheFactor(ctx, cellID, factor); err != nil {
			logger.WarnContext(ctx, "surge cache write failed", zap.String("cell_id", cellID), zap.Error(err))
		}
		lookupsTotal.WithLabelValues("window").Inc()
		return Quote{CellID: cellID, Factor: factor, Source: "window"}
	}

	if cell, err := s.audit.GetCell(ctx, cellID); err == nil && cell != nil {
		lookupsTotal.WithLabelValues("audit").Inc()
		return Quote{CellID: cellID, Factor: cell.SurgeFactor, Source: "audit"}
	}

	lookupsTotal.WithLabelValues("default").Inc()
	return Quote{CellID: cellID, Factor: 1.0, Source: "default"}
}

func (s *Service) cacheFactor(ctx context.Context, cellID string, factor float64) error {
	return s.redis.SetWithExpiration(ctx, cacheKeyPrefix+cellID, strconv.FormatFloat(factor, 'f', 4, 64), s.cfg.CacheTTL)
}

func (s *Service) windowObservations(ctx context.Context, cellID string) ([]Observation, error) {
	entries, err := s.redis.SortedSetRangeWithScores(ctx, windowKeyPrefix+cellID)
	if err != nil {
		return nil, err
	}

	obs := make([]Observation, 0, len(entries))
	for _, entry := range entries {
		member, ok := entry.Member.(string)
		if !ok {
			continue
		}
		o, ok := parseMember(member)
		if !ok {
			continue
		}
		obs = append(obs, o)
	}
	return obs, nil
}

// parseMember decodes "unixMilli:drivers:rides".
func parseMember(member string) (Observation, bool) {
	parts := strings.Split(member, ":")
	if len(parts) != 3 {
		return Observation{}, false
	}
	ts, err1 := strconv.ParseInt(parts[0], 10, 64)
	drivers, err2 := strconv.Atoi(parts[1])
	rides, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return Observation{}, false
	}
	return Observation{
		DriverCount:   drivers,
		OpenRideCount: rides,
		ObservedAt:    time.UnixMilli(ts),
	}, true
}
