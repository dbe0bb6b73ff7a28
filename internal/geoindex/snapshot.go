package geoindex

import (
	"context"
	"time"

	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/ridepulse/ridepulse/pkg/geo"
	"github.com/ridepulse/ridepulse/pkg/logger"
	"go.uber.org/zap"
)

// RidePoint locates one open (PENDING or DISPATCHING) ride.
type RidePoint struct {
	Latitude  float64
	Longitude float64
	Region    string
	TenantID  string
}

// OpenRideLocator supplies pickup points of rides still waiting for a driver.
// The dispatch repository implements it.
type OpenRideLocator interface {
	OpenRideLocations(ctx context.Context) ([]RidePoint, error)
}

// SnapshotPublisher emits a supply/demand observation per active cell every
// interval. The surge calculator consumes these.
type SnapshotPublisher struct {
	index    *Index
	rides    OpenRideLocator
	bus      eventbus.Publisher
	interval time.Duration
	source   string
}

// NewSnapshotPublisher creates a publisher; interval should match the surge
// cache TTL (10s).
func NewSnapshotPublisher(index *Index, rides OpenRideLocator, bus eventbus.Publisher, interval time.Duration) *SnapshotPublisher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &SnapshotPublisher{
		index:    index,
		rides:    rides,
		bus:      bus,
		interval: interval,
		source:   "dispatch",
	}
}

// Run loops until the context is cancelled.
func (p *SnapshotPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger.Info("supply/demand snapshot publisher started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("supply/demand snapshot publisher stopped")
			return
		case <-ticker.C:
			if err := p.publishOnce(ctx); err != nil {
				logger.ErrorContext(ctx, "snapshot publish cycle failed", zap.Error(err))
			}
		}
	}
}

func (p *SnapshotPublisher) publishOnce(ctx context.Context) error {
	driverCounts := p.index.ActiveCellCounts()

	points, err := p.rides.OpenRideLocations(ctx)
	if err != nil {
		return err
	}

	type demand struct {
		rides  int
		region string
		tenant string
	}
	rideCounts := make(map[string]demand)
	for _, pt := range points {
		cell := geo.SurgeCell(pt.Latitude, pt.Longitude)
		d := rideCounts[cell]
		d.rides++
		d.region = pt.Region
		d.tenant = pt.TenantID
		rideCounts[cell] = d
	}

	now := time.Now().UTC()
	seen := make(map[string]bool)

	emit := func(cell, region, tenant string, drivers, rides int) {
		data := eventbus.SupplyDemandSnapshotData{
			CellID:         cell,
			Region:         region,
			DriverCount:    drivers,
			OpenRideCount:  rides,
			ObservedAtUnix: now.UnixMilli(),
			ObservedAt:     now,
		}
		event, err := eventbus.NewEvent(eventbus.SubjectSupplyDemandSnapshot, p.source, cell, tenant, data)
		if err != nil {
			logger.ErrorContext(ctx, "snapshot event build failed", zap.String("cell", cell), zap.Error(err))
			return
		}
		if err := p.bus.Publish(ctx, eventbus.SubjectSupplyDemandSnapshot, event); err != nil {
			logger.ErrorContext(ctx, "snapshot publish failed", zap.String("cell", cell), zap.Error(err))
		}
	}

	for _, cc := range driverCounts {
		d := rideCounts[cc.Cell]
		tenant := cc.Tenant
		if tenant == "" {
			tenant = d.tenant
		}
		emit(cc.Cell, cc.Region, tenant, cc.Drivers, d.rides)
		seen[cc.Cell] = true
	}

	// Cells with demand but no active drivers still matter to surge.
	for cell, d := range rideCounts {
		if seen[cell] {
			continue
		}
		emit(cell, d.region, d.tenant, 0, d.rides)
	}

	return nil
}
