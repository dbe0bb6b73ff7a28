package surge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/ridepulse/ridepulse/pkg/logger"
	"go.uber.org/zap"
)

const snapshotConsumer = "surge-snapshots"

// Consumer feeds supply/demand snapshots into the surge service.
type Consumer struct {
	bus     *eventbus.Bus
	service *Service
}

// NewConsumer creates the snapshot consumer.
func NewConsumer(bus *eventbus.Bus, service *Service) *Consumer {
	return &Consumer{bus: bus, service: service}
}

// Start subscribes to supply.demand.snapshot.
func (c *Consumer) Start(ctx context.Context) error {
	err := c.bus.Subscribe(ctx, eventbus.SubjectSupplyDemandSnapshot, snapshotConsumer, func(ctx context.Context, event *eventbus.Event) error {
		var data eventbus.SupplyDemandSnapshotData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("unmarshal snapshot event: %w", err)
		}

		logger.Debug("snapshot received",
			zap.String("cell_id", data.CellID),
			zap.Int("drivers", data.DriverCount),
			zap.Int("rides", data.OpenRideCount),
		)
		return c.service.RecordSnapshot(ctx, &data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", eventbus.SubjectSupplyDemandSnapshot, err)
	}
	return nil
}
