package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/ridepulse/ridepulse/pkg/logger"
	"go.uber.org/zap"
)

const tripEndedConsumer = "payments-trip-ended"

// Consumer feeds trip completion events into the orchestrator.
type Consumer struct {
	bus          *eventbus.Bus
	orchestrator *Orchestrator
}

// NewConsumer creates the trip.ended consumer.
func NewConsumer(bus *eventbus.Bus, orchestrator *Orchestrator) *Consumer {
	return &Consumer{bus: bus, orchestrator: orchestrator}
}

// Start subscribes to trip.ended. HandleTripEnded is idempotent per trip, so
// redeliveries are safe.
func (c *Consumer) Start(ctx context.Context) error {
	err := c.bus.Subscribe(ctx, eventbus.SubjectTripEnded, tripEndedConsumer, func(ctx context.Context, event *eventbus.Event) error {
		var data eventbus.TripEventData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("unmarshal trip event: %w", err)
		}

		logger.InfoContext(ctx, "trip ended received",
			zap.String("trip_id", data.TripID),
			zap.String("tenant_id", event.TenantID),
		)
		return c.orchestrator.HandleTripEnded(ctx, event.TenantID, &data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", eventbus.SubjectTripEnded, err)
	}
	return nil
}
