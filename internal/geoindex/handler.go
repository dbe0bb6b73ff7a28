package geoindex

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ridepulse/ridepulse/pkg/common"
	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/ridepulse/ridepulse/pkg/logger"
	"github.com/ridepulse/ridepulse/pkg/middleware"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for driver locations
type Handler struct {
	index *Index
	bus   eventbus.Publisher
}

// NewHandler creates a new location handler
func NewHandler(index *Index, bus eventbus.Publisher) *Handler {
	return &Handler{index: index, bus: bus}
}

// UpdateLocation handles a driver location ping
func (h *Handler) UpdateLocation(c *gin.Context) {
	var loc DriverLocation
	if err := c.ShouldBindJSON(&loc); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	tenantID := middleware.GetTenantID(c)

	if err := h.index.Upsert(c.Request.Context(), tenantID, loc); err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to update location")
		return
	}

	data := eventbus.DriverLocationUpdatedData{
		DriverID:    loc.DriverID,
		Region:      loc.Region,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		Status:      string(loc.Status),
		VehicleTier: loc.VehicleTier,
		Rating:      floatValue(loc.Rating),
		DeclineRate: floatValue(loc.DeclineRate),
	}
	event, err := eventbus.NewEvent(eventbus.SubjectDriverLocationUpdated, "dispatch", loc.DriverID, tenantID, data)
	if err == nil {
		err = h.bus.Publish(c.Request.Context(), eventbus.SubjectDriverLocationUpdated, event)
	}
	if err != nil {
		// The index write already succeeded; the ping is still good.
		logger.WarnContext(c.Request.Context(), "location event publish failed",
			zap.String("driver_id", loc.DriverID),
			zap.Error(err),
		)
	}

	common.SuccessResponse(c, gin.H{"driver_id": loc.DriverID, "region": loc.Region})
}

func floatValue(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// GetDriver handles reading a driver's current metadata
func (h *Handler) GetDriver(c *gin.Context) {
	driverID := c.Param("id")

	meta, err := h.index.Metadata(c.Request.Context(), driverID)
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to read driver metadata")
		return
	}
	if !meta.Found {
		common.ErrorResponse(c, http.StatusNotFound, "driver not found or expired")
		return
	}

	common.SuccessResponse(c, gin.H{
		"driver_id":    meta.DriverID,
		"region":       meta.Region,
		"status":       meta.Status,
		"vehicle_tier": meta.VehicleTier,
		"rating":       meta.Rating,
		"decline_rate": meta.DeclineRate,
		"latitude":     meta.Latitude,
		"longitude":    meta.Longitude,
		"last_seen":    meta.LastSeen,
	})
}

// GoOffline handles a driver leaving the pool
func (h *Handler) GoOffline(c *gin.Context) {
	driverID := c.Param("id")
	region := c.Query("region")
	if region == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "region is required")
		return
	}

	if err := h.index.Remove(c.Request.Context(), region, driverID); err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to remove driver")
		return
	}

	common.SuccessResponse(c, gin.H{"driver_id": driverID, "status": string(DriverOffline)})
}

// RegisterRoutes wires the location endpoints onto a router group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/locations", h.UpdateLocation)
	api.GET("/drivers/:id", h.GetDriver)
	api.DELETE("/drivers/:id", h.GoOffline)
}
