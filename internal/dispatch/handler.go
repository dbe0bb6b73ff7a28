package dispatch

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ridepulse/ridepulse/pkg/common"
	"github.com/ridepulse/ridepulse/pkg/middleware"
)

// Handler handles HTTP requests for rides
type Handler struct {
	service *Service
}

// NewHandler creates a new dispatch handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateRide handles creating a new ride request
func (h *Handler) CreateRide(c *gin.Context) {
	idempotencyKey := c.GetHeader(middleware.IdempotencyKeyHeader)
	if idempotencyKey == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}

	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.service.CreateRide(c.Request.Context(), middleware.GetTenantID(c), idempotencyKey, &req)
	if err != nil {
		common.HandleServiceError(c, err, "failed to create ride")
		return
	}

	common.CreatedResponse(c, summary)
}

// GetRide handles getting a ride by ID
func (h *Handler) GetRide(c *gin.Context) {
	rideID, ok := h.rideID(c)
	if !ok {
		return
	}

	summary, err := h.service.GetRide(c.Request.Context(), rideID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to get ride")
		return
	}

	common.SuccessResponse(c, summary)
}

// Accept handles a driver accepting a ride
func (h *Handler) Accept(c *gin.Context) {
	rideID, ok := h.rideID(c)
	if !ok {
		return
	}
	driverID, ok := h.requiredQuery(c, "driverId")
	if !ok {
		return
	}

	summary, err := h.service.Accept(c.Request.Context(), rideID, driverID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to accept ride")
		return
	}

	common.SuccessResponse(c, summary)
}

// Decline handles a driver declining a ride
func (h *Handler) Decline(c *gin.Context) {
	rideID, ok := h.rideID(c)
	if !ok {
		return
	}
	driverID, ok := h.requiredQuery(c, "driverId")
	if !ok {
		return
	}

	summary, err := h.service.Decline(c.Request.Context(), rideID, driverID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to decline ride")
		return
	}

	common.SuccessResponse(c, summary)
}

// DriverArrived handles the assigned driver reporting arrival at pickup
func (h *Handler) DriverArrived(c *gin.Context) {
	rideID, ok := h.rideID(c)
	if !ok {
		return
	}
	driverID, ok := h.requiredQuery(c, "driverId")
	if !ok {
		return
	}

	summary, err := h.service.DriverArrived(c.Request.Context(), rideID, driverID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to mark driver arrived")
		return
	}

	common.SuccessResponse(c, summary)
}

// Start handles the assigned driver starting the ride
func (h *Handler) Start(c *gin.Context) {
	rideID, ok := h.rideID(c)
	if !ok {
		return
	}
	driverID, ok := h.requiredQuery(c, "driverId")
	if !ok {
		return
	}

	summary, err := h.service.Start(c.Request.Context(), rideID, driverID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to start ride")
		return
	}

	common.SuccessResponse(c, summary)
}

// Cancel handles cancelling a ride
func (h *Handler) Cancel(c *gin.Context) {
	rideID, ok := h.rideID(c)
	if !ok {
		return
	}
	requesterID, ok := h.requiredQuery(c, "requesterId")
	if !ok {
		return
	}

	summary, err := h.service.Cancel(c.Request.Context(), rideID, requesterID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to cancel ride")
		return
	}

	common.SuccessResponse(c, summary)
}

func (h *Handler) rideID(c *gin.Context) (uuid.UUID, bool) {
	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride ID")
		return uuid.Nil, false
	}
	return rideID, true
}

func (h *Handler) requiredQuery(c *gin.Context, name string) (string, bool) {
	value := c.Query(name)
	if value == "" {
		common.ErrorResponse(c, http.StatusBadRequest, name+" query parameter is required")
		return "", false
	}
	return value, true
}

// RegisterRoutes wires the ride endpoints onto a router group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	rides := api.Group("/rides")
	{
		rides.POST("", h.CreateRide)
		rides.GET("/:id", h.GetRide)
		rides.POST("/:id/accept", h.Accept)
		rides.POST("/:id/decline", h.Decline)
		rides.POST("/:id/driver-arrived", h.DriverArrived)
		rides.POST("/:id/start", h.Start)
		rides.POST("/:id/cancel", h.Cancel)
	}
}
