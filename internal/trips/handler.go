package trips

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ridepulse/ridepulse/pkg/common"
	"github.com/ridepulse/ridepulse/pkg/middleware"
)

// Handler handles HTTP requests for trips
type Handler struct {
	service *Service
}

// NewHandler creates a new trips handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// StartTrip handles starting a trip for an accepted ride
func (h *Handler) StartTrip(c *gin.Context) {
	var req StartTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	trip, err := h.service.Start(c.Request.Context(), middleware.GetTenantID(c), &req)
	if err != nil {
		common.HandleServiceError(c, err, "failed to start trip")
		return
	}

	common.CreatedResponse(c, trip)
}

// GetTrip handles getting a trip by ID
func (h *Handler) GetTrip(c *gin.Context) {
	tripID, ok := h.tripID(c)
	if !ok {
		return
	}

	trip, err := h.service.Get(c.Request.Context(), tripID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to get trip")
		return
	}

	common.SuccessResponse(c, trip)
}

// PauseTrip handles pausing an in-progress trip
func (h *Handler) PauseTrip(c *gin.Context) {
	tripID, ok := h.tripID(c)
	if !ok {
		return
	}

	trip, err := h.service.Pause(c.Request.Context(), tripID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to pause trip")
		return
	}

	common.SuccessResponse(c, trip)
}

// ResumeTrip handles resuming a paused trip
func (h *Handler) ResumeTrip(c *gin.Context) {
	tripID, ok := h.tripID(c)
	if !ok {
		return
	}

	trip, err := h.service.Resume(c.Request.Context(), tripID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to resume trip")
		return
	}

	common.SuccessResponse(c, trip)
}

// EndTrip handles completing a trip and computing the fare
func (h *Handler) EndTrip(c *gin.Context) {
	tripID, ok := h.tripID(c)
	if !ok {
		return
	}

	var req EndTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	trip, err := h.service.End(c.Request.Context(), tripID, &req)
	if err != nil {
		common.HandleServiceError(c, err, "failed to end trip")
		return
	}

	common.SuccessResponse(c, trip)
}

func (h *Handler) tripID(c *gin.Context) (uuid.UUID, bool) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid trip ID")
		return uuid.Nil, false
	}
	return tripID, true
}

// RegisterRoutes wires the trip endpoints onto a router group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	tripsGroup := api.Group("/trips")
	{
		tripsGroup.POST("", h.StartTrip)
		tripsGroup.GET("/:id", h.GetTrip)
		tripsGroup.POST("/:id/pause", h.PauseTrip)
		tripsGroup.POST("/:id/resume", h.ResumeTrip)
		tripsGroup.POST("/:id/end", h.EndTrip)
	}
}
