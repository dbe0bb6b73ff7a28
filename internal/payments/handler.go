package payments

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ridepulse/ridepulse/pkg/common"
)

// Handler exposes payment lookups over HTTP.
type Handler struct {
	store PaymentStore
}

// NewHandler creates a new payments handler.
func NewHandler(store PaymentStore) *Handler {
	return &Handler{store: store}
}

// GetPayment handles getting a payment by ID
func (h *Handler) GetPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid payment ID")
		return
	}

	payment, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			common.ErrorResponse(c, http.StatusNotFound, "payment not found")
			return
		}
		common.HandleServiceError(c, err, "failed to get payment")
		return
	}

	common.SuccessResponse(c, payment)
}

// GetPaymentByTrip handles getting the payment for a trip
func (h *Handler) GetPaymentByTrip(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("tripId"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid trip ID")
		return
	}

	payment, err := h.store.GetByTripID(c.Request.Context(), tripID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to get payment")
		return
	}
	if payment == nil {
		common.ErrorResponse(c, http.StatusNotFound, "payment not found")
		return
	}

	common.SuccessResponse(c, payment)
}

// RegisterRoutes wires the payment endpoints onto a router group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	paymentsGroup := api.Group("/payments")
	{
		paymentsGroup.GET("/:id", h.GetPayment)
		paymentsGroup.GET("/trip/:tripId", h.GetPaymentByTrip)
	}
}
