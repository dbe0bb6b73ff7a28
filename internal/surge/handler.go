package surge

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ridepulse/ridepulse/pkg/common"
	"github.com/ridepulse/ridepulse/pkg/geo"
	"github.com/ridepulse/ridepulse/pkg/middleware"
)

// CellLister reads audit rows per region for the heatmap endpoint.
type CellLister interface {
	CellsByRegion(ctx context.Context, region string, limit int) ([]CellAudit, error)
}

// Handler exposes surge lookups over HTTP.
type Handler struct {
	service *Service
	cells   CellLister
}

// NewHandler creates a new surge handler.
func NewHandler(service *Service, cells CellLister) *Handler {
	return &Handler{service: service, cells: cells}
}

// GetByCell handles getting the surge factor for an H3 cell
func (h *Handler) GetByCell(c *gin.Context) {
	cellID := c.Param("cellId")
	if cellID == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "cell ID is required")
		return
	}

	quote := h.service.Get(c.Request.Context(), middleware.GetTenantID(c), cellID)
	common.SuccessResponse(c, quote)
}

// GetByLocation handles getting the surge factor for a lat/lng point
func (h *Handler) GetByLocation(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "lat query parameter is required")
		return
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "lng query parameter is required")
		return
	}

	cellID := geo.SurgeCell(lat, lng)
	quote := h.service.Get(c.Request.Context(), middleware.GetTenantID(c), cellID)
	common.SuccessResponse(c, quote)
}

// GetRegion handles listing the hottest cells in a region
func (h *Handler) GetRegion(c *gin.Context) {
	region := c.Param("region")
	if region == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "region is required")
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	cells, err := h.cells.CellsByRegion(c.Request.Context(), region, limit)
	if err != nil {
		common.HandleServiceError(c, err, "failed to list cells")
		return
	}

	common.SuccessResponse(c, cells)
}

// RegisterRoutes wires the surge endpoints onto a router group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	surgeGroup := api.Group("/surge")
	{
		surgeGroup.GET("/location", h.GetByLocation)
		surgeGroup.GET("/region/:region", h.GetRegion)
		surgeGroup.GET("/:cellId", h.GetByCell)
	}
}
