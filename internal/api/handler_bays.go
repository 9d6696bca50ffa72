package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bay-allocation-backend/internal/mw"
)

// GetBays handles GET /api/bays.
func (h *Handler) GetBays(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.Bays())
}

// GetBay handles GET /api/bays/:id.
func (h *Handler) GetBay(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	bay, err := h.coord.Bay(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bay)
}

// ReleaseBay handles PATCH /api/bays/:id/free. Only the atc role may call it.
func (h *Handler) ReleaseBay(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	bay, err := h.coord.ForceRelease(c.Request.Context(), id, mw.CallerFrom(c).Role)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bay)
}
