package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bay-allocation-backend/internal/mw"
)

// ServeWS handles GET /ws, upgrading to the long-lived event connection.
func (h *Handler) ServeWS(c *gin.Context) {
	h.registry.Serve(c.Writer, c.Request, mw.CallerFrom(c))
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.registry.Count(),
		"seq":         h.coord.Seq(),
	})
}
