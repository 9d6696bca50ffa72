package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bay-allocation-backend/internal/allocation"
	"bay-allocation-backend/internal/model"
	"bay-allocation-backend/internal/mw"
	"bay-allocation-backend/internal/store"
)

// GetRequests handles GET /api/requests with optional userId, status and
// bayId filters.
func (h *Handler) GetRequests(c *gin.Context) {
	filter := store.RequestFilter{
		UserID: c.Query("userId"),
		Status: model.RequestStatus(c.Query("status")),
	}
	switch filter.Status {
	case "", model.RequestPending, model.RequestApproved, model.RequestDenied:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status", "code": "VALIDATION_ERROR"})
		return
	}
	if raw := c.Query("bayId"); raw != "" {
		bayID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid bayId", "code": "VALIDATION_ERROR"})
			return
		}
		filter.BayID = bayID
	}
	c.JSON(http.StatusOK, h.coord.Requests(filter))
}

// GetPendingRequests handles GET /api/requests/pending.
func (h *Handler) GetPendingRequests(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.Requests(store.RequestFilter{Status: model.RequestPending}))
}

// GetRequest handles GET /api/requests/:id.
func (h *Handler) GetRequest(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req, err := h.coord.Request(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type createRequestBody struct {
	FlightCallsign string `json:"flightCallsign" binding:"required,callsign"`
	RequestedBayID int64  `json:"requestedBayId" binding:"required,gt=0"`
	Notes          string `json:"notes" binding:"max=500"`
}

// CreateRequest handles POST /api/requests on behalf of the identified caller.
func (h *Handler) CreateRequest(c *gin.Context) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithBindError(c, err)
		return
	}

	req, err := h.coord.Submit(c.Request.Context(), allocation.SubmitInput{
		UserID:         mw.CallerFrom(c).UserID,
		FlightCallsign: body.FlightCallsign,
		BayID:          body.RequestedBayID,
		Notes:          body.Notes,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

type resolveRequestBody struct {
	Status allocation.Decision `json:"status" binding:"required,oneof=approved denied"`
}

// ResolveRequest handles PATCH /api/requests/:id.
func (h *Handler) ResolveRequest(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body resolveRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithBindError(c, err)
		return
	}

	req, err := h.coord.Resolve(c.Request.Context(), id, body.Status)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type suggestBody struct {
	SuggestedBayID int64  `json:"suggestedBayId" binding:"required,gt=0"`
	Notes          string `json:"notes" binding:"max=500"`
}

// SuggestAlternative handles POST /api/requests/:id/suggest.
func (h *Handler) SuggestAlternative(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body suggestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithBindError(c, err)
		return
	}

	req, err := h.coord.SuggestAlternative(c.Request.Context(), id, body.SuggestedBayID, body.Notes)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// AcceptAlternative handles POST /api/requests/:id/accept.
func (h *Handler) AcceptAlternative(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req, err := h.coord.AcceptAlternative(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// CancelRequest handles DELETE /api/requests/:id.
func (h *Handler) CancelRequest(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.coord.Cancel(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
