package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bay-allocation-backend/internal/allocation"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, allocation.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, allocation.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, allocation.ErrInvalidBay):
		return http.StatusUnprocessableEntity
	case errors.Is(err, allocation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, allocation.ErrBayUnavailable),
		errors.Is(err, allocation.ErrAlreadyResolved),
		errors.Is(err, allocation.ErrNotCancelable),
		errors.Is(err, allocation.ErrNoSuggestionPending),
		errors.Is(err, allocation.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes the JSON error body for a failed command.
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error(), "code": allocation.Code(err)}
	if status == http.StatusInternalServerError {
		log.Printf("Error handling %s %s: %v", c.Request.Method, c.FullPath(), err)
		body["error"] = "internal error"
	}
	var verrs allocation.ValidationErrors
	if errors.As(err, &verrs) {
		body["fields"] = verrs
	}
	c.AbortWithStatusJSON(status, body)
}

// abortWithBindError reports a request body that failed to bind.
func abortWithBindError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error(), "code": "VALIDATION_ERROR"})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": "VALIDATION_ERROR"})
		return 0, false
	}
	return id, true
}
