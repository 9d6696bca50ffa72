package mw

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bay-allocation-backend/internal/model"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"

	callerKey = "caller"
)

// Identity reads the caller's user id and role from the request headers, or
// from the userId and role query parameters for clients that cannot set
// headers (browser websockets). Authentication happens upstream.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := model.Caller{
			UserID: c.GetHeader(HeaderUserID),
			Role:   model.Role(c.GetHeader(HeaderRole)),
		}
		if caller.UserID == "" {
			caller.UserID = c.Query("userId")
		}
		if caller.Role == "" {
			caller.Role = model.Role(c.Query("role"))
		}

		switch caller.Role {
		case "", model.RoleATC, model.RoleStakeholder:
		default:
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "unknown role " + string(caller.Role),
				"code":  "VALIDATION_ERROR",
			})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// CallerFrom returns the caller stored by Identity, or the zero Caller.
func CallerFrom(c *gin.Context) model.Caller {
	if v, ok := c.Get(callerKey); ok {
		return v.(model.Caller)
	}
	return model.Caller{}
}
