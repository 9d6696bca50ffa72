package api

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"bay-allocation-backend/config"
	"bay-allocation-backend/internal/allocation"
	"bay-allocation-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := allocation.RegisterCallsign(v); err != nil {
			log.Printf("Warning: failed to register callsign validator: %v", err)
		}
	}

	r := gin.Default()
	r.Use(mw.Identity())

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Responses are keyed by commit sequence, so the TTL only bounds memory.
	cacheStore := cache.New(cfg.CacheTTL, 2*cfg.CacheTTL+time.Second)
	caching := mw.Cache(cacheStore, cfg.CacheTTL, h.coord.Seq)

	r.GET("/healthz", h.Healthz)
	r.GET("/ws", h.ServeWS)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/bays", caching, h.GetBays)
		api.GET("/bays/:id", caching, h.GetBay)
		api.PATCH("/bays/:id/free", h.ReleaseBay)

		api.GET("/requests", caching, h.GetRequests)
		api.GET("/requests/pending", caching, h.GetPendingRequests)
		api.GET("/requests/:id", caching, h.GetRequest)
		api.POST("/requests", h.CreateRequest)
		api.PATCH("/requests/:id", h.ResolveRequest)
		api.POST("/requests/:id/suggest", h.SuggestAlternative)
		api.POST("/requests/:id/accept", h.AcceptAlternative)
		api.DELETE("/requests/:id", h.CancelRequest)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
