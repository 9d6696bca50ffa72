package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"bay-allocation-backend/internal/allocation"
	"bay-allocation-backend/internal/hub"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	coord    *allocation.Coordinator
	registry *hub.Registry
	db       *gorm.DB
	webpush  *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(coord *allocation.Coordinator, registry *hub.Registry, db *gorm.DB, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		coord:    coord,
		registry: registry,
		db:       db,
		webpush:  webpushOptions,
	}
}
