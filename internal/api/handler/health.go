package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StoreHealth is the part of the store admin API the health check needs.
type StoreHealth interface {
	Ping(ctx context.Context) error
	IndexExists(ctx context.Context, index string) (bool, error)
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	store StoreHealth
	index string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store StoreHealth, index string) *HealthHandler {
	return &HealthHandler{store: store, index: index}
}

// Health reports whether the document store answers and the index exists.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	exists, err := h.store.IndexExists(ctx, h.index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"index":        h.index,
		"index_exists": exists,
	})
}
