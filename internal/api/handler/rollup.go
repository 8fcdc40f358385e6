package handler

import (
	"net/http"
	"time"

	"github.com/dandriscoll/devlogs/internal/service"
	"github.com/gin-gonic/gin"
)

// RollupHandler triggers explicit rollups.
type RollupHandler struct {
	rollup *service.RollupService
	runs   service.RunStore
}

// NewRollupHandler creates a new rollup handler.
// Parameters:
//   - rollup: rollup service instance.
//   - runs: optional run history store; nil skips recording.
// Returns:
//   - *RollupHandler: initialized handler.
func NewRollupHandler(rollup *service.RollupService, runs service.RunStore) *RollupHandler {
	return &RollupHandler{rollup: rollup, runs: runs}
}

// RollupRequest is the POST /api/v1/rollup body.
type RollupRequest struct {
	OperationID string `json:"operation_id"`
	Since       string `json:"since"`
}

// Rollup handles POST /api/v1/rollup. An empty body rolls up everything.
func (h *RollupHandler) Rollup(c *gin.Context) {
	var req RollupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request: "+err.Error())
			return
		}
	}
	since, err := service.ParseSince(req.Since, time.Now())
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	run, err := h.rollup.Run(c.Request.Context(), h.runs, service.RollupRequest{
		OperationID: req.OperationID,
		Since:       since,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
