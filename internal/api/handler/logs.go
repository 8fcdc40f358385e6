package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/service"
	"github.com/gin-gonic/gin"
)

// LogsHandler serves search, tail and operation lookups.
type LogsHandler struct {
	logs *service.LogService
	now  func() time.Time
}

// NewLogsHandler creates a new logs handler.
// Parameters:
//   - logs: log read service.
// Returns:
//   - *LogsHandler: initialized handler.
func NewLogsHandler(logs *service.LogService) *LogsHandler {
	return &LogsHandler{logs: logs, now: time.Now}
}

// parseFilter reads the shared filter parameters: q, area, level,
// operation_id, since and until.
func (h *LogsHandler) parseFilter(c *gin.Context) (service.LogFilter, error) {
	f := service.LogFilter{
		Query:       c.Query("q"),
		Area:        c.Query("area"),
		Level:       c.Query("level"),
		OperationID: c.Query("operation_id"),
	}
	now := h.now()
	var err error
	if f.Since, err = service.ParseSince(c.Query("since"), now); err != nil {
		return f, err
	}
	if f.Until, err = service.ParseSince(c.Query("until"), now); err != nil {
		return f, err
	}
	return f, nil
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// Search handles GET /api/v1/search.
func (h *LogsHandler) Search(c *gin.Context) {
	f, err := h.parseFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	res, err := h.logs.Search(c.Request.Context(), f, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":   nonNil(res.Entries),
		"total":     len(res.Entries),
		"anomalies": res.Anomalies,
	})
}

// Tail handles GET /api/v1/tail. Pass the returned cursor back to
// receive only newer documents.
func (h *LogsHandler) Tail(c *gin.Context) {
	f, err := h.parseFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	cursor, err := domain.ParseCursor(c.Query("cursor"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	page, err := h.logs.Tail(c.Request.Context(), f, limit, cursor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":   nonNil(page.Entries),
		"cursor":    page.Cursor.Encode(),
		"anomalies": page.Anomalies,
	})
}

// LastErrors handles GET /api/v1/errors.
func (h *LogsHandler) LastErrors(c *gin.Context) {
	f, err := h.parseFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	entries, err := h.logs.LastErrors(c.Request.Context(), f, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": nonNil(entries)})
}

// ListOperations handles GET /api/v1/operations.
func (h *LogsHandler) ListOperations(c *gin.Context) {
	since, err := service.ParseSince(c.Query("since"), h.now())
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	errorsOnly, _ := strconv.ParseBool(c.DefaultQuery("errors_only", "false"))
	ops, err := h.logs.ListOperations(c.Request.Context(), service.OperationListFilter{
		Area:       c.Query("area"),
		Since:      since,
		Limit:      limit,
		ErrorsOnly: errorsOnly,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops, "total": len(ops)})
}

// GetOperation handles GET /api/v1/operations/:id.
func (h *LogsHandler) GetOperation(c *gin.Context) {
	id := c.Param("id")
	sum, err := h.logs.OperationSummary(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if sum == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found: " + id})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func nonNil(entries []domain.Entry) []domain.Entry {
	if entries == nil {
		return []domain.Entry{}
	}
	return entries
}
