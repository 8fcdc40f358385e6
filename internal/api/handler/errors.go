package handler

import (
	"net/http"

	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/repository"
	"github.com/gin-gonic/gin"
)

// statusFor maps typed store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case repository.IsConnectionError(err):
		return http.StatusServiceUnavailable
	case repository.IsAuthError(err):
		return http.StatusUnauthorized
	case repository.IsIndexNotFound(err):
		return http.StatusNotFound
	case repository.IsQueryError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	logger.FromContext(c.Request.Context()).WithError(err).WithField(logger.FieldStatus, status).Warn("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
