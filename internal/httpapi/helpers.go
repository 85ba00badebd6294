package httpapi

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"forensic-pipeline/internal/apierr"
)

// respondErr maps the error taxonomy (spec §7) onto an HTTP status via
// apierr.StatusCode, matching the teacher's handlers' error-to-response
// convention.
func respondErr(c *gin.Context, err error) {
	c.JSON(apierr.StatusCode(err), gin.H{"error": err.Error()})
}

func ctxWithTimeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 2*time.Second)
}

const (
	defaultLimit = 20
	maxLimit     = 200
)

func paginationParams(c *gin.Context) (limit, offset int) {
	limit = defaultLimit
	offset = 0
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= maxLimit {
			limit = v
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
