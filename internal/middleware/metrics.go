package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/secure-docs-api/internal/service"
)

// Metrics records request latency by route template. Unmatched requests
// share one label so raw paths, which may hold tokens, never become labels.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	if metricsSvc == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
