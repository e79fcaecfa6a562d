package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/bassista/go_courses/internal/metrics"
)

// MetricsMiddleware records request count, latency and in-flight requests labeled
// by the matched route template. A nil recorder disables it.
func MetricsMiddleware(rec *metrics.Recorder) gin.HandlerFunc {
	if rec == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		done := rec.RequestStarted(c.Request.Method, route)
		c.Next()
		done(c.Writer.Status())
	}
}
