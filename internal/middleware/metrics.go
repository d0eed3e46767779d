package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/erp-registration-api/internal/service"
)

const unmatchedRoute = "unmatched"

// Metrics records request latency per route template. Unrouted paths share one label so
// probing clients cannot grow the series set, and scrapes of skipPaths are not counted.
func Metrics(metricsSvc *service.MetricsService, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if _, ok := skip[route]; ok {
			return
		}
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
