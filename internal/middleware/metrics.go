package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/unisubmit-api/internal/service"
)

// unmatchedRoute labels requests that hit no registered route, so requests for
// arbitrary URLs cannot grow the path label set.
const unmatchedRoute = "unmatched"

// Metrics records duration and status per route template. Paths listed in
// skip (health checks, the scrape endpoint) are not observed.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}

	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if _, ok := skipped[route]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
