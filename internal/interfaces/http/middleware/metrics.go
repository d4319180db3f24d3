package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"manuscript-ai-api/pkg/metrics"
)

// Metrics Prometheus 请求计数与耗时，按路由模板聚合
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		metrics.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
