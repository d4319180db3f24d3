package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"manuscript-ai-api/pkg/logger"
)

// Trace OpenTelemetry 追踪中间件，探活与指标路径不产生 span
func Trace(serviceName string, skipPaths ...string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithFilter(func(r *http.Request) bool {
		for _, p := range skipPaths {
			if strings.HasPrefix(r.URL.Path, p) {
				return false
			}
		}
		return true
	}))
}

// TraceContext 注入 trace_id、span_id 到 gin 与日志上下文
func TraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		sc := trace.SpanFromContext(c.Request.Context()).SpanContext()
		if sc.IsValid() {
			traceID, spanID := sc.TraceID().String(), sc.SpanID().String()
			c.Set("trace_id", traceID)
			c.Set("span_id", spanID)

			ctx := logger.WithContext(c.Request.Context(), logger.TraceIDKey, traceID)
			ctx = logger.WithContext(ctx, logger.SpanIDKey, spanID)
			c.Request = c.Request.WithContext(ctx)

			c.Header("X-Trace-ID", traceID)
		}

		c.Next()
	}
}
