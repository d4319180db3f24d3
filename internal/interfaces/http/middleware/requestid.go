package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"manuscript-ai-api/pkg/logger"
)

// RequestIDHeader 请求 ID 头
const RequestIDHeader = "X-Request-ID"

// RequestID 透传或生成请求 ID，并写入日志上下文；入队的任务事件会携带它
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		c.Set("request_id", requestID)
		ctx := logger.WithContext(c.Request.Context(), logger.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// RouteContext 把路由中的项目 ID、任务 ID 写入日志上下文
func RouteContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if pid := c.Param("pid"); pid != "" {
			ctx = logger.WithContext(ctx, logger.ProjectIDKey, pid)
		}
		if tid := c.Param("tid"); tid != "" {
			ctx = logger.WithContext(ctx, logger.TaskIDKey, tid)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
