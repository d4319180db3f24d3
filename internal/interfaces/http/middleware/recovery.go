// Package middleware 提供 HTTP 中间件
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"manuscript-ai-api/internal/interfaces/http/dto"
	"manuscript-ai-api/pkg/errors"
	"manuscript-ai-api/pkg/logger"
)

// Recovery 捕获 handler panic，记录堆栈并返回统一错误结构
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.Error(c.Request.Context(), "panic recovered",
				fmt.Errorf("%v", rec),
				"stack", string(debug.Stack()),
				"route", c.FullPath(),
				"method", c.Request.Method,
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
				Code:    http.StatusInternalServerError,
				Message: "internal server error",
				Error:   &dto.ErrorDetail{ErrorCode: string(errors.CodeInternalError)},
				TraceID: c.GetString("trace_id"),
			})
		}()

		c.Next()
	}
}
