package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker 可做就绪探测的依赖
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependency 就绪检查项；Required 为 false 时失败只标记 degraded
type Dependency struct {
	Name     string
	Checker  HealthChecker
	Required bool
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	deps    []Dependency
	version string
}

// NewHealthHandler 创建健康检查处理器，Checker 为 nil 的依赖视为未启用
func NewHealthHandler(version string, deps ...Dependency) *HealthHandler {
	return &HealthHandler{deps: deps, version: version}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type readinessCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

type readinessResponse struct {
	Status string                     `json:"status"`
	Checks map[string]*readinessCheck `json:"checks,omitempty"`
}

// Health 健康检查接口
// @Summary 健康检查
// @Description 检查服务健康状态
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.version,
	})
}

// Ready 就绪检查接口
// @Summary 就绪检查
// @Description 检查服务是否可以接收流量
// @Tags System
// @Produce json
// @Success 200 {object} readinessResponse
// @Failure 503 {object} readinessResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]*readinessCheck, len(h.deps))
	ready := true
	for _, d := range h.deps {
		if d.Checker == nil {
			checks[d.Name] = &readinessCheck{Status: "disabled"}
			continue
		}
		start := time.Now()
		err := d.Checker.HealthCheck(ctx)
		check := &readinessCheck{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			check.Error = err.Error()
			check.Status = "degraded"
			if d.Required {
				check.Status = "error"
				ready = false
			}
		}
		checks[d.Name] = check
	}

	resp := readinessResponse{
		Status: "ok",
		Checks: checks,
	}
	if !ready {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Live 存活检查接口
// @Summary 存活检查
// @Description 检查服务是否存活
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
	})
}
