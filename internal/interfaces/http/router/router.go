// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"manuscript-ai-api/internal/config"
	"manuscript-ai-api/internal/interfaces/http/handler"
	"manuscript-ai-api/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health   *handler.HealthHandler
	Task     *handler.TaskHandler
	Review   *handler.ReviewHandler
	Voice    *handler.VoiceHandler
	Material *handler.MaterialHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	limiter  middleware.RateLimiter
}

// New 创建路由器；limiter 为 nil 时不限流
func New(cfg *config.Config, handlers Handlers, limiter middleware.RateLimiter) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
		limiter:  limiter,
	}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) metricsPath() string {
	if p := r.cfg.Observability.Metrics.Path; p != "" {
		return p
	}
	return "/metrics"
}

func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.CORS(r.cfg.Security.CORS))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name, "/health", "/ready", "/live", r.metricsPath()))
		r.engine.Use(middleware.TraceContext())
	}
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
	r.engine.Use(middleware.RouteContext())
}

func (r *Router) setupRoutes() {
	health := r.handlers.Health
	if health == nil {
		health = handler.NewHealthHandler("")
	}
	r.engine.GET("/health", health.Health)
	r.engine.GET("/ready", health.Ready)
	r.engine.GET("/live", health.Live)

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.metricsPath(), gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/api/v1")
	v1.Use(middleware.RateLimit(r.cfg.Security.RateLimit, r.limiter))
	RegisterV1Routes(v1, r.handlers)
}
