// internal/api/router.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Corphon/ShotPipelineMCP/internal/auth"
	"github.com/Corphon/ShotPipelineMCP/internal/config"
	"github.com/Corphon/ShotPipelineMCP/internal/di"
	"github.com/Corphon/ShotPipelineMCP/internal/services"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

// 摄取接口的限流：每个客户端每分钟请求数
const (
	ingestRateLimit  = 120
	ingestRateWindow = time.Minute
)

// SetupRouter 从容器取出已初始化的服务并配置HTTP路由
func SetupRouter(container *di.Container) (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	pipeline, err := di.Resolve[*services.PipelineService](container, di.ServicePipeline)
	if err != nil {
		return nil, err
	}
	export, err := di.Resolve[*services.ExportService](container, di.ServiceExport)
	if err != nil {
		return nil, err
	}
	stats, err := di.Resolve[*services.StatsService](container, di.ServiceStats)
	if err != nil {
		return nil, err
	}
	hub, err := di.Resolve[*WebSocketManager](container, di.ServiceHub)
	if err != nil {
		return nil, err
	}
	metrics, err := di.Resolve[*utils.MetricsCollector](container, di.ServiceMetrics)
	if err != nil {
		return nil, err
	}

	tokenConfig, err := InitializeAuth(cfg)
	if err != nil {
		return nil, err
	}

	handler := NewHandler(pipeline, export, stats, hub)
	return NewRouter(cfg, handler, tokenConfig, metrics.Handler()), nil
}

// NewRouter 组装中间件与路由；metricsHandler 为 nil 时不暴露 /metrics
func NewRouter(cfg *config.AppConfig, handler *Handler, tokenConfig *auth.TokenConfig, metricsHandler http.Handler) *gin.Engine {
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(utils.GetLogger()))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", handler.Health)
	r.HEAD("/health", handler.Health)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	authMiddleware := AuthMiddleware(tokenConfig, cfg.AuthRequired)
	limiter := NewRateLimiter()

	// WebSocket 诊断推送
	r.GET("/ws/projects/:project", authMiddleware, handler.ProjectWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api", authMiddleware)
	{
		api.GET("/settings", handler.GetSettings)
		api.GET("/ws/status", handler.GetWebSocketStatus)

		projects := api.Group("/projects")
		{
			projects.GET("", handler.ListProjects)
			projects.GET("/:project", handler.GetDocument)
			projects.GET("/:project/document", handler.GetDocument)
			projects.DELETE("/:project", handler.ResetProject)
			projects.GET("/:project/caches", handler.GetCaches)
			projects.GET("/:project/caches/:kind", handler.GetCaches)
			projects.GET("/:project/export", handler.ExportProject)
			projects.GET("/:project/stats", handler.GetProjectStats)

			ingest := projects.Group("/:project/ingest", RateLimitMiddleware(limiter, ingestRateLimit, ingestRateWindow))
			{
				ingest.POST("", handler.IngestText)
				ingest.POST("/file", handler.IngestFile)
			}
		}
	}

	return r
}
