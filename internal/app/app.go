// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Corphon/ShotPipelineMCP/internal/api"
	"github.com/Corphon/ShotPipelineMCP/internal/config"
	"github.com/Corphon/ShotPipelineMCP/internal/di"
	"github.com/Corphon/ShotPipelineMCP/internal/services"
	"github.com/Corphon/ShotPipelineMCP/internal/storage"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

// App 持有已初始化的服务，负责按相反顺序释放
type App struct {
	Config    *config.AppConfig
	Container *di.Container

	Gateway  *storage.Gateway
	Pipeline *services.PipelineService
	Export   *services.ExportService
	Stats    *services.StatsService
	Hub      *api.WebSocketManager
	Metrics  *utils.MetricsCollector

	closeOnce sync.Once
	logger    *utils.Logger
}

// InitServices 按依赖顺序创建服务并注册到容器：存储 → 管线 → 导出/统计 → 推送
func InitServices(ctx context.Context, cfg *config.AppConfig, container *di.Container) (*App, error) {
	logger := utils.GetLogger()

	backend, err := storage.OpenBackend(ctx, storage.Options{
		Backend:    cfg.StorageBackend,
		DataDir:    cfg.DataDir,
		SQLitePath: cfg.SQLitePath,
		Redis: storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("打开存储后端失败: %w", err)
	}

	metrics := utils.GetMetricsCollector()
	gateway := storage.NewGateway(backend, cfg.StorageQuotaBytes).WithMetrics(metrics)
	pipeline := services.NewPipelineService(gateway, cfg.ImageTools)
	pipeline.SetMetrics(metrics)
	export := services.NewExportService(pipeline)
	stats := services.NewStatsService(pipeline)
	hub := api.NewWebSocketManager()
	pipeline.AddNotifier(stats)
	pipeline.AddNotifier(hub)

	container.Register(di.ServiceGateway, gateway)
	container.Register(di.ServicePipeline, pipeline)
	container.Register(di.ServiceExport, export)
	container.Register(di.ServiceStats, stats)
	container.Register(di.ServiceHub, hub)
	container.Register(di.ServiceMetrics, metrics)

	logger.Info("服务初始化完成", map[string]interface{}{
		"storage_backend": cfg.StorageBackend,
		"quota_bytes":     cfg.StorageQuotaBytes,
		"image_tools":     cfg.ImageTools,
		"services":        container.GetNames(),
	})

	return &App{
		Config:    cfg,
		Container: container,
		Gateway:   gateway,
		Pipeline:  pipeline,
		Export:    export,
		Stats:     stats,
		Hub:       hub,
		Metrics:   metrics,
		logger:    logger,
	}, nil
}

// HealthCheck 检查关键服务是否已注册
func (a *App) HealthCheck() error {
	for _, name := range []string{di.ServiceGateway, di.ServicePipeline, di.ServiceExport, di.ServiceStats, di.ServiceHub} {
		if !a.Container.Has(name) {
			return fmt.Errorf("关键服务未注册: %s", name)
		}
	}
	return nil
}

// Close 停止推送、锁清理并关闭存储；可重复调用
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.Hub.Close()
		a.Pipeline.Close()
		if closeErr := a.Gateway.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("关闭存储失败: %w", closeErr))
		}
		a.logger.Info("服务已关闭", nil)
	})
	return err
}
