// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/ShotPipelineMCP/internal/api"
	"github.com/Corphon/ShotPipelineMCP/internal/app"
	"github.com/Corphon/ShotPipelineMCP/internal/config"
	"github.com/Corphon/ShotPipelineMCP/internal/di"
	"github.com/Corphon/ShotPipelineMCP/internal/inbox"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

func main() {
	log.Println("🚀 启动 ShotPipelineMCP 服务器...")

	// 1. 首先加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s，存储后端: %s", baseConfig.Port, baseConfig.StorageBackend)

	// 2. 初始化配置系统
	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		log.Fatalf("初始化配置系统失败: %v", err)
	}
	cfg := config.GetCurrentConfig()

	// 3. 初始化日志
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "server.log")); err != nil {
		log.Printf("⚠️ 初始化日志文件失败，仅输出到控制台: %v", err)
	}
	logger := utils.GetLogger()
	if cfg.DebugMode {
		logger.SetLogLevel(utils.DEBUG)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. 初始化所有服务（按依赖顺序）
	container := di.GetContainer()
	application, err := app.InitServices(ctx, cfg, container)
	if err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	defer application.Close()

	if err := application.HealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	// 5. 设置路由
	router, err := api.SetupRouter(container)
	if err != nil {
		log.Fatalf("❌ 设置路由失败: %v", err)
	}
	log.Println("✅ 路由设置完成")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("🌐 服务器启动在端口 %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 6. 收件箱监听（可选）
	if cfg.InboxDir != "" {
		watcher, err := inbox.NewWatcher(cfg.InboxDir, application.Pipeline)
		if err != nil {
			log.Fatalf("创建收件箱监听失败: %v", err)
		}
		g.Go(func() error {
			log.Printf("📥 监听收件箱: %s", cfg.InboxDir)
			return watcher.Run(gctx)
		})
	}

	// 7. 等待中断信号或任一任务失败后优雅关闭
	g.Go(func() error {
		<-gctx.Done()
		log.Println("🛑 正在关闭服务器...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("❌ 服务器异常退出: %v", err)
		application.Close()
		os.Exit(1)
	}
	log.Println("✅ 服务器优雅关闭完成")
}
