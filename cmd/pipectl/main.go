// cmd/pipectl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Corphon/ShotPipelineMCP/internal/app"
	"github.com/Corphon/ShotPipelineMCP/internal/config"
	"github.com/Corphon/ShotPipelineMCP/internal/di"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

// cliOptions 全局参数
type cliOptions struct {
	dataDir string
	backend string
	project string
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, errorStyle.Render("错误: ")+err.Error())
		os.Exit(1)
	}
}

// newRootCmd 构建命令树；每次调用返回独立实例
func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "pipectl",
		Short: "Reconcile model-generated pipeline fragments into a production document",
		Long: `pipectl operates directly on the configured storage backend.

Available subcommands:
  ingest   - Ingest a fragment file (or - for stdin)
  show     - Summarize a project document
  export   - Write a full or URL-only backup
  reset    - Delete a project document and its caches
  projects - List stored projects
  token    - Issue a session token for the HTTP API`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "data directory (overrides DATA_DIR)")
	root.PersistentFlags().StringVar(&opts.backend, "backend", "", "storage backend: file, sqlite, redis (overrides STORAGE_BACKEND)")
	root.PersistentFlags().StringVarP(&opts.project, "project", "p", "default", "project name")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "show service logs")

	root.AddCommand(
		newIngestCmd(opts),
		newShowCmd(opts),
		newExportCmd(opts),
		newResetCmd(opts),
		newProjectsCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// loadConfig 读取环境配置并应用命令行覆盖
func (o *cliOptions) loadConfig() *config.AppConfig {
	cfg := config.GetCurrentConfig()
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
		cfg.SQLitePath = ""
	}
	if o.backend != "" {
		cfg.StorageBackend = o.backend
	}
	return cfg
}

// openApp 初始化服务；调用方负责 Close
func (o *cliOptions) openApp(ctx context.Context) (*app.App, error) {
	logger := utils.GetLogger()
	logger.SetOutput(os.Stderr)
	if o.verbose {
		logger.SetLogLevel(utils.DEBUG)
	} else {
		logger.SetLogLevel(utils.ERROR)
	}
	return app.InitServices(ctx, o.loadConfig(), di.NewContainer())
}
