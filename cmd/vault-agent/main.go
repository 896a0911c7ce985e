package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/peterpiperpicked4/vaulthealth/internal/bootstrap"
	"github.com/peterpiperpicked4/vaulthealth/internal/eventbus"
	"github.com/peterpiperpicked4/vaulthealth/internal/httpapi"
	"github.com/peterpiperpicked4/vaulthealth/internal/pkg/buildinfo"
	"github.com/peterpiperpicked4/vaulthealth/internal/service"
)

func main() {
	cfgPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	core, err := bootstrap.NewCore(*cfgPath)
	if err != nil {
		slog.Error("启动 Agent 失败", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	slog.Info("Vault Agent 启动中...", "name", core.Cfg.App.Name, "version", buildinfo.Version)

	apiServer, err := httpapi.Start(ctx, core, httpapi.Options{ListenAddr: core.Cfg.Server.ListenAddr})
	if err != nil {
		slog.Error("启动本地 API 失败", "error", err)
		os.Exit(1)
	}

	// 收件箱监控（可选）：落入 inbox 的导出文件自动导入
	var watch *service.WatchService
	if core.Cfg.Watcher.Enabled {
		watch, err = service.NewWatchService(service.WatchConfig{
			InboxDir:    core.Cfg.Watcher.InboxDir,
			UserID:      core.Cfg.App.UserID,
			DebounceSec: core.Cfg.Watcher.DebounceSec,
			OnResult: func(path string, result *service.ImportResult) {
				core.Hub.Publish(eventbus.Event{
					Type: eventbus.EventImportResult,
					Data: map[string]any{
						"success":   result.Success,
						"source_id": result.SourceID,
						"vendor":    result.Vendor,
						"file_name": filepath.Base(path),
					},
				})
			},
		}, core.Services.Import)
		if err != nil {
			slog.Error("启动收件箱监控失败", "error", err)
			os.Exit(1)
		}
		if err := watch.Start(ctx); err != nil {
			slog.Error("启动收件箱监控失败", "error", err)
			os.Exit(1)
		}
		slog.Info("收件箱监控已启动", "inbox_dir", core.Cfg.Watcher.InboxDir)
	}

	slog.Info("Vault Agent 已启动", "base_url", apiServer.BaseURL())

	<-ctx.Done()
	slog.Info("收到系统退出信号，正在关闭...")

	if watch != nil {
		_ = watch.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = apiServer.Shutdown(shutdownCtx)
	shutdownCancel()

	slog.Info("Vault Agent 已退出")
}
