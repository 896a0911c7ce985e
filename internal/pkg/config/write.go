package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

func DefaultConfigPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("获取可执行文件路径失败: %w", err)
	}
	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, "config", "config.yaml"), nil
}

func WriteFile(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("cfg 不能为空")
	}
	if path == "" {
		return fmt.Errorf("path 不能为空")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	payload := map[string]any{
		"app": map[string]any{
			"name":      cfg.App.Name,
			"version":   cfg.App.Version,
			"log_level": cfg.App.LogLevel,
			"user_id":   cfg.App.UserID,
		},
		"storage": map[string]any{
			"db_path": cfg.Storage.DBPath,
		},
		"import": map[string]any{
			"chunk_size_bytes":  cfg.Import.ChunkSizeBytes,
			"tail_margin_bytes": cfg.Import.TailMarginBytes,
			"outlier_threshold": cfg.Import.OutlierThreshold,
			"profile_dir":       cfg.Import.ProfileDir,
		},
		"watcher": map[string]any{
			"enabled":      cfg.Watcher.Enabled,
			"inbox_dir":    cfg.Watcher.InboxDir,
			"debounce_sec": cfg.Watcher.DebounceSec,
		},
		"server": map[string]any{
			"listen_addr": cfg.Server.ListenAddr,
		},
	}

	b, err := yaml.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
