package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Storage StorageConfig `mapstructure:"storage"`
	Import  ImportConfig  `mapstructure:"import"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	Server  ServerConfig  `mapstructure:"server"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
	UserID   string `mapstructure:"user_id"` // 单用户部署的默认用户
}

// StorageConfig 存储配置
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// ImportConfig 导入流水线配置
type ImportConfig struct {
	ChunkSizeBytes   int     `mapstructure:"chunk_size_bytes"`  // XML 流式解析分块大小
	TailMarginBytes  int     `mapstructure:"tail_margin_bytes"` // 分块尾部保留余量
	OutlierThreshold float64 `mapstructure:"outlier_threshold"` // 稳健 z 分数阈值
	ProfileDir       string  `mapstructure:"profile_dir"`       // YAML 导入配置目录
}

// WatcherConfig 收件箱监控配置
type WatcherConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	InboxDir    string `mapstructure:"inbox_dir"`
	DebounceSec int    `mapstructure:"debounce_sec"`
}

// ServerConfig 本机 HTTP 服务配置
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 默认查找路径
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// 支持环境变量
	v.SetEnvPrefix("VAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("配置文件未找到，使用默认配置")
		} else {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		slog.Info("加载配置文件", "path", v.ConfigFileUsed())
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 处理相对路径
	cfg.Storage.DBPath = resolvePath(cfg.Storage.DBPath)
	if cfg.Watcher.InboxDir != "" {
		cfg.Watcher.InboxDir = resolvePath(cfg.Watcher.InboxDir)
	}
	if cfg.Import.ProfileDir != "" {
		cfg.Import.ProfileDir = resolvePath(cfg.Import.ProfileDir)
	}

	return &cfg, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "vault-agent")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.user_id", "default")

	// Storage
	v.SetDefault("storage.db_path", "./data/vault.db")

	// Import
	v.SetDefault("import.chunk_size_bytes", 1024*1024)
	v.SetDefault("import.tail_margin_bytes", 50*1024)
	v.SetDefault("import.outlier_threshold", 3.5)
	v.SetDefault("import.profile_dir", "./profiles")

	// Watcher
	v.SetDefault("watcher.enabled", false)
	v.SetDefault("watcher.inbox_dir", "./inbox")
	v.SetDefault("watcher.debounce_sec", 2)

	// Server
	v.SetDefault("server.listen_addr", "127.0.0.1:8721")
}

// resolvePath 解析相对路径为绝对路径
func resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	// 获取可执行文件目录
	exe, err := os.Executable()
	if err != nil {
		return path
	}

	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, path)
}

// SetupLogger 根据配置设置日志级别
func SetupLogger(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
