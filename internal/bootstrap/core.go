package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterpiperpicked4/vaulthealth/internal/eventbus"
	"github.com/peterpiperpicked4/vaulthealth/internal/parser"
	"github.com/peterpiperpicked4/vaulthealth/internal/pkg/config"
	"github.com/peterpiperpicked4/vaulthealth/internal/quality"
	"github.com/peterpiperpicked4/vaulthealth/internal/repository"
	"github.com/peterpiperpicked4/vaulthealth/internal/service"
	"github.com/peterpiperpicked4/vaulthealth/internal/transform"
)

// Core 持有跨二进制共享的核心依赖
type Core struct {
	Cfg *config.Config
	DB  *repository.Database
	Hub *eventbus.Hub

	Repos struct {
		Source  *repository.SourceRepository
		Sleep   *repository.SleepRepository
		Workout *repository.WorkoutRepository
		Metric  *repository.MetricRepository
		Series  *repository.TimeSeriesRepository
		Profile *repository.ProfileRepository
	}

	Services struct {
		Dedupe  *service.DedupeService
		Import  *service.ImportService
		Quality *service.QualityService
	}

	Registry    *parser.Registry
	Transformer *transform.Transformer
	Engine      *quality.Engine
}

// NewCore 构建核心依赖（不启动监听）
func NewCore(cfgPath string) (*Core, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	config.SetupLogger(cfg.App.LogLevel)

	db, err := repository.NewDatabase(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	c := &Core{Cfg: cfg, DB: db, Hub: eventbus.NewHub()}

	// Repos
	c.Repos.Source = repository.NewSourceRepository(db.DB)
	c.Repos.Sleep = repository.NewSleepRepository(db.DB)
	c.Repos.Workout = repository.NewWorkoutRepository(db.DB)
	c.Repos.Metric = repository.NewMetricRepository(db.DB)
	c.Repos.Series = repository.NewTimeSeriesRepository(db.DB)
	c.Repos.Profile = repository.NewProfileRepository(db.DB)

	// 解析器注册表
	c.Registry = parser.NewRegistry()
	c.Registry.Register(parser.NewSleepMatParser())
	c.Registry.Register(parser.NewWorkoutCSVParser())
	c.Registry.Register(&parser.HealthXMLParser{
		ChunkSize:  cfg.Import.ChunkSizeBytes,
		TailMargin: cfg.Import.TailMarginBytes,
	})
	c.Registry.Register(parser.NewHealthExportJSONParser())
	c.Registry.Register(parser.NewVaultExportParser())
	c.Registry.Register(parser.NewFITParser())

	c.Transformer = transform.NewTransformer()
	c.Engine = quality.NewEngine(cfg.Import.OutlierThreshold)

	// Services
	c.Services.Dedupe = service.NewDedupeService(c.Repos.Sleep)
	c.Services.Import = service.NewImportService(
		c.Registry,
		c.Transformer,
		c.Engine,
		c.Services.Dedupe,
		c.Repos.Sleep,
		c.Repos.Workout,
		c.Repos.Metric,
		c.Repos.Series,
		c.Repos.Source,
		c.Repos.Profile,
	)
	c.Services.Quality = service.NewQualityService(c.Engine, c.Repos.Sleep)

	syncProfileDir(c, cfg.Import.ProfileDir)

	return c, nil
}

// syncProfileDir 把目录下的 YAML 映射配置同步进库（按 name 覆盖）
// 目录不存在或单个文件损坏只告警，不阻断启动。
func syncProfileDir(c *Core, dir string) {
	if dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	ctx := context.Background()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		profile, err := transform.LoadProfileFile(path)
		if err != nil {
			slog.Warn("加载映射配置失败", "path", path, "error", err)
			continue
		}
		if err := c.Repos.Profile.Save(ctx, profile); err != nil {
			slog.Warn("保存映射配置失败", "name", profile.Name, "error", err)
			continue
		}
		slog.Info("同步映射配置", "name", profile.Name, "vendor", profile.Vendor)
	}
}

// Close 关闭核心依赖资源
func (c *Core) Close() error {
	if c == nil {
		return nil
	}
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
