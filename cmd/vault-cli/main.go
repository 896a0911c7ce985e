package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/peterpiperpicked4/vaulthealth/internal/bootstrap"
	"github.com/peterpiperpicked4/vaulthealth/internal/detect"
	"github.com/peterpiperpicked4/vaulthealth/internal/pkg/buildinfo"
	"github.com/peterpiperpicked4/vaulthealth/internal/pkg/config"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"github.com/peterpiperpicked4/vaulthealth/internal/service"
	"github.com/peterpiperpicked4/vaulthealth/internal/transform"
)

var (
	cfgFile string
	core    *bootstrap.Core
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vault",
		Short: "Vault - 个人健康数据导入与质量管理工具",
		Long:  `Vault 把各家设备导出的睡眠/运动数据规范化到本地数据库，并做去重与质量体检。`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cmd.Name() == "version" {
				return
			}
			var err error
			core, err = bootstrap.NewCore(cfgFile)
			if err != nil {
				slog.Error("初始化失败", "error", err)
				os.Exit(1)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if core != nil {
				_ = core.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径")

	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(qualityCmd())
	rootCmd.AddCommand(excludeCmd())
	rootCmd.AddCommand(includeCmd())
	rootCmd.AddCommand(sourcesCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// detectCmd 识别文件类型与厂商
func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <file>",
		Short: "识别导出文件的格式与厂商",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			content, err := os.ReadFile(args[0])
			if err != nil {
				fmt.Printf("❌ 读取文件失败: %v\n", err)
				os.Exit(1)
			}

			result := detect.DetectFile(filepath.Base(args[0]), "", content)
			fmt.Printf("📄 %s\n", args[0])
			fmt.Printf("  • 文件类型: %s\n", result.FileType)
			if result.SuggestedVendor != "" {
				fmt.Printf("  • 推测厂商: %s (%s)\n", result.SuggestedVendor, result.Confidence)
			} else {
				fmt.Println("  • 推测厂商: 未知")
			}
		},
	}
}

// importCmd 导入一个或多个导出文件
func importCmd() *cobra.Command {
	var userID string
	var profileName string
	var profileFile string

	cmd := &cobra.Command{
		Use:   "import <file...>",
		Short: "导入设备导出文件",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			uid := resolveUser(userID)

			profile, err := resolveProfile(ctx, profileName, profileFile)
			if err != nil {
				fmt.Printf("❌ %v\n", err)
				os.Exit(1)
			}

			failed := 0
			for _, path := range args {
				if !runImport(ctx, path, uid, profile) {
					failed++
				}
			}
			if failed > 0 {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "用户 ID（缺省取配置）")
	cmd.Flags().StringVar(&profileName, "profile", "", "使用库中已保存的映射配置")
	cmd.Flags().StringVar(&profileFile, "profile-file", "", "使用 YAML 映射配置文件")

	return cmd
}

func resolveUser(flag string) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}
	return core.Cfg.App.UserID
}

func resolveProfile(ctx context.Context, name, file string) (*schema.ImporterProfile, error) {
	if file != "" {
		profile, err := transform.LoadProfileFile(file)
		if err != nil {
			return nil, fmt.Errorf("加载映射配置失败: %w", err)
		}
		return profile, nil
	}
	if name != "" {
		profile, err := core.Repos.Profile.GetByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("查询映射配置失败: %w", err)
		}
		if profile == nil {
			return nil, fmt.Errorf("映射配置不存在: %s", name)
		}
		return profile, nil
	}
	return nil, nil
}

func runImport(ctx context.Context, path, userID string, profile *schema.ImporterProfile) bool {
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("❌ %s: 读取失败: %v\n", path, err)
		return false
	}

	fmt.Printf("📥 正在导入 %s ...\n", path)
	result := core.Services.Import.ImportFile(ctx, service.ImportInput{
		UserID:   userID,
		FileName: filepath.Base(path),
		Content:  content,
		Profile:  profile,
		OnProgress: func(p service.Progress) {
			if p.Message != "" {
				fmt.Printf("  [%3d%%] %s: %s\n", p.Percent, p.Stage, p.Message)
			}
		},
	})

	for _, w := range result.Warnings {
		fmt.Printf("  ⚠️  %s: %s\n", w.Kind, w.Message)
	}
	if !result.Success {
		for _, e := range result.Errors {
			fmt.Printf("  ❌ %s: %s\n", e.Kind, e.Message)
		}
		return false
	}

	c := result.RecordCounts
	fmt.Printf("✅ %s 导入完成 (vendor=%s)\n", path, result.Vendor)
	fmt.Printf("  • 睡眠会话: %d (合并 %d, 跳过 %d)\n", c.SleepSessions, result.MergedCount, result.SkippedCount)
	if c.WorkoutSessions > 0 {
		fmt.Printf("  • 运动会话: %d\n", c.WorkoutSessions)
	}
	if c.DailyMetrics > 0 {
		fmt.Printf("  • 日指标: %d\n", c.DailyMetrics)
	}
	if c.TimeSeries > 0 {
		fmt.Printf("  • 时间序列: %d\n", c.TimeSeries)
	}
	q := result.QualitySummary
	if q.Good+q.Warning+q.Bad > 0 {
		fmt.Printf("  • 质量分布: good=%d warning=%d bad=%d\n", q.Good, q.Warning, q.Bad)
	}
	return true
}

// sessionsCmd 查看睡眠会话
func sessionsCmd() *cobra.Command {
	var userID string
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "查看已入库的睡眠会话",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			sessions, err := core.Repos.Sleep.ListByUser(ctx, resolveUser(userID), limit)
			if err != nil {
				fmt.Printf("❌ 查询失败: %v\n", err)
				os.Exit(1)
			}
			if len(sessions) == 0 {
				fmt.Println("📚 还没有睡眠记录，先用 'vault import' 导入导出文件")
				return
			}

			fmt.Printf("🛏  最近 %d 晚\n", len(sessions))
			fmt.Println("═══════════════════════════════════════")
			for _, s := range sessions {
				mark := "  "
				if s.Quality.ManuallyExcluded {
					mark = "🚫"
				} else if s.Quality.HasOutliers {
					mark = "⚠️ "
				}
				line := fmt.Sprintf("%s %s  睡 %s  深 %s  REM %s", mark, s.Date,
					formatDuration(s.DurationSeconds),
					formatDuration(s.DeepSeconds),
					formatDuration(s.RemSeconds))
				if s.AvgHrv != nil {
					line += fmt.Sprintf("  HRV %.0fms", *s.AvgHrv)
				}
				if s.AvgHeartRate != nil {
					line += fmt.Sprintf("  HR %.0f", *s.AvgHeartRate)
				}
				fmt.Println(line)
				fmt.Printf("     id=%s\n", s.ID)
			}
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "用户 ID（缺省取配置）")
	cmd.Flags().IntVarP(&limit, "limit", "n", 14, "显示条数")

	return cmd
}

func formatDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}

// qualityCmd 质量体检报告
func qualityCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "quality",
		Short: "重算个人基线并生成质量报告",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			fmt.Println("🔍 正在重算基线并体检全部睡眠记录...")
			report, err := core.Services.Quality.AssessUser(ctx, resolveUser(userID))
			if err != nil {
				fmt.Printf("❌ 体检失败: %v\n", err)
				os.Exit(1)
			}

			fmt.Println("\n📊 数据质量报告")
			fmt.Println("═══════════════════════════════════════")
			fmt.Printf("  • 记录总数: %d\n", report.TotalSessions)
			fmt.Printf("  • good=%d warning=%d bad=%d\n", report.GoodCount, report.WarningCount, report.BadCount)

			if len(report.Baselines) > 0 {
				fmt.Println("\n📐 个人基线")
				names := make([]string, 0, len(report.Baselines))
				for name := range report.Baselines {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					b := report.Baselines[name]
					fmt.Printf("  • %-22s median=%.1f mad=%.1f 样本=%d 剔除=%d\n",
						name, b.Median, b.MAD, b.SampleCount, b.Excluded)
				}
			}

			if len(report.TopIssues) > 0 {
				fmt.Println("\n⚠️  常见问题")
				for _, issue := range report.TopIssues {
					fmt.Printf("  • %s ×%d\n", issue.Issue, issue.Count)
				}
			}

			if len(report.Recommendations) > 0 {
				fmt.Println("\n💡 建议")
				for _, rec := range report.Recommendations {
					fmt.Printf("  • %s\n", rec)
				}
			}
			fmt.Println("\n═══════════════════════════════════════")
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "用户 ID（缺省取配置）")

	return cmd
}

// excludeCmd 手动排除一晚记录
func excludeCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "exclude <session-id>",
		Short: "将某条睡眠记录排除出基线统计",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			if err := core.Services.Quality.SetManualExclusion(ctx, args[0], true, reason); err != nil {
				fmt.Printf("❌ %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("✅ 已排除 %s\n", args[0])
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "排除原因（如：感冒、旅行）")

	return cmd
}

// includeCmd 恢复手动排除的记录
func includeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "include <session-id>",
		Short: "恢复此前被排除的睡眠记录",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			if err := core.Services.Quality.SetManualExclusion(ctx, args[0], false, ""); err != nil {
				fmt.Printf("❌ %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("✅ 已恢复 %s\n", args[0])
		},
	}
}

// sourcesCmd 查看导入历史
func sourcesCmd() *cobra.Command {
	var userID string
	var limit int

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "查看导入历史",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			sources, err := core.Repos.Source.ListByUser(ctx, resolveUser(userID), limit)
			if err != nil {
				fmt.Printf("❌ 查询失败: %v\n", err)
				os.Exit(1)
			}
			if len(sources) == 0 {
				fmt.Println("📚 还没有导入记录")
				return
			}

			fmt.Printf("📦 最近 %d 次导入\n", len(sources))
			fmt.Println("═══════════════════════════════════════")
			for _, s := range sources {
				fmt.Printf("  %s  %-18s %s\n", s.ImportedAt.Format("2006-01-02 15:04"), s.Vendor, s.FileName)
				fmt.Printf("     睡眠=%d 运动=%d 日指标=%d 序列=%d 告警=%d\n",
					s.SleepSessionCount, s.WorkoutSessionCount, s.DailyMetricCount, s.TimeSeriesCount, s.WarningCount)
			}
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "用户 ID（缺省取配置）")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "显示条数")

	return cmd
}

// configCmd 配置文件管理
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "管理配置文件",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "把当前生效配置写成 YAML 文件",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					fmt.Printf("❌ %v\n", err)
					os.Exit(1)
				}
			}
			if err := config.WriteFile(path, core.Cfg); err != nil {
				fmt.Printf("❌ %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("✅ 已写入配置 %s\n", path)
		},
	})

	return cmd
}

// versionCmd 输出构建信息
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "输出版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vault %s (commit %s)\n", buildinfo.Version, buildinfo.Commit)
		},
	}
}

// profileCmd 映射配置管理
func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "管理厂商映射配置",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "校验 YAML 映射配置",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			profile, err := transform.LoadProfileFile(args[0])
			if err != nil {
				fmt.Printf("❌ %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("✅ 配置有效: %s (vendor=%s, %d 个表映射)\n", profile.Name, profile.Vendor, len(profile.Mappings))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save <file>",
		Short: "把 YAML 映射配置保存到库中",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			profile, err := transform.LoadProfileFile(args[0])
			if err != nil {
				fmt.Printf("❌ %v\n", err)
				os.Exit(1)
			}
			if err := core.Repos.Profile.Save(ctx, profile); err != nil {
				fmt.Printf("❌ 保存失败: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("✅ 已保存配置 %s\n", profile.Name)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出库中的映射配置",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			profiles, err := core.Repos.Profile.List(ctx)
			if err != nil {
				fmt.Printf("❌ 查询失败: %v\n", err)
				os.Exit(1)
			}
			builtin := transform.BuiltinProfiles()
			if len(profiles) == 0 && len(builtin) == 0 {
				fmt.Println("📚 库中还没有映射配置")
				return
			}

			for _, p := range profiles {
				fmt.Printf("  • %s (vendor=%s, v%d)\n", p.Name, p.Vendor, p.Version)
			}
			for _, p := range builtin {
				fmt.Printf("  • %s (vendor=%s, 内置)\n", p.Name, p.Vendor)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "删除库中的映射配置",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			if err := core.Repos.Profile.Delete(ctx, args[0]); err != nil {
				fmt.Printf("❌ %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("✅ 已删除配置 %s\n", args[0])
		},
	})

	return cmd
}
