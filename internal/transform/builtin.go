package transform

import (
	"github.com/peterpiperpicked4/vaulthealth/internal/detect"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// 内置导入配置：检测器能识别但没有专用解析器的来源走这里。
// 用户自定义配置（importer_profiles 表 / YAML 文件）优先于内置配置。

// BuiltinProfiles 返回内置配置的副本
func BuiltinProfiles() []schema.ImporterProfile {
	return []schema.ImporterProfile{
		smartRingProfile(),
		ringCSVProfile(),
	}
}

// smartRingProfile 智能戒指 JSON：sleep 数组出睡眠会话，daily_readiness 出指标
func smartRingProfile() schema.ImporterProfile {
	return schema.ImporterProfile{
		Name:       "builtin-smartring",
		Version:    1,
		Vendor:     detect.VendorSmartRing,
		FileType:   "json",
		Signatures: schema.JSONArray{"sleep", "daily_readiness"},
		Mappings: schema.TableMappings{
			{
				SourcePath: "sleep[*]",
				Target:     "sleep_sessions",
				// 小睡不建会话，只取整晚记录
				Filter: &schema.RowFilter{Field: "type", Op: "eq", Value: "long_sleep"},
				Fields: []schema.FieldMapping{
					{Target: "date", Source: "day", Required: true},
					{Target: "started_at", Source: "bedtime_start", Transform: schema.TransformTimestamp},
					{Target: "ended_at", Source: "bedtime_end", Transform: schema.TransformTimestamp},
					{Target: "duration_seconds", Source: "total_sleep_duration", Required: true},
					{Target: "deep_seconds", Source: "deep_sleep_duration"},
					{Target: "rem_seconds", Source: "rem_sleep_duration"},
					{Target: "light_seconds", Source: "light_sleep_duration"},
					{Target: "awake_seconds", Source: "awake_time"},
					{Target: "time_in_bed_seconds", Source: "time_in_bed"},
					{Target: "efficiency", Source: "efficiency"},
					{Target: "avg_heart_rate", Source: "average_heart_rate"},
					{Target: "min_heart_rate", Source: "lowest_heart_rate"},
					{Target: "avg_hrv", Source: "average_hrv"},
					{Target: "avg_respiratory_rate", Source: "average_breath"},
				},
			},
			{
				SourcePath: "daily_readiness[*]",
				Target:     "daily_metrics",
				Fields: []schema.FieldMapping{
					{Target: "date", Source: "day", Required: true},
					{Target: "metric_type", Source: "'readiness_score'"},
					{Target: "value", Source: "score", Required: true},
					{Target: "unit", Source: "'score'"},
				},
			},
		},
	}
}

// ringCSVProfile 戒指 CSV（readiness+hrv 指纹）：每行拆成多条单点指标
func ringCSVProfile() schema.ImporterProfile {
	return schema.ImporterProfile{
		Name:       "builtin-ring-csv",
		Version:    1,
		Vendor:     detect.VendorRingCSV,
		FileType:   "csv",
		Signatures: schema.JSONArray{"readiness", "hrv"},
		Mappings: schema.TableMappings{
			{
				SourcePath: "[*]",
				Target:     "daily_metrics",
				Fields: []schema.FieldMapping{
					{Target: "date", Source: "date", Required: true},
					{Target: "metric_type", Source: "'readiness_score'"},
					{Target: "value", Source: "readiness", Required: true},
					{Target: "unit", Source: "'score'"},
				},
			},
			{
				SourcePath: "[*]",
				Target:     "daily_metrics",
				Fields: []schema.FieldMapping{
					{Target: "date", Source: "date", Required: true},
					{Target: "metric_type", Source: "'resting_heart_rate'"},
					{Target: "value", Sources: []string{"rhr", "resting_hr", "resting heart rate"}, Transform: schema.TransformCoalesce},
					{Target: "unit", Source: "'bpm'"},
				},
			},
		},
	}
}
