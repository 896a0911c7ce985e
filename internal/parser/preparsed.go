package parser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/peterpiperpicked4/vaulthealth/internal/detect"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// PreParsedParser 再导入已规范化的导出 JSON（本应用历史导出或外部预解析导出）。
// 记录本身已是规范形状，只重新赋 ID/归属，后续照常走 校验→去重→落库。
type PreParsedParser struct {
	vendor string
}

// NewHealthExportJSONParser 外部预解析健康导出
func NewHealthExportJSONParser() *PreParsedParser {
	return &PreParsedParser{vendor: detect.VendorHealthExportJSON}
}

// NewVaultExportParser 本应用历史导出（sessions+baselines+debtStats）
func NewVaultExportParser() *PreParsedParser {
	return &PreParsedParser{vendor: detect.VendorVaultExport}
}

// Vendor 厂商标识
func (p *PreParsedParser) Vendor() string {
	return p.vendor
}

// preParsedPayload 两种导出格式的并集；baselines/debtStats 是派生数据，导入时忽略
type preParsedPayload struct {
	Sessions        []schema.SleepSession   `json:"sessions"`
	SleepSessions   []schema.SleepSession   `json:"sleepSessions"`
	WorkoutSessions []schema.WorkoutSession `json:"workoutSessions"`
	DailyMetrics    []schema.DailyMetric    `json:"dailyMetrics"`
}

// Parse 重新归属记录；缺日期的记录记告警跳过
func (p *PreParsedParser) Parse(ctx context.Context, in Input) (*Result, error) {
	var payload preParsedPayload
	if err := json.Unmarshal(in.Content, &payload); err != nil {
		return nil, fmt.Errorf("解析导出 JSON 失败: %w", err)
	}

	sleeps := payload.SleepSessions
	if len(sleeps) == 0 {
		sleeps = payload.Sessions
	}

	out := &Result{}
	for i := range sleeps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := sleeps[i]
		if s.Date == "" {
			out.Warnings = append(out.Warnings,
				RowWarning(WarnMissingField, "睡眠记录缺少 date，已跳过", i))
			continue
		}
		s.ID = uuid.NewString()
		s.UserID = in.UserID
		s.SourceID = in.SourceID
		if s.VendorData == nil {
			s.VendorData = schema.JSONMap{}
		}
		if schema.GetString(s.VendorData, "source") == "" {
			s.VendorData["source"] = p.vendor
		}
		out.SleepSessions = append(out.SleepSessions, s)
	}

	for i := range payload.WorkoutSessions {
		w := payload.WorkoutSessions[i]
		if w.Date == "" {
			out.Warnings = append(out.Warnings,
				RowWarning(WarnMissingField, "运动记录缺少 date，已跳过", i))
			continue
		}
		w.ID = uuid.NewString()
		w.UserID = in.UserID
		w.SourceID = in.SourceID
		if w.WorkoutType == "" {
			w.WorkoutType = schema.WorkoutOther
		}
		out.WorkoutSessions = append(out.WorkoutSessions, w)
	}

	for i := range payload.DailyMetrics {
		m := payload.DailyMetrics[i]
		if m.Date == "" || m.MetricType == "" {
			out.Warnings = append(out.Warnings,
				RowWarning(WarnMissingField, "指标记录缺少 date/metric_type，已跳过", i))
			continue
		}
		m.ID = uuid.NewString()
		m.UserID = in.UserID
		m.SourceID = in.SourceID
		out.DailyMetrics = append(out.DailyMetrics, m)
	}

	return out, nil
}
