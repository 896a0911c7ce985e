package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/peterpiperpicked4/vaulthealth/internal/quality"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// QualityService 质量评估服务：基于全量历史重算基线并回写质量标记
type QualityService struct {
	engine *quality.Engine
	sleeps SleepStore
}

// NewQualityService 创建质量评估服务
func NewQualityService(engine *quality.Engine, sleeps SleepStore) *QualityService {
	return &QualityService{engine: engine, sleeps: sleeps}
}

// AssessUser 重算某用户的个人基线，逐条复检并把最新质量标记落库
func (s *QualityService) AssessUser(ctx context.Context, userID string) (*quality.UserReport, error) {
	sessions, err := s.sleeps.ListByUser(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("读取睡眠会话失败: %w", err)
	}

	report := s.engine.AssessSessions(sessions)

	for i := range sessions {
		session := &sessions[i]
		rr, ok := report.Records[session.ID]
		if !ok {
			continue
		}
		flags := session.Quality
		quality.ApplyToFlags(rr, &flags)
		if flagsEqual(flags, session.Quality) {
			continue
		}
		if err := s.sleeps.UpdateQualityFlags(ctx, session.ID, flags); err != nil {
			return nil, fmt.Errorf("回写质量标记失败: %w", err)
		}
	}

	slog.Info("质量评估完成",
		"user_id", userID,
		"total", report.TotalSessions,
		"good", report.GoodCount,
		"warning", report.WarningCount,
		"bad", report.BadCount,
	)
	return report, nil
}

// SetManualExclusion 手动排除/恢复某条睡眠会话
func (s *QualityService) SetManualExclusion(ctx context.Context, sessionID string, excluded bool, reason string) error {
	if err := s.sleeps.SetManualExclusion(ctx, sessionID, excluded, reason); err != nil {
		return err
	}
	slog.Info("手动排除位已更新", "session_id", sessionID, "excluded", excluded)
	return nil
}

func flagsEqual(a, b schema.DataQualityFlags) bool {
	if a.IsComplete != b.IsComplete || a.HasOutliers != b.HasOutliers ||
		a.SensorGaps != b.SensorGaps || a.ManuallyExcluded != b.ManuallyExcluded ||
		a.ExclusionReason != b.ExclusionReason || len(a.OutlierFields) != len(b.OutlierFields) {
		return false
	}
	for i := range a.OutlierFields {
		if a.OutlierFields[i] != b.OutlierFields[i] {
			return false
		}
	}
	return true
}
