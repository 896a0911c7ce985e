package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"gorm.io/gorm"
)

// SleepRepository 睡眠会话仓储
type SleepRepository struct {
	db *gorm.DB
}

// NewSleepRepository 创建睡眠会话仓储
func NewSleepRepository(db *gorm.DB) *SleepRepository {
	return &SleepRepository{db: db}
}

// GetByUserAndDate 按 (user_id, date) 取当晚会话；未找到返回 (nil, nil)
func (r *SleepRepository) GetByUserAndDate(ctx context.Context, userID, date string) (*schema.SleepSession, error) {
	var session schema.SleepSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, date).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询睡眠会话失败: %w", err)
	}
	return &session, nil
}

// ListByUserAndDate 取某天的全部会话；去重正常时至多一条，
// 历史数据可能存在多条，由调用方按完整度挑选代表。
func (r *SleepRepository) ListByUserAndDate(ctx context.Context, userID, date string) ([]schema.SleepSession, error) {
	var sessions []schema.SleepSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, date).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("查询睡眠会话失败: %w", err)
	}
	return sessions, nil
}

// Save 写入或整条覆盖睡眠会话（合并逻辑在服务层完成）
func (r *SleepRepository) Save(ctx context.Context, session *schema.SleepSession) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	if session.UserID == "" || session.Date == "" {
		return fmt.Errorf("睡眠会话缺少 user_id 或 date")
	}
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("保存睡眠会话失败: %w", err)
	}
	return nil
}

// GetByID 按主键取会话；未找到返回 (nil, nil)
func (r *SleepRepository) GetByID(ctx context.Context, id string) (*schema.SleepSession, error) {
	var session schema.SleepSession
	err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询睡眠会话失败: %w", err)
	}
	return &session, nil
}

// ListByUser 按日期倒序列出用户全部睡眠会话；limit <= 0 时不限条数
func (r *SleepRepository) ListByUser(ctx context.Context, userID string, limit int) ([]schema.SleepSession, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var sessions []schema.SleepSession
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("查询睡眠会话列表失败: %w", err)
	}
	return sessions, nil
}

// UpdateQualityFlags 只更新质量标记列，避免覆盖其他并发写入
func (r *SleepRepository) UpdateQualityFlags(ctx context.Context, id string, flags schema.DataQualityFlags) error {
	err := r.db.WithContext(ctx).Model(&schema.SleepSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"quality_is_complete":       flags.IsComplete,
			"quality_has_outliers":      flags.HasOutliers,
			"quality_outlier_fields":    flags.OutlierFields,
			"quality_sensor_gaps":       flags.SensorGaps,
			"quality_manually_excluded": flags.ManuallyExcluded,
			"quality_exclusion_reason":  flags.ExclusionReason,
		}).Error
	if err != nil {
		return fmt.Errorf("更新质量标记失败: %w", err)
	}
	return nil
}

// SetManualExclusion 切换手动排除位；include 时清空排除原因
func (r *SleepRepository) SetManualExclusion(ctx context.Context, id string, excluded bool, reason string) error {
	if !excluded {
		reason = ""
	}
	result := r.db.WithContext(ctx).Model(&schema.SleepSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"quality_manually_excluded": excluded,
			"quality_exclusion_reason":  reason,
		})
	if result.Error != nil {
		return fmt.Errorf("更新手动排除位失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("睡眠会话 %s 不存在", id)
	}
	return nil
}
