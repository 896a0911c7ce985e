package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"gorm.io/gorm"
)

// SourceRepository 导入溯源记录仓储
type SourceRepository struct {
	db *gorm.DB
}

// NewSourceRepository 创建溯源仓储
func NewSourceRepository(db *gorm.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Create 创建溯源记录
func (r *SourceRepository) Create(ctx context.Context, source *schema.Source) error {
	if source == nil {
		return fmt.Errorf("source is nil")
	}
	if err := r.db.WithContext(ctx).Create(source).Error; err != nil {
		return fmt.Errorf("创建溯源记录失败: %w", err)
	}
	return nil
}

// GetByFileHash 按文件哈希查找同一用户的既有导入；未找到返回 (nil, nil)
func (r *SourceRepository) GetByFileHash(ctx context.Context, userID, fileHash string) (*schema.Source, error) {
	var source schema.Source
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND file_hash = ?", userID, fileHash).
		Order("imported_at DESC").
		First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询溯源记录失败: %w", err)
	}
	return &source, nil
}

// UpdateCounts 回写导入产出的各类记录数
func (r *SourceRepository) UpdateCounts(ctx context.Context, source *schema.Source) error {
	err := r.db.WithContext(ctx).Model(&schema.Source{}).
		Where("id = ?", source.ID).
		Updates(map[string]interface{}{
			"sleep_session_count":   source.SleepSessionCount,
			"workout_session_count": source.WorkoutSessionCount,
			"daily_metric_count":    source.DailyMetricCount,
			"time_series_count":     source.TimeSeriesCount,
			"warning_count":         source.WarningCount,
		}).Error
	if err != nil {
		return fmt.Errorf("更新溯源计数失败: %w", err)
	}
	return nil
}

// ListByUser 按导入时间倒序列出用户的溯源记录
func (r *SourceRepository) ListByUser(ctx context.Context, userID string, limit int) ([]schema.Source, error) {
	if limit <= 0 {
		limit = 50
	}
	var sources []schema.Source
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("imported_at DESC").
		Limit(limit).
		Find(&sources).Error
	if err != nil {
		return nil, fmt.Errorf("查询溯源列表失败: %w", err)
	}
	return sources, nil
}
