package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"gorm.io/gorm"
)

// MetricRepository 单日指标仓储
type MetricRepository struct {
	db *gorm.DB
}

// NewMetricRepository 创建指标仓储
func NewMetricRepository(db *gorm.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

// Upsert 按 (user_id, date, metric_type) 覆盖写；重复导入幂等
func (r *MetricRepository) Upsert(ctx context.Context, metric *schema.DailyMetric) (created bool, err error) {
	if metric == nil {
		return false, fmt.Errorf("metric is nil")
	}
	var existing schema.DailyMetric
	findErr := r.db.WithContext(ctx).
		Where("user_id = ? AND date = ? AND metric_type = ?", metric.UserID, metric.Date, metric.MetricType).
		First(&existing).Error
	if findErr == nil {
		metric.ID = existing.ID
		metric.CreatedAt = existing.CreatedAt
		if err := r.db.WithContext(ctx).Save(metric).Error; err != nil {
			return false, fmt.Errorf("更新指标失败: %w", err)
		}
		return false, nil
	}
	if !errors.Is(findErr, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("查询指标失败: %w", findErr)
	}
	if err := r.db.WithContext(ctx).Create(metric).Error; err != nil {
		return false, fmt.Errorf("创建指标失败: %w", err)
	}
	return true, nil
}

// ListByUserAndType 按日期升序列出某类指标
func (r *MetricRepository) ListByUserAndType(ctx context.Context, userID, metricType string) ([]schema.DailyMetric, error) {
	var metrics []schema.DailyMetric
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND metric_type = ?", userID, metricType).
		Order("date ASC").
		Find(&metrics).Error
	if err != nil {
		return nil, fmt.Errorf("查询指标列表失败: %w", err)
	}
	return metrics, nil
}
