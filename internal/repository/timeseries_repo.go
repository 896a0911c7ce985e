package repository

import (
	"context"
	"fmt"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"gorm.io/gorm"
)

// TimeSeriesRepository 逐样本序列仓储
type TimeSeriesRepository struct {
	db *gorm.DB
}

// NewTimeSeriesRepository 创建序列仓储
func NewTimeSeriesRepository(db *gorm.DB) *TimeSeriesRepository {
	return &TimeSeriesRepository{db: db}
}

// ReplaceForDate 覆盖写某用户某天某类序列：先删旧再写新，重复导入幂等
func (r *TimeSeriesRepository) ReplaceForDate(ctx context.Context, series *schema.TimeSeries) error {
	if series == nil {
		return fmt.Errorf("series is nil")
	}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND date = ? AND series_type = ?", series.UserID, series.Date, series.SeriesType).
		Delete(&schema.TimeSeries{}).Error
	if err != nil {
		return fmt.Errorf("清理旧序列失败: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(series).Error; err != nil {
		return fmt.Errorf("写入序列失败: %w", err)
	}
	return nil
}

// ListByUserAndDate 取某用户某天的全部序列
func (r *TimeSeriesRepository) ListByUserAndDate(ctx context.Context, userID, date string) ([]schema.TimeSeries, error) {
	var series []schema.TimeSeries
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, date).
		Order("series_type ASC").
		Find(&series).Error
	if err != nil {
		return nil, fmt.Errorf("查询序列失败: %w", err)
	}
	return series, nil
}
