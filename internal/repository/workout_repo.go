package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"gorm.io/gorm"
)

// WorkoutRepository 训练会话仓储
type WorkoutRepository struct {
	db *gorm.DB
}

// NewWorkoutRepository 创建训练会话仓储
func NewWorkoutRepository(db *gorm.DB) *WorkoutRepository {
	return &WorkoutRepository{db: db}
}

// FindDuplicate 查同用户同日同类型（同起始时间）的既有训练；未找到返回 (nil, nil)
func (r *WorkoutRepository) FindDuplicate(ctx context.Context, w *schema.WorkoutSession) (*schema.WorkoutSession, error) {
	var existing schema.WorkoutSession
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND date = ? AND workout_type = ?", w.UserID, w.Date, w.WorkoutType)
	if w.StartedAt > 0 {
		q = q.Where("started_at = ?", w.StartedAt)
	}
	err := q.First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询训练会话失败: %w", err)
	}
	return &existing, nil
}

// Save 写入或整条覆盖训练会话
func (r *WorkoutRepository) Save(ctx context.Context, session *schema.WorkoutSession) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	if session.UserID == "" || session.Date == "" {
		return fmt.Errorf("训练会话缺少 user_id 或 date")
	}
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("保存训练会话失败: %w", err)
	}
	return nil
}

// ListByUser 按日期倒序列出用户训练会话
func (r *WorkoutRepository) ListByUser(ctx context.Context, userID string, limit int) ([]schema.WorkoutSession, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("date DESC, started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var sessions []schema.WorkoutSession
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("查询训练会话列表失败: %w", err)
	}
	return sessions, nil
}
