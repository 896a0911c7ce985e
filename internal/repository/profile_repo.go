package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"gorm.io/gorm"
)

// ProfileRepository 导入配置仓储
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository 创建配置仓储
func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Save 按 name 覆盖写导入配置
func (r *ProfileRepository) Save(ctx context.Context, profile *schema.ImporterProfile) error {
	if profile == nil {
		return fmt.Errorf("profile is nil")
	}
	if profile.Name == "" {
		return fmt.Errorf("导入配置缺少 name")
	}

	var existing schema.ImporterProfile
	err := r.db.WithContext(ctx).Where("name = ?", profile.Name).First(&existing).Error
	if err == nil {
		profile.ID = existing.ID
		profile.CreatedAt = existing.CreatedAt
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		if profile.ID == "" {
			profile.ID = uuid.NewString()
		}
	} else {
		return fmt.Errorf("查询导入配置失败: %w", err)
	}

	if err := r.db.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("保存导入配置失败: %w", err)
	}
	return nil
}

// GetByVendor 取某厂商的最新用户自定义配置；未找到返回 (nil, nil)
func (r *ProfileRepository) GetByVendor(ctx context.Context, vendor string) (*schema.ImporterProfile, error) {
	var profile schema.ImporterProfile
	err := r.db.WithContext(ctx).
		Where("vendor = ?", vendor).
		Order("updated_at DESC").
		First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询导入配置失败: %w", err)
	}
	return &profile, nil
}

// GetByName 按名称取配置；未找到返回 (nil, nil)
func (r *ProfileRepository) GetByName(ctx context.Context, name string) (*schema.ImporterProfile, error) {
	var profile schema.ImporterProfile
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询导入配置失败: %w", err)
	}
	return &profile, nil
}

// List 列出全部导入配置
func (r *ProfileRepository) List(ctx context.Context) ([]schema.ImporterProfile, error) {
	var profiles []schema.ImporterProfile
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("查询导入配置列表失败: %w", err)
	}
	return profiles, nil
}

// Delete 按名称删除配置
func (r *ProfileRepository) Delete(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Where("name = ?", name).Delete(&schema.ImporterProfile{})
	if result.Error != nil {
		return fmt.Errorf("删除导入配置失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("导入配置 %s 不存在", name)
	}
	return nil
}
