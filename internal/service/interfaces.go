package service

import (
	"context"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// 仓储依赖的最小接口集合（ISP）

type SleepStore interface {
	GetByUserAndDate(ctx context.Context, userID, date string) (*schema.SleepSession, error)
	ListByUserAndDate(ctx context.Context, userID, date string) ([]schema.SleepSession, error)
	GetByID(ctx context.Context, id string) (*schema.SleepSession, error)
	Save(ctx context.Context, session *schema.SleepSession) error
	ListByUser(ctx context.Context, userID string, limit int) ([]schema.SleepSession, error)
	UpdateQualityFlags(ctx context.Context, id string, flags schema.DataQualityFlags) error
	SetManualExclusion(ctx context.Context, id string, excluded bool, reason string) error
}

type WorkoutStore interface {
	FindDuplicate(ctx context.Context, w *schema.WorkoutSession) (*schema.WorkoutSession, error)
	Save(ctx context.Context, session *schema.WorkoutSession) error
	ListByUser(ctx context.Context, userID string, limit int) ([]schema.WorkoutSession, error)
}

type MetricStore interface {
	Upsert(ctx context.Context, metric *schema.DailyMetric) (bool, error)
	ListByUserAndType(ctx context.Context, userID, metricType string) ([]schema.DailyMetric, error)
}

type SeriesStore interface {
	ReplaceForDate(ctx context.Context, series *schema.TimeSeries) error
	ListByUserAndDate(ctx context.Context, userID, date string) ([]schema.TimeSeries, error)
}

type SourceStore interface {
	Create(ctx context.Context, source *schema.Source) error
	GetByFileHash(ctx context.Context, userID, fileHash string) (*schema.Source, error)
	UpdateCounts(ctx context.Context, source *schema.Source) error
	ListByUser(ctx context.Context, userID string, limit int) ([]schema.Source, error)
}

type ProfileStore interface {
	Save(ctx context.Context, profile *schema.ImporterProfile) error
	GetByVendor(ctx context.Context, vendor string) (*schema.ImporterProfile, error)
	GetByName(ctx context.Context, name string) (*schema.ImporterProfile, error)
	List(ctx context.Context) ([]schema.ImporterProfile, error)
}
